// Package config loads lessonsync settings from a YAML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/julianstephens/lessonsync/internal/utils"
)

// Environment variables that override file values
const (
	EnvTimezone          = "LESSONSYNC_TIMEZONE"
	EnvHorizonWeeks      = "LESSONSYNC_HORIZON_WEEKS"
	EnvStoreTimeout      = "LESSONSYNC_STORE_TIMEOUT"
	EnvEnsureConcurrency = "LESSONSYNC_ENSURE_CONCURRENCY"
	EnvDebug             = "LESSONSYNC_DEBUG"
)

type Config struct {
	// Timezone is the IANA zone templates are expanded in ("Local" for the system zone)
	Timezone          string        `yaml:"timezone"`
	HorizonWeeks      int           `yaml:"horizon_weeks"`
	StoreTimeout      time.Duration `yaml:"store_timeout"`
	EnsureConcurrency int           `yaml:"ensure_concurrency"`
	// BackupBeforeResync snapshots a SQLite database before template changes
	BackupBeforeResync bool `yaml:"backup_before_resync"`
	Debug              bool `yaml:"debug"`
}

func Default() Config {
	return Config{
		Timezone:           constants.DefaultTimezone,
		HorizonWeeks:       constants.DefaultHorizonWeeks,
		StoreTimeout:       constants.DefaultStoreTimeout,
		EnsureConcurrency:  constants.DefaultEnsureConcurrency,
		BackupBeforeResync: true,
	}
}

// Load reads path over the defaults. A missing file is not an error.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	return cfg, nil
}

// ApplyEnv overrides fields from LESSONSYNC_* variables
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}

	if v := strings.TrimSpace(getenv(EnvTimezone)); v != "" {
		c.Timezone = v
	}
	if v := strings.TrimSpace(getenv(EnvHorizonWeeks)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHorizonWeeks, err)
		}
		c.HorizonWeeks = n
	}
	if v := strings.TrimSpace(getenv(EnvStoreTimeout)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvStoreTimeout, err)
		}
		c.StoreTimeout = d
	}
	if v := strings.TrimSpace(getenv(EnvEnsureConcurrency)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvEnsureConcurrency, err)
		}
		c.EnsureConcurrency = n
	}
	if v := strings.TrimSpace(getenv(EnvDebug)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		c.Debug = b
	}
	return nil
}

func (c Config) Validate() error {
	if !utils.ValidateTimezone(c.Timezone) {
		return fmt.Errorf("invalid timezone %q", c.Timezone)
	}
	if c.HorizonWeeks < 1 || c.HorizonWeeks > constants.MaxHorizonWeeks {
		return fmt.Errorf("horizon_weeks must be between 1 and %d, got %d", constants.MaxHorizonWeeks, c.HorizonWeeks)
	}
	if c.StoreTimeout < 0 {
		return fmt.Errorf("store_timeout must not be negative, got %s", c.StoreTimeout)
	}
	if c.EnsureConcurrency < 1 {
		return fmt.Errorf("ensure_concurrency must be at least 1, got %d", c.EnsureConcurrency)
	}
	return nil
}

// Location resolves Timezone
func (c Config) Location() (*time.Location, error) {
	loc, err := utils.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Save writes the config as YAML, creating the parent directory
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces a leading "~" with the user's home directory
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
