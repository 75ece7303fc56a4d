package keyring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/julianstephens/lessonsync/internal/constants"
	"github.com/zalando/go-keyring"
)

var (
	// ErrNotFound is returned when no credentials are found in the keyring
	ErrNotFound = errors.New("credentials not found in keyring")
	// ErrKeyringUnavailable is returned when the OS keyring is not available
	ErrKeyringUnavailable = errors.New("OS keyring is not available")
)

const probeUser = "probe"

// Vault addresses one secret in the OS keyring.
type Vault struct {
	Service string
	User    string
}

// Default is the slot holding the PostgreSQL connection string.
var Default = Vault{Service: constants.AppName, User: constants.DefaultKeyringUser}

func (v Vault) Get() (string, error) {
	secret, err := keyring.Get(v.Service, v.User)
	if err != nil {
		return "", v.wrap("read", err)
	}
	return secret, nil
}

func (v Vault) Set(secret string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("connection string cannot be empty")
	}
	if err := keyring.Set(v.Service, v.User, secret); err != nil {
		return v.wrap("store", err)
	}
	return nil
}

func (v Vault) Delete() error {
	if err := keyring.Delete(v.Service, v.User); err != nil {
		return v.wrap("delete", err)
	}
	return nil
}

// Available reports whether the backend answers at all. A missing entry
// still counts as available.
func (v Vault) Available() bool {
	_, err := keyring.Get(v.Service, probeUser)
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

func (v Vault) wrap(op string, err error) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %s %s/%s: %v", ErrKeyringUnavailable, op, v.Service, v.User, err)
}

// GetConnectionString returns the stored PostgreSQL connection string or ErrNotFound.
func GetConnectionString() (string, error) { return Default.Get() }

func SetConnectionString(connStr string) error { return Default.Set(connStr) }

func DeleteConnectionString() error { return Default.Delete() }

func IsAvailable() bool { return Default.Available() }
