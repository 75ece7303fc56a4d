package system

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/julianstephens/lessonsync/internal/cli"
)

type ConfigCmd struct {
	Show ConfigShowCmd `cmd:"" help:"Print the effective configuration." default:"1"`
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(ctx *cli.Context) error {
	data, err := yaml.Marshal(ctx.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if ctx.ConfigPath != "" {
		ctx.Printf("# %s\n", ctx.ConfigPath)
	}
	ctx.Printf("# resolved timezone: %s\n", ctx.Location)
	ctx.Printf("%s", data)
	return nil
}
