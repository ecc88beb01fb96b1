package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/frobware/go-one/config"
)

// ConfigCmd groups configuration helpers.
type ConfigCmd struct {
	Init ConfigInitCmd `cmd:"" help:"Write the default configuration file."`
	Show ConfigShowCmd `cmd:"" help:"Print the effective configuration."`
}

// ConfigInitCmd writes the embedded defaults.
type ConfigInitCmd struct {
	Path  string `arg:"" optional:"" name:"path" help:"Where to write; defaults to --config."`
	Force bool   `name:"force" help:"Overwrite an existing file."`
}

func (c *ConfigInitCmd) Run(cli *CLI) error {
	path := c.Path
	if path == "" {
		path = cli.Config
	}
	if path == "" {
		path = config.DefaultConfigPath
	}
	if !c.Force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists; use --force to overwrite", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	return cli.PrintOutf("Wrote %s\n", path)
}

// ConfigShowCmd prints the configuration after defaults, the config
// file and flag overrides are applied.
type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(cli *CLI) error {
	cfg, err := cli.LoadConfig()
	if err != nil {
		return err
	}
	out, err := cfg.Encode()
	if err != nil {
		return err
	}
	return cli.WriteOut(out)
}
