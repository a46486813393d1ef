package main

import (
	"github.com/allaspectsdev/upsell/internal/config"
)

type InitConfigCommand struct {
	env *cliEnv
}

func (c *InitConfigCommand) Execute([]string) error {
	path, created, err := config.InitConfig()
	if err != nil {
		return err
	}
	if created {
		c.env.printf("Config written to %s\n", path)
	} else {
		c.env.printf("Config already exists at %s\n", path)
	}
	return nil
}

type ConfigExportCommand struct {
	Args struct {
		File string `positional-arg-name:"file" description:"Destination TOML file (default upsell-export.toml)"`
	} `positional-args:"yes"`

	env *cliEnv
}

func (c *ConfigExportCommand) Execute([]string) error {
	if _, err := c.env.loadConfig(); err != nil {
		return err
	}
	path := c.Args.File
	if path == "" {
		path = "upsell-export.toml"
	}
	if err := config.ExportConfig(path); err != nil {
		return err
	}
	c.env.printf("Config exported to %s\n", path)
	return nil
}

type ConfigImportCommand struct {
	Args struct {
		File string `positional-arg-name:"file" description:"TOML file to import"`
	} `positional-args:"yes" required:"yes"`

	env *cliEnv
}

func (c *ConfigImportCommand) Execute([]string) error {
	// Load first so the import is persisted to the active config file.
	if _, err := c.env.loadConfig(); err != nil {
		return err
	}
	if err := config.ImportConfig(c.Args.File); err != nil {
		return err
	}
	if dest := config.ConfigFilePath(); dest != "" {
		c.env.printf("Config imported from %s into %s\n", c.Args.File, dest)
	} else {
		c.env.printf("Config imported from %s (no config file to persist to; run init-config first)\n", c.Args.File)
	}
	return nil
}
