package main

import (
	"github.com/allaspectsdev/upsell/internal/config"
	"github.com/allaspectsdev/upsell/internal/daemon"
	"github.com/allaspectsdev/upsell/internal/version"
)

// StartCommand runs the daemon in this process.
type StartCommand struct {
	Foreground bool `short:"f" long:"foreground" description:"Also log to the console"`

	env *cliEnv
}

func (c *StartCommand) Execute([]string) error {
	cfg, err := c.env.loadConfig()
	if err != nil {
		return err
	}
	return daemon.Run(cfg, c.Foreground)
}

type StopCommand struct {
	env *cliEnv
}

func (c *StopCommand) Execute([]string) error {
	cfg, err := c.env.loadConfig()
	if err != nil {
		return err
	}
	if err := daemon.Stop(cfg); err != nil {
		return err
	}
	c.env.printf("upsell stopped\n")
	return nil
}

type StatusCommand struct {
	env *cliEnv
}

func (c *StatusCommand) Execute([]string) error {
	cfg, err := c.env.loadConfig()
	if err != nil {
		return err
	}
	return daemon.Status(cfg, c.env.out)
}

type InstallServiceCommand struct {
	env *cliEnv
}

func (c *InstallServiceCommand) Execute([]string) error {
	cfg, err := c.env.loadConfig()
	if err != nil {
		return err
	}
	if err := daemon.InstallService(cfg.Server.DataDir, config.ConfigFilePath()); err != nil {
		return err
	}
	c.env.printf("Service installed successfully\n")
	return nil
}

type UninstallServiceCommand struct {
	env *cliEnv
}

func (c *UninstallServiceCommand) Execute([]string) error {
	return daemon.UninstallService()
}

type VersionCommand struct {
	env *cliEnv
}

func (c *VersionCommand) Execute([]string) error {
	if c.env.globals.JSON {
		return c.env.printJSON(map[string]string{
			"version":    version.Version,
			"git_commit": version.GitCommit,
			"build_date": version.BuildDate,
		})
	}
	c.env.printf("%s\n", version.String())
	return nil
}
