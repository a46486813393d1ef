package main

import (
	"encoding/json"
	"fmt"
	"io"

	goflags "github.com/jessevdk/go-flags"

	"github.com/allaspectsdev/upsell/internal/config"
	"github.com/allaspectsdev/upsell/internal/vault"
)

// GlobalFlags apply to every command.
type GlobalFlags struct {
	Config string `short:"c" long:"config" description:"Path to config file (default ~/.upsell/upsell.toml or ./upsell.toml)"`
	JSON   bool   `long:"json" description:"Print command results as JSON"`
}

// cliEnv carries the process streams and the global flags into commands.
type cliEnv struct {
	globals GlobalFlags
	in      io.Reader
	out     io.Writer
	vault   *vault.Vault
}

func newEnv(in io.Reader, out io.Writer) *cliEnv {
	return &cliEnv{in: in, out: out, vault: vault.New()}
}

func (e *cliEnv) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(e.globals.Config)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func (e *cliEnv) printf(format string, args ...any) {
	fmt.Fprintf(e.out, format, args...)
}

func (e *cliEnv) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// buildParser registers every command against env.
func buildParser(env *cliEnv, opts goflags.Options) (*goflags.Parser, error) {
	p := goflags.NewParser(&env.globals, opts)
	p.Name = "upsell"
	p.LongDescription = "Co-purchase relationship engine and storefront analytics daemon."

	type command struct {
		name, short, long string
		data              any
	}
	cmds := []command{
		{"start", "Start the upsell daemon", "Start the API server and the maintenance scheduler.", &StartCommand{env: env}},
		{"stop", "Stop the running daemon", "Send SIGTERM to the daemon recorded in the PID file.", &StopCommand{env: env}},
		{"status", "Show daemon status and summary stats", "Show whether the daemon runs and print engine and store totals.", &StatusCommand{env: env}},
		{"backfill", "Build co-purchase statistics from historical orders", "Scan completed orders in ascending ID order and count co-purchased product pairs. Interrupted runs can be resumed.", &BackfillCommand{env: env}},
		{"aggregate", "Aggregate analytics events into daily rows", "Re-aggregate raw analytics events for a date range (default: yesterday).", &AggregateCommand{env: env}},
		{"cleanup", "Delete analytics events past retention", "Delete raw analytics events older than the retention window in batches.", &CleanupCommand{env: env}},
		{"init-config", "Generate the default config file", "Write the default configuration to ~/.upsell/upsell.toml unless it already exists.", &InitConfigCommand{env: env}},
		{"config-export", "Export the current config to a TOML file", "Export the effective configuration to a TOML file.", &ConfigExportCommand{env: env}},
		{"config-import", "Import config from a TOML file", "Validate a TOML configuration and persist it as the active config.", &ConfigImportCommand{env: env}},
		{"install-service", "Install as a launchd agent or systemd user unit", "Install and start the daemon as a user service.", &InstallServiceCommand{env: env}},
		{"uninstall-service", "Remove the installed user service", "Stop and remove the launchd agent or systemd user unit.", &UninstallServiceCommand{env: env}},
		{"version", "Print version information", "Print version information.", &VersionCommand{env: env}},
	}
	for _, c := range cmds {
		if _, err := p.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			return nil, fmt.Errorf("registering %s: %w", c.name, err)
		}
	}

	keys, err := p.AddCommand("keys", "Manage stored secrets", "Manage the API token and order database DSNs in the OS keychain.", &struct{}{})
	if err != nil {
		return nil, fmt.Errorf("registering keys: %w", err)
	}
	keyCmds := []command{
		{"list", "List available secrets", "List the known secrets available from the keychain or the environment.", &KeysListCommand{env: env}},
		{"set", "Store a secret", "Store a secret in the keychain. The value is read from the terminal without echo, or from stdin.", &KeysSetCommand{env: env}},
		{"get", "Show a secret (masked)", "Show a stored secret, masked unless --reveal is given.", &KeysGetCommand{env: env}},
		{"delete", "Delete a secret", "Delete a secret from the keychain.", &KeysDeleteCommand{env: env}},
	}
	for _, c := range keyCmds {
		if _, err := keys.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			return nil, fmt.Errorf("registering keys %s: %w", c.name, err)
		}
	}
	return p, nil
}

// run parses args and executes the selected command.
func run(env *cliEnv, args []string, opts goflags.Options) error {
	p, err := buildParser(env, opts)
	if err != nil {
		return err
	}
	_, err = p.ParseArgs(args)
	return err
}
