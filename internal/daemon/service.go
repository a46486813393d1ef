package daemon

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"text/template"
)

const (
	launchdLabel = "dev.allaspects.upsell"
	systemdUnit  = "upsell.service"
)

// launchdPlistTemplate runs the daemon as a persistent macOS user agent.
const launchdPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ProgramPath}}</string>
        <string>start</string>
        <string>--foreground</string>{{if .ConfigPath}}
        <string>--config</string>
        <string>{{.ConfigPath}}</string>{{end}}
    </array>

    <key>WorkingDirectory</key>
    <string>{{.DataDir}}</string>

    <key>KeepAlive</key>
    <true/>

    <key>RunAtLoad</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{.DataDir}}/upsell.out.log</string>

    <key>StandardErrorPath</key>
    <string>{{.DataDir}}/upsell.err.log</string>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>5</integer>
</dict>
</plist>
`

// systemdUnitTemplate runs the daemon as a systemd user service.
const systemdUnitTemplate = `[Unit]
Description=Upsell co-purchase and analytics daemon
After=network-online.target

[Service]
Type=simple
ExecStart={{.ProgramPath}} start --foreground{{if .ConfigPath}} --config {{.ConfigPath}}{{end}}
WorkingDirectory={{.DataDir}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

type serviceData struct {
	Label       string
	ProgramPath string
	DataDir     string
	ConfigPath  string
}

func renderService(tmpl string, d serviceData) ([]byte, error) {
	t, err := template.New("service").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parsing service template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return nil, fmt.Errorf("rendering service template: %w", err)
	}
	return buf.Bytes(), nil
}

// InstallService installs the daemon as a launchd agent on macOS or a
// systemd user unit on Linux and starts it. configPath is passed to the
// daemon when set.
func InstallService(dataDir, configPath string) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("determining executable path: %w", err)
	}
	if execPath, err = filepath.EvalSymlinks(execPath); err != nil {
		return fmt.Errorf("resolving executable symlinks: %w", err)
	}
	dataDir = expandHome(dataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	d := serviceData{Label: launchdLabel, ProgramPath: execPath, DataDir: dataDir, ConfigPath: configPath}

	switch runtime.GOOS {
	case "darwin":
		path := filepath.Join(homeDir, "Library", "LaunchAgents", launchdLabel+".plist")
		if err := writeService(path, launchdPlistTemplate, d); err != nil {
			return err
		}
		_ = exec.Command("launchctl", "unload", path).Run()
		if err := runVisible("launchctl", "load", path); err != nil {
			return fmt.Errorf("launchctl load: %w", err)
		}
		fmt.Printf("Service %s loaded via launchctl\n", launchdLabel)

	case "linux":
		path := filepath.Join(homeDir, ".config", "systemd", "user", systemdUnit)
		if err := writeService(path, systemdUnitTemplate, d); err != nil {
			return err
		}
		if err := runVisible("systemctl", "--user", "daemon-reload"); err != nil {
			return fmt.Errorf("systemctl daemon-reload: %w", err)
		}
		if err := runVisible("systemctl", "--user", "enable", "--now", systemdUnit); err != nil {
			return fmt.Errorf("systemctl enable: %w", err)
		}
		fmt.Printf("Service %s enabled via systemctl --user\n", systemdUnit)

	default:
		return fmt.Errorf("service installation is not supported on %s", runtime.GOOS)
	}
	return nil
}

// UninstallService stops and removes the installed service definition.
func UninstallService() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	var path string
	switch runtime.GOOS {
	case "darwin":
		path = filepath.Join(homeDir, "Library", "LaunchAgents", launchdLabel+".plist")
		_ = exec.Command("launchctl", "unload", path).Run()
	case "linux":
		path = filepath.Join(homeDir, ".config", "systemd", "user", systemdUnit)
		_ = exec.Command("systemctl", "--user", "disable", "--now", systemdUnit).Run()
	default:
		return fmt.Errorf("service installation is not supported on %s", runtime.GOOS)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	fmt.Printf("Service definition %s removed\n", path)
	return nil
}

func writeService(path, tmpl string, d serviceData) error {
	data, err := renderService(tmpl, d)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Printf("Service definition written to %s\n", path)
	return nil
}

func runVisible(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
