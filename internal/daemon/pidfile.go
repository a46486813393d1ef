package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const pidFilename = "upsell.pid"

// WritePID records the current process ID in the data directory.
func WritePID(dataDir string) error {
	path := pidPath(dataDir)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory for PID file: %w", err)
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing PID file %s: %w", path, err)
	}
	return nil
}

// ReadPID returns the PID recorded in the data directory.
func ReadPID(dataDir string) (int, error) {
	path := pidPath(dataDir)

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing PID from %s: %w", path, err)
	}
	return pid, nil
}

// RemovePID removes the PID file from dataDir.
func RemovePID(dataDir string) error {
	path := pidPath(dataDir)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing PID file %s: %w", path, err)
	}
	return nil
}

// IsRunning reports whether a daemon recorded in dataDir is still alive.
func IsRunning(dataDir string) bool {
	pid, err := ReadPID(dataDir)
	if err != nil {
		return false
	}
	return isProcessAlive(pid)
}

// isProcessAlive probes pid with signal 0.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, pidFilename)
}
