package daemonize

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// PidfileName is the fixed pidfile name written under the config directory.
const PidfileName = "aardvark.pid"

// WritePidfile writes the current process's PID to <configDir>/aardvark.pid.
func WritePidfile(configDir string) (string, error) {
	path := filepath.Join(configDir, PidfileName)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return "", fmt.Errorf("writing pidfile %s: %w", path, err)
	}
	return path, nil
}

// RemovePidfile removes the pidfile on clean shutdown.
func RemovePidfile(path string) {
	_ = os.Remove(path)
}
