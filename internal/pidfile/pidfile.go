// Package pidfile records the running daemon's process ID so a second
// instance can detect it.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

const pidFileName = "cacheproxy.pid"

var pidFilePath string // Unexported, for testing override

// SetPIDFilePath sets the path to the PID file for testing.
func SetPIDFilePath(path string) {
	pidFilePath = path
}

// getPIDFilePath returns the path to the PID file.
func getPIDFilePath() (string, error) {
	if pidFilePath != "" {
		return pidFilePath, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(configDir, "cacheproxy")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, pidFileName), nil
}

// alive reports whether a process with the given pid exists.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// Write writes the current process ID to the PID file. A pidfile left
// behind by a dead process is overwritten.
func Write() error {
	pidPath, err := getPIDFilePath()
	if err != nil {
		return fmt.Errorf("could not get pidfile path: %w", err)
	}

	if data, err := os.ReadFile(pidPath); err == nil {
		if pid, perr := strconv.Atoi(string(data)); perr == nil && alive(pid) {
			return fmt.Errorf("pidfile already exists: %s (pid %d)", pidPath, pid)
		}
	}

	pid := os.Getpid()
	return os.WriteFile(pidPath, []byte(strconv.Itoa(pid)), 0644)
}

// Read reads the process ID from the PID file.
func Read() (int, error) {
	pidPath, err := getPIDFilePath()
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(string(data))
}

// Remove deletes the PID file.
func Remove() error {
	pidPath, err := getPIDFilePath()
	if err != nil {
		return err
	}
	return os.Remove(pidPath)
}
