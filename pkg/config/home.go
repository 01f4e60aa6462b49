package config

import (
	"os"
	"path/filepath"
	"sync"
)

const (
	envHome     = "WEBVIEW_BRIDGE_HOME"
	userHomeDir = ".webview-bridge"
)

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the directory holding logs and page scripts. It is
// resolved once per process from, in order: $WEBVIEW_BRIDGE_HOME, the
// parent of a <home>/bin install, ~/.webview-bridge, the working directory.
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetDefaultLogPath returns <home>/logs/webview-bridge.log.
func GetDefaultLogPath() string {
	return filepath.Join(GetHome(), "logs", "webview-bridge.log")
}

// GetPagesDir returns <home>/pages, where relative page script paths are
// looked up when they do not exist in the working directory.
func GetPagesDir() string {
	return filepath.Join(GetHome(), "pages")
}

// ResolvePageScript returns path unchanged when it exists or is absolute,
// else the same name under GetPagesDir.
func ResolvePageScript(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	candidate := filepath.Join(GetPagesDir(), path)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}

func resolveHome() string {
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		if binDir := filepath.Dir(execPath); filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, userHomeDir)
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// ResetHome clears the cached home directory (for testing).
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
