// Package config handles configuration loading and validation for proctord.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/proctord/
//   - Linux:   ~/.local/share/proctord/
//   - Windows: %APPDATA%\proctord\
//
// Falls back to ~/.proctord if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxDataDir()
	case "windows":
		return windowsDataDir()
	default:
		return fallbackDataDir()
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/proctord/
//   - Linux:   ~/.config/proctord/
//   - Windows: %APPDATA%\proctord\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir() // macOS uses same dir for config and data
	case "linux":
		return linuxConfigDir()
	case "windows":
		return windowsDataDir() // Windows uses same dir for config and data
	default:
		return fallbackDataDir()
	}
}

// PlatformLogDir returns the platform-specific log directory.
//
// Platform paths:
//   - macOS:   ~/Library/Logs/proctord/
//   - Linux:   ~/.local/share/proctord/logs/
//   - Windows: %LOCALAPPDATA%\proctord\logs\
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSLogDir()
	case "linux":
		return filepath.Join(linuxDataDir(), "logs")
	case "windows":
		return windowsLogDir()
	default:
		return filepath.Join(fallbackDataDir(), "logs")
	}
}

// PlatformRuntimeDir returns the platform-specific runtime directory for sockets.
//
// Platform paths:
//   - macOS:   /tmp/proctord-$UID/
//   - Linux:   $XDG_RUNTIME_DIR/proctord/ or /tmp/proctord-$UID/
//   - Windows: (uses named pipes, not applicable)
func PlatformRuntimeDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join("/tmp", "proctord-"+getUserID())
	case "linux":
		return linuxRuntimeDir()
	case "windows":
		return "" // Windows uses named pipes
	default:
		return filepath.Join("/tmp", "proctord-"+getUserID())
	}
}

// macOS-specific paths

func macOSDataDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Application Support", "proctord")
}

func macOSLogDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Logs", "proctord")
}

// Linux-specific paths following XDG Base Directory Specification

func linuxDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "proctord")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "proctord")
}

func linuxConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "proctord")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "proctord")
}

func linuxRuntimeDir() string {
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, "proctord")
	}
	return filepath.Join("/tmp", "proctord-"+getUserID())
}

// Windows-specific paths

func windowsDataDir() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "proctord")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Roaming", "proctord")
}

func windowsLogDir() string {
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		return filepath.Join(localAppData, "proctord", "logs")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Local", "proctord", "logs")
}

func fallbackDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".proctord")
}

func getUserID() string {
	if uid := os.Getuid(); uid >= 0 {
		return fmt.Sprintf("%d", uid)
	}
	return "0"
}

func defaultSocketPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\proctord`
	}
	return filepath.Join(PlatformRuntimeDir(), "proctord.sock")
}

// SupportedConfigFormats lists the config file extensions Load accepts.
func SupportedConfigFormats() []string {
	return []string{".toml", ".json", ".yaml", ".yml"}
}

// FindConfigFile locates an existing config file, checking the config
// directory for each supported format in order. Returns "" when none
// exists.
func FindConfigFile() string {
	dir := PlatformConfigDir()
	for _, ext := range SupportedConfigFormats() {
		path := filepath.Join(dir, "config"+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
