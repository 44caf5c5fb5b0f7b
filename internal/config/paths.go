// Package config knows where the CLI keeps its state on disk: the server
// profile database under the user config directory and cached session
// cookies under the user cache directory.
package config

import (
	"os"
	"path/filepath"
)

const (
	// DefaultServer is the profile used when --server-name is not given.
	DefaultServer = "default"

	appDirName = "yunohost"
)

// Paths contains every filesystem location the CLI uses.
type Paths struct {
	ConfigDir string // Profile database and encryption key
	CacheDir  string // Cached session cookies
	ServersDB string // SQLite server profile store
	CookieDir string // One cookie file per server profile
}

// GetPaths returns the CLI's directory layout. It follows the platform
// conventions of os.UserConfigDir and os.UserCacheDir (XDG on Linux).
func GetPaths() Paths {
	configRoot, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		configRoot = filepath.Join(home, ".config")
	}
	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		cacheRoot = filepath.Join(home, ".cache")
	}

	configDir := filepath.Join(configRoot, appDirName)
	cacheDir := filepath.Join(cacheRoot, appDirName)

	return Paths{
		ConfigDir: configDir,
		CacheDir:  cacheDir,
		ServersDB: filepath.Join(configDir, "servers.db"),
		CookieDir: filepath.Join(cacheDir, "cookies"),
	}
}

// CookiePath returns the cookie cache file for a server profile.
func (p Paths) CookiePath(serverName string) string {
	return filepath.Join(p.CookieDir, serverName+".cookie")
}

// EnsurePaths creates the directory layout if it does not exist. The cookie
// directory is not world readable since session cookies grant admin access.
func EnsurePaths() (Paths, error) {
	paths := GetPaths()

	if err := os.MkdirAll(paths.ConfigDir, 0o755); err != nil {
		return paths, err
	}
	if err := os.MkdirAll(paths.CookieDir, 0o700); err != nil {
		return paths, err
	}

	return paths, nil
}

// ExpandPath expands a leading ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) == 1 {
		return home
	}
	if path[1] == '/' || path[1] == os.PathSeparator {
		return filepath.Join(home, path[2:])
	}
	return path
}
