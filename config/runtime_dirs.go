package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// RuntimeDirs is the on-disk layout used by a running monitor:
//
//	{base}/              runtime root
//	{base}/db/           registry database
//	{base}/.lock         registry write lock
//	{base}/monitor.lock  monitor instance lock
//	{base}-sock/         admin socket directory
//
// The socket lives outside base so it can be mounted separately.
type RuntimeDirs struct {
	base string
	db   string
	sock string
	lock string
	mon  string
}

// NewRuntimeDirs derives the layout from an absolute base path.
func NewRuntimeDirs(base string) (RuntimeDirs, error) {
	if base == "" {
		return RuntimeDirs{}, fmt.Errorf("base path cannot be empty")
	}
	if !filepath.IsAbs(base) {
		return RuntimeDirs{}, fmt.Errorf("base path must be absolute, got %q", base)
	}
	base = filepath.Clean(base)
	return RuntimeDirs{
		base: base,
		db:   filepath.Join(base, "db"),
		sock: base + "-sock",
		lock: filepath.Join(base, ".lock"),
		mon:  filepath.Join(base, "monitor.lock"),
	}, nil
}

func (d RuntimeDirs) Base() string { return d.base }
func (d RuntimeDirs) DB() string   { return d.db }
func (d RuntimeDirs) Sock() string { return d.sock }
func (d RuntimeDirs) Lock() string { return d.lock }

// MonitorLock is held by a running monitor for its whole life.
func (d RuntimeDirs) MonitorLock() string { return d.mon }

// DBPath returns the default registry database path.
func (d RuntimeDirs) DBPath() string {
	return filepath.Join(d.db, "registry.db")
}

// SocketPath returns the default admin socket path.
func (d RuntimeDirs) SocketPath() string {
	return filepath.Join(d.sock, "one.sock")
}

// EnsureDirectories creates base, db and socket directories. MkdirAll
// is idempotent, so this is safe on every start.
func (d RuntimeDirs) EnsureDirectories() error {
	for _, dir := range []string{d.base, d.db, d.sock} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
