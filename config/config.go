// Package config loads onectl configuration.
//
// Loading overlays a TOML file onto the defaults embedded from
// default.toml, so every key has a value whether or not a file exists.
// A file that exists but does not parse is an error. Flags and the
// environment override individual values in the CLI layer.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/natefinch/atomic"

	one "github.com/frobware/go-one"
)

//go:embed default.toml
var defaultConfigTOML string

// DefaultConfigPath is where onectl looks when --config is not given.
const DefaultConfigPath = "/etc/one/one.toml"

// Config is the top-level configuration.
type Config struct {
	Runtime    RuntimeConfig    `toml:"runtime"`
	Device     DeviceConfig     `toml:"device"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Logging    LoggingConfig    `toml:"logging"`
	Registry   RegistryConfig   `toml:"registry"`
	Admin      AdminConfig      `toml:"admin"`
	Monitor    MonitorConfig    `toml:"monitor"`
}

type RuntimeConfig struct {
	Base string `toml:"base"`
}

type DeviceConfig struct {
	Path string `toml:"path"`
}

// DispatcherConfig tunes the dispatcher worker.
type DispatcherConfig struct {
	BufferSize int      `toml:"buffer_size"`
	RetryMin   Duration `toml:"retry_min"`
	RetryMax   Duration `toml:"retry_max"`
	StopGrace  Duration `toml:"stop_grace"`
}

type LoggingConfig struct {
	// Level is a log spec such as "info" or "warn,dispatcher=debug".
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// Components sets per-component levels when Level is a bare level.
	Components map[string]string `toml:"components"`
}

// ToSpec returns the log spec described by c. Component entries are
// appended to Level in name order.
func (c *LoggingConfig) ToSpec() string {
	base := c.Level
	if base == "" {
		base = "info"
	}
	if len(c.Components) == 0 || strings.Contains(base, "=") {
		return base
	}
	parts := []string{base}
	for _, component := range slices.Sorted(maps.Keys(c.Components)) {
		parts = append(parts, component+"="+c.Components[component])
	}
	return strings.Join(parts, ",")
}

type RegistryConfig struct {
	Path string `toml:"path"`
}

type AdminConfig struct {
	Socket string `toml:"socket"`
}

// MonitorConfig describes what the monitor captures.
type MonitorConfig struct {
	TapCapacity     int            `toml:"tap_capacity"`
	CapturePayloads bool           `toml:"capture_payloads"`
	Queues          []MonitorQueue `toml:"queues"`
}

// MonitorQueue is one queue the monitor subscribes to. A zero QID asks
// the device for a fresh queue; a non-zero QID adopts an existing one.
// Attach lists queues whose traffic is forwarded into this one.
type MonitorQueue struct {
	Name   string   `toml:"name"`
	QID    uint32   `toml:"qid"`
	Attach []uint32 `toml:"attach"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns the embedded defaults.
func DefaultConfig() Config {
	var cfg Config
	if _, err := toml.Decode(defaultConfigTOML, &cfg); err != nil {
		panic(fmt.Sprintf("embedded default.toml: %v", err))
	}
	return cfg
}

// Load overlays the file at path onto the defaults. A missing file
// yields the defaults. An empty path means DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}

// Validate checks values Load cannot reject on syntax alone.
func (c *Config) Validate() error {
	var errs []error
	if c.Device.Path == "" {
		errs = append(errs, errors.New("device.path must be set"))
	}
	if _, err := c.RuntimeDirs(); err != nil {
		errs = append(errs, fmt.Errorf("runtime.base: %w", err))
	}
	if c.Dispatcher.BufferSize < one.HeaderSize {
		errs = append(errs, fmt.Errorf("dispatcher.buffer_size must be at least %d, got %d", one.HeaderSize, c.Dispatcher.BufferSize))
	}
	if c.Dispatcher.RetryMin <= 0 || c.Dispatcher.RetryMax < c.Dispatcher.RetryMin {
		errs = append(errs, fmt.Errorf("dispatcher retry bounds invalid: min %s, max %s",
			c.Dispatcher.RetryMin.Std(), c.Dispatcher.RetryMax.Std()))
	}
	if c.Dispatcher.StopGrace <= 0 {
		errs = append(errs, errors.New("dispatcher.stop_grace must be positive"))
	}
	if c.Monitor.TapCapacity < 2 {
		errs = append(errs, fmt.Errorf("monitor.tap_capacity must be at least 2, got %d", c.Monitor.TapCapacity))
	}
	names := make(map[string]bool)
	for i, q := range c.Monitor.Queues {
		if q.Name == "" {
			errs = append(errs, fmt.Errorf("monitor.queues[%d]: name must be set", i))
		} else if names[q.Name] {
			errs = append(errs, fmt.Errorf("monitor.queues[%d]: duplicate name %q", i, q.Name))
		}
		names[q.Name] = true
		if slices.Contains(q.Attach, q.QID) && q.QID != 0 {
			errs = append(errs, fmt.Errorf("monitor.queues[%d]: queue %q attached to itself", i, q.Name))
		}
	}
	return errors.Join(errs...)
}

// RuntimeDirs returns the runtime directory layout rooted at
// runtime.base.
func (c *Config) RuntimeDirs() (RuntimeDirs, error) {
	return NewRuntimeDirs(c.Runtime.Base)
}

// RegistryPath returns registry.path, or the runtime default.
func (c *Config) RegistryPath() string {
	if c.Registry.Path != "" {
		return c.Registry.Path
	}
	dirs, err := c.RuntimeDirs()
	if err != nil {
		return ""
	}
	return dirs.DBPath()
}

// AdminSocket returns admin.socket, or the runtime default.
func (c *Config) AdminSocket() string {
	if c.Admin.Socket != "" {
		return c.Admin.Socket
	}
	dirs, err := c.RuntimeDirs()
	if err != nil {
		return ""
	}
	return dirs.SocketPath()
}

// Encode writes c as TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the embedded defaults to path. The file is
// replaced atomically, so a reader never sees a partial config.
func WriteDefault(path string) error {
	if err := atomic.WriteFile(path, strings.NewReader(defaultConfigTOML)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
