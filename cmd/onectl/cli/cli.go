// Package cli implements the onectl command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-one/config"
	"github.com/frobware/go-one/device"
	"github.com/frobware/go-one/device/onedev"
	"github.com/frobware/go-one/lock"
	"github.com/frobware/go-one/logging"
	"github.com/frobware/go-one/registry"
	"github.com/frobware/go-one/registry/sqlite"
	"github.com/frobware/go-one/session"
)

// CLI is the root command structure for onectl.
type CLI struct {
	Config string `name:"config" help:"Config file path." default:"${default_config_path}"`
	Log    string `name:"log" help:"Log spec (e.g., 'info,dispatcher=debug')." env:"ONE_LOG"`
	Device string `name:"device" help:"Device path; overrides device.path from the config."`
	DB     string `name:"db" help:"Registry database path; overrides registry.path from the config."`
	Socket string `name:"socket" help:"Monitor admin socket; overrides admin.socket from the config."`

	Queue       QueueCmd       `cmd:"" help:"Manage queues."`
	Send        SendCmd        `cmd:"" help:"Dispatch one packet."`
	Recv        RecvCmd        `cmd:"" help:"Receive packets."`
	Wakeup      WakeupCmd      `cmd:"" help:"Wake receivers blocked on queues."`
	Monitor     MonitorCmd     `cmd:"" help:"Run the capture monitor."`
	Stats       StatsCmd       `cmd:"" help:"Show a running monitor's stats."`
	Subscribe   SubscribeCmd   `cmd:"" help:"Ask a running monitor to capture a queue."`
	Unsubscribe UnsubscribeCmd `cmd:"" help:"Ask a running monitor to stop capturing a queue."`
	Captures    CapturesCmd    `cmd:"" help:"List recorded captures."`
	ConfigCmd   ConfigCmd      `cmd:"" name:"config" help:"Configuration file helpers."`

	// Out receives command output. Tests substitute their own writer.
	Out io.Writer `kong:"-"`
	// In supplies payloads read from standard input.
	In io.Reader `kong:"-"`

	// device overrides the opener; tests use an in-memory device.
	device device.Opener `kong:"-"`
}

// KongOptions returns the Kong configuration options for the CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("onectl"),
		kong.Description("Queue device control and capture monitor."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.TypeMapper(reflect.TypeOf(QID{}), qidMapper()),
		kong.Vars{
			"default_config_path": config.DefaultConfigPath,
		},
	}
}

// LoadConfig loads the config file and applies flag overrides.
func (c *CLI) LoadConfig() (config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return cfg, err
	}
	if c.Device != "" {
		cfg.Device.Path = c.Device
	}
	if c.DB != "" {
		cfg.Registry.Path = c.DB
	}
	if c.Socket != "" {
		cfg.Admin.Socket = c.Socket
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Logger creates a logger for one-shot commands. They default to warn
// unless --log is given.
func (c *CLI) Logger() (*slog.Logger, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}
	spec := c.Log
	if spec == "" {
		spec = "warn"
	}
	return c.newLogger(cfg, spec, os.Stderr)
}

// LoggerFromConfig creates a logger using config file settings, for
// the long-running monitor.
func (c *CLI) LoggerFromConfig() (*slog.Logger, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}
	return c.newLogger(cfg, c.Log, os.Stdout)
}

func (c *CLI) newLogger(cfg config.Config, cliSpec string, out io.Writer) (*slog.Logger, error) {
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Options{
		CLISpec:    cliSpec,
		EnvSpec:    os.Getenv(logging.EnvVar),
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     out,
	})
}

// Session returns a session over the configured device. The caller
// acquires and releases it.
func (c *CLI) Session(cfg config.Config, logger *slog.Logger) *session.Session {
	opener := c.device
	if opener == nil {
		opener = onedev.Opener(cfg.Device.Path)
	}
	return session.New(opener, session.WithLogger(logger))
}

// withSession runs fn with an acquired session.
func (c *CLI) withSession(fn func(s *session.Session, cfg config.Config, logger *slog.Logger) error) error {
	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := c.Logger()
	if err != nil {
		return err
	}
	s := c.Session(cfg, logger)
	if err := s.Acquire(); err != nil {
		return err
	}
	defer s.Release()
	return fn(s, cfg, logger)
}

// OpenStore opens the registry database, creating it if needed.
func (c *CLI) OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (registry.Store, error) {
	path := cfg.RegistryPath()
	store, err := sqlite.New(ctx, path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry at %s: %w", path, err)
	}
	return store, nil
}

// RunWithLock runs fn while holding the runtime lock, so registry
// updates from concurrent onectl invocations do not interleave with a
// starting monitor.
func (c *CLI) RunWithLock(ctx context.Context, cfg config.Config, fn func(ctx context.Context) error) error {
	dirs, err := cfg.RuntimeDirs()
	if err != nil {
		return err
	}
	if err := dirs.EnsureDirectories(); err != nil {
		return fmt.Errorf("runtime directory setup failed: %w", err)
	}
	return lock.Run(ctx, dirs.Lock(), func(ctx context.Context, _ lock.Scope) error {
		return fn(ctx)
	})
}

// WriteOut writes b to the output, treating a short write as an error.
func (c *CLI) WriteOut(b []byte) error {
	n, err := c.Out.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

// PrintOut writes s to the output.
func (c *CLI) PrintOut(s string) error {
	return c.WriteOut([]byte(s))
}

// PrintOutf formats to the output.
func (c *CLI) PrintOutf(format string, args ...any) error {
	return c.PrintOut(fmt.Sprintf(format, args...))
}
