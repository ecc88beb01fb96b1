package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/admin"
	"github.com/frobware/go-one/config"
	"github.com/frobware/go-one/dispatcher"
	"github.com/frobware/go-one/lock"
	"github.com/frobware/go-one/monitor"
)

// MonitorCmd runs the capture monitor and its admin socket until
// interrupted.
type MonitorCmd struct {
	NoAdmin bool `name:"no-admin" help:"Do not serve the admin socket."`
}

func (c *MonitorCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return c.run(ctx, cli)
}

func (c *MonitorCmd) run(ctx context.Context, cli *CLI) error {
	cfg, err := cli.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := cli.LoggerFromConfig()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	dirs, err := cfg.RuntimeDirs()
	if err != nil {
		return err
	}
	if err := dirs.EnsureDirectories(); err != nil {
		return fmt.Errorf("runtime directory setup failed: %w", err)
	}

	err = lock.TryRun(ctx, dirs.MonitorLock(), func(ctx context.Context, _ lock.Scope) error {
		store, err := cli.OpenStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		m := monitor.New(cli.Session(cfg, logger), store, monitorOptions(cfg), logger)
		if err := m.Start(ctx); err != nil {
			return err
		}
		logger.Info("monitor running", "run_id", m.RunID(), "device", cfg.Device.Path)

		var serveErr error
		if c.NoAdmin {
			<-ctx.Done()
		} else {
			// Serve returns nil once ctx is cancelled.
			serveErr = admin.NewServer(m, logger).Serve(ctx, cfg.AdminSocket())
		}
		return errors.Join(serveErr, m.Shutdown(context.WithoutCancel(ctx)))
	})
	if errors.Is(err, lock.ErrHeld) {
		return fmt.Errorf("another monitor is running (lock %s): %w", dirs.MonitorLock(), err)
	}
	return err
}

// monitorOptions translates the config file's monitor and dispatcher
// sections.
func monitorOptions(cfg config.Config) monitor.Options {
	opts := monitor.Options{
		TapCapacity:     cfg.Monitor.TapCapacity,
		CapturePayloads: cfg.Monitor.CapturePayloads,
		Dispatcher: []dispatcher.Option{
			dispatcher.WithBufferSize(cfg.Dispatcher.BufferSize),
			dispatcher.WithRetryBackoff(cfg.Dispatcher.RetryMin.Std(), cfg.Dispatcher.RetryMax.Std()),
			dispatcher.WithStopGrace(cfg.Dispatcher.StopGrace.Std()),
		},
	}
	for _, q := range cfg.Monitor.Queues {
		spec := monitor.QueueSpec{Name: q.Name, QID: one.QID(q.QID)}
		for _, src := range q.Attach {
			spec.Attach = append(spec.Attach, one.QID(src))
		}
		opts.Queues = append(opts.Queues, spec)
	}
	return opts
}

// adminClient dials the configured admin socket.
func (c *CLI) adminClient() (*admin.Client, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}
	return admin.Dial(cfg.AdminSocket())
}
