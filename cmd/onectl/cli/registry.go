package cli

import (
	"context"
	"errors"
	"log/slog"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/config"
	"github.com/frobware/go-one/registry"
)

// record applies fn to the registry in one transaction under the
// runtime lock. The device is the source of truth, so a registry
// failure after a successful device call is logged, not returned.
func (c *CLI) record(ctx context.Context, cfg config.Config, logger *slog.Logger, fn func(context.Context, registry.Store) error) {
	store, err := c.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Warn("registry unavailable; change not recorded", "error", err)
		return
	}
	defer store.Close()

	err = c.RunWithLock(ctx, cfg, func(ctx context.Context) error {
		return store.RunInTransaction(ctx, func(tx registry.Store) error {
			return fn(ctx, tx)
		})
	})
	if err != nil {
		logger.Warn("failed to record change in registry", "error", err)
	}
}

// ensureQueue records qid if the registry does not know it yet.
func ensureQueue(ctx context.Context, store registry.Store, qid one.QID) error {
	_, err := store.GetQueue(ctx, qid)
	if errors.Is(err, registry.ErrNotFound) {
		return store.SaveQueue(ctx, registry.QueueRecord{QID: qid})
	}
	return err
}

// ignoreNotFound treats a missing record as already removed.
func ignoreNotFound(err error) error {
	if errors.Is(err, registry.ErrNotFound) {
		return nil
	}
	return err
}
