package monitor

import (
	"errors"
	"log/slog"
)

// undoStack holds rollback steps for a partially applied subscription.
// Steps run in reverse order, each undoing one device-side effect.
type undoStack []func() error

func (u *undoStack) push(fn func() error) {
	*u = append(*u, fn)
}

// rollback runs every step, logging failures, and returns them joined.
func (u undoStack) rollback(logger *slog.Logger) error {
	var errs []error
	for i := len(u) - 1; i >= 0; i-- {
		if err := u[i](); err != nil {
			logger.Warn("rollback step failed", "step", i, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
