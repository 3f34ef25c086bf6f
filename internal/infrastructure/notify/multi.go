package notify

import (
	"context"
	"errors"

	"geodatenbezug/internal/domain"
	"geodatenbezug/internal/ports"
)

// Multi fans a run out to several notifiers and joins their errors.
type Multi []ports.Notifier

var _ ports.Notifier = Multi(nil)

// NotifyRun calls every notifier, even after one of them failed.
func (m Multi) NotifyRun(ctx context.Context, run domain.Run) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyRun(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
