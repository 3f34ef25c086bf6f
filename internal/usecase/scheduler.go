package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"geodatenbezug/internal/ports"
)

// Scheduler hands every activation of a scheduler driver to the pipeline.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewScheduler binds a driver to the pipeline; a nil logger discards output.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{driver: driver, pipeline: pipeline, logger: logger}
}

// Start registers the run job with the driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}
	return s.driver.Start(ctx, func(trigger time.Time) { s.trigger(ctx, trigger) })
}

// Stop tears down the driver and waits for a running job.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}

func (s *Scheduler) trigger(ctx context.Context, at time.Time) {
	s.logger.Info("Die Prozessierung wurde gestartet", "trigger", at)

	run, err := s.pipeline.Run(ctx)
	switch {
	case errors.Is(err, ErrRunLocked):
		return
	case err != nil:
		s.logger.Error("run failed", "run", run.ID, "error", err)
	default:
		s.logger.Info("Die Prozessierung wurde beendet",
			"run", run.ID,
			"processed", len(run.Outcomes),
			"failed", run.Failed(),
			"duration", run.FinishedAt.Sub(run.StartedAt))
	}
}
