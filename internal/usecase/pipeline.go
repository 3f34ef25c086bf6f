package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"geodatenbezug/internal/domain"
	"geodatenbezug/internal/ports"
)

// DefaultLockTTL bounds how long a run holds the cross-replica lock.
const DefaultLockTTL = 2 * time.Hour

// ErrRunLocked is returned when another run holds the in-process guard or the replica lock.
var ErrRunLocked = errors.New("another run is in progress")

// Processor handles a single due topic.
type Processor interface {
	Process(ctx context.Context, topic domain.TopicStatus) (domain.ExportOutcome, error)
}

// PipelineDeps wires all driven adapters into the run coordinator.
type PipelineDeps struct {
	Source      ports.ExportAPI
	Filter      *FreshnessFilter
	Processor   Processor
	Repository  ports.OutcomeRepository
	Notifier    ports.Notifier
	Metrics     ports.Metrics
	Lock        ports.RunLock
	LockTTL     time.Duration
	Clock       clockwork.Clock
	Location    *time.Location
	Concurrency int
	Logger      *slog.Logger
}

// Pipeline coordinates one run: select due topics, process them, report.
type Pipeline struct {
	source      ports.ExportAPI
	filter      *FreshnessFilter
	processor   Processor
	repository  ports.OutcomeRepository
	notifier    ports.Notifier
	metrics     ports.Metrics
	lock        ports.RunLock
	lockTTL     time.Duration
	clock       clockwork.Clock
	location    *time.Location
	concurrency int
	logger      *slog.Logger

	running atomic.Bool
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		source:      deps.Source,
		filter:      deps.Filter,
		processor:   deps.Processor,
		repository:  deps.Repository,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		lock:        deps.Lock,
		lockTTL:     deps.LockTTL,
		clock:       deps.Clock,
		location:    deps.Location,
		concurrency: deps.Concurrency,
		logger:      deps.Logger,
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if p.filter == nil {
		p.filter = NewFreshnessFilter(p.clock, p.location, 0, p.logger)
	}
	if p.lockTTL <= 0 {
		p.lockTTL = DefaultLockTTL
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	return p
}

// Running reports whether a run is in progress in this process.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Run executes the pipeline once. Per-topic failures end up in the returned
// run; the error reports problems that prevented the run as a whole.
func (p *Pipeline) Run(ctx context.Context) (domain.Run, error) {
	if p.source == nil || p.processor == nil {
		return domain.Run{}, fmt.Errorf("pipeline is not configured")
	}

	if !p.running.CompareAndSwap(false, true) {
		p.logger.Info("Eine andere Prozessierung läuft bereits, überspringe")
		return domain.Run{}, ErrRunLocked
	}
	defer p.running.Store(false)

	if p.lock != nil {
		acquired, err := p.lock.Acquire(ctx, p.lockTTL)
		if err != nil {
			return domain.Run{}, fmt.Errorf("acquire run lock: %w", err)
		}
		if !acquired {
			p.logger.Info("Eine andere Prozessierung läuft bereits, überspringe")
			return domain.Run{}, ErrRunLocked
		}
		defer func() {
			if err := p.lock.Release(context.WithoutCancel(ctx)); err != nil {
				p.logger.Warn("release run lock", "error", err)
			}
		}()
	}

	run := domain.Run{ID: uuid.NewString(), StartedAt: p.clock.Now()}
	log := p.logger.With("run", run.ID)
	log.Info("Start der Prozessierung...")

	statuses, err := p.source.FetchTopicStatuses(ctx)
	if err != nil {
		return run, fmt.Errorf("fetch topic statuses: %w", err)
	}

	due, err := p.filter.SelectDue(statuses)
	if err != nil {
		return run, fmt.Errorf("select due topics: %w", err)
	}

	due, err = p.skipExported(ctx, due, log)
	if err != nil {
		return run, err
	}

	run.Outcomes = p.processAll(ctx, due, log)
	run.FinishedAt = p.clock.Now()

	if p.metrics != nil {
		for _, outcome := range run.Outcomes {
			p.metrics.ObserveOutcome(outcome)
		}
		p.metrics.ObserveRun(len(due), run.FinishedAt.Sub(run.StartedAt))
	}

	if ctx.Err() != nil {
		run.Aborted = true
		log.Warn("Prozessierung abgebrochen, Resultate werden nicht versendet", "processed", len(run.Outcomes), "error", ctx.Err())
		if p.repository != nil {
			if err := p.repository.SaveRun(context.WithoutCancel(ctx), run); err != nil {
				log.Error("persist aborted run", "error", err)
			}
		}
		return run, fmt.Errorf("run %s aborted: %w", run.ID, ctx.Err())
	}

	log.Info("Prozessierung abgeschlossen", "processed", len(run.Outcomes), "failed", run.Failed())

	if len(run.Outcomes) > 0 && p.notifier != nil {
		if err := p.notifier.NotifyRun(ctx, run); err != nil {
			log.Error("Fehler beim Versenden der Prozessierungsresultate", "error", err)
		}
	}

	if p.repository != nil {
		if err := p.repository.SaveRun(ctx, run); err != nil {
			return run, fmt.Errorf("persist run %s: %w", run.ID, err)
		}
	}

	return run, nil
}

func (p *Pipeline) skipExported(ctx context.Context, due []domain.TopicStatus, log *slog.Logger) ([]domain.TopicStatus, error) {
	if p.repository == nil || len(due) == 0 {
		return due, nil
	}

	exported, err := p.repository.AlreadyExported(ctx, due)
	if err != nil {
		return nil, fmt.Errorf("load exported topics: %w", err)
	}

	remaining := make([]domain.TopicStatus, 0, len(due))
	for _, topic := range due {
		if exported[topic.Key()] {
			log.Info(fmt.Sprintf("Thema %s (%s) wurde bereits exportiert", topic.TopicTitle, topic.Canton))
			continue
		}
		remaining = append(remaining, topic)
	}
	return remaining, nil
}

// processAll fans out one task per topic. Each task owns its slot in the
// result slice, so the outcomes keep the order of the due list.
func (p *Pipeline) processAll(ctx context.Context, due []domain.TopicStatus, log *slog.Logger) []domain.ExportOutcome {
	outcomes := make([]domain.ExportOutcome, len(due))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, topic := range due {
		i, topic := i, topic
		g.Go(func() error {
			outcome, err := p.processor.Process(ctx, topic)
			if err != nil {
				log.Error(fmt.Sprintf("Fehler beim Verarbeiten des Themas %s (%s)", topic.TopicTitle, topic.Canton), "error", err)
				outcome = FailureOutcome(topic, p.location, err)
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}
