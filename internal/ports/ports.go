package ports

import (
	"context"
	"time"

	"geodatenbezug/internal/domain"
)

// ExportAPI wraps the remote geodienste.ch calls of the export lifecycle.
type ExportAPI interface {
	FetchTopicStatuses(ctx context.Context) ([]domain.TopicStatus, error)
	StartExport(ctx context.Context, topic domain.TopicStatus, token string) (domain.Response, error)
	CheckExportStatus(ctx context.Context, topic domain.TopicStatus, token string) (domain.Response, error)
}

// TokenResolver looks up the export token for a base topic and canton.
type TokenResolver interface {
	Token(ctx context.Context, baseTopic, canton string) (string, error)
}

// ArtifactStore persists a finished export and returns a retrievable URL.
type ArtifactStore interface {
	Store(ctx context.Context, topic domain.TopicStatus, downloadURL string) (string, error)
}

// OutcomeRepository keeps the history of runs for deduplication and audit.
type OutcomeRepository interface {
	AlreadyExported(ctx context.Context, topics []domain.TopicStatus) (map[string]bool, error)
	SaveRun(ctx context.Context, run domain.Run) error
}

// Notifier reports the outcomes of a run to operators.
type Notifier interface {
	NotifyRun(ctx context.Context, run domain.Run) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// RunLock guards against overlapping runs across replicas.
type RunLock interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// Metrics receives pipeline counters.
type Metrics interface {
	ObserveOutcome(outcome domain.ExportOutcome)
	ObservePoll(operation string)
	ObserveRun(due int, duration time.Duration)
}
