package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"geodatenbezug/internal/domain"
	"geodatenbezug/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS export_runs (
    id          UUID PRIMARY KEY,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    processed   INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    aborted     BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS export_outcomes (
    run_id       UUID NOT NULL REFERENCES export_runs (id) ON DELETE CASCADE,
    export_key   TEXT NOT NULL,
    topic        TEXT NOT NULL,
    topic_title  TEXT NOT NULL,
    canton       TEXT NOT NULL,
    code         INTEGER NOT NULL,
    reason       TEXT NOT NULL,
    info         TEXT NOT NULL,
    download_url TEXT NOT NULL,
    updated_at   TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS export_outcomes_export_key_idx ON export_outcomes (export_key);
`

// PostgresRepository persists run outcomes into Postgres.
type PostgresRepository struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.OutcomeRepository = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// OpenPostgres opens a lib/pq connection pool and checks it is reachable.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the tables if they do not exist yet.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// AlreadyExported returns the keys of topics that already have a successful export.
func (r *PostgresRepository) AlreadyExported(ctx context.Context, topics []domain.TopicStatus) (map[string]bool, error) {
	if r.db == nil || len(topics) == 0 {
		return map[string]bool{}, nil
	}

	keys := make([]string, len(topics))
	for i, topic := range topics {
		keys[i] = topic.Key()
	}

	query, args, err := r.builder.
		Select("DISTINCT export_key").
		From("export_outcomes").
		Where(sq.Expr("export_key = ANY(?)", pq.StringArray(keys))).
		Where(sq.Eq{"code": http.StatusOK}).
		Where(sq.NotEq{"download_url": ""}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build exported query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query exported: %w", err)
	}

	result := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan key: %w", err)
		}
		result[key] = true
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

// SaveRun stores the run and its outcomes in one transaction.
func (r *PostgresRepository) SaveRun(ctx context.Context, run domain.Run) error {
	if r.db == nil {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := r.builder.
		Insert("export_runs").
		Columns("id", "started_at", "finished_at", "processed", "failed", "aborted").
		Values(run.ID, run.StartedAt, run.FinishedAt, len(run.Outcomes), run.Failed(), run.Aborted).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(run.Outcomes) > 0 {
		insert := r.builder.
			Insert("export_outcomes").
			Columns("run_id", "export_key", "topic", "topic_title", "canton", "code", "reason", "info", "download_url", "updated_at")
		for _, o := range run.Outcomes {
			insert = insert.Values(run.ID, o.Key, o.Topic, o.TopicTitle, o.Canton, o.Code, o.Reason, o.Info, o.DownloadURL, o.UpdatedAt)
		}

		query, args, err = insert.ToSql()
		if err != nil {
			return fmt.Errorf("build outcome insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert outcomes: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
