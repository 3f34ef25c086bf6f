package storage

import (
	"context"
	"net/http"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geodatenbezug/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestAlreadyExported(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	topics := []domain.TopicStatus{
		{TopicVersionID: "lwb_rebbaukataster_v2_0", Canton: "AG", UpdatedAt: strPtr("2024-05-10T08:00:00")},
		{TopicVersionID: "lwb_rebbaukataster_v2_0", Canton: "BE", UpdatedAt: strPtr("2024-05-10T09:00:00")},
	}

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT DISTINCT export_key FROM export_outcomes WHERE export_key = ANY($1) AND code = $2 AND download_url <> $3`)).
		WithArgs(sqlmock.AnyArg(), http.StatusOK, "").
		WillReturnRows(sqlmock.NewRows([]string{"export_key"}).AddRow(topics[1].Key()))

	repo := NewPostgresRepository(db)
	got, err := repo.AlreadyExported(context.Background(), topics)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{topics[1].Key(): true}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlreadyExportedWithoutTopics(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	got, err := NewPostgresRepository(db).AlreadyExported(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRun(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	started := time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)
	updated := started.Add(-time.Hour)
	run := domain.Run{
		ID:         "6f1c2f55-8a55-4a39-9d3c-1a3f5e0b8c11",
		StartedAt:  started,
		FinishedAt: started.Add(5 * time.Minute),
		Outcomes: []domain.ExportOutcome{
			{Code: 200, Reason: "Success", Info: "Processing completed", Key: "k1", Topic: "lwb_rebbaukataster",
				TopicTitle: "Rebbaukataster", Canton: "AG", UpdatedAt: &updated, DownloadURL: "https://s3/AG.zip"},
			{Code: 404, Reason: "Not Found", Info: domain.InvalidTokenMessage, Key: "k2", Topic: "lwb_rebbaukataster",
				TopicTitle: "Rebbaukataster", Canton: "BE"},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO export_runs (id,started_at,finished_at,processed,failed,aborted) VALUES ($1,$2,$3,$4,$5,$6)`)).
		WithArgs(run.ID, run.StartedAt, run.FinishedAt, 2, 1, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO export_outcomes (run_id,export_key,topic,topic_title,canton,code,reason,info,download_url,updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10),($11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, NewPostgresRepository(db).SaveRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS export_runs`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewPostgresRepository(db).Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
