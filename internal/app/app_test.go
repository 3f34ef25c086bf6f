package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geodatenbezug/internal/config"
	"geodatenbezug/internal/domain"
	"geodatenbezug/internal/infrastructure/notify"
	"geodatenbezug/internal/infrastructure/tokens"
	"geodatenbezug/internal/usecase"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTopics(t *testing.T) {
	t.Parallel()

	recent := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	stale := time.Now().Add(-72 * time.Hour).UTC().Format(time.RFC3339)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info/services.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"services":[
			{"topic_title":"Rebbaukataster","base_topic":"lwb_rebbaukataster","topic":"lwb_rebbaukataster_v2_0","version":"2.0","canton":"AG","updated_at":%q},
			{"topic_title":"Rebbaukataster","base_topic":"lwb_rebbaukataster","topic":"lwb_rebbaukataster_v2_0","version":"2.0","canton":"BE","updated_at":%q},
			{"topic_title":"Rebbaukataster","base_topic":"lwb_rebbaukataster","topic":"lwb_rebbaukataster_v2_0","version":"2.0","canton":"ZG","updated_at":null}
		]}`, recent, stale)
	}))
	defer server.Close()

	cfg := config.Config{Geodienste: config.GeodiensteConfig{BaseURL: server.URL, RequestTimeout: 5 * time.Second}}
	application, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer application.Close()

	statuses, due, err := application.Topics(context.Background())
	require.NoError(t, err)
	assert.Len(t, statuses, 3)
	require.Len(t, due, 1)
	assert.Equal(t, "AG", due[0].Canton)
}

func TestRunWithoutDueTopics(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"services":[]}`))
	}))
	defer server.Close()

	cfg := config.Config{Geodienste: config.GeodiensteConfig{BaseURL: server.URL}}
	application, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer application.Close()

	run, err := application.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Empty(t, run.Outcomes)
}

func TestNewTokenResolver(t *testing.T) {
	t.Parallel()

	resolver, err := newTokenResolver(context.Background(), config.TokensConfig{})
	require.NoError(t, err)
	assert.IsType(t, &tokens.EnvResolver{}, resolver)

	resolver, err = newTokenResolver(context.Background(), config.TokensConfig{
		Source:   config.TokenSourceConfig,
		Settings: map[string]string{"lwb_rebbaukataster": "AG=abc"},
	})
	require.NoError(t, err)
	token, err := resolver.Token(context.Background(), "lwb_rebbaukataster", "AG")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = newTokenResolver(context.Background(), config.TokensConfig{Source: "vault"})
	require.Error(t, err)
}

func TestNotifierSelection(t *testing.T) {
	t.Parallel()

	a := &Application{logger: discardLogger()}
	assert.Nil(t, a.notifier(time.UTC))

	a.cfg.Notifications.Mail.Host = "smtp.example.ch"
	a.cfg.Notifications.Telegram = config.TelegramConfig{BotToken: "bot", ChatID: "42"}
	n := a.notifier(time.UTC)
	require.IsType(t, notify.Multi{}, n)
	assert.Len(t, n.(notify.Multi), 2)
}

func TestHistoryOnlyNeverSkips(t *testing.T) {
	t.Parallel()

	exported, err := historyOnly{}.AlreadyExported(context.Background(), []domain.TopicStatus{{Canton: "AG"}})
	require.NoError(t, err)
	assert.Empty(t, exported)
}

type goroutineDriver struct {
	done chan struct{}
}

func (d *goroutineDriver) Start(_ context.Context, job func(time.Time)) error {
	go func() {
		defer close(d.done)
		job(time.Now())
	}()
	return nil
}

func (d *goroutineDriver) Stop(context.Context) error {
	<-d.done
	return nil
}

func TestManualRunRejectedWhileScheduledRunActive(t *testing.T) {
	t.Parallel()

	updated := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	entered := make(chan struct{})
	release := make(chan struct{})
	var enterOnce sync.Once
	var exports atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/info/services.json":
			_, _ = fmt.Fprintf(w, `{"services":[{"topic_title":"Rebbaukataster","base_topic":"lwb_rebbaukataster","topic":"lwb_rebbaukataster_v2_0","version":"2.0","canton":"AG","updated_at":%q}]}`, updated)
		case strings.HasSuffix(r.URL.Path, "/export.json"):
			exports.Add(1)
			enterOnce.Do(func() { close(entered) })
			<-release
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cfg := config.Config{
		Geodienste: config.GeodiensteConfig{BaseURL: server.URL, RequestTimeout: 10 * time.Second},
		Tokens: config.TokensConfig{
			Source:   config.TokenSourceConfig,
			Settings: map[string]string{"lwb_rebbaukataster": "AG=token-ag"},
		},
	}
	application, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer application.Close()

	driver := &goroutineDriver{done: make(chan struct{})}
	sched := usecase.NewScheduler(driver, application.pipeline, discardLogger())
	require.NoError(t, sched.Start(context.Background()))

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run did not start an export")
	}

	opsServer := application.opsServer()
	rec := httptest.NewRecorder()
	opsServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(release)
	require.NoError(t, sched.Stop(context.Background()))
	opsServer.Wait()
	assert.EqualValues(t, 1, exports.Load())
}
