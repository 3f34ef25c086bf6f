package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geodatenbezug/internal/domain"
)

func TestPrometheusCounters(t *testing.T) {
	t.Parallel()

	m := NewPrometheus()
	m.ObserveOutcome(domain.ExportOutcome{Code: 200, Canton: "AG"})
	m.ObserveOutcome(domain.ExportOutcome{Code: 200, Canton: "AG"})
	m.ObserveOutcome(domain.ExportOutcome{Code: 404, Canton: "ZG"})
	m.ObservePoll("export")
	m.ObservePoll("status")
	m.ObservePoll("status")
	m.ObserveRun(3, 90*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("200", "AG")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("404", "ZG")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("export")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.polls.WithLabelValues("status")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.dueTopics))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runDuration))
}

func TestPrometheusHandler(t *testing.T) {
	t.Parallel()

	m := NewPrometheus()
	m.ObservePoll("export")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `geodatenbezug_export_polls_total{operation="export"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
