package usecase

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"geodatenbezug/internal/domain"
)

var testNow = time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *string {
	s := testNow.Add(-d).Format("2006-01-02T15:04:05")
	return &s
}

func newLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewTextHandler(&syncWriter{w: buf}, nil)), buf
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func topicStatus(title, base, canton string, updatedAt *string) domain.TopicStatus {
	return domain.TopicStatus{
		TopicTitle:     title,
		BaseTopic:      base,
		TopicVersionID: base + "_v2_0",
		Version:        "2.0",
		Canton:         canton,
		UpdatedAt:      updatedAt,
	}
}

type fakeAPI struct {
	mu          sync.Mutex
	statuses    []domain.TopicStatus
	fetchErr    error
	export      func(topic domain.TopicStatus, token string) (domain.Response, error)
	status      func(topic domain.TopicStatus, token string) (domain.Response, error)
	exportCalls int
	statusCalls int
	tokens      []string
}

func (f *fakeAPI) FetchTopicStatuses(context.Context) ([]domain.TopicStatus, error) {
	return f.statuses, f.fetchErr
}

func (f *fakeAPI) StartExport(_ context.Context, topic domain.TopicStatus, token string) (domain.Response, error) {
	f.mu.Lock()
	f.exportCalls++
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()
	return f.export(topic, token)
}

func (f *fakeAPI) CheckExportStatus(_ context.Context, topic domain.TopicStatus, token string) (domain.Response, error) {
	f.mu.Lock()
	f.statusCalls++
	f.mu.Unlock()
	return f.status(topic, token)
}

func respond(code int, body string) func(domain.TopicStatus, string) (domain.Response, error) {
	return func(domain.TopicStatus, string) (domain.Response, error) {
		return domain.NewResponse(code, []byte(body)), nil
	}
}

type fakeTokens map[string]string

func (f fakeTokens) Token(_ context.Context, baseTopic, canton string) (string, error) {
	if t, ok := f[baseTopic+"/"+canton]; ok {
		return t, nil
	}
	return "", context.DeadlineExceeded
}

type fakeStore struct {
	mu     sync.Mutex
	urls   []string
	err    error
	prefix string
}

func (f *fakeStore) Store(_ context.Context, topic domain.TopicStatus, downloadURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.urls = append(f.urls, downloadURL)
	return f.prefix + topic.Canton + "/" + topic.BaseTopic + ".zip", nil
}
