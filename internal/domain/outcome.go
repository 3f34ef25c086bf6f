package domain

import (
	"net/http"
	"time"
)

// ExportStatus is the state reported by downloads/status.json.
type ExportStatus string

const (
	ExportQueued  ExportStatus = "queued"
	ExportWorking ExportStatus = "working"
	ExportFailed  ExportStatus = "failed"
	ExportSuccess ExportStatus = "success"
)

// Busy reports whether the export is still running on the remote side.
func (s ExportStatus) Busy() bool {
	return s == ExportQueued || s == ExportWorking
}

// ExportOutcome is the terminal result of processing one topic and canton.
type ExportOutcome struct {
	Code        int        `json:"code"`
	Reason      string     `json:"reason"`
	Info        string     `json:"info,omitempty"`
	Key         string     `json:"-"`
	Topic       string     `json:"topic"`
	TopicTitle  string     `json:"topic_title"`
	Canton      string     `json:"canton"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
}

// Succeeded reports whether the outcome describes a completed export.
func (o ExportOutcome) Succeeded() bool {
	return o.Code == http.StatusOK && o.DownloadURL != ""
}

// Run collects the outcomes of one pipeline execution.
// Aborted marks a run whose context was cancelled while topics were processed.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Aborted    bool
	Outcomes   []ExportOutcome
}

// Failed counts the outcomes that did not succeed.
func (r Run) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			n++
		}
	}
	return n
}
