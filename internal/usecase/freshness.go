package usecase

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"geodatenbezug/internal/domain"
)

// DefaultFreshnessWindow is how recent an update must be for a topic to be due.
const DefaultFreshnessWindow = 24 * time.Hour

const timestampFormat = "2006-01-02 15:04:05"

// FreshnessFilter selects the topics that were updated within the freshness window.
type FreshnessFilter struct {
	clock    clockwork.Clock
	location *time.Location
	window   time.Duration
	logger   *slog.Logger
}

// NewFreshnessFilter builds a filter; zero values fall back to the real clock, UTC and one day.
func NewFreshnessFilter(clock clockwork.Clock, location *time.Location, window time.Duration, logger *slog.Logger) *FreshnessFilter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if location == nil {
		location = time.UTC
	}
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FreshnessFilter{clock: clock, location: location, window: window, logger: logger}
}

// SelectDue keeps the input order. A malformed timestamp aborts the selection.
func (f *FreshnessFilter) SelectDue(statuses []domain.TopicStatus) ([]domain.TopicStatus, error) {
	now := f.clock.Now()
	due := make([]domain.TopicStatus, 0, len(statuses))

	for _, status := range statuses {
		log := f.logger.With("topic", status.TopicVersionID, "canton", status.Canton)

		updatedAt, ok, err := status.UpdatedTime(f.location)
		if err != nil {
			return nil, fmt.Errorf("topic %s (%s): %w", status.TopicVersionID, status.Canton, err)
		}
		if !ok {
			log.Info(fmt.Sprintf("Thema %s (%s) ist nicht verfügbar", status.TopicTitle, status.Canton))
			continue
		}

		formatted := updatedAt.In(f.location).Format(timestampFormat)
		if now.Sub(updatedAt) < f.window {
			log.Info(fmt.Sprintf("Thema %s (%s) wurde am %s aktualisiert und wird verarbeitet", status.TopicTitle, status.Canton, formatted))
			due = append(due, status)
			continue
		}
		log.Info(fmt.Sprintf("Thema %s (%s) wurde seit %s nicht aktualisiert", status.TopicTitle, status.Canton, formatted))
	}

	noun := "Themen werden"
	if len(due) == 1 {
		noun = "Thema wird"
	}
	f.logger.Info(fmt.Sprintf("%d %s prozessiert", len(due), noun))

	return due, nil
}
