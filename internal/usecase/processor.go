package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"geodatenbezug/internal/domain"
	"geodatenbezug/internal/ports"
)

const (
	reasonSuccess      = "Success"
	infoCompleted      = "Processing completed"
	infoMissingURL     = "Download-URL not found"
	infoStatusTimedOut = "Zeitlimite überschritten"
)

// ProcessorDeps wires the collaborators of a TopicProcessor.
type ProcessorDeps struct {
	API      ports.ExportAPI
	Tokens   ports.TokenResolver
	Store    ports.ArtifactStore
	Location *time.Location
	Logger   *slog.Logger
}

// TopicProcessor drives one topic and canton through the export lifecycle.
type TopicProcessor struct {
	api      ports.ExportAPI
	tokens   ports.TokenResolver
	store    ports.ArtifactStore
	location *time.Location
	logger   *slog.Logger
}

// NewTopicProcessor constructs the processor.
func NewTopicProcessor(deps ProcessorDeps) *TopicProcessor {
	p := &TopicProcessor{
		api:      deps.API,
		tokens:   deps.Tokens,
		store:    deps.Store,
		location: deps.Location,
		logger:   deps.Logger,
	}
	if p.location == nil {
		p.location = time.UTC
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p
}

// Process starts the export, waits for it and hands the result to storage.
// Remote failures are reported in the outcome; the error is reserved for
// transport failures and bodies that break the documented schema.
func (p *TopicProcessor) Process(ctx context.Context, topic domain.TopicStatus) (domain.ExportOutcome, error) {
	log := p.logger.With("topic", topic.TopicVersionID, "canton", topic.Canton)
	log.Info(fmt.Sprintf("Verarbeite Thema %s (%s)...", topic.TopicTitle, topic.Canton))

	token := p.lookupToken(ctx, topic, log)

	exportResp, err := p.api.StartExport(ctx, topic, token)
	if err != nil {
		return domain.ExportOutcome{}, err
	}
	if !exportResp.OK() {
		message := errorMessage(exportResp)
		if exportResp.StatusCode == http.StatusNotFound && strings.Contains(message, domain.OnlyOneExportMessage) {
			log.Info("Export wurde heute bereits gestartet, prüfe den Status des vorhandenen Exports")
		} else {
			info := message
			if exportResp.StatusCode == http.StatusUnauthorized {
				info = ""
			}
			log.Error("Fehler beim Starten des Exports", "code", exportResp.StatusCode, "info", info)
			return p.outcome(topic, exportResp.StatusCode, exportResp.Reason, info, ""), nil
		}
	}

	statusResp, err := p.api.CheckExportStatus(ctx, topic, token)
	if err != nil {
		return domain.ExportOutcome{}, err
	}
	if !statusResp.OK() {
		info := ""
		if statusResp.StatusCode == http.StatusNotFound {
			info = errorMessage(statusResp)
		}
		log.Error("Fehler bei der Statusabfrage des Datenexports", "code", statusResp.StatusCode, "info", errorMessage(statusResp))
		return p.outcome(topic, statusResp.StatusCode, statusResp.Reason, info, ""), nil
	}

	status, err := statusResp.Status()
	if err != nil {
		return domain.ExportOutcome{}, fmt.Errorf("topic %s (%s): %w", topic.TopicVersionID, topic.Canton, err)
	}

	switch {
	case status.Status == domain.ExportFailed:
		log.Error("Fehler bei der Statusabfrage des Datenexports", "info", status.Info)
		return p.outcome(topic, statusResp.StatusCode, string(domain.ExportFailed), status.Info, ""), nil
	case status.Status.Busy():
		return p.outcome(topic, statusResp.StatusCode, string(status.Status), infoStatusTimedOut, ""), nil
	case status.DownloadURL == "":
		log.Error("Fehler bei der Statusabfrage des Datenexports: Download-URL nicht gefunden")
		return p.outcome(topic, statusResp.StatusCode, string(status.Status), infoMissingURL, ""), nil
	}

	downloadURL := status.DownloadURL
	if p.store != nil {
		downloadURL, err = p.store.Store(ctx, topic, status.DownloadURL)
		if err != nil {
			return domain.ExportOutcome{}, fmt.Errorf("store export of %s (%s): %w", topic.TopicVersionID, topic.Canton, err)
		}
	}

	log.Info(fmt.Sprintf("Thema %s (%s) erfolgreich verarbeitet", topic.TopicTitle, topic.Canton))
	return p.outcome(topic, http.StatusOK, reasonSuccess, infoCompleted, downloadURL), nil
}

func (p *TopicProcessor) lookupToken(ctx context.Context, topic domain.TopicStatus, log *slog.Logger) string {
	if p.tokens == nil {
		return ""
	}
	token, err := p.tokens.Token(ctx, topic.BaseTopic, topic.Canton)
	if err != nil {
		log.Warn("Kein Token gefunden", "error", err)
		return ""
	}
	return token
}

func (p *TopicProcessor) outcome(topic domain.TopicStatus, code int, reason, info, downloadURL string) domain.ExportOutcome {
	outcome := domain.ExportOutcome{
		Code:        code,
		Reason:      reason,
		Info:        info,
		Key:         topic.Key(),
		Topic:       topic.BaseTopic,
		TopicTitle:  topic.TopicTitle,
		Canton:      topic.Canton,
		DownloadURL: downloadURL,
	}
	if updatedAt, ok, err := topic.UpdatedTime(p.location); err == nil && ok {
		outcome.UpdatedAt = &updatedAt
	}
	return outcome
}

// FailureOutcome reports an error raised while processing topic.
func FailureOutcome(topic domain.TopicStatus, location *time.Location, err error) domain.ExportOutcome {
	p := TopicProcessor{location: location}
	if p.location == nil {
		p.location = time.UTC
	}
	return p.outcome(topic, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), err.Error(), "")
}

// errorMessage returns the error field of a failed response, or "" when the
// body is not the documented JSON error.
func errorMessage(resp domain.Response) string {
	message, err := resp.ErrorMessage()
	if err != nil {
		return ""
	}
	return message
}
