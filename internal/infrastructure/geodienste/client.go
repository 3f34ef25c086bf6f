package geodienste

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"geodatenbezug/internal/domain"
	"geodatenbezug/internal/ports"
)

const (
	DefaultBaseURL      = "https://geodienste.ch"
	DefaultPollInterval = time.Minute
	DefaultPollTimeout  = 10 * time.Minute

	maxBodySize = 10 << 20
)

// ErrMalformedResponse marks a response body that does not match the documented schema.
var ErrMalformedResponse = errors.New("malformed geodienste response")

// Doer is the minimal HTTP surface the client needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures the client. Zero values fall back to the defaults above.
type Options struct {
	BaseURL      string
	Language     string
	User         string
	Password     string
	PollInterval time.Duration
	PollTimeout  time.Duration
	Clock        clockwork.Clock
	Logger       *slog.Logger
	Metrics      ports.Metrics
}

// Client talks to the geodienste.ch info and download endpoints.
type Client struct {
	http         Doer
	baseURL      string
	language     string
	user         string
	password     string
	pollInterval time.Duration
	pollTimeout  time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      ports.Metrics
}

var _ ports.ExportAPI = (*Client)(nil)

// NewClient wires an HTTP doer; a nil doer gets a client with a 30s timeout.
func NewClient(doer Doer, opts Options) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{
		http:         doer,
		baseURL:      strings.TrimSuffix(opts.BaseURL, "/"),
		language:     opts.Language,
		user:         opts.User,
		password:     opts.Password,
		pollInterval: opts.PollInterval,
		pollTimeout:  opts.PollTimeout,
		clock:        opts.Clock,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.language == "" {
		c.language = "de"
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = DefaultPollTimeout
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// FetchTopicStatuses queries info/services.json for the whole catalog.
// Request failures are logged and yield an empty list.
func (c *Client) FetchTopicStatuses(ctx context.Context) ([]domain.TopicStatus, error) {
	infoURL, err := buildInfoURL(c.baseURL, c.language)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Rufe die Themeninformationen ab", "url", infoURL)

	resp, err := c.get(ctx, infoURL)
	if err != nil {
		c.logger.Error("Fehler beim Abrufen der Themeninformationen von geodienste.ch", "error", err)
		return []domain.TopicStatus{}, nil
	}
	if !resp.OK() {
		c.logger.Error("Fehler beim Abrufen der Themeninformationen von geodienste.ch",
			"code", resp.StatusCode, "reason", resp.Reason)
		return []domain.TopicStatus{}, nil
	}

	var payload struct {
		Services []domain.TopicStatus `json:"services"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: services: %v", ErrMalformedResponse, err)
	}
	if payload.Services == nil {
		return []domain.TopicStatus{}, nil
	}
	return payload.Services, nil
}

// StartExport requests export.json and keeps retrying while another export of the
// same token is pending, until the poll timeout measured from the first call.
func (c *Client) StartExport(ctx context.Context, topic domain.TopicStatus, token string) (domain.Response, error) {
	log := c.logger.With("topic", topic.TopicVersionID, "canton", topic.Canton)
	log.Info("Starte den Datenexport")

	exportURL := c.downloadURL(topic.TopicVersionID, token, "export.json")
	start := c.clock.Now()
	waiting := false
	for {
		resp, err := c.get(ctx, exportURL)
		if err != nil {
			return domain.Response{}, fmt.Errorf("start export %s (%s): %w", topic.TopicVersionID, topic.Canton, err)
		}
		c.observePoll("export")

		if !isPending(resp) {
			return resp, nil
		}
		if c.clock.Since(start) >= c.pollTimeout {
			log.Error("Es läuft bereits ein anderer Export. Zeitlimite überschritten.")
			return resp, nil
		}
		if !waiting {
			log.Info("Es läuft gerade ein anderer Export. Versuche es in 1 Minute erneut.")
			waiting = true
		}
		if err := c.sleep(ctx); err != nil {
			return resp, err
		}
	}
}

// CheckExportStatus requests status.json and keeps polling while the export is
// queued or working, until the poll timeout measured from the first call.
func (c *Client) CheckExportStatus(ctx context.Context, topic domain.TopicStatus, token string) (domain.Response, error) {
	log := c.logger.With("topic", topic.TopicVersionID, "canton", topic.Canton)
	log.Info("Prüfe den Status des Datenexports")

	statusURL := c.downloadURL(topic.TopicVersionID, token, "status.json")
	start := c.clock.Now()
	var last domain.ExportStatus
	for {
		resp, err := c.get(ctx, statusURL)
		if err != nil {
			return domain.Response{}, fmt.Errorf("check export status %s (%s): %w", topic.TopicVersionID, topic.Canton, err)
		}
		c.observePoll("status")

		if !resp.OK() {
			return resp, nil
		}
		body, err := resp.Status()
		if err != nil {
			return resp, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if !body.Status.Busy() {
			return resp, nil
		}

		label := describe(body.Status)
		if c.clock.Since(start) >= c.pollTimeout {
			log.Error("Zeitlimite überschritten. Status ist " + label)
			return resp, nil
		}
		if body.Status != last {
			log.Info("Export ist " + label + ". Versuche es in 1 Minute erneut.")
			last = body.Status
		}
		if err := c.sleep(ctx); err != nil {
			return resp, err
		}
	}
}

func (c *Client) get(ctx context.Context, target string) (domain.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Response{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return domain.Response{}, fmt.Errorf("read response: %w", err)
	}

	return domain.Response{
		StatusCode: resp.StatusCode,
		Reason:     reasonPhrase(resp),
		Body:       body,
	}, nil
}

func (c *Client) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(c.pollInterval):
		return nil
	}
}

func (c *Client) observePoll(operation string) {
	if c.metrics != nil {
		c.metrics.ObservePoll(operation)
	}
}

func (c *Client) downloadURL(topicVersionID, token, file string) string {
	return fmt.Sprintf("%s/downloads/%s/%s/%s",
		c.baseURL, url.PathEscape(topicVersionID), url.PathEscape(token), file)
}

func buildInfoURL(base, language string) (string, error) {
	parsed, err := url.Parse(base + "/info/services.json")
	if err != nil {
		return "", fmt.Errorf("invalid base url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("base_topics", domain.BaseTopicsCSV())
	query.Set("topics", domain.TopicVersionsCSV())
	query.Set("cantons", domain.CantonsCSV())
	query.Set("language", language)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func isPending(resp domain.Response) bool {
	if resp.StatusCode != http.StatusNotFound {
		return false
	}
	msg, err := resp.ErrorMessage()
	return err == nil && msg == domain.PendingExportMessage
}

func describe(status domain.ExportStatus) string {
	if status == domain.ExportWorking {
		return "in Bearbeitung"
	}
	return "in der Warteschlange"
}

func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}
