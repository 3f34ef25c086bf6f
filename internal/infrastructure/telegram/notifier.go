package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"geodatenbezug/internal/domain"
	"geodatenbezug/internal/infrastructure/notify"
	"geodatenbezug/internal/ports"
)

const defaultAPIURL = "https://api.telegram.org"

// Notifier sends run summaries to a Telegram chat via bot API.
type Notifier struct {
	botToken string
	chatID   string
	apiURL   string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiURL:   defaultAPIURL,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// WithAPIURL points the notifier to another bot API endpoint.
func (n *Notifier) WithAPIURL(apiURL string) *Notifier {
	n.apiURL = strings.TrimSuffix(apiURL, "/")
	return n
}

// NotifyRun posts the run summary plus one line per failed topic.
func (n *Notifier) NotifyRun(ctx context.Context, run domain.Run) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiURL, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", digest(run))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

func digest(run domain.Run) string {
	var b strings.Builder
	b.WriteString(notify.Summary(run))
	for _, o := range run.Outcomes {
		if o.Succeeded() {
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(fmt.Sprintf("%s (%s): %s", o.TopicTitle, o.Canton, o.Reason))
		if o.Info != "" {
			b.WriteString(" - " + o.Info)
		}
	}
	return b.String()
}
