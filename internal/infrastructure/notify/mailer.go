package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"geodatenbezug/internal/domain"
	"geodatenbezug/internal/ports"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// MailConfig holds SMTP settings.
type MailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
	Cc       string
}

// Mailer sends the run report as a multipart HTML mail.
type Mailer struct {
	cfg      MailConfig
	send     SendFunc
	location *time.Location
	logger   *slog.Logger
}

var _ ports.Notifier = (*Mailer)(nil)

// NewMailer builds a mailer; a nil send function uses smtp.SendMail.
func NewMailer(cfg MailConfig, send SendFunc, loc *time.Location, logger *slog.Logger) *Mailer {
	if send == nil {
		send = smtp.SendMail
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Mailer{cfg: cfg, send: send, location: loc, logger: logger}
}

// NotifyRun renders and sends the report of a run.
func (m *Mailer) NotifyRun(_ context.Context, run domain.Run) error {
	m.logger.Info("Versende E-Mail mit Prozessierungsresultaten...")

	if m.cfg.Host == "" {
		return errors.New("SMTP host is not set")
	}

	report, err := BuildReport(run.Outcomes, m.location)
	if err != nil {
		return err
	}

	msg, recipients, err := m.buildMessage(report)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.User != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, recipients, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	m.logger.Info("E-Mail erfolgreich versendet")
	return nil
}

// buildMessage returns the raw RFC 5322 message and the envelope recipients.
// The CC address only receives reports that contain failures.
func (m *Mailer) buildMessage(report Report) ([]byte, []string, error) {
	if m.cfg.From == "" || m.cfg.To == "" {
		return nil, nil, errors.New("sender or recipient email is not set")
	}

	recipients := []string{m.cfg.To}
	cc := ""
	if report.HasFailures && m.cfg.Cc != "" {
		cc = m.cfg.Cc
		recipients = append(recipients, cc)
	}

	var body bytes.Buffer
	parts := multipart.NewWriter(&body)
	if err := writePart(parts, "text/plain; charset=utf-8", report.Text); err != nil {
		return nil, nil, err
	}
	if err := writePart(parts, "text/html; charset=utf-8", report.HTML); err != nil {
		return nil, nil, err
	}
	if err := parts.Close(); err != nil {
		return nil, nil, fmt.Errorf("close multipart: %w", err)
	}

	var msg bytes.Buffer
	header := func(key, value string) {
		msg.WriteString(key + ": " + value + "\r\n")
	}
	header("From", m.cfg.From)
	header("To", m.cfg.To)
	if cc != "" {
		header("Cc", cc)
	}
	header("Subject", mime.QEncoding.Encode("utf-8", Subject))
	header("MIME-Version", "1.0")
	header("Content-Type", "multipart/alternative; boundary="+parts.Boundary())
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())

	return msg.Bytes(), recipients, nil
}

func writePart(w *multipart.Writer, contentType, content string) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return fmt.Errorf("create part: %w", err)
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := io.Copy(qp, strings.NewReader(content)); err != nil {
		return fmt.Errorf("write part: %w", err)
	}
	return qp.Close()
}
