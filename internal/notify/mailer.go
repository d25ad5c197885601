package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ErrNoRecipient reports a message with nowhere to go.
var ErrNoRecipient = errors.New("no recipient address")

// Mailer sends transactional email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// HTTPMailer delivers mail through an HTTP mail-provider API.
type HTTPMailer struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
}

// NewHTTPMailer creates a mailer posting to the provider endpoint.
func NewHTTPMailer(endpoint, apiKey, from string) *HTTPMailer {
	return &HTTPMailer{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *HTTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return ErrNoRecipient
	}

	payload, err := json.Marshal(map[string]string{
		"from":    m.from,
		"to":      to,
		"subject": subject,
		"text":    body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail provider returned status %d", resp.StatusCode)
	}
	return nil
}

var _ Mailer = (*HTTPMailer)(nil)

// LogMailer logs messages instead of sending them. Used in development
// and whenever no provider is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a log-only mailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, to, subject, _ string) error {
	if to == "" {
		return ErrNoRecipient
	}
	m.logger.Info("mail (not sent, log mailer)", "to", to, "subject", subject)
	return nil
}

var _ Mailer = (*LogMailer)(nil)
