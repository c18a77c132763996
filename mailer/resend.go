// Package mailer sends HTML email through the Resend HTTP API.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"merlodigital/site/breaker"
)

// ErrNotConfigured is returned when no API key or recipient is set.
var ErrNotConfigured = errors.New("mailer: api key or recipient not configured")

const defaultEndpoint = "https://api.resend.com/emails"

// Message is one outbound email.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// ResendMailer posts messages to the Resend API.
type ResendMailer struct {
	cl       *http.Client
	endpoint string
	apiKey   string
	cb       *gobreaker.CircuitBreaker[struct{}]
}

// NewResendMailer returns a mailer for apiKey. An empty endpoint uses the
// public Resend API.
func NewResendMailer(endpoint, apiKey string, timeout time.Duration) *ResendMailer {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ResendMailer{
		cl:       &http.Client{Timeout: timeout},
		endpoint: endpoint,
		apiKey:   apiKey,
		cb:       breaker.New[struct{}]("resend", breaker.Settings{FailureThreshold: 3}),
	}
}

func (m *ResendMailer) Send(ctx context.Context, msg Message) error {
	if m.apiKey == "" || len(msg.To) == 0 {
		return ErrNotConfigured
	}
	_, err := m.cb.Execute(func() (struct{}, error) {
		return struct{}{}, m.send(ctx, msg)
	})
	return err
}

func (m *ResendMailer) send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.cl.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("resend: non-2xx response (%d): %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
