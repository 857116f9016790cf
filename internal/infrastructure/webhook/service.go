package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/assetvault/custodyd/internal/core/ports"
)

const (
	defaultTimeout = 5 * time.Second
	userAgent      = "custodyd-webhook"
)

type Payload struct {
	Event     ports.Event `json:"event"`
	Data      any         `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type Option func(*service)

func WithTimeout(timeout time.Duration) Option {
	return func(s *service) {
		if timeout > 0 {
			s.httpClient.Timeout = timeout
		}
	}
}

type service struct {
	url        string
	httpClient *http.Client
}

func NewNotifier(url string, opts ...Option) (ports.Notifier, error) {
	if url == "" {
		return nil, fmt.Errorf("missing webhook url")
	}

	s := &service{
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) Notify(ctx context.Context, event ports.Event, data any) error {
	payload, err := json.Marshal(Payload{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	if err := s.send(ctx, payload); err != nil {
		return fmt.Errorf("failed to deliver %s webhook: %w", event, err)
	}
	return nil
}

// send posts the payload once, failed deliveries are dropped by the caller.
func (s *service) send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	// nolint
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sink replied with status %d", resp.StatusCode)
	}
	return nil
}
