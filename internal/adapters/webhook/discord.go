package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"chainintel/internal/domain/notification"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
	"chainintel/pkg/retry"
)

// Discord message content limit
const maxContentLength = 2000

// statusError carries the HTTP status so retries can skip client errors
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned %d: %s", e.code, e.body)
}

// Sender posts alerts to Discord-compatible chat webhooks
type Sender struct {
	client   *http.Client
	username string
	retry    retry.Config
	log      *logger.Logger
}

var _ notification.Sender = (*Sender)(nil)

// Config for the webhook sender
type Config struct {
	Timeout  time.Duration
	Username string
}

// NewSender creates a webhook sender
func NewSender(cfg Config, log *logger.Logger) *Sender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	rc := retry.DefaultConfig()
	rc.MaxAttempts = 3
	rc.Retryable = func(err error) bool {
		var se *statusError
		if errors.As(err, &se) {
			return se.code == http.StatusTooManyRequests || se.code >= 500
		}
		return retry.IsTransient(err)
	}

	return &Sender{
		client:   &http.Client{Timeout: cfg.Timeout},
		username: cfg.Username,
		retry:    rc,
		log:      log.With("component", "discord_webhook"),
	}
}

// Channel implements notification.Sender
func (s *Sender) Channel() notification.Channel {
	return notification.ChannelDiscord
}

// Send posts msg to the webhook url in target
func (s *Sender) Send(ctx context.Context, target string, msg notification.Message) error {
	content := msg.Body
	if len(content) > maxContentLength {
		content = content[:maxContentLength-3] + "..."
	}

	payload, err := json.Marshal(map[string]string{
		"username": s.username,
		"content":  content,
	})
	if err != nil {
		return err
	}

	return retry.Do(ctx, s.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			s.log.Warnw("Webhook rejected message",
				"status", resp.StatusCode,
				"trace_id", msg.TraceID,
			)
			return &statusError{code: resp.StatusCode, body: string(body)}
		}
		return nil
	})
}
