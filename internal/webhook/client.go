package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelfit/internal/domain"
	"github.com/google/uuid"
)

const (
	HeaderSignature = "X-Pixelfit-Signature"
	HeaderTimestamp = "X-Pixelfit-Timestamp"
	HeaderEvent     = "X-Pixelfit-Event"
	HeaderDelivery  = "X-Pixelfit-Delivery"

	EventJobSucceeded = "job.succeeded"
	EventJobFailed    = "job.failed"

	userAgent = "pixelfit-webhook/1"
)

// ErrRejected marks a delivery the receiver refused with a non-retryable
// status.
var ErrRejected = errors.New("webhook rejected")

// JobEvent is the body delivered when a job reaches a terminal state.
type JobEvent struct {
	Event      string              `json:"event"`
	JobID      string              `json:"job_id"`
	Status     string              `json:"status"`
	Outputs    []domain.StepOutput `json:"outputs,omitempty"`
	Error      string              `json:"error,omitempty"`
	FinishedAt time.Time           `json:"finished_at"`
}

// EventFor picks the event name matching a terminal job status.
func EventFor(status string) string {
	if status == domain.JobStatusSucceeded {
		return EventJobSucceeded
	}
	return EventJobFailed
}

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}

	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    max(cfg.MaxAttempts, 1),
		initialBackoff: initial,
		maxBackoff:     max(cfg.MaxBackoff, initial),
		now:            time.Now,
	}
}

// Deliver posts event to endpoint, retrying transport errors, 5xx, 408 and
// 429 with exponential backoff. Every attempt carries the same delivery id
// and signature so receivers can deduplicate. An empty endpoint is a no-op.
func (c *Client) Deliver(ctx context.Context, endpoint string, event JobEvent) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	if event.Event == "" {
		event.Event = EventFor(event.Status)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("User-Agent", userAgent)
	headers.Set(HeaderEvent, event.Event)
	headers.Set(HeaderDelivery, uuid.NewString())
	timestamp := strconv.FormatInt(c.now().UTC().Unix(), 10)
	headers.Set(HeaderTimestamp, timestamp)
	headers.Set(HeaderSignature, Sign(c.signingSecret, timestamp, body))

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		wait, err := c.attempt(ctx, endpoint, headers, body)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRejected) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		if attempt == c.maxAttempts {
			break
		}

		if wait <= 0 {
			wait = backoff
			backoff = min(backoff*2, c.maxBackoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(wait, c.maxBackoff)):
		}
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// attempt sends one request. The returned duration is the receiver's
// Retry-After hint, if any.
func (c *Client) attempt(ctx context.Context, endpoint string, headers http.Header, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", ErrRejected, err)
	}
	req.Header = headers.Clone()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return 0, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return retryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return 0, fmt.Errorf("%w: status=%d", ErrRejected, resp.StatusCode)
	default:
		return 0, fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	}
}

func retryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// Sign computes the signature header value for a delivery: an HMAC-SHA256
// over "<timestamp>.<body>".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the delivery, in constant time.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
