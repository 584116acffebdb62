// Package httpx provides the shared retrying HTTP client used by the
// embedding backend, vector store, and scrape adapters.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/axonhq/axon/internal/logging"
)

var (
	// ErrBackendUnavailable indicates a retryable HTTP status that survived
	// the retry budget, carrying the final status code and text.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrTransport indicates a network-level fault (reset, refused, timeout,
	// DNS failure, aborted request).
	ErrTransport = errors.New("transport error")
)

// retryableStatuses are the only HTTP statuses worth retrying. Other 4xx are
// final.
var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// StatusError carries a non-2xx HTTP status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, e.Status)
}

// Retryable reports whether the status is in the retryable set.
func (e *StatusError) Retryable() bool {
	return retryableStatuses[e.Code]
}

// Config holds the retry discipline for one client.
type Config struct {
	// TimeoutPerAttempt bounds each individual request.
	TimeoutPerAttempt time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the initial backoff interval.
	BaseDelay time.Duration

	// MaxDelay caps the backoff interval.
	MaxDelay time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TimeoutPerAttempt == 0 {
		c.TimeoutPerAttempt = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 60 * time.Second
	}
}

// Client is a JSON-over-HTTP client with bounded exponential backoff and
// ±25% jitter. Safe for concurrent use.
type Client struct {
	http   *http.Client
	cfg    Config
	logger *logging.Logger
}

// New creates a client. logger may be nil.
func New(cfg Config, logger *logging.Logger) *Client {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		http:   &http.Client{},
		cfg:    cfg,
		logger: logger,
	}
}

// DoJSON performs an HTTP request with a JSON body (in may be nil) and
// decodes the JSON response into out (out may be nil). Retryable statuses
// and transport faults are retried within the budget; other statuses are
// returned as *StatusError without retry.
func (c *Client) DoJSON(ctx context.Context, method, url string, header http.Header, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.BaseDelay
	policy.MaxInterval = c.cfg.MaxDelay
	policy.RandomizationFactor = 0.25
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	attempts := uint64(c.cfg.MaxRetries)
	wrapped := backoff.WithContext(backoff.WithMaxRetries(policy, attempts), ctx)

	operation := func() error {
		err := c.attempt(ctx, method, url, header, body, out)
		if err == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			if statusErr.Retryable() {
				c.logger.Warn("retryable status",
					logging.URL("url", url),
					zap.Int("status", statusErr.Code),
				)
				return err
			}
			return backoff.Permanent(err)
		}
		if isTransportError(err) {
			c.logger.Warn("transport fault", logging.URL("url", url))
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, wrapped)
	if err == nil {
		return nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Retryable() {
		return fmt.Errorf("%w: %d %s", ErrBackendUnavailable, statusErr.Code, statusErr.Status)
	}
	if isTransportError(err) {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return err
}

// attempt performs a single request with its own timeout.
func (c *Client) attempt(ctx context.Context, method, url string, header http.Header, body []byte, out any) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.TimeoutPerAttempt)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Error bodies are not trusted for control flow.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// isTransportError classifies network-level faults: connection reset,
// refused, timed out, DNS not found, request aborted.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	for _, needle := range []string{"connection reset", "connection refused", "timed out", "no such host", "request canceled", "EOF"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
