package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/metrics"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseSize caps response bodies (256MB). A full 10,000 record page with
	// narratives runs to tens of megabytes.
	DefaultMaxResponseSize = 256 * 1024 * 1024

	// DefaultMaxRetries is how many times a retryable GET is re-sent.
	DefaultMaxRetries = 3

	// DefaultBackoff is the backoff factor: waits are factor, 2*factor, 4*factor...
	DefaultBackoff = time.Second

	// MaxRetryAfter bounds how long a Retry-After header can make us wait.
	MaxRetryAfter = 2 * time.Minute
)

// Client wraps the HTTP client with logging, size limits and a retry policy for
// idempotent requests.
type Client struct {
	client *http.Client
	config Config
	logger ectologger.Logger

	// newTimer supplies the timer retries wait on; nil uses the system timer.
	newTimer func() backoff.Timer
}

// Config holds HTTP client configuration
type Config struct {
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	MaxResponseSize int64
	MaxRetries      int
	Backoff         time.Duration
}

// DefaultConfig returns default HTTP client configuration
func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
		MaxResponseSize: DefaultMaxResponseSize,
		MaxRetries:      DefaultMaxRetries,
		Backoff:         DefaultBackoff,
	}
}

// NewClient creates a new HTTP client
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = DefaultMaxResponseSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}

	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		MaxIdleConns:    cfg.MaxIdleConns,
		IdleConnTimeout: cfg.IdleConnTimeout,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		config:   cfg,
		logger:   logger,
		newTimer: func() backoff.Timer { return nil },
	}
}

// Response represents an HTTP response
type Response struct {
	StatusCode    int               `json:"status_code"`
	Headers       map[string]string `json:"headers"`
	Body          []byte            `json:"-"`
	ContentType   string            `json:"content_type"`
	ContentLength int64             `json:"content_length"`
	Duration      time.Duration     `json:"duration_ms"`
	Attempts      int               `json:"attempts"`
}

// StatusError is returned when a request ends with a non-2xx status, after retries.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Attempts   int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d after %d attempt(s)", e.Method, e.URL, e.StatusCode, e.Attempts)
}

// Do executes a single HTTP request and returns the response without retrying.
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	start := time.Now()

	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		metrics.RecordHTTPRequest(req.Method, "error", time.Since(start).Seconds())
		c.logger.WithContext(ctx).WithError(err).Errorf("HTTP request failed: %s %s", req.Method, req.URL.String())
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength > c.config.MaxResponseSize {
		return nil, fmt.Errorf("response too large: %d bytes (max %d)", resp.ContentLength, c.config.MaxResponseSize)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > c.config.MaxResponseSize {
		return nil, fmt.Errorf("response body too large: %d bytes (max %d)", len(body), c.config.MaxResponseSize)
	}

	duration := time.Since(start)
	metrics.RecordHTTPRequest(req.Method, strconv.Itoa(resp.StatusCode), duration.Seconds())

	headers := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	c.logger.WithContext(ctx).Debugf("HTTP %s %s -> %d (%s)", req.Method, req.URL.String(), resp.StatusCode, duration)

	return &Response{
		StatusCode:    resp.StatusCode,
		Headers:       headers,
		Body:          body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: int64(len(body)),
		Duration:      duration,
		Attempts:      1,
	}, nil
}

// Get performs a GET request, retrying transport errors and retryable statuses with
// exponential backoff. A non-2xx final status is returned as *StatusError.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "HTTPClient.Get")
	defer span.End()

	var (
		attempts int
		final    *Response
	)
	policy, after := c.retryPolicy(ctx)
	operation := func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.Do(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		resp.Attempts = attempts
		span.SetAttributes(
			attribute.Int("http.status_code", resp.StatusCode),
			attribute.Int("http.attempts", resp.Attempts),
		)

		if IsSuccessStatus(resp.StatusCode) {
			final = resp
			return nil
		}

		statusErr := &StatusError{
			Method:     http.MethodGet,
			URL:        url,
			StatusCode: resp.StatusCode,
			Attempts:   resp.Attempts,
			Body:       truncate(string(resp.Body), 512),
		}
		if !IsRetryableStatus(resp.StatusCode) {
			final = resp
			tracing.RecordError(span, statusErr, "non-retryable status")
			return backoff.Permanent(statusErr)
		}
		after.next = retryAfter(resp.Headers["Retry-After"])
		return statusErr
	}

	notify := func(err error, delay time.Duration) {
		c.logger.WithContext(ctx).Warnf("Retrying GET %s in %s (attempt %d/%d): %v", url, delay, attempts, c.config.MaxRetries, err)
	}

	err := backoff.RetryNotifyWithTimer(operation, policy, notify, c.newTimer())
	if err == nil {
		return final, nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && !IsRetryableStatus(statusErr.StatusCode) {
		return final, statusErr
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	tracing.RecordError(span, err, "retries exhausted")
	if statusErr != nil {
		return nil, statusErr
	}
	return nil, fmt.Errorf("GET %s failed after %d attempt(s): %w", url, attempts, err)
}

// SetTimeout sets a custom timeout for the client
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// retryPolicy doubles the wait from Config.Backoff on each retry and stops after
// Config.MaxRetries retries or when ctx is done.
func (c *Client) retryPolicy(ctx context.Context) (backoff.BackOff, *retryAfterBackOff) {
	exponential := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.config.Backoff),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(MaxRetryAfter),
		backoff.WithMaxElapsedTime(0),
	)
	after := &retryAfterBackOff{BackOff: exponential}
	return backoff.WithContext(backoff.WithMaxRetries(after, uint64(c.config.MaxRetries)), ctx), after
}

// retryAfterBackOff replaces the next wait with the server's Retry-After when one was sent.
type retryAfterBackOff struct {
	backoff.BackOff
	next time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	wait := b.BackOff.NextBackOff()
	if wait == backoff.Stop || b.next <= 0 {
		return wait
	}
	wait, b.next = b.next, 0
	return wait
}

func retryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > MaxRetryAfter {
		return MaxRetryAfter
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
