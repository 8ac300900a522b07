package dropbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Default API hosts. The content host serves file bytes; everything else
// goes through the RPC host.
const (
	DefaultAPIURL     = "https://api.dropboxapi.com/2"
	DefaultContentURL = "https://content.dropboxapi.com/2"
)

const userAgent = "dropbox-backup/0.1"

// maxErrorBody bounds how much of an error response body is kept for the
// error message.
const maxErrorBody = 4096

// RetryPolicy controls the retry loop for one logical API operation.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	Delay       time.Duration // initial backoff delay
	Backoff     float64       // delay multiplier after each failed attempt
	MaxDelay    time.Duration // backoff ceiling
}

// DefaultRetryPolicy matches the defaults used for listing and download calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		Delay:       2 * time.Second,
		Backoff:     2.0,
		MaxDelay:    60 * time.Second,
	}
}

// jitterFraction is the ±fraction applied to computed backoff delays.
// Server-supplied Retry-After hints are honored exactly, without jitter.
const jitterFraction = 0.25

// Limiter admits remote operations. Defined at the consumer per Go
// convention "accept interfaces, return structs"; the mirror package
// provides the real implementation (concurrency cap + pacing).
type Limiter interface {
	// Do runs op once the limiter admits it. op's error is returned as-is.
	Do(ctx context.Context, op func() error) error
}

// Client is an HTTP client for the Dropbox v2 API. It routes every attempt
// through the Limiter and wraps calls with retry, exponential backoff,
// Retry-After handling, and credential refresh on auth failure.
type Client struct {
	apiURL     string
	contentURL string
	httpClient *http.Client
	creds      *Credentials
	limiter    Limiter
	retry      RetryPolicy
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURLs overrides the API and content hosts. Used by tests to point
// the client at local fake servers.
func WithBaseURLs(apiURL, contentURL string) Option {
	return func(c *Client) {
		c.apiURL = apiURL
		c.contentURL = contentURL
	}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient creates a Dropbox API client. limiter may be nil, in which case
// requests are not paced (tests).
func NewClient(creds *Credentials, httpClient *http.Client, limiter Limiter, logger *slog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		apiURL:     DefaultAPIURL,
		contentURL: DefaultContentURL,
		httpClient: httpClient,
		creds:      creds,
		limiter:    limiter,
		retry:      DefaultRetryPolicy(),
		logger:     logger,
		sleepFunc:  timeSleep,
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// call executes one logical API operation with the full resilience stack.
// build constructs a fresh request for each attempt (bodies are single-use);
// handle consumes a 2xx response, including any body streaming, so the
// limiter slot covers the whole transfer. Non-2xx responses are classified
// before handle is called.
func (c *Client) call(ctx context.Context, name string, build func() (*http.Request, error), handle func(*http.Response) error) error {
	delay := c.retry.Delay

	for attempt := 1; ; attempt++ {
		var tokenUsed string

		attemptFn := func() error {
			req, err := build()
			if err != nil {
				return fmt.Errorf("dropbox: building %s request: %w", name, err)
			}

			tokenUsed = c.creds.AccessToken()
			req.Header.Set("Authorization", "Bearer "+tokenUsed)
			req.Header.Set("User-Agent", userAgent)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("dropbox: %s: %w", name, err)
			}
			defer resp.Body.Close()

			if apiErr := c.responseError(resp); apiErr != nil {
				return apiErr
			}

			return handle(resp)
		}

		var err error
		if c.limiter != nil {
			err = c.limiter.Do(ctx, attemptFn)
		} else {
			err = attemptFn()
		}

		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("dropbox: %s canceled: %w", name, ctx.Err())
		}

		decision := c.classifyForRetry(ctx, name, err, attempt, tokenUsed, delay)
		if !decision.retry {
			if decision.failErr != nil {
				return decision.failErr
			}

			return err
		}

		wait, grow := decision.wait, decision.grow

		if wait > 0 {
			c.logger.Info("retrying",
				slog.String("op", name),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", c.retry.MaxAttempts),
				slog.Duration("wait", wait),
			)

			if sleepErr := c.sleepFunc(ctx, wait); sleepErr != nil {
				return fmt.Errorf("dropbox: %s canceled: %w", name, sleepErr)
			}
		}

		if grow {
			delay = c.nextDelay(delay)
		}
	}
}

// retryDecision is the outcome of classifying one failed attempt.
// failErr, when set, replaces the attempt error on a non-retry exit
// (used to surface a fatal refresh failure instead of the 401 it followed).
type retryDecision struct {
	retry   bool
	wait    time.Duration
	grow    bool
	failErr error
}

// classifyForRetry decides whether the failed attempt should be retried,
// how long to wait first, and whether the backoff delay should grow.
// Auth failures trigger a credential refresh and retry immediately without
// consuming a backoff step; a refresh failure is fatal and never retried.
func (c *Client) classifyForRetry(ctx context.Context, name string, err error, attempt int, tokenUsed string, delay time.Duration) retryDecision {
	if attempt >= c.retry.MaxAttempts {
		c.logger.Error("retries exhausted",
			slog.String("op", name),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)

		return retryDecision{}
	}

	apiErr, ok := asAPIError(err)
	if !ok {
		// Network-level failure: retry with backoff.
		c.logger.Warn("request failed, will retry",
			slog.String("op", name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		return retryDecision{retry: true, wait: delay, grow: true}
	}

	switch {
	case apiErr.StatusCode == http.StatusUnauthorized:
		c.logger.Warn("access token rejected, refreshing",
			slog.String("op", name),
			slog.Int("attempt", attempt),
		)

		if refreshErr := c.creds.Refresh(ctx, tokenUsed); refreshErr != nil {
			c.logger.Error("credential refresh failed, aborting",
				slog.String("error", refreshErr.Error()),
			)

			return retryDecision{failErr: refreshErr}
		}

		return retryDecision{retry: true}

	case apiErr.StatusCode == http.StatusTooManyRequests:
		if apiErr.RetryAfter > 0 {
			c.logger.Warn("rate limited, honoring Retry-After",
				slog.String("op", name),
				slog.Duration("retry_after", apiErr.RetryAfter),
			)

			return retryDecision{retry: true, wait: apiErr.RetryAfter}
		}

		c.logger.Warn("rate limited, backing off",
			slog.String("op", name),
			slog.Duration("backoff", delay),
		)

		return retryDecision{retry: true, wait: delay, grow: true}

	case isRetryable(apiErr.StatusCode):
		c.logger.Warn("server error, will retry",
			slog.String("op", name),
			slog.Int("status", apiErr.StatusCode),
			slog.Int("attempt", attempt),
		)

		return retryDecision{retry: true, wait: delay, grow: true}

	default:
		// 403, 409, 400, 404: retrying cannot help.
		return retryDecision{}
	}
}

// responseError reads and classifies a non-2xx response. Returns nil for 2xx.
func (c *Client) responseError(resp *http.Response) *APIError {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		body = []byte("(failed to read response body)")
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(body),
		Err:        classifyStatus(resp.StatusCode),
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}

	return apiErr
}

// parseRetryAfter parses a Retry-After header given in seconds.
// Returns 0 for absent or malformed values.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}

	seconds, err := strconv.Atoi(v)
	if err != nil || seconds <= 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}

// nextDelay grows the backoff delay by the configured multiplier, capped,
// with ±25% jitter.
func (c *Client) nextDelay(delay time.Duration) time.Duration {
	next := float64(delay) * c.retry.Backoff
	if next > float64(c.retry.MaxDelay) {
		next = float64(c.retry.MaxDelay)
	}

	jitter := next * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand

	return time.Duration(next + jitter)
}

// asAPIError unwraps err to an *APIError if one is in the chain.
func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}

	return nil, false
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
