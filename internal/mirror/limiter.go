// Package mirror implements the traversal-and-transfer engine: it walks the
// remote folder tree, schedules bounded-concurrency downloads, and mirrors
// every reachable file under a local destination root.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter defaults.
const (
	DefaultMaxInFlight  = 30
	DefaultRequestDelay = 500 * time.Millisecond
)

// RequestLimiter bounds the number of concurrently executing remote
// operations and paces request initiation with a minimum inter-request
// delay. A single limiter is shared by every listing and download call.
type RequestLimiter struct {
	sem    *semaphore.Weighted
	pace   *rate.Limiter
	logger *slog.Logger
}

// NewRequestLimiter creates a limiter admitting at most maxInFlight
// concurrent operations, with at least delay between operation starts.
// Zero arguments fall back to the defaults; a negative delay disables pacing.
func NewRequestLimiter(maxInFlight int, delay time.Duration, logger *slog.Logger) *RequestLimiter {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}

	if delay == 0 {
		delay = DefaultRequestDelay
	}

	pace := rate.NewLimiter(rate.Inf, 1)
	if delay > 0 {
		pace = rate.NewLimiter(rate.Every(delay), 1)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("request limiter created",
		slog.Int("max_in_flight", maxInFlight),
		slog.Duration("request_delay", delay),
	)

	return &RequestLimiter{
		sem:    semaphore.NewWeighted(int64(maxInFlight)),
		pace:   pace,
		logger: logger,
	}
}

// Do admits op under the concurrency cap, waits out the pacing delay, and
// runs it. The slot is released exactly once on every exit path, including
// panics inside op and cancellation while waiting for pacing.
func (l *RequestLimiter) Do(ctx context.Context, op func() error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("mirror: acquiring request slot: %w", err)
	}
	defer l.sem.Release(1)

	// Pacing happens inside the slot: admission order is unspecified, but
	// no two operations start closer together than the configured delay.
	if err := l.pace.Wait(ctx); err != nil {
		return fmt.Errorf("mirror: pacing request: %w", err)
	}

	return op()
}
