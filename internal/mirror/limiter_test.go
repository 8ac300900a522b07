package mirror

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLimiter_CapsConcurrency(t *testing.T) {
	const (
		maxInFlight = 3
		tasks       = 20
		holdFor     = 5 * time.Millisecond
	)

	limiter := NewRequestLimiter(maxInFlight, -1, nil) // pacing off, cap only

	var inFlight, peak atomic.Int32

	var wg sync.WaitGroup

	for range tasks {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := limiter.Do(context.Background(), func() error {
				cur := inFlight.Add(1)
				defer inFlight.Add(-1)

				for {
					old := peak.Load()
					if cur <= old || peak.CompareAndSwap(old, cur) {
						break
					}
				}

				time.Sleep(holdFor)

				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(maxInFlight), "in-flight operations must never exceed the cap")
	assert.Zero(t, inFlight.Load())
}

func TestRequestLimiter_ReleasesSlotOnError(t *testing.T) {
	limiter := NewRequestLimiter(1, -1, nil)

	wantErr := errors.New("boom")

	err := limiter.Do(context.Background(), func() error { return wantErr })
	require.ErrorIs(t, err, wantErr, "op errors pass through unwrapped")

	// The slot must have been released; a second op proceeds immediately.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, limiter.Do(ctx, func() error { return nil }))
}

func TestRequestLimiter_PacesOperationStarts(t *testing.T) {
	const delay = 20 * time.Millisecond

	limiter := NewRequestLimiter(10, delay, nil)

	var mu sync.Mutex

	var starts []time.Time

	var wg sync.WaitGroup

	for range 3 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = limiter.Do(context.Background(), func() error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()

				return nil
			})
		}()
	}

	wg.Wait()

	require.Len(t, starts, 3)

	// Any two starts must be at least the pacing delay apart, in either order.
	for i := range starts {
		for j := range starts {
			if i < j {
				gap := starts[j].Sub(starts[i])
				if gap < 0 {
					gap = -gap
				}

				assert.GreaterOrEqual(t, gap, delay-5*time.Millisecond,
					"operation starts must be spaced by the pacing delay")
			}
		}
	}
}

func TestRequestLimiter_CancelWhileWaitingForSlot(t *testing.T) {
	limiter := NewRequestLimiter(1, -1, nil)

	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = limiter.Do(context.Background(), func() error {
			close(started)
			<-release

			return nil
		})
	}()

	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := limiter.Do(ctx, func() error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
}

func TestNewRequestLimiter_Defaults(t *testing.T) {
	limiter := NewRequestLimiter(0, 0, nil)
	require.NotNil(t, limiter)

	// Zero config falls back to the defaults rather than a zero-slot limiter.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, limiter.Do(ctx, func() error { return nil }))
}
