package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	}
	return false
}

// retrier retries transient failures with exponential backoff and opens a
// circuit after threshold consecutive transient failures.
type retrier struct {
	maxRetries int
	backoff    time.Duration
	threshold  int
	cooldown   time.Duration
	now        func() time.Time

	mu       sync.Mutex
	failures int
	lastFail time.Time
}

func newRetrier(maxRetries int, backoff time.Duration, threshold int) *retrier {
	return &retrier{
		maxRetries: maxRetries,
		backoff:    backoff,
		threshold:  threshold,
		cooldown:   30 * time.Second,
		now:        time.Now,
	}
}

func (r *retrier) do(ctx context.Context, name string, op func() error) error {
	if r.open() {
		return fmt.Errorf("%s: circuit breaker open", name)
	}

	backoff := r.backoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			r.reset()
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}

		r.recordFailure()
		if attempt >= r.maxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, r.maxRetries, err)
		}
		if r.open() {
			return fmt.Errorf("%s: circuit breaker open: %w", name, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (r *retrier) recordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	r.lastFail = r.now()
}

func (r *retrier) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
}

func (r *retrier) open() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.threshold <= 0 || r.failures < r.threshold {
		return false
	}
	if r.now().Sub(r.lastFail) > r.cooldown {
		r.failures = 0
		return false
	}
	return true
}
