// Package ratelimit meters requests per API key with a fixed window that
// opens on the first request after the previous window closed.
//
// The window is not aligned to wall-clock boundaries, so a client can burst
// up to twice its limit across the edge of two windows. That approximation
// keeps per-key state at one timestamp and one counter.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/keygate/keygate/internal/model"
)

// Decision is the outcome of one CheckAndConsume call.
type Decision struct {
	Admitted  bool
	Unlimited bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// RetryAfter returns the whole seconds until the window resets, never less
// than one.
func (d Decision) RetryAfter(now time.Time) int64 {
	secs := int64(math.Ceil(d.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter decides whether a key may make one more request and, if so,
// consumes a slot. Implementations must be atomic per key: two concurrent
// calls can never both take the last slot.
type Limiter interface {
	CheckAndConsume(ctx context.Context, key *model.APIKey, now time.Time) (Decision, error)
	// Forget drops any window held for the key, e.g. after a quota edit or
	// deletion.
	Forget(ctx context.Context, keyID string) error
}

func unlimited() Decision {
	return Decision{Admitted: true, Unlimited: true}
}
