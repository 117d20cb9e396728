package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
)

// window is the state for one key. Its mutex serializes every check for
// that key without touching other keys. A window removed from the map is
// marked dead under its mutex; a check that fetched it earlier must fetch
// again.
type window struct {
	mu       sync.Mutex
	start    time.Time
	duration time.Duration
	count    int64
	dead     bool
}

// MemoryLimiter keeps windows in process memory. It is exact for a single
// instance; multi-instance deployments should use RedisLimiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter creates an empty limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window)}
}

func (l *MemoryLimiter) window(id string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[id]
	if !ok {
		w = &window{}
		l.windows[id] = w
		metrics.RateLimitWindows.Set(float64(len(l.windows)))
	}
	return w
}

// lockWindow returns the live window for id with its mutex held.
func (l *MemoryLimiter) lockWindow(id string) *window {
	for {
		w := l.window(id)
		w.mu.Lock()
		if !w.dead {
			return w
		}
		w.mu.Unlock()
	}
}

// CheckAndConsume implements Limiter.
func (l *MemoryLimiter) CheckAndConsume(ctx context.Context, key *model.APIKey, now time.Time) (Decision, error) {
	policy := key.Quota
	if policy.IsUnlimited() {
		return unlimited(), nil
	}

	w := l.lockWindow(key.ID)
	defer w.mu.Unlock()

	if w.start.IsZero() || !now.Before(w.start.Add(policy.Window)) {
		w.start = now
		w.count = 0
	}
	w.duration = policy.Window
	resetAt := w.start.Add(policy.Window)

	if w.count < policy.Limit {
		w.count++
		return Decision{
			Admitted:  true,
			Limit:     policy.Limit,
			Remaining: policy.Limit - w.count,
			ResetAt:   resetAt,
		}, nil
	}
	return Decision{Limit: policy.Limit, ResetAt: resetAt}, nil
}

// Forget implements Limiter.
func (l *MemoryLimiter) Forget(ctx context.Context, keyID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.windows[keyID]; ok {
		w.mu.Lock()
		w.dead = true
		w.mu.Unlock()
		delete(l.windows, keyID)
	}
	metrics.RateLimitWindows.Set(float64(len(l.windows)))
	return nil
}

// Collect drops windows that have closed by now and returns how many were
// removed. A closed window would be reset on its next use anyway.
func (l *MemoryLimiter) Collect(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, w := range l.windows {
		w.mu.Lock()
		closed := !w.start.IsZero() && !now.Before(w.start.Add(w.duration))
		if closed {
			w.dead = true
		}
		w.mu.Unlock()
		if closed {
			delete(l.windows, id)
			removed++
		}
	}
	metrics.RateLimitWindows.Set(float64(len(l.windows)))
	return removed
}

// Len returns the number of tracked windows.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
