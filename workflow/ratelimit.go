package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// rateWindow is the stored fixed-window state for one key.
type rateWindow struct {
	Count       int   `json:"count"`
	WindowStart int64 `json:"windowStart"` // Unix millis
}

// RateLimitResult reports the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a fixed-window call counter keyed by operation+actor,
// persisted in the generic key/value table. The read-then-write sequence
// relies on the store serializing operations on the same key.
type RateLimiter struct {
	store Store
	now   func() time.Time
}

// NewRateLimiter creates a rate limiter over the given store.
func NewRateLimiter(store Store) *RateLimiter {
	return &RateLimiter{store: store, now: time.Now}
}

// RateLimitKey builds the composite KV key for an operation and actor.
func RateLimitKey(operation string, actor Actor) string {
	return fmt.Sprintf("ratelimit:%s:%s", operation, actor.Ref())
}

// Check applies the fixed-window rule for key: initialize on first call,
// reset after the window elapses, otherwise count against maxCalls.
func (r *RateLimiter) Check(key string, maxCalls int, window time.Duration) (RateLimitResult, error) {
	now := r.now()

	raw, found, err := r.store.GetKV(key)
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to read rate window: %w", err)
	}

	var win rateWindow
	if found {
		if err := json.Unmarshal([]byte(raw), &win); err != nil {
			// Corrupt window state resets the window.
			found = false
		}
	}

	windowStart := time.UnixMilli(win.WindowStart)
	if !found || now.Sub(windowStart) > window {
		win = rateWindow{Count: 1, WindowStart: now.UnixMilli()}
		if err := r.save(key, win); err != nil {
			return RateLimitResult{}, err
		}
		return RateLimitResult{Allowed: true, Remaining: maxCalls - 1, ResetAt: now.Add(window)}, nil
	}

	resetAt := windowStart.Add(window)
	if win.Count >= maxCalls {
		return RateLimitResult{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	win.Count++
	if err := r.save(key, win); err != nil {
		return RateLimitResult{}, err
	}
	return RateLimitResult{Allowed: true, Remaining: maxCalls - win.Count, ResetAt: resetAt}, nil
}

// Enforce is Check but returns a RateLimitError on denial, for
// interactive call sites.
func (r *RateLimiter) Enforce(key string, maxCalls int, window time.Duration) error {
	result, err := r.Check(key, maxCalls, window)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return &RateLimitError{Key: key, MaxCalls: maxCalls, ResetAt: result.ResetAt}
	}
	return nil
}

// CheckSilent returns only whether the call is allowed, swallowing store
// errors as "allowed" so non-critical paths (heartbeats) never fail on
// limiter trouble.
func (r *RateLimiter) CheckSilent(key string, maxCalls int, window time.Duration) bool {
	result, err := r.Check(key, maxCalls, window)
	if err != nil {
		return true
	}
	return result.Allowed
}

func (r *RateLimiter) save(key string, win rateWindow) error {
	data, err := json.Marshal(win)
	if err != nil {
		return fmt.Errorf("failed to encode rate window: %w", err)
	}
	if err := r.store.SetKV(key, string(data)); err != nil {
		return fmt.Errorf("failed to store rate window: %w", err)
	}
	return nil
}
