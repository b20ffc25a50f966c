package gateway

import (
	"sync"
	"time"

	"mcphub/pkg/logging"
)

// RateLimiter applies a per-caller sliding window to dispatcher calls.
// Attempts are tracked per identity, not globally, and stale attempts
// age out of the window on each check.
type RateLimiter struct {
	mu sync.Mutex

	maxCalls int
	window   time.Duration

	attempts map[string][]time.Time
}

// NewRateLimiter creates a limiter allowing maxCalls per window for each
// caller key.
func NewRateLimiter(maxCalls int, window time.Duration) *RateLimiter {
	if maxCalls <= 0 {
		maxCalls = 120
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		maxCalls: maxCalls,
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

// Allow records the call when the caller is under the limit. When rate
// limited the call is not recorded, so a throttled caller does not push
// its own window further out.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)

	var recent []time.Time
	for _, t := range rl.attempts[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.maxCalls {
		logging.Warn("RateLimiter", "Rate limit exceeded for caller %s (%d calls in %v)", key, len(recent), rl.window)
		rl.attempts[key] = recent
		return false
	}

	recent = append(recent, now)
	rl.attempts[key] = recent
	return true
}

// Cleanup drops callers whose entire window has aged out. Intended to be
// run periodically so the map does not grow with every caller ever seen.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	windowStart := time.Now().Add(-rl.window)
	for key, times := range rl.attempts {
		live := false
		for _, t := range times {
			if t.After(windowStart) {
				live = true
				break
			}
		}
		if !live {
			delete(rl.attempts, key)
		}
	}
}
