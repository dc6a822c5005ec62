package server

import (
	"time"

	"github.com/benbjohnson/clock"
)

// rateLimiter is a sliding-window limiter keyed by nickname. Each key keeps
// at most limit timestamps; the window moves with the clock instead of
// resetting on fixed boundaries. It is owned by the Hub goroutine.
type rateLimiter struct {
	clock   clock.Clock
	limit   int
	window  time.Duration
	windows map[string][]time.Time
}

func newRateLimiter(clk clock.Clock, cfg RateLimitConfig) *rateLimiter {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}

	return &rateLimiter{
		clock:   clk,
		limit:   cfg.MaxMessages,
		window:  cfg.Window,
		windows: make(map[string][]time.Time),
	}
}

// admit prunes timestamps that left the window, then records now unless the
// remaining count has already reached the limit.
func (rl *rateLimiter) admit(key string) bool {
	now := rl.clock.Now()
	stamps := rl.windows[key]

	kept := stamps[:0]
	for _, ts := range stamps {
		if now.Sub(ts) < rl.window {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rl.limit {
		rl.windows[key] = kept
		return false
	}

	rl.windows[key] = append(kept, now)
	return true
}

// forget drops all state for key.
func (rl *rateLimiter) forget(key string) {
	delete(rl.windows, key)
}

func (rl *rateLimiter) tracked() int { return len(rl.windows) }
