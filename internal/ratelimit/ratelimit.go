// Package ratelimit bounds how often a user may hit an externally costly
// action (Twitter scraping). This is a fixed-window counter, distinct from
// credit accounting: bursts up to the maximum are allowed at window start,
// then fully blocked until expiry. That burst-then-silence shape is an
// accepted tradeoff for simplicity over fairness.
package ratelimit

import (
	"context"
	"time"
)

// Defaults for the scrape limiter.
const (
	DefaultMaxRequests = 5
	DefaultWindow      = 10 * time.Minute
)

// Decision is the outcome of one Allow call. ResetTime is only meaningful
// when Allowed is false: it is the moment the current window expires.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// Gate is the limiter contract. Two implementations exist: an in-process
// map (single instance) and a Redis-backed counter (multi-instance).
type Gate interface {
	// Allow evaluates and mutates the user's window per the fixed-window
	// state machine. Infrastructure errors (e.g. Redis down) propagate; the
	// caller decides whether to fail open or closed.
	Allow(ctx context.Context, userID string) (Decision, error)

	// Remaining reports how many requests the user could still make in the
	// current (or a fresh) window without mutating state.
	Remaining(ctx context.Context, userID string) (int, error)
}
