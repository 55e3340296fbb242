package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryGate is a process-local fixed-window limiter. Expired windows are
// evicted lazily by scanning all tracked users on every Allow call, which
// is fine for small active-user counts.
type MemoryGate struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	expiresAt time.Time
	count     int
}

func NewMemoryGate(maxRequests int, windowDuration time.Duration) *MemoryGate {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if windowDuration <= 0 {
		windowDuration = DefaultWindow
	}
	return &MemoryGate{
		maxRequests: maxRequests,
		window:      windowDuration,
		now:         time.Now,
		windows:     make(map[string]*window),
	}
}

func (g *MemoryGate) Allow(ctx context.Context, userID string) (Decision, error) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.evictExpired(now)

	entry, ok := g.windows[userID]
	if !ok {
		g.windows[userID] = &window{expiresAt: now.Add(g.window), count: 1}
		return Decision{Allowed: true, Remaining: g.maxRequests - 1}, nil
	}

	if entry.count >= g.maxRequests {
		return Decision{Allowed: false, Remaining: 0, ResetTime: entry.expiresAt}, nil
	}

	entry.count++
	return Decision{Allowed: true, Remaining: g.maxRequests - entry.count}, nil
}

func (g *MemoryGate) Remaining(ctx context.Context, userID string) (int, error) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.windows[userID]
	if !ok || !now.Before(entry.expiresAt) {
		return g.maxRequests, nil
	}
	remaining := g.maxRequests - entry.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// evictExpired drops every expired window. Caller holds the lock.
func (g *MemoryGate) evictExpired(now time.Time) {
	for userID, entry := range g.windows {
		if !now.Before(entry.expiresAt) {
			delete(g.windows, userID)
		}
	}
}
