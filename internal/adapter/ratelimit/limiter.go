// Package ratelimit spaces outbound gazetteer requests. Public geocoding
// services allow roughly one request per second per client.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Limiter spaces calls so that consecutive starts are at least interval apart.
type Limiter struct {
	clock    clockwork.Clock
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// New creates a limiter. A nil clock uses the real clock.
func New(clock clockwork.Clock, interval time.Duration) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{clock: clock, interval: interval}
}

// Wait blocks until the next call may start and returns how long it waited.
// It returns ctx.Err() if the context ends first; the slot is not consumed.
func (l *Limiter) Wait(ctx context.Context) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var waited time.Duration
	if !l.last.IsZero() {
		if wait := l.interval - l.clock.Since(l.last); wait > 0 {
			timer := l.clock.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-timer.Chan():
			}
			waited = wait
		}
	}
	l.last = l.clock.Now()
	return waited, nil
}
