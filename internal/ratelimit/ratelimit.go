// Package ratelimit bounds checkout-creation attempts per client identity
// over fixed windows. The window store is injected so correctness does not
// depend on process topology: single instances use the in-memory store,
// multi-instance deployments share windows through Redis.
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Store counts one hit against the key's current fixed window and returns the
// window's running total. A fresh window starts at 1.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter applies fixed-window semantics: up to limit hits per window, reset
// when the window expires. Bursts at window boundaries are an accepted
// tradeoff for simplicity.
type Limiter struct {
	store  Store
	limit  int64
	window time.Duration
}

func New(store Store, limit int64, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

// Allow reports whether the client may create another checkout. The limiter
// fails open: when the store is unreachable a legitimate checkout is worth
// more than the limit, so the error is logged and the request passes.
func (l *Limiter) Allow(ctx context.Context, clientKey string) bool {
	count, err := l.store.Incr(ctx, clientKey, l.window)
	if err != nil {
		slog.Warn("rate limit store unavailable, failing open", "key", clientKey, "error", err)

		return true
	}

	return count <= l.limit
}
