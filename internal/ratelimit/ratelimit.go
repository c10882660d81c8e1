// Package ratelimit throttles control-plane requests per client.
//
// Lifecycle operations are slow and hit the container engine, so a single
// client looping on start/stop can starve the daemon. The in-memory token
// bucket (MemoryLimiter) is enough for a single-host fleet; the Limiter
// interface is the contract for anything else.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. The key is opaque;
	// callers construct it (e.g. "ip:10.0.0.1"). A returned error signals
	// a limiter malfunction and callers fail open.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
