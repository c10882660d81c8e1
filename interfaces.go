package botfleet

import (
	"context"
	"net/http"
)

// EventHook receives worker status events.
// Events are delivered in order from a per-hook queue; when a hook falls
// behind, new events are dropped for that hook rather than blocking the
// lifecycle operation that produced them. Failures are logged.
type EventHook interface {
	OnStatusChange(ctx context.Context, ev StatusEvent) error
}

// EventHookFunc adapts a function to EventHook.
type EventHookFunc func(ctx context.Context, ev StatusEvent) error

// OnStatusChange calls f.
func (f EventHookFunc) OnStatusChange(ctx context.Context, ev StatusEvent) error {
	return f(ctx, ev)
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Extra routes share the middleware chain and OTEL instrumentation with the
// built-in routes. It is called once during New().
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including /health.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
