package botfleet

import (
	"log/slog"

	"github.com/ashita-ai/botfleet/internal/runtime"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port            *int
	dockerHost      string
	logger          *slog.Logger
	version         string
	eventHooks      []EventHook
	routeRegistrars []RouteRegistrar
	middlewares     []Middleware

	// runtime replaces the Docker client. Tests only.
	runtime runtime.Client
}

// WithPort overrides the TCP port from config (BOTFLEET_PORT env var).
// Port 0 picks a free port.
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = &port }
}

// WithDockerHost overrides the engine address from config (BOTFLEET_DOCKER_HOST env var).
func WithDockerHost(host string) Option {
	return func(o *resolvedOptions) { o.dockerHost = host }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEventHook registers a hook that receives every worker status event.
// Multiple hooks may be registered; each has its own delivery queue.
func WithEventHook(hook EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, hook) }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Multiple registrars may be registered; all are called in registration order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, fn) }
}

// WithMiddleware registers an outermost HTTP middleware.
// Multiple middlewares may be registered. Applied in registration order:
// the first-registered middleware is outermost (called first by every request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}

// withRuntime replaces the Docker engine client.
func withRuntime(rt runtime.Client) Option {
	return func(o *resolvedOptions) { o.runtime = rt }
}
