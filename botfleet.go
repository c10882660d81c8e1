// Package botfleet is the public API for embedding the botfleet control plane.
//
// botfleet runs chat-bot workers (Discord, Telegram, Slack or custom) as
// containers, keeps an in-memory view of them reconciled against the
// container engine, and serves an HTTP and MCP API to manage them:
//
//	app, err := botfleet.New(
//	    botfleet.WithVersion(version),
//	    botfleet.WithLogger(logger),
//	    botfleet.WithEventHook(myHook),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: botfleet (root) imports
// internal/*, but internal/* never imports botfleet (root). Public types are
// standalone; conversion helpers live in this package.
package botfleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/botfleet/internal/config"
	"github.com/ashita-ai/botfleet/internal/events"
	"github.com/ashita-ai/botfleet/internal/mcp"
	"github.com/ashita-ai/botfleet/internal/ratelimit"
	"github.com/ashita-ai/botfleet/internal/registry"
	"github.com/ashita-ai/botfleet/internal/runtime"
	"github.com/ashita-ai/botfleet/internal/server"
	"github.com/ashita-ai/botfleet/internal/service/reconcile"
	"github.com/ashita-ai/botfleet/internal/service/workers"
	"github.com/ashita-ai/botfleet/internal/telemetry"
)

// App is the botfleet server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	srv          *server.Server
	reconciler   *reconcile.Reconciler
	broker       *server.Broker
	limiter      ratelimit.Limiter
	hooks        []*hookSink
	closeRuntime func() error
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the server. It loads configuration, connects to the
// container engine lazily, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections. Call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != nil {
		cfg.Port = *o.port
	}
	if o.dockerHost != "" {
		cfg.DockerHost = o.dockerHost
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("botfleet starting", "version", version, "port", cfg.Port,
		"container_prefix", cfg.ContainerPrefix)

	otelShutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	catalog := workers.DefaultCatalog(cfg.WorkerImage, cfg.BotsDir)
	if cfg.KindsFile != "" {
		catalog, err = workers.LoadCatalog(cfg.KindsFile, catalog)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("kinds file: %w", err)
		}
		logger.Info("kind catalog loaded", "path", cfg.KindsFile)
	}

	rt := o.runtime
	closeRuntime := func() error { return nil }
	if rt == nil {
		docker, err := runtime.NewDocker(runtime.DockerConfig{
			Host:        cfg.DockerHost,
			StopTimeout: cfg.StopGrace,
		})
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("docker: %w", err)
		}
		rt = docker
		closeRuntime = docker.Close
	}

	// Status events fan out to the SSE broker, the log, and embedder hooks.
	broker := server.NewBroker(logger)
	sinks := events.Multi{broker, events.Log{Logger: logger}}
	hooks := make([]*hookSink, 0, len(o.eventHooks))
	for _, h := range o.eventHooks {
		hs := newHookSink(h, logger)
		hooks = append(hooks, hs)
		sinks = append(sinks, hs)
	}

	reg := registry.New()
	svc := workers.New(reg, rt, sinks, workers.Config{
		ContainerPrefix:  cfg.ContainerPrefix,
		PortRangeStart:   cfg.PortRangeStart,
		PortRangeEnd:     cfg.PortRangeEnd,
		RuntimeTimeout:   cfg.RuntimeTimeout,
		StatsConcurrency: cfg.StatsConcurrency,
		Catalog:          catalog,
	}, logger)
	// BOTFLEET_RECONCILE_GRACE=0 turns the window off.
	grace := cfg.ReconcileGrace
	if grace == 0 {
		grace = -1
	}
	rec := reconcile.New(reg, rt, sinks, reconcile.Config{
		ContainerPrefix: cfg.ContainerPrefix,
		Interval:        cfg.ReconcileInterval,
		Grace:           grace,
		MissingTicks:    cfg.ReconcileMissingTicks,
		CallTimeout:     cfg.RuntimeTimeout,
	}, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srvCfg := server.ServerConfig{
		Workers:             svc,
		Broker:              broker,
		Limiter:             limiter,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	}
	if cfg.MCPEnabled {
		srvCfg.MCPServer = mcp.New(svc, logger, version).MCPServer()
	} else {
		logger.Info("mcp: disabled")
	}
	for _, fn := range o.routeRegistrars {
		srvCfg.ExtraRoutes = append(srvCfg.ExtraRoutes, fn)
	}
	for _, mw := range o.middlewares {
		srvCfg.Middlewares = append(srvCfg.Middlewares, mw)
	}

	return &App{
		cfg:          cfg,
		srv:          server.New(srvCfg),
		reconciler:   rec,
		broker:       broker,
		limiter:      limiter,
		hooks:        hooks,
		closeRuntime: closeRuntime,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler, for tests and for embedding the API
// in another server.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run rebuilds the worker view from the engine, starts the reconciler and the
// HTTP server, then blocks until ctx is cancelled or a fatal server error
// occurs. On return, Shutdown is called automatically; callers should not
// call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	// Initial sync before serving so the API never reports an empty fleet
	// that actually has containers. An unreachable engine is not fatal.
	syncCtx, cancel := context.WithTimeout(ctx, 2*a.cfg.RuntimeTimeout)
	res, err := a.reconciler.Sync(syncCtx)
	cancel()
	if err != nil {
		a.logger.Warn("initial sync failed, serving an empty fleet", "error", err)
	} else {
		a.logger.Info("initial sync complete", "containers", res.Listed, "adopted", res.Adopted)
	}

	a.reconciler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	if err := a.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown performs a three-phase graceful shutdown:
// (1) stop accepting HTTP requests and drain in-flight ones, which also ends
// SSE streams once the broker closes,
// (2) stop the reconciler after its current tick,
// (3) deliver queued hook events.
// It then closes the engine client and the OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("botfleet shutting down")

	// Phase 1: HTTP drain. Close the broker first so SSE handlers return.
	a.broker.Close()
	httpCtx, httpCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	// Phase 2: reconciler.
	recCtx, recCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	a.reconciler.Stop(recCtx)
	recCancel()

	// Phase 3: hooks.
	var errs []error
	for _, h := range a.hooks {
		hookCtx, hookCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
		if err := h.Close(hookCtx); err != nil {
			a.logger.Error("event hook drain incomplete, queued events will be lost", "error", err)
			errs = append(errs, fmt.Errorf("hook drain: %w", err))
		}
		hookCancel()
	}

	// Cleanup.
	_ = a.limiter.Close()
	if err := a.closeRuntime(); err != nil {
		a.logger.Warn("runtime close error", "error", err)
	}
	_ = a.otelShutdown(context.Background())

	a.logger.Info("botfleet stopped")
	return errors.Join(errs...)
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
