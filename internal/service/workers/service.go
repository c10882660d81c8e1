// Package workers implements the worker lifecycle: create, start, stop,
// restart, remove, inspect and logs.
//
// Both the HTTP API and the MCP server delegate here. Every phase-changing
// operation follows the same pattern: claim the record in the Registry (which
// fails fast if another operation holds it or the phase forbids the move),
// call the runtime under a per-call timeout, then settle the new phase or
// revert to the old one. Events are emitted only after a successful settle.
package workers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/botfleet/internal/events"
	"github.com/ashita-ai/botfleet/internal/model"
	"github.com/ashita-ai/botfleet/internal/registry"
	"github.com/ashita-ai/botfleet/internal/runtime"
	"github.com/ashita-ai/botfleet/internal/telemetry"
)

// DefaultLogTail is the number of log lines returned when the caller does not ask.
const DefaultLogTail = 100

// Config holds Service settings.
type Config struct {
	ContainerPrefix  string
	PortRangeStart   int
	PortRangeEnd     int
	RuntimeTimeout   time.Duration
	StatsConcurrency int
	Catalog          Catalog
}

func (c *Config) applyDefaults() {
	if c.RuntimeTimeout <= 0 {
		c.RuntimeTimeout = 10 * time.Second
	}
	if c.StatsConcurrency <= 0 {
		c.StatsConcurrency = 8
	}
	if c.Catalog == nil {
		c.Catalog = DefaultCatalog(DefaultImage, "./bots")
	}
}

// Service owns worker lifecycle operations.
type Service struct {
	registry *registry.Registry
	runtime  runtime.Client
	events   *events.Emitter
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer

	opCount    metric.Int64Counter
	opDuration metric.Float64Histogram
}

// New creates a Service. sink may be nil to discard events.
func New(reg *registry.Registry, rt runtime.Client, sink events.Sink, cfg Config, logger *slog.Logger) *Service {
	cfg.applyDefaults()
	meter := telemetry.Meter("botfleet/workers")
	opCount, _ := meter.Int64Counter("botfleet.lifecycle.operations",
		metric.WithDescription("Lifecycle operations by type and outcome"),
	)
	opDuration, _ := meter.Float64Histogram("botfleet.lifecycle.duration",
		metric.WithDescription("Lifecycle operation latency (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		registry:   reg,
		runtime:    rt,
		events:     events.NewEmitter(sink, logger),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		tracer:     telemetry.Tracer("botfleet/workers"),
		opCount:    opCount,
		opDuration: opDuration,
	}
}

// ContainerName returns the runtime container name for a worker.
func (s *Service) ContainerName(name string) string {
	return s.cfg.ContainerPrefix + name
}

// Create validates the request, reserves the name and a port, and creates
// (but does not start) the worker's container.
func (s *Service) Create(ctx context.Context, name string, kind model.Kind, config map[string]any) (w model.Worker, err error) {
	ctx, done := s.begin(ctx, "create", name)
	defer func() { done(err) }()

	if err := model.ValidateName(name); err != nil {
		return model.Worker{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !kind.Valid() {
		return model.Worker{}, fmt.Errorf("%w: unknown kind %q", ErrValidation, kind)
	}
	spec, ok := s.cfg.Catalog[kind]
	if !ok {
		return model.Worker{}, fmt.Errorf("%w: kind %q is not configured", ErrValidation, kind)
	}
	if err := validateConfig(kind, config); err != nil {
		return model.Worker{}, err
	}

	reserved, claim, err := s.registry.Reserve(model.Worker{
		Name:      name,
		Kind:      kind,
		Config:    model.CloneConfig(config),
		CreatedAt: s.now().UTC(),
	}, s.cfg.PortRangeStart, s.cfg.PortRangeEnd)
	if err != nil {
		return model.Worker{}, fromRegistry(err)
	}

	id, err := call(ctx, s.cfg.RuntimeTimeout, func(ctx context.Context) (string, error) {
		return s.runtime.CreateContainer(ctx, s.containerSpec(reserved, spec))
	})
	if err != nil {
		if derr := s.registry.Discard(claim); derr != nil {
			s.logger.Warn("workers: discard failed reservation", "worker", name, "error", derr)
		}
		return model.Worker{}, fromRuntime("create container", err)
	}

	w, err = s.registry.Settle(claim, model.PhaseCreated, func(rec *model.Worker) { rec.ID = id })
	if err != nil {
		s.logger.Error("workers: settle create", "worker", name, "container_id", id, "error", err)
		return model.Worker{}, fromRegistry(err)
	}
	s.events.Emit(ctx, name, "", model.PhaseCreated)
	s.logger.Info("workers: created", "worker", name, "kind", kind, "container_id", id, "port", w.Port)
	return w, nil
}

func (s *Service) containerSpec(w model.Worker, spec KindSpec) runtime.ContainerSpec {
	var binds []string
	if spec.CodeDir != "" && spec.WorkingDir != "" {
		binds = []string{spec.CodeDir + ":" + spec.WorkingDir}
	}
	port := ""
	if w.Port > 0 {
		port = fmt.Sprint(w.Port)
	}
	return runtime.ContainerSpec{
		Name:       s.ContainerName(w.Name),
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		Env:        containerEnv(w, spec),
		WorkingDir: spec.WorkingDir,
		Binds:      binds,
		Labels: map[string]string{
			runtime.LabelManaged: "true",
			runtime.LabelKind:    string(w.Kind),
			runtime.LabelPort:    port,
			runtime.LabelName:    w.Name,
		},
		Port: w.Port,
	}
}

// Get returns the named worker, with live stats when it is running.
func (s *Service) Get(ctx context.Context, name string) (model.Worker, error) {
	w, err := s.registry.Get(name)
	if err != nil {
		return model.Worker{}, fromRegistry(err)
	}
	s.enrich(ctx, &w)
	return w, nil
}

// List returns every worker in insertion order. Stats are fetched
// concurrently and best-effort: a failed read leaves that worker's Stats nil.
func (s *Service) List(ctx context.Context) []model.Worker {
	out := s.registry.List()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.StatsConcurrency)
	for i := range out {
		if out[i].Phase != model.PhaseRunning {
			continue
		}
		g.Go(func() error {
			s.enrich(gctx, &out[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) enrich(ctx context.Context, w *model.Worker) {
	if w.Phase != model.PhaseRunning {
		return
	}
	stats, err := call(ctx, s.cfg.RuntimeTimeout, func(ctx context.Context) (model.ResourceStats, error) {
		return s.runtime.Stats(ctx, s.ref(*w))
	})
	if err != nil {
		s.logger.Debug("workers: stats unavailable", "worker", w.Name, "error", err)
		return
	}
	w.Stats = &stats
}

// Logs returns the last tail lines of the worker's output. tail <= 0 uses
// DefaultLogTail. The caller must close the reader.
func (s *Service) Logs(ctx context.Context, name string, tail int) (io.ReadCloser, error) {
	w, err := s.registry.Get(name)
	if err != nil {
		return nil, fromRegistry(err)
	}
	if tail <= 0 {
		tail = DefaultLogTail
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RuntimeTimeout)
	rc, err := s.runtime.Logs(ctx, s.ref(w), tail)
	if err != nil {
		cancel()
		return nil, fromRuntime("logs", err)
	}
	return &cancelReadCloser{ReadCloser: rc, cancel: cancel}, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// Ping reports whether the runtime is reachable.
func (s *Service) Ping(ctx context.Context) error {
	_, err := call(ctx, s.cfg.RuntimeTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.runtime.Ping(ctx)
	})
	return fromRuntime("ping", err)
}

// Count returns the number of known workers.
func (s *Service) Count() int {
	return s.registry.Len()
}

// ref is the identifier passed to the runtime: the container ID when known,
// otherwise the container name.
func (s *Service) ref(w model.Worker) string {
	if w.ID != "" {
		return w.ID
	}
	return s.ContainerName(w.Name)
}

// call runs fn under the per-call runtime timeout.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// begin opens a span for op and returns a func that records its outcome.
func (s *Service) begin(ctx context.Context, op, name string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "workers."+op,
		trace.WithAttributes(attribute.String("botfleet.worker", name)),
	)
	start := time.Now()
	return ctx, func(err error) {
		attrs := metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("outcome", outcome(err)),
		)
		s.opCount.Add(ctx, 1, attrs)
		s.opDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
