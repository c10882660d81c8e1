// Package reconcile keeps the Registry in agreement with the container
// runtime's listing.
//
// Each tick lists the prefixed containers, maps their engine state onto a
// worker phase, adopts containers nobody registered, and marks records with
// no container as unknown (evicting them after several consecutive misses).
// A tick that cannot reach the runtime changes nothing.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/botfleet/internal/events"
	"github.com/ashita-ai/botfleet/internal/model"
	"github.com/ashita-ai/botfleet/internal/registry"
	"github.com/ashita-ai/botfleet/internal/runtime"
	"github.com/ashita-ai/botfleet/internal/telemetry"
)

// Config holds Reconciler settings.
type Config struct {
	ContainerPrefix string
	Interval        time.Duration
	Grace           time.Duration // skip records settled more recently than this; zero means DefaultGrace, negative disables
	MissingTicks    int           // consecutive misses before an unknown record is evicted
	CallTimeout     time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Grace == 0 {
		c.Grace = DefaultGrace
	}
	if c.MissingTicks <= 0 {
		c.MissingTicks = 3
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
}

// DefaultGrace is the settle window applied when Config.Grace is zero.
const DefaultGrace = 5 * time.Second

// Result summarizes one tick.
type Result struct {
	Listed  int
	Adopted int
	Changed int
	Evicted int
}

// Reconciler periodically syncs the Registry against the runtime.
type Reconciler struct {
	registry *registry.Registry
	runtime  runtime.Client
	events   *events.Emitter
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer
	ticks    metric.Int64Counter

	syncMu sync.Mutex // serializes ticks so eviction marks are pruned safely

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

// New creates a Reconciler. sink may be nil to discard events.
func New(reg *registry.Registry, rt runtime.Client, sink events.Sink, cfg Config, logger *slog.Logger) *Reconciler {
	cfg.applyDefaults()
	ticks, _ := telemetry.Meter("botfleet/reconcile").Int64Counter("botfleet.reconcile.ticks",
		metric.WithDescription("Reconciliation ticks by outcome"),
	)
	return &Reconciler{
		registry: reg,
		runtime:  rt,
		events:   events.NewEmitter(sink, logger),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		tracer:   telemetry.Tracer("botfleet/reconcile"),
		ticks:    ticks,
		done:     make(chan struct{}),
	}
}

// PhaseForState maps an engine container state onto a worker phase.
func PhaseForState(state string) model.Phase {
	switch state {
	case runtime.StateRunning:
		return model.PhaseRunning
	case runtime.StateExited, runtime.StateDead:
		return model.PhaseStopped
	case runtime.StateCreated:
		return model.PhaseCreated
	default:
		return model.PhaseUnknown
	}
}

// Sync runs one reconciliation tick. If the runtime cannot be listed the
// Registry is left untouched and the error is returned.
//
// The listing is a snapshot: lifecycle operations may finish while the tick
// applies it. The registry generation read before listing keeps those
// operations' results from being overwritten or resurrected.
func (r *Reconciler) Sync(ctx context.Context) (res Result, err error) {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	ctx, span := r.tracer.Start(ctx, "reconcile.sync")
	defer func() {
		status := "ok"
		if err != nil {
			status = "unavailable"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		r.ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", status)))
		span.SetAttributes(
			attribute.Int("botfleet.listed", res.Listed),
			attribute.Int("botfleet.changed", res.Changed),
		)
		span.End()
	}()

	since := r.registry.Generation()
	listCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	containers, err := r.runtime.ListContainers(listCtx, runtime.ListFilter{NamePrefix: r.cfg.ContainerPrefix})
	cancel()
	if err != nil {
		return Result{}, fmt.Errorf("reconcile: list containers: %w", err)
	}

	now := r.now().UTC()
	seen := make(map[string]bool, len(containers))
	for _, c := range containers {
		name := strings.TrimPrefix(c.Name, r.cfg.ContainerPrefix)
		if err := model.ValidateName(name); err != nil {
			r.logger.Debug("reconcile: ignoring container", "container", c.Name, "error", err)
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		res.Listed++

		phase := PhaseForState(c.State)
		if obs := r.registry.Observe(name, phase, now, r.cfg.Grace, since); !obs.Skipped {
			if obs.Changed {
				res.Changed++
				r.events.Emit(ctx, name, obs.Previous, obs.Current)
			}
			continue
		}
		if r.registry.Adopt(adopted(c, name, now), since) {
			res.Adopted++
			r.logger.Info("reconcile: adopted container", "worker", name, "container_id", c.ID, "state", c.State)
			r.events.Emit(ctx, name, "", model.PhaseUnknown)
		}
	}

	for _, w := range r.registry.List() {
		if seen[w.Name] {
			continue
		}
		obs := r.registry.MarkMissing(w.Name, r.cfg.Grace, r.cfg.MissingTicks, since)
		if obs.Changed {
			res.Changed++
			r.events.Emit(ctx, w.Name, obs.Previous, obs.Current)
		}
		if obs.Evicted {
			res.Evicted++
			r.logger.Info("reconcile: evicted worker with no container", "worker", w.Name, "phase", obs.Previous)
		}
	}

	r.registry.ForgetEvictions(since)

	if res.Changed > 0 || res.Adopted > 0 || res.Evicted > 0 {
		r.logger.Info("reconcile: tick applied changes",
			"listed", res.Listed, "adopted", res.Adopted, "changed", res.Changed, "evicted", res.Evicted)
	}
	return res, nil
}

// adopted synthesizes a record for a container no one registered. Kind and
// port come from labels when present; the phase starts as unknown and
// converges on the next tick.
func adopted(c runtime.ContainerSummary, name string, now time.Time) model.Worker {
	kind := model.Kind(c.Labels[runtime.LabelKind])
	if !kind.Valid() {
		kind = model.KindCustom
	}
	port, _ := strconv.Atoi(c.Labels[runtime.LabelPort])
	created := c.Created
	if created.IsZero() {
		created = now
	}
	observed := now
	return model.Worker{
		ID:             c.ID,
		Name:           name,
		Kind:           kind,
		Phase:          model.PhaseUnknown,
		Config:         map[string]any{},
		CreatedAt:      created,
		LastObservedAt: &observed,
		Port:           port,
	}
}

// Start begins the background tick loop. It is safe to call only once;
// subsequent calls are no-ops and log a warning.
func (r *Reconciler) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		r.logger.Warn("reconcile: Start called more than once, ignoring")
		return
	}
	r.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancelLoop = cancel
	go func() {
		defer r.once.Do(func() { close(r.done) })
		r.Run(loopCtx)
	}()
}

// Stop cancels the loop and waits for an in-flight tick to finish, or for
// ctx to expire.
func (r *Reconciler) Stop(ctx context.Context) {
	if !r.started.Load() {
		return
	}
	if r.cancelLoop != nil {
		r.cancelLoop()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		r.logger.Warn("reconcile: stop timed out waiting for tick")
	}
}

// Run ticks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sync(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("reconcile: tick skipped", "error", err)
			}
		}
	}
}

// registerMetrics registers the per-phase worker gauge.
func (r *Reconciler) registerMetrics() {
	meter := telemetry.Meter("botfleet/reconcile")
	_, _ = meter.Int64ObservableGauge("botfleet.workers",
		metric.WithDescription("Known workers by phase"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			counts := r.registry.CountByPhase()
			for _, p := range model.AllPhases {
				o.Observe(int64(counts[p]), metric.WithAttributes(attribute.String("phase", string(p))))
			}
			return nil
		}),
	)
}
