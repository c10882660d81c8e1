// Package events defines where worker status changes are delivered.
//
// Publishing is at-most-once and must not block the caller for long: the
// Orchestrator and Reconciler publish while a lifecycle operation returns.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashita-ai/botfleet/internal/model"
)

// Sink receives status events.
type Sink interface {
	Publish(ctx context.Context, ev model.StatusEvent) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, ev model.StatusEvent) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev model.StatusEvent) error {
	return f(ctx, ev)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Sink.
func (Nop) Publish(context.Context, model.StatusEvent) error { return nil }

// Multi fans an event out to every sink. All sinks are called even when one
// fails; the returned error joins the individual failures.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, ev model.StatusEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes each event to a structured logger at info level.
type Log struct {
	Logger *slog.Logger
}

// Publish implements Sink.
func (l Log) Publish(ctx context.Context, ev model.StatusEvent) error {
	l.Logger.InfoContext(ctx, "worker status changed",
		"worker", ev.Name,
		"previous_phase", ev.PreviousPhase,
		"new_phase", ev.NewPhase,
	)
	return nil
}

// Emitter stamps and publishes events, logging sink failures instead of
// returning them. A failed publish never fails the operation that caused it.
type Emitter struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter creates an Emitter. A nil sink discards events.
func NewEmitter(sink Sink, logger *slog.Logger) *Emitter {
	if sink == nil {
		sink = Nop{}
	}
	return &Emitter{sink: sink, logger: logger, now: time.Now}
}

// Emit publishes a transition of the named worker. Self-transitions other
// than running -> running (a restart) are not events and are dropped.
func (e *Emitter) Emit(ctx context.Context, name string, prev, next model.Phase) {
	if prev == next && next != model.PhaseRunning {
		return
	}
	ev := model.StatusEvent{
		Name:          name,
		PreviousPhase: prev,
		NewPhase:      next,
		Timestamp:     e.now().UTC(),
	}
	if err := e.sink.Publish(ctx, ev); err != nil {
		e.logger.Warn("events: publish failed", "worker", name, "error", err)
	}
}
