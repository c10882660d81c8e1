package botfleet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashita-ai/botfleet/internal/model"
)

const (
	hookQueueSize = 256
	hookTimeout   = 10 * time.Second
)

// hookSink adapts an EventHook to events.Sink. Publish never blocks: events
// go onto a bounded queue that one goroutine drains in order.
type hookSink struct {
	hook   EventHook
	logger *slog.Logger

	queue chan StatusEvent
	once  sync.Once
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newHookSink(hook EventHook, logger *slog.Logger) *hookSink {
	h := &hookSink{
		hook:   hook,
		logger: logger,
		queue:  make(chan StatusEvent, hookQueueSize),
		done:   make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *hookSink) Publish(_ context.Context, ev model.StatusEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	select {
	case h.queue <- toPublicEvent(ev):
	default:
		h.logger.Warn("event hook queue full, dropping event", "name", ev.Name, "new_phase", ev.NewPhase)
	}
	return nil
}

func (h *hookSink) loop() {
	defer close(h.done)
	for ev := range h.queue {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		if err := h.hook.OnStatusChange(ctx, ev); err != nil {
			h.logger.Warn("event hook failed", "name", ev.Name, "new_phase", ev.NewPhase, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be delivered or ctx to end.
func (h *hookSink) Close(ctx context.Context) error {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.queue)
		h.mu.Unlock()
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func toPublicEvent(ev model.StatusEvent) StatusEvent {
	return StatusEvent{
		Name:          ev.Name,
		PreviousPhase: Phase(ev.PreviousPhase),
		NewPhase:      Phase(ev.NewPhase),
		Timestamp:     ev.Timestamp,
	}
}
