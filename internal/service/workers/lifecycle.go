package workers

import (
	"context"
	"errors"

	"github.com/ashita-ai/botfleet/internal/model"
	"github.com/ashita-ai/botfleet/internal/registry"
	"github.com/ashita-ai/botfleet/internal/runtime"
)

// transition is one claim-call-settle lifecycle step.
type transition struct {
	op     string
	from   []model.Phase
	via    model.Phase
	to     model.Phase
	invoke func(ctx context.Context, ref string) error
}

// Start runs a created, stopped or unknown worker.
func (s *Service) Start(ctx context.Context, name string) (model.Worker, error) {
	return s.run(ctx, name, transition{
		op:     "start",
		from:   []model.Phase{model.PhaseCreated, model.PhaseStopped, model.PhaseUnknown},
		via:    model.PhaseStarting,
		to:     model.PhaseRunning,
		invoke: s.runtime.Start,
	})
}

// Stop halts a running or unknown worker.
func (s *Service) Stop(ctx context.Context, name string) (model.Worker, error) {
	return s.run(ctx, name, transition{
		op:     "stop",
		from:   []model.Phase{model.PhaseRunning, model.PhaseUnknown},
		via:    model.PhaseStopping,
		to:     model.PhaseStopped,
		invoke: s.runtime.Stop,
	})
}

// Restart issues a single runtime restart. The worker passes through
// starting, never stopped.
func (s *Service) Restart(ctx context.Context, name string) (model.Worker, error) {
	return s.run(ctx, name, transition{
		op:     "restart",
		from:   []model.Phase{model.PhaseRunning, model.PhaseStopped, model.PhaseUnknown},
		via:    model.PhaseStarting,
		to:     model.PhaseRunning,
		invoke: s.runtime.Restart,
	})
}

func (s *Service) run(ctx context.Context, name string, t transition) (w model.Worker, err error) {
	ctx, done := s.begin(ctx, t.op, name)
	defer func() { done(err) }()

	claim, err := s.registry.Claim(name, t.from, t.via)
	if err != nil {
		return model.Worker{}, fromRegistry(err)
	}
	current, err := s.registry.Get(name)
	if err != nil {
		return model.Worker{}, fromRegistry(err)
	}

	_, err = call(ctx, s.cfg.RuntimeTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.invoke(ctx, s.ref(current))
	})
	if err != nil {
		s.revert(claim)
		s.logger.Warn("workers: "+t.op+" failed", "worker", name, "phase", claim.Previous, "error", err)
		return model.Worker{}, fromRuntime(t.op, err)
	}

	w, err = s.registry.Settle(claim, t.to, nil)
	if err != nil {
		s.logger.Error("workers: settle "+t.op, "worker", name, "error", err)
		return model.Worker{}, fromRegistry(err)
	}
	s.events.Emit(ctx, name, claim.Previous, t.to)
	s.logger.Info("workers: "+t.op, "worker", name, "previous_phase", claim.Previous, "phase", t.to)
	return w, nil
}

// Remove stops and deletes the worker's container, then evicts the record.
// Removing an unknown name, or a worker whose container is already gone,
// succeeds.
func (s *Service) Remove(ctx context.Context, name string) (err error) {
	ctx, done := s.begin(ctx, "remove", name)
	defer func() { done(err) }()

	claim, err := s.registry.Claim(name,
		[]model.Phase{model.PhaseCreated, model.PhaseRunning, model.PhaseStopped, model.PhaseUnknown},
		model.PhaseRemoving,
	)
	if errors.Is(err, registry.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fromRegistry(err)
	}
	current, err := s.registry.Get(name)
	if err != nil {
		return fromRegistry(err)
	}
	ref := s.ref(current)

	if claim.Previous == model.PhaseRunning || claim.Previous == model.PhaseUnknown {
		_, stopErr := call(ctx, s.cfg.RuntimeTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.runtime.Stop(ctx, ref)
		})
		if stopErr != nil && !errors.Is(stopErr, runtime.ErrNotFound) {
			s.logger.Debug("workers: stop before remove", "worker", name, "error", stopErr)
		}
	}

	_, err = call(ctx, s.cfg.RuntimeTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.runtime.Remove(ctx, ref)
	})
	if err != nil && !errors.Is(err, runtime.ErrNotFound) {
		s.revert(claim)
		s.logger.Warn("workers: remove failed", "worker", name, "phase", claim.Previous, "error", err)
		return fromRuntime("remove", err)
	}

	if err := s.registry.Discard(claim); err != nil {
		s.logger.Error("workers: evict removed worker", "worker", name, "error", err)
		return fromRegistry(err)
	}
	s.events.Emit(ctx, name, claim.Previous, model.PhaseRemoved)
	s.logger.Info("workers: removed", "worker", name, "previous_phase", claim.Previous)
	return nil
}

func (s *Service) revert(c registry.Claim) {
	if err := s.registry.Revert(c); err != nil {
		s.logger.Error("workers: revert", "worker", c.Name, "error", err)
	}
}
