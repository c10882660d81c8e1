package registry

import (
	"time"

	"github.com/ashita-ai/botfleet/internal/model"
)

// Observation reports what a reconciler write did to one record.
type Observation struct {
	Previous model.Phase
	Current  model.Phase
	Changed  bool // phase changed
	Skipped  bool // held by an operation, inside the grace window, written after the listing, or absent
	Evicted  bool // record was removed from the registry
}

// Observe applies a phase the runtime reported for the named record and
// refreshes its last-observed time. since is the Generation read before the
// listing was taken. Records held by an operation, written by one after
// since, or settled less than grace ago, are left alone. If observed is not reachable from the
// current phase in one edge, the record moves to unknown instead and converges
// on a later observation.
func (r *Registry) Observe(name string, observed model.Phase, at time.Time, grace time.Duration, since uint64) Observation {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok || r.protectedLocked(e, grace, since) {
		return Observation{Skipped: true}
	}

	obs := Observation{Previous: e.worker.Phase, Current: e.worker.Phase}
	t := at
	e.worker.LastObservedAt = &t
	e.missed = 0

	if observed == e.worker.Phase {
		return obs
	}
	next := observed
	if !model.CanTransition(e.worker.Phase, next) {
		next = model.PhaseUnknown
		if e.worker.Phase == model.PhaseUnknown || !model.CanTransition(e.worker.Phase, next) {
			return obs
		}
	}
	e.worker.Phase = next
	obs.Current = next
	obs.Changed = true
	return obs
}

// MarkMissing records that a reconcile tick found no container for the named
// record. A removed record is evicted. Any other record moves to unknown; an
// unknown record missing for maxMissed consecutive ticks is moved to removed
// and evicted. Protection rules match Observe.
func (r *Registry) MarkMissing(name string, grace time.Duration, maxMissed int, since uint64) Observation {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok || r.protectedLocked(e, grace, since) {
		return Observation{Skipped: true}
	}

	obs := Observation{Previous: e.worker.Phase, Current: e.worker.Phase}
	switch e.worker.Phase {
	case model.PhaseRemoved:
		r.evictLocked(name)
		obs.Evicted = true
	case model.PhaseUnknown:
		e.missed++
		if e.missed >= maxMissed {
			r.evictLocked(name)
			obs.Current = model.PhaseRemoved
			obs.Changed = true
			obs.Evicted = true
		}
	default:
		if model.CanTransition(e.worker.Phase, model.PhaseUnknown) {
			e.worker.Phase = model.PhaseUnknown
			e.missed = 1
			obs.Current = model.PhaseUnknown
			obs.Changed = true
		}
	}
	return obs
}

func (r *Registry) protectedLocked(e *entry, grace time.Duration, since uint64) bool {
	if e.token != 0 || e.touched > since {
		return true
	}
	return grace > 0 && !e.settledAt.IsZero() && r.now().Sub(e.settledAt) < grace
}
