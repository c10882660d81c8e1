package registry

import (
	"fmt"
	"slices"

	"github.com/ashita-ai/botfleet/internal/model"
)

// Reserve atomically checks name uniqueness, allocates the lowest free port
// in [portLow, portHigh] and inserts w in the created phase under a fresh
// claim. A zero range skips port allocation. A record already in the removed
// phase does not hold its name.
func (r *Registry) Reserve(w model.Worker, portLow, portHigh int) (model.Worker, Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[w.Name]; ok && e.worker.Phase != model.PhaseRemoved {
		return model.Worker{}, Claim{}, fmt.Errorf("%w: %s", ErrNameTaken, w.Name)
	}

	w.Port = 0
	if portLow > 0 && portHigh >= portLow {
		used := make(map[int]bool, len(r.entries))
		for _, e := range r.entries {
			if e.worker.Phase != model.PhaseRemoved && e.worker.Port > 0 {
				used[e.worker.Port] = true
			}
		}
		for p := portLow; p <= portHigh; p++ {
			if !used[p] {
				w.Port = p
				break
			}
		}
		if w.Port == 0 {
			return model.Worker{}, Claim{}, fmt.Errorf("%w: %d-%d", ErrNoPorts, portLow, portHigh)
		}
	}

	w.Phase = model.PhaseCreated
	token := r.nextTokenLocked()
	// Replacing a removed record moves the name to the end of List order.
	r.deleteLocked(w.Name)
	r.insertLocked(&entry{worker: w.Clone(), token: token, touched: r.bumpLocked()})

	return w.Clone(), Claim{Name: w.Name, Token: token, Transitional: model.PhaseCreated}, nil
}

// Claim moves the named record from one of the allowed phases into
// transitional and hands the caller its operation token.
func (r *Registry) Claim(name string, from []model.Phase, transitional model.Phase) (Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return Claim{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.token != 0 {
		return Claim{}, fmt.Errorf("%w: %s is %s", ErrBusy, name, e.worker.Phase)
	}
	current := e.worker.Phase
	if !slices.Contains(from, current) || !model.CanTransition(current, transitional) {
		return Claim{}, fmt.Errorf("%w: %s cannot go from %s to %s", ErrIllegalTransition, name, current, transitional)
	}

	e.worker.Phase = transitional
	e.token = r.nextTokenLocked()
	e.touched = r.bumpLocked()
	return Claim{Name: name, Token: e.token, Previous: current, Transitional: transitional}, nil
}

// Settle finishes a claim: it applies mutate (may be nil), moves the record to
// phase, releases the token and stamps the settle time the reconciler's
// grace window is measured from.
func (r *Registry) Settle(c Claim, phase model.Phase, mutate func(*model.Worker)) (model.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.heldLocked(c)
	if err != nil {
		return model.Worker{}, err
	}
	if e.worker.Phase != phase && !model.CanTransition(e.worker.Phase, phase) {
		return model.Worker{}, fmt.Errorf("%w: %s cannot settle from %s to %s", ErrIllegalTransition, c.Name, e.worker.Phase, phase)
	}
	if mutate != nil {
		mutate(&e.worker)
	}
	e.worker.Phase = phase
	e.token = 0
	e.missed = 0
	e.settledAt = r.now()
	e.touched = r.bumpLocked()
	return e.worker.Clone(), nil
}

// Revert restores the phase the record had before the claim and releases
// the token.
func (r *Registry) Revert(c Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.heldLocked(c)
	if err != nil {
		return err
	}
	if c.Previous != "" && c.Previous != e.worker.Phase {
		if !model.CanTransition(e.worker.Phase, c.Previous) {
			return fmt.Errorf("%w: %s cannot revert from %s to %s", ErrIllegalTransition, c.Name, e.worker.Phase, c.Previous)
		}
		e.worker.Phase = c.Previous
	}
	e.token = 0
	e.touched = r.bumpLocked()
	return nil
}

// Discard evicts the record named by the claim, provided the claim is still
// held. Used for failed reservations and for completed removals.
func (r *Registry) Discard(c Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.heldLocked(c); err != nil {
		return err
	}
	r.evictLocked(c.Name)
	return nil
}

func (r *Registry) heldLocked(c Claim) (*entry, error) {
	e, ok := r.entries[c.Name]
	if !ok || e.token != c.Token || c.Token == 0 {
		return nil, fmt.Errorf("%w: %s", ErrStaleClaim, c.Name)
	}
	return e, nil
}
