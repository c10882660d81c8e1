// Package registry is the in-memory source of truth for known workers.
//
// The Registry is a cache of the container runtime's ground truth, not a
// durable store: it is rebuilt from reconciliation on every start.
//
// Writers coordinate through two mechanisms. CompareAndSwapPhase is the
// atomic phase guard. Claims layer an operation token on top of it: while a
// lifecycle operation holds a record's token, no other claim, CAS or
// reconciler observation can touch that record. Tokens come from a
// monotonically increasing counter, so a stale claim can never settle a
// record that has since been re-reserved under the same name.
//
// Every lifecycle write also advances a registry generation. The reconciler
// reads Generation before it lists containers and passes it back with each
// observation, so a listing taken before a create, settle or removal can
// neither overwrite that record nor re-adopt a name that was just evicted.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashita-ai/botfleet/internal/model"
)

var (
	ErrNotFound          = errors.New("registry: worker not found")
	ErrNameTaken         = errors.New("registry: name already in use")
	ErrNoPorts           = errors.New("registry: no free port in range")
	ErrBusy              = errors.New("registry: operation already in flight")
	ErrIllegalTransition = errors.New("registry: illegal phase transition")
	ErrStaleClaim        = errors.New("registry: claim no longer held")
)

type entry struct {
	worker    model.Worker
	token     uint64    // non-zero while a lifecycle operation is outstanding
	settledAt time.Time // last time an operation settled this record
	missed    int       // consecutive reconcile ticks without a matching container
	touched   uint64    // generation of the last lifecycle write
}

// Claim is proof that the holder owns the next transition of one record.
type Claim struct {
	Name         string
	Token        uint64
	Previous     model.Phase // phase before the claim; empty for a reservation
	Transitional model.Phase
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for settle and grace bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry maps worker names to records. Safe for concurrent use; every
// read returns a deep copy, so no caller can observe a partially written record.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	order     []string
	lastToken uint64
	gen       uint64
	evicted   map[string]uint64 // name -> generation it was last evicted at
	now       func() time.Time
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		evicted: make(map[string]uint64),
		now:     time.Now,
	}
	for _, fn := range opts {
		fn(r)
	}
	return r
}

// Put inserts or replaces a record. A replaced record keeps its position in
// List order and loses any outstanding claim.
func (r *Registry) Put(w model.Worker) error {
	if w.Name == "" {
		return fmt.Errorf("registry: put: empty name")
	}
	if !w.Phase.Valid() {
		return fmt.Errorf("registry: put %s: invalid phase %q", w.Name, w.Phase)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(&entry{worker: w.Clone()})
	return nil
}

// Adopt inserts w only if no record with its name exists and the name was
// not evicted after generation since. It reports whether the record was
// inserted.
func (r *Registry) Adopt(w model.Worker, since uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[w.Name]; ok {
		return false
	}
	if r.evicted[w.Name] > since {
		return false
	}
	r.insertLocked(&entry{worker: w.Clone()})
	return true
}

// Get returns a copy of the named record.
func (r *Registry) Get(name string) (model.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return model.Worker{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.worker.Clone(), nil
}

// List returns copies of all records in insertion order.
func (r *Registry) List() []model.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Worker, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].worker.Clone())
	}
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Remove evicts the named record. Removing an absent name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked(name)
}

// Generation returns the current lifecycle generation. It only grows.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// ForgetEvictions drops eviction marks recorded at or before generation upTo.
// Callers pass the oldest generation any in-progress listing was taken at.
func (r *Registry) ForgetEvictions(upTo uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, g := range r.evicted {
		if g <= upTo {
			delete(r.evicted, name)
		}
	}
}

// CompareAndSwapPhase moves the named record from expected to next. It fails,
// without mutating anything, if the record is absent, its phase is not
// expected, the edge is not in the state machine, or an operation holds it.
func (r *Registry) CompareAndSwapPhase(name string, expected, next model.Phase) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok || e.token != 0 || e.worker.Phase != expected || !model.CanTransition(expected, next) {
		return false
	}
	e.worker.Phase = next
	return true
}

// CountByPhase returns the number of records in each phase.
func (r *Registry) CountByPhase() map[model.Phase]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[model.Phase]int, len(model.AllPhases))
	for _, e := range r.entries {
		counts[e.worker.Phase]++
	}
	return counts
}

func (r *Registry) insertLocked(e *entry) {
	name := e.worker.Name
	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = e
}

func (r *Registry) deleteLocked(name string) {
	if _, ok := r.entries[name]; !ok {
		return
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// evictLocked deletes the named record and marks the eviction generation.
func (r *Registry) evictLocked(name string) {
	if _, ok := r.entries[name]; !ok {
		return
	}
	r.deleteLocked(name)
	r.evicted[name] = r.bumpLocked()
}

func (r *Registry) bumpLocked() uint64 {
	r.gen++
	return r.gen
}

func (r *Registry) nextTokenLocked() uint64 {
	r.lastToken++
	return r.lastToken
}
