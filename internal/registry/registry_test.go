package registry_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/botfleet/internal/model"
	"github.com/ashita-ai/botfleet/internal/registry"
)

func worker(name string, phase model.Phase) model.Worker {
	return model.Worker{
		Name:      name,
		Kind:      model.KindCustom,
		Phase:     phase,
		Config:    map[string]any{"prefix": "!"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestPutGetRemove(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Put(worker("a", model.PhaseRunning)))

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseRunning, got.Phase)

	r.Remove("a")
	_, err = r.Get("a")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	// Removing again is a no-op.
	r.Remove("a")
	assert.Zero(t, r.Len())
}

func TestPutRejectsInvalid(t *testing.T) {
	r := registry.New()
	assert.Error(t, r.Put(worker("", model.PhaseRunning)))
	assert.Error(t, r.Put(worker("a", model.Phase("bogus"))))
}

func TestListInsertionOrder(t *testing.T) {
	r := registry.New()
	for _, n := range []string{"c", "a", "b"} {
		require.NoError(t, r.Put(worker(n, model.PhaseStopped)))
	}
	// Replacing keeps position.
	require.NoError(t, r.Put(worker("a", model.PhaseRunning)))

	var names []string
	for _, w := range r.List() {
		names = append(names, w.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
}

func TestReadsAreCopies(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Put(worker("a", model.PhaseRunning)))

	got, _ := r.Get("a")
	got.Config["prefix"] = "?"
	got.Phase = model.PhaseStopped

	again, _ := r.Get("a")
	assert.Equal(t, "!", again.Config["prefix"])
	assert.Equal(t, model.PhaseRunning, again.Phase)
}

func TestCompareAndSwapPhase(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Put(worker("a", model.PhaseCreated)))

	assert.False(t, r.CompareAndSwapPhase("a", model.PhaseStopped, model.PhaseStarting), "wrong expected phase")
	assert.False(t, r.CompareAndSwapPhase("a", model.PhaseCreated, model.PhaseRunning), "illegal edge")
	assert.False(t, r.CompareAndSwapPhase("missing", model.PhaseCreated, model.PhaseStarting))
	assert.True(t, r.CompareAndSwapPhase("a", model.PhaseCreated, model.PhaseStarting))

	got, _ := r.Get("a")
	assert.Equal(t, model.PhaseStarting, got.Phase)
}

func TestCompareAndSwapPhaseConcurrentSingleWinner(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Put(worker("a", model.PhaseStopped)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.CompareAndSwapPhase("a", model.PhaseStopped, model.PhaseStarting) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestCompareAndSwapPhaseRespectsClaims(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Put(worker("a", model.PhaseStopped)))

	_, err := r.Claim("a", []model.Phase{model.PhaseStopped}, model.PhaseStarting)
	require.NoError(t, err)
	assert.False(t, r.CompareAndSwapPhase("a", model.PhaseStarting, model.PhaseRunning))
}

func TestAdoptDoesNotReplace(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Put(worker("a", model.PhaseRunning)))
	assert.False(t, r.Adopt(worker("a", model.PhaseUnknown), 0))
	assert.True(t, r.Adopt(worker("b", model.PhaseUnknown), 0))

	got, _ := r.Get("a")
	assert.Equal(t, model.PhaseRunning, got.Phase)
}

func TestCountByPhase(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Put(worker("a", model.PhaseRunning)))
	require.NoError(t, r.Put(worker("b", model.PhaseRunning)))
	require.NoError(t, r.Put(worker("c", model.PhaseStopped)))

	counts := r.CountByPhase()
	assert.Equal(t, 2, counts[model.PhaseRunning])
	assert.Equal(t, 1, counts[model.PhaseStopped])
	assert.Zero(t, counts[model.PhaseUnknown])
}

func TestConcurrentAccess(t *testing.T) {
	r := registry.New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		name := fmt.Sprintf("w%d", i)
		go func() {
			defer wg.Done()
			_ = r.Put(worker(name, model.PhaseStopped))
		}()
		go func() {
			defer wg.Done()
			_ = r.List()
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Get(name)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, r.Len())
}
