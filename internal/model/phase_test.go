package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/botfleet/internal/model"
)

func TestCanTransition_Lifecycle(t *testing.T) {
	happy := []model.Phase{
		model.PhaseCreated,
		model.PhaseStarting,
		model.PhaseRunning,
		model.PhaseStopping,
		model.PhaseStopped,
		model.PhaseRemoving,
		model.PhaseRemoved,
	}
	assert.True(t, model.ValidPath(happy))
}

func TestCanTransition_Illegal(t *testing.T) {
	tests := []struct {
		from, to model.Phase
	}{
		{model.PhaseCreated, model.PhaseRunning},
		{model.PhaseCreated, model.PhaseStopping},
		{model.PhaseStopped, model.PhaseStopping},
		{model.PhaseRemoved, model.PhaseUnknown},
		{model.PhaseRemoved, model.PhaseCreated},
		{model.PhaseRunning, model.PhaseRemoved},
		{model.PhaseRunning, model.PhaseRunning},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.False(t, model.CanTransition(tt.from, tt.to))
		})
	}
}

func TestUnknownReachesEveryConcreteState(t *testing.T) {
	for _, p := range []model.Phase{model.PhaseCreated, model.PhaseRunning, model.PhaseStopped} {
		assert.True(t, model.CanTransition(model.PhaseUnknown, p), "unknown -> %s", p)
	}
	for _, p := range []model.Phase{model.PhaseRunning, model.PhaseStarting, model.PhaseStopped} {
		assert.True(t, model.CanTransition(p, model.PhaseUnknown), "%s -> unknown", p)
	}
}

func TestEveryPhaseHasAnEntry(t *testing.T) {
	for _, p := range model.AllPhases {
		assert.True(t, p.Valid(), "%s", p)
	}
	assert.False(t, model.Phase("bogus").Valid())
}
