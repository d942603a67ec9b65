package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotae-ai/kotae/internal/model"
)

// ---- PhaseIndex / IsCanonicalPhase ---------------------------------------

func TestPhaseIndex_CanonicalOrder(t *testing.T) {
	assert.Equal(t, 0, model.PhaseIndex(model.PhaseRouter))
	assert.Equal(t, 1, model.PhaseIndex(model.PhasePlan))
	assert.Equal(t, 2, model.PhaseIndex(model.PhaseExecute))
	assert.Equal(t, 3, model.PhaseIndex(model.PhaseSynthesize))
	assert.Equal(t, 4, model.PhaseIndex(model.PhaseVisualize))
}

func TestPhaseIndex_NonCanonical(t *testing.T) {
	assert.Equal(t, -1, model.PhaseIndex(model.PhaseCorrect))
	assert.Equal(t, -1, model.PhaseIndex(model.PhaseClarify))
	assert.Equal(t, -1, model.PhaseIndex("totally-new-phase"))
	assert.Equal(t, -1, model.PhaseIndex(""))
}

func TestIsCanonicalPhase(t *testing.T) {
	assert.True(t, model.IsCanonicalPhase(model.PhaseExecute))
	assert.False(t, model.IsCanonicalPhase(model.PhaseCorrect))
}

func TestCanonicalPhases_ReturnsCopy(t *testing.T) {
	a := model.CanonicalPhases()
	a[0] = "mutated"
	b := model.CanonicalPhases()
	assert.Equal(t, model.PhaseRouter, b[0], "callers must not be able to mutate the pipeline")
}

// ---- PhaseProgress.Observe -----------------------------------------------

func TestPhaseProgress_AdvancesThroughPipeline(t *testing.T) {
	var pp model.PhaseProgress
	pp.Observe(model.PhaseRouter)
	pp.Observe(model.PhasePlan)
	pp.Observe(model.PhaseExecute)

	assert.Equal(t, model.PhaseExecute, pp.Current)
	assert.Equal(t, []string{model.PhaseRouter, model.PhasePlan}, pp.Completed)
}

func TestPhaseProgress_DropsRegression(t *testing.T) {
	var pp model.PhaseProgress
	pp.Observe(model.PhasePlan)
	pp.Observe(model.PhaseExecute)
	pp.Observe(model.PhaseRouter) // out-of-order delivery

	assert.Equal(t, model.PhaseExecute, pp.Current, "must never regress to an earlier phase")
	assert.NotContains(t, pp.Completed, model.PhaseRouter)
}

func TestPhaseProgress_DropsRepeat(t *testing.T) {
	var pp model.PhaseProgress
	pp.Observe(model.PhaseExecute)
	pp.Observe(model.PhaseExecute)

	assert.Equal(t, model.PhaseExecute, pp.Current)
	assert.Empty(t, pp.Completed)
}

func TestPhaseProgress_RegressionMidSequence(t *testing.T) {
	var pp model.PhaseProgress
	for _, p := range []string{
		model.PhaseRouter,
		model.PhasePlan,
		model.PhaseExecute,
		model.PhasePlan, // ignored
		model.PhaseSynthesize,
	} {
		pp.Observe(p)
	}

	assert.Equal(t, model.PhaseSynthesize, pp.Current)
	assert.Equal(t, []string{model.PhaseRouter, model.PhasePlan, model.PhaseExecute}, pp.Completed)
}

func TestPhaseProgress_CompletedHasNoDuplicates(t *testing.T) {
	var pp model.PhaseProgress
	pp.Observe(model.PhaseRouter)
	pp.Observe(model.PhasePlan)
	pp.Observe(model.PhaseCorrect)
	pp.Observe(model.PhasePlan) // re-entered after the correction loop
	pp.Observe(model.PhaseExecute)

	seen := map[string]int{}
	for _, p := range pp.Completed {
		seen[p]++
	}
	for p, n := range seen {
		assert.Equalf(t, 1, n, "phase %q appears %d times in completed list", p, n)
	}
}

func TestPhaseProgress_NonCanonicalAlwaysApplies(t *testing.T) {
	var pp model.PhaseProgress
	pp.Observe(model.PhaseExecute)
	pp.Observe(model.PhaseClarify)

	assert.Equal(t, model.PhaseClarify, pp.Current)
	assert.Contains(t, pp.Completed, model.PhaseExecute)
}

func TestPhaseProgress_CorrectionCounterCountsRepeats(t *testing.T) {
	var pp model.PhaseProgress
	pp.Observe(model.PhaseExecute)
	pp.Observe(model.PhaseCorrect)
	pp.Observe(model.PhaseExecute)
	pp.Observe(model.PhaseCorrect)
	pp.Observe(model.PhaseCorrect)

	assert.Equal(t, 3, pp.CorrectionAttempts)
}

func TestPhaseProgress_CorrectionDoesNotTouchCanonicalChain(t *testing.T) {
	var pp model.PhaseProgress
	pp.Observe(model.PhaseRouter)
	pp.Observe(model.PhasePlan)
	pp.Observe(model.PhaseCorrect)
	pp.Observe(model.PhaseExecute)

	assert.Equal(t, model.PhaseExecute, pp.Current)
	require.Contains(t, pp.Completed, model.PhaseRouter)
	require.Contains(t, pp.Completed, model.PhasePlan)
	assert.Equal(t, 1, pp.CorrectionAttempts)
}

// Property from the phase contract: after any event sequence the current
// phase is the last event whose canonical index strictly exceeded every
// canonical index seen before it, with non-canonical events always applied.
func TestPhaseProgress_MonotonicProperty(t *testing.T) {
	sequences := [][]string{
		{"plan", "router", "execute", "plan", "visualize"},
		{"router", "router", "router"},
		{"synthesize", "plan", "execute", "visualize"},
		{"execute", "correct", "plan", "execute", "synthesize"},
	}
	expected := []string{"visualize", "router", "visualize", "synthesize"}

	for i, seq := range sequences {
		var pp model.PhaseProgress
		for _, p := range seq {
			pp.Observe(p)
		}
		assert.Equalf(t, expected[i], pp.Current, "sequence %v", seq)
	}
}

// ---- Finish / Reset / Clone ----------------------------------------------

func TestPhaseProgress_FinishLocksToDone(t *testing.T) {
	var pp model.PhaseProgress
	pp.Observe(model.PhaseRouter)
	pp.Observe(model.PhasePlan)
	pp.Finish()

	assert.Empty(t, pp.Current)
	assert.Equal(t, model.CanonicalPhases(), pp.Completed)
}

func TestPhaseProgress_Reset(t *testing.T) {
	var pp model.PhaseProgress
	pp.Observe(model.PhaseRouter)
	pp.Observe(model.PhaseCorrect)
	pp.Reset()

	assert.Empty(t, pp.Current)
	assert.Empty(t, pp.Completed)
	assert.Zero(t, pp.CorrectionAttempts)
}

func TestPhaseProgress_CloneIsIndependent(t *testing.T) {
	var pp model.PhaseProgress
	pp.Observe(model.PhaseRouter)
	pp.Observe(model.PhasePlan)

	snap := pp.Clone()
	pp.Observe(model.PhaseExecute)

	assert.Equal(t, model.PhasePlan, snap.Current)
	assert.Equal(t, []string{model.PhaseRouter}, snap.Completed)
}
