package model

// Phase names reported by the agent via progress events.
//
// The canonical phases form an ordered pipeline; progress may only move
// forward through them. Non-canonical phases (correction and clarification
// loops, plus anything a newer agent version invents) are displayed but
// never participate in ordering comparisons.
const (
	PhaseRouter     = "router"
	PhasePlan       = "plan"
	PhaseExecute    = "execute"
	PhaseSynthesize = "synthesize"
	PhaseVisualize  = "visualize"

	PhaseCorrect = "correct"
	PhaseClarify = "clarify"
)

// canonicalPhases is the pipeline order used for regression filtering.
var canonicalPhases = []string{
	PhaseRouter,
	PhasePlan,
	PhaseExecute,
	PhaseSynthesize,
	PhaseVisualize,
}

// CanonicalPhases returns a copy of the canonical phase pipeline in order.
func CanonicalPhases() []string {
	out := make([]string, len(canonicalPhases))
	copy(out, canonicalPhases)
	return out
}

// PhaseIndex returns the position of name in the canonical pipeline,
// or -1 when the phase is not canonical.
func PhaseIndex(name string) int {
	for i, p := range canonicalPhases {
		if p == name {
			return i
		}
	}
	return -1
}

// IsCanonicalPhase reports whether name is part of the canonical pipeline.
func IsCanonicalPhase(name string) bool {
	return PhaseIndex(name) >= 0
}

// PhaseProgress tracks the displayed execution progress of one run.
// The zero value is ready to use.
type PhaseProgress struct {
	// Current is the phase being displayed, empty when no phase has been
	// observed (or after the run completed).
	Current string

	// Completed holds finished phases in the order they were left.
	// Insertion-ordered, duplicate-free.
	Completed []string

	// CorrectionAttempts counts entries into the "correct" phase,
	// repeats included.
	CorrectionAttempts int
}

// Observe applies one progress event. Canonical phases may only advance:
// when both the current and the observed phase are canonical and the
// observed index does not exceed the current one, the event is dropped
// (out-of-order delivery guard). Non-canonical phases always apply.
func (pp *PhaseProgress) Observe(phase string) {
	prevIdx := PhaseIndex(pp.Current)
	nextIdx := PhaseIndex(phase)
	if prevIdx >= 0 && nextIdx >= 0 && nextIdx <= prevIdx {
		return
	}

	if phase == PhaseCorrect {
		pp.CorrectionAttempts++
	}

	if pp.Current != "" && pp.Current != phase {
		pp.markCompleted(pp.Current)
	}
	pp.Current = phase
}

// Finish locks the progress to "done": every canonical phase is marked
// completed and the current phase is cleared. Called when the terminal
// result event arrives.
func (pp *PhaseProgress) Finish() {
	pp.Completed = CanonicalPhases()
	pp.Current = ""
}

// Reset clears all progress for a new run.
func (pp *PhaseProgress) Reset() {
	pp.Current = ""
	pp.Completed = nil
	pp.CorrectionAttempts = 0
}

// Clone returns an independent copy, safe to hand to renderers.
func (pp *PhaseProgress) Clone() PhaseProgress {
	out := PhaseProgress{
		Current:            pp.Current,
		CorrectionAttempts: pp.CorrectionAttempts,
	}
	if len(pp.Completed) > 0 {
		out.Completed = make([]string, len(pp.Completed))
		copy(out.Completed, pp.Completed)
	}
	return out
}

func (pp *PhaseProgress) markCompleted(phase string) {
	for _, p := range pp.Completed {
		if p == phase {
			return
		}
	}
	pp.Completed = append(pp.Completed, phase)
}
