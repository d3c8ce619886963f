package rca

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func stateWith(iteration, maxLoops int, statuses ...ValidationStatus) *State {
	s := &State{Iteration: iteration, MaxLoops: maxLoops}
	for i, st := range statuses {
		s.Hypotheses = append(s.Hypotheses, Hypothesis{ID: string(rune('a' + i)), Status: st})
	}
	return s
}

func TestNextAfterValidate_AnyValidatedWins(t *testing.T) {
	// A validated hypothesis routes to synthesize even when everything
	// else says keep going.
	s := stateWith(1, 5, StatusValidated, StatusRejected, StatusNeedsMoreEvidence)
	assert.Equal(t, StageSynthesize, nextAfterValidate(s))
}

func TestNextAfterValidate_ValidatedBeatsExhaustedBudget(t *testing.T) {
	s := stateWith(5, 2, StatusValidated)
	assert.Equal(t, StageSynthesize, nextAfterValidate(s))
}

func TestNextAfterValidate_BudgetExhausted(t *testing.T) {
	s := stateWith(2, 2, StatusNeedsMoreEvidence, StatusPending)
	assert.Equal(t, StageSynthesize, nextAfterValidate(s))
}

func TestNextAfterValidate_AllRejectedRehypothesizes(t *testing.T) {
	s := stateWith(1, 2, StatusRejected, StatusRejected)
	assert.Equal(t, StageHypothesize, nextAfterValidate(s))
}

func TestNextAfterValidate_BudgetBeatsAllRejected(t *testing.T) {
	// An exhausted budget wins over re-hypothesizing: no fresh batch
	// once the loop allowance is spent.
	s := stateWith(2, 2, StatusRejected, StatusRejected)
	assert.Equal(t, StageSynthesize, nextAfterValidate(s))
}

func TestNextAfterValidate_InconclusiveGathersMore(t *testing.T) {
	s := stateWith(1, 2, StatusNeedsMoreEvidence, StatusRejected)
	assert.Equal(t, StageGatherEvidence, nextAfterValidate(s))
}

func TestNextAfterValidate_EmptyBatchIsNotAllRejected(t *testing.T) {
	s := stateWith(1, 2)
	assert.Equal(t, StageGatherEvidence, nextAfterValidate(s))
}

func TestNextAfterValidate_AlwaysTerminates(t *testing.T) {
	// Whatever the status mix, once iteration reaches MaxLoops only
	// synthesize is reachable.
	mixes := [][]ValidationStatus{
		{StatusPending},
		{StatusNeedsMoreEvidence},
		{StatusRejected},
		{StatusRejected, StatusNeedsMoreEvidence},
		{},
	}
	for _, mix := range mixes {
		s := stateWith(2, 2, mix...)
		assert.Equal(t, StageSynthesize, nextAfterValidate(s), "statuses %v", mix)
	}
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0, ClampConfidence(-5))
	assert.Equal(t, 0, ClampConfidence(0))
	assert.Equal(t, 73, ClampConfidence(73))
	assert.Equal(t, 100, ClampConfidence(100))
	assert.Equal(t, 100, ClampConfidence(250))
}
