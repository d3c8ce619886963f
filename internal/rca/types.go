// Package rca implements the investigation state machine that drives a
// root-cause analysis: resolve context, classify intent, then loop
// through hypothesize, gather evidence, and validate until a hypothesis
// is confirmed or the loop budget runs out, and finally synthesize a
// report.
package rca

import "time"

// Stage names a node in the investigation state machine.
type Stage string

const (
	StageResolveContext Stage = "resolve_context"
	StageClassifyIntent Stage = "classify_intent"
	StageConversational Stage = "conversational"
	StageHypothesize    Stage = "hypothesize"
	StageGatherEvidence Stage = "gather_evidence"
	StageValidate       Stage = "validate"
	StageSynthesize     Stage = "synthesize"
)

// Intent is the classified purpose of an incoming message.
type Intent string

const (
	// IntentRCA routes into the full investigation pipeline. It is the
	// only intent that does: any other classifier output, including
	// values the classifier invented, routes conversational.
	IntentRCA Intent = "rca_investigation"

	// IntentConversational routes to a single direct reply.
	IntentConversational Intent = "conversational"
)

// ValidationStatus is the review status of a hypothesis.
type ValidationStatus string

const (
	// StatusPending indicates the hypothesis has not been validated yet.
	StatusPending ValidationStatus = "pending"

	// StatusValidated indicates evidence confirmed the hypothesis.
	StatusValidated ValidationStatus = "validated"

	// StatusRejected indicates evidence disproved the hypothesis.
	StatusRejected ValidationStatus = "rejected"

	// StatusNeedsMoreEvidence indicates the evidence collected so far
	// was inconclusive.
	StatusNeedsMoreEvidence ValidationStatus = "needs_more_evidence"
)

// Hypothesis is a candidate root cause under investigation.
type Hypothesis struct {
	// ID is unique within the investigation.
	ID string `json:"id"`

	// Claim is a falsifiable statement of the suspected root cause.
	Claim string `json:"claim"`

	// Rationale explains why this claim is worth investigating.
	Rationale string `json:"rationale,omitempty"`

	// Status is the current validation status.
	Status ValidationStatus `json:"status"`

	// Confidence is a score from 0 to 100. Values outside the range
	// are clamped on ingestion, never rejected.
	Confidence int `json:"confidence"`

	// RejectionReason is set when Status is StatusRejected.
	RejectionReason string `json:"rejection_reason,omitempty"`

	// CreatedAt is when this hypothesis was generated.
	CreatedAt time.Time `json:"created_at"`
}

// ClampConfidence forces a confidence score into the 0-100 range.
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// Evidence is one piece of collected evidence.
type Evidence struct {
	// Tool is the tool that produced the evidence, if any.
	Tool string `json:"tool,omitempty"`

	// Summary describes what was found.
	Summary string `json:"summary"`

	// Iteration is the validation loop iteration that collected it.
	Iteration int `json:"iteration"`

	// CollectedAt is when the evidence was recorded.
	CollectedAt time.Time `json:"collected_at"`
}

// TraceEvent records one stage transition or stage-level failure. Node
// errors inside the loop are recorded here instead of aborting the
// investigation.
type TraceEvent struct {
	Stage  Stage     `json:"stage"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// State carries an investigation through the state machine.
type State struct {
	JobID       string `json:"job_id"`
	WorkspaceID string `json:"workspace_id"`
	Query       string `json:"query"`

	Intent Intent `json:"intent,omitempty"`
	Stage  Stage  `json:"stage"`

	// Iteration counts completed validation passes. MaxLoops bounds it.
	Iteration int `json:"iteration"`
	MaxLoops  int `json:"max_loops"`

	// Hypotheses is the current batch under investigation. Superseded
	// batches move to History when a fresh batch is generated.
	Hypotheses []Hypothesis   `json:"hypotheses,omitempty"`
	History    [][]Hypothesis `json:"history,omitempty"`

	Evidence []Evidence   `json:"evidence,omitempty"`
	Trace    []TraceEvent `json:"trace,omitempty"`

	// Report is the synthesized investigation report, or the direct
	// reply for conversational intent.
	Report string `json:"report,omitempty"`
}

// hasStatus reports whether any hypothesis has the given status.
func (s *State) hasStatus(status ValidationStatus) bool {
	for _, h := range s.Hypotheses {
		if h.Status == status {
			return true
		}
	}
	return false
}

// allRejected reports whether every hypothesis is rejected. An empty
// batch is not considered all-rejected.
func (s *State) allRejected() bool {
	if len(s.Hypotheses) == 0 {
		return false
	}
	for _, h := range s.Hypotheses {
		if h.Status != StatusRejected {
			return false
		}
	}
	return true
}

// bestHypothesis returns the strongest candidate in the current batch:
// the highest-confidence validated hypothesis, else the
// highest-confidence inconclusive one, else nil.
func (s *State) bestHypothesis() *Hypothesis {
	best := func(status ValidationStatus) *Hypothesis {
		var out *Hypothesis
		for i := range s.Hypotheses {
			h := &s.Hypotheses[i]
			if h.Status != status {
				continue
			}
			if out == nil || h.Confidence > out.Confidence {
				out = h
			}
		}
		return out
	}
	if h := best(StatusValidated); h != nil {
		return h
	}
	return best(StatusNeedsMoreEvidence)
}

// nextAfterValidate routes the state machine after a validation pass.
// The checks are ordered: a single validated hypothesis wins over an
// exhausted loop budget, and an exhausted budget wins over everything
// else, so the loop always terminates.
func nextAfterValidate(s *State) Stage {
	if s.hasStatus(StatusValidated) {
		return StageSynthesize
	}
	if s.Iteration >= s.MaxLoops {
		return StageSynthesize
	}
	if s.allRejected() {
		return StageHypothesize
	}
	return StageGatherEvidence
}
