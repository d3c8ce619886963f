package rca

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/kausalhq/kausal/internal/agent/executor"
	"github.com/kausalhq/kausal/internal/agent/tools"
	"github.com/kausalhq/kausal/internal/capability"
	"github.com/kausalhq/kausal/internal/llm/jsonextract"
	"github.com/kausalhq/kausal/internal/llm/provider"
	"github.com/kausalhq/kausal/internal/logging"
	"github.com/kausalhq/kausal/internal/progress"
)

const (
	// DefaultMaxLoops bounds hypothesize/gather/validate cycles.
	DefaultMaxLoops = 2

	// MinHypotheses and MaxHypotheses bound the size of one generated
	// batch. Oversized batches are truncated, undersized ones kept.
	MinHypotheses = 5
	MaxHypotheses = 8

	// DefaultAnalyzeRetries is the retry budget callers pass to
	// AnalyzeWithRetry when wrapping Analyze.
	DefaultAnalyzeRetries uint64 = 2
)

// ContextResolver resolves a workspace into an execution context.
// Implemented by capability.Resolver.
type ContextResolver interface {
	Resolve(ctx context.Context, workspaceID string) (*capability.ExecutionContext, error)
}

// RegistryBuilder builds the workspace-bound tool registry for a
// resolved execution context.
type RegistryBuilder func(execCtx *capability.ExecutionContext) *tools.Registry

// Config configures a Machine.
type Config struct {
	Provider provider.Provider
	Resolver ContextResolver
	Registry RegistryBuilder

	// Reporter receives stage-transition updates. Optional; delivery
	// failures are logged and ignored.
	Reporter progress.Reporter

	// MaxLoops bounds validation cycles. Defaults to DefaultMaxLoops.
	MaxLoops int

	// MaxIterations and MaxDuration bound each evidence-gathering
	// agent run. Zero values use the executor defaults.
	MaxIterations int
	MaxDuration   time.Duration

	Logger *logging.Logger

	// NewID and Now are overridable for tests.
	NewID func() string
	Now   func() time.Time
}

// Request is one investigation request.
type Request struct {
	JobID         string
	WorkspaceID   string
	Query         string
	ThreadHistory []capability.Turn

	// Capabilities optionally narrows the resolved capability set.
	Capabilities capability.Set

	// ServiceMapping is the service→repository mapping discovered
	// during preprocessing, cached onto the execution context.
	ServiceMapping map[string][]string

	// MaxLoops optionally overrides the machine default for this run.
	MaxLoops int
}

// Machine runs investigations.
type Machine struct {
	cfg    Config
	logger *logging.Logger
}

// NewMachine validates cfg and creates a Machine.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("context resolver is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry builder is required")
	}
	if cfg.MaxLoops <= 0 {
		cfg.MaxLoops = DefaultMaxLoops
	}
	if cfg.Reporter == nil {
		cfg.Reporter = progress.Nop
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger("rca")
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Machine{cfg: cfg, logger: cfg.Logger}, nil
}

// Analyze runs the full state machine for one request.
func (m *Machine) Analyze(ctx context.Context, req Request) (*State, error) {
	state := &State{
		JobID:       req.JobID,
		WorkspaceID: req.WorkspaceID,
		Query:       req.Query,
		Stage:       StageResolveContext,
		MaxLoops:    m.cfg.MaxLoops,
	}
	if req.MaxLoops > 0 {
		state.MaxLoops = req.MaxLoops
	}

	// resolve_context
	m.report(ctx, state, "Resolving workspace context")
	execCtx, err := m.cfg.Resolver.Resolve(ctx, req.WorkspaceID)
	if err != nil {
		return state, fmt.Errorf("resolve context: %w", err)
	}
	execCtx.ThreadHistory = req.ThreadHistory
	if req.ServiceMapping != nil {
		execCtx.ServiceMapping = req.ServiceMapping
	}
	caps := execCtx.Capabilities
	if req.Capabilities != nil {
		caps = req.Capabilities
	}
	m.trace(state, "resolved %d capabilities", len(caps))

	registry := m.cfg.Registry(execCtx)

	// classify_intent
	state.Stage = StageClassifyIntent
	m.report(ctx, state, "Classifying request")
	state.Intent = m.classifyIntent(ctx, state, execCtx)

	if state.Intent == IntentConversational {
		state.Stage = StageConversational
		reply, err := m.converse(ctx, execCtx, registry, req.Query)
		if err != nil {
			return state, fmt.Errorf("conversational reply: %w", err)
		}
		state.Report = reply
		m.reportDone(ctx, state, false)
		return state, nil
	}

	state.Stage = StageHypothesize

	for {
		switch state.Stage {
		case StageHypothesize:
			m.report(ctx, state, "Forming hypotheses")
			m.hypothesize(ctx, state)
			state.Stage = StageGatherEvidence

		case StageGatherEvidence:
			m.report(ctx, state, "Gathering evidence")
			m.gatherEvidence(ctx, state, execCtx, registry, caps)
			state.Stage = StageValidate

		case StageValidate:
			m.report(ctx, state, "Validating hypotheses")
			m.validate(ctx, state)
			state.Iteration++
			state.Stage = nextAfterValidate(state)

		case StageSynthesize:
			m.report(ctx, state, "Writing report")
			m.synthesize(ctx, state)
			m.reportDone(ctx, state, false)
			return state, nil

		default:
			return state, fmt.Errorf("unexpected stage %q", state.Stage)
		}

		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("investigation canceled at stage %s: %w", state.Stage, err)
		}
	}
}

// AnalyzeWithRetry runs Analyze, retrying transient failures with
// exponential backoff. Context cancellation stops the retries.
func (m *Machine) AnalyzeWithRetry(ctx context.Context, req Request, maxRetries uint64) (*State, error) {
	var state *State
	operation := func() error {
		var err error
		state, err = m.Analyze(ctx, req)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		m.logger.Warn("investigation attempt failed, retrying in %s: job=%s err=%v", wait, req.JobID, err)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return state, err
	}
	return state, nil
}

// RetryingMachine adapts a Machine so plain Analyze calls go through
// AnalyzeWithRetry with a fixed retry budget. The orchestrator holds an
// Analyzer, not a Machine, so retries are wired here.
type RetryingMachine struct {
	Machine *Machine
	Retries uint64
}

// Analyze runs the investigation with retries.
func (r *RetryingMachine) Analyze(ctx context.Context, req Request) (*State, error) {
	return r.Machine.AnalyzeWithRetry(ctx, req, r.Retries)
}

// classifyIntent makes a single model call and applies the routing
// rule: only an exact "rca_investigation" answer routes into the
// investigation pipeline; any other parsed value routes conversational.
// A failed call or unparseable answer defaults to investigation, since
// misrouting an incident to small talk is the costlier mistake.
func (m *Machine) classifyIntent(ctx context.Context, state *State, execCtx *capability.ExecutionContext) Intent {
	resp, err := m.cfg.Provider.Chat(ctx, classifyIntentSystemPrompt,
		[]provider.Message{{Role: provider.RoleUser, Content: state.Query}}, nil)
	if err != nil {
		m.traceErr(state, StageClassifyIntent, err)
		return IntentRCA
	}

	var parsed struct {
		Intent string `json:"intent"`
	}
	if err := jsonextract.Unmarshal(resp.Content, &parsed); err != nil {
		m.traceErr(state, StageClassifyIntent, err)
		return IntentRCA
	}

	if parsed.Intent == string(IntentRCA) {
		m.trace(state, "classified as %s", IntentRCA)
		return IntentRCA
	}
	m.trace(state, "classified as conversational (model said %q)", parsed.Intent)
	return IntentConversational
}

// converse produces a direct reply for conversational intent. The reply
// runs through the same agent executor as evidence gathering, so the
// model can consult workspace tools when a question references past
// activity. A workspace that resolved to no capabilities falls back to
// the minimal fixed set.
func (m *Machine) converse(ctx context.Context, execCtx *capability.ExecutionContext, registry *tools.Registry, query string) (string, error) {
	caps := execCtx.Capabilities
	if caps.IsEmpty() {
		caps = capability.MinimalSet()
	}

	exec, err := executor.NewBuilder(m.cfg.Provider, registry).
		WithContext(execCtx).
		WithCapabilities(caps).
		WithSystemPrompt(conversationalSystemPrompt).
		WithLogger(m.logger.WithName("converse")).
		Build()
	if err != nil {
		return "", err
	}

	outcome, err := exec.Run(ctx, query)
	if err != nil {
		return "", err
	}
	return outcome.FinalText, nil
}

type hypothesisPayload struct {
	Claim      string `json:"claim"`
	Rationale  string `json:"rationale"`
	Confidence int    `json:"confidence"`
}

// hypothesize generates a batch of hypotheses. A superseded batch is
// snapshotted into History first, so the live set only ever holds the
// current round. Any failure, from the model call to the JSON parse to
// an empty batch, degrades to exactly one generic pending hypothesis so
// the loop always has something to investigate.
func (m *Machine) hypothesize(ctx context.Context, state *State) {
	if len(state.Hypotheses) > 0 {
		state.History = append(state.History, state.Hypotheses)
		state.Hypotheses = nil
	}

	resp, err := m.cfg.Provider.Chat(ctx, hypothesizeSystemPrompt,
		[]provider.Message{{Role: provider.RoleUser, Content: buildHypothesizePrompt(state)}}, nil)
	if err != nil {
		m.traceErr(state, StageHypothesize, err)
		m.addFallbackHypothesis(state)
		return
	}

	var parsed struct {
		Hypotheses []hypothesisPayload `json:"hypotheses"`
	}
	if err := jsonextract.Unmarshal(resp.Content, &parsed); err != nil || len(parsed.Hypotheses) == 0 {
		if err == nil {
			err = fmt.Errorf("model returned no hypotheses")
		}
		m.traceErr(state, StageHypothesize, err)
		m.addFallbackHypothesis(state)
		return
	}

	batch := parsed.Hypotheses
	if len(batch) > MaxHypotheses {
		batch = batch[:MaxHypotheses]
	}
	if len(batch) < MinHypotheses {
		m.logger.Debug("hypothesis batch below target size: job=%s got=%d", state.JobID, len(batch))
	}

	now := m.cfg.Now()
	for _, p := range batch {
		if p.Claim == "" {
			continue
		}
		state.Hypotheses = append(state.Hypotheses, Hypothesis{
			ID:         m.cfg.NewID(),
			Claim:      p.Claim,
			Rationale:  p.Rationale,
			Status:     StatusPending,
			Confidence: ClampConfidence(p.Confidence),
			CreatedAt:  now,
		})
	}
	if !state.hasStatus(StatusPending) {
		m.addFallbackHypothesis(state)
		return
	}
	m.trace(state, "generated %d hypotheses", len(batch))
}

// addFallbackHypothesis appends the single generic hypothesis used when
// generation fails.
func (m *Machine) addFallbackHypothesis(state *State) {
	state.Hypotheses = append(state.Hypotheses, Hypothesis{
		ID:         m.cfg.NewID(),
		Claim:      "A recent change in the affected service or one of its direct dependencies caused the reported symptom",
		Rationale:  "Fallback hypothesis: structured generation failed, investigating the most common cause class",
		Status:     StatusPending,
		Confidence: 0,
		CreatedAt:  m.cfg.Now(),
	})
	m.trace(state, "using fallback hypothesis")
}

// evidenceCollector records tool activity from a gather run as evidence
// and forwards nothing: progress forwarding happens at stage level.
type evidenceCollector struct {
	state *State
	now   func() time.Time
}

func (c *evidenceCollector) OnToolStart(string, json.RawMessage) {}

func (c *evidenceCollector) OnToolEnd(name string, result *tools.Result) {
	summary := result.Summary
	if summary == "" && result.Error != "" {
		summary = fmt.Sprintf("%s failed: %s", name, result.Error)
	}
	if summary == "" {
		return
	}
	c.state.Evidence = append(c.state.Evidence, Evidence{
		Tool:        name,
		Summary:     summary,
		Iteration:   c.state.Iteration,
		CollectedAt: c.now(),
	})
}

func (c *evidenceCollector) OnMessage(string) {}

// gatherEvidence runs the tool-using agent against the open hypotheses.
// Failures are traced, not fatal: validation will see whatever evidence
// exists and the loop budget still guarantees termination.
func (m *Machine) gatherEvidence(ctx context.Context, state *State, execCtx *capability.ExecutionContext, registry *tools.Registry, caps capability.Set) {
	// Without capabilities there are no tools to run, so the board gets
	// one explanatory entry instead of an agent run.
	if caps.IsEmpty() {
		state.Evidence = append(state.Evidence, Evidence{
			Summary:     "No evidence could be collected: the workspace has no healthy integrations, so no observability or code tools are available.",
			Iteration:   state.Iteration,
			CollectedAt: m.cfg.Now(),
		})
		m.trace(state, "no capabilities, skipped evidence gathering")
		return
	}

	builder := executor.NewBuilder(m.cfg.Provider, registry).
		WithContext(execCtx).
		WithCapabilities(caps).
		WithCallbacks(&evidenceCollector{state: state, now: m.cfg.Now}).
		WithSystemPrompt(gatherEvidenceSystemPrompt).
		WithLogger(m.logger.WithName("gather"))
	if m.cfg.MaxIterations > 0 {
		builder = builder.WithMaxIterations(m.cfg.MaxIterations)
	}
	if m.cfg.MaxDuration > 0 {
		builder = builder.WithMaxDuration(m.cfg.MaxDuration)
	}

	exec, err := builder.Build()
	if err != nil {
		m.traceErr(state, StageGatherEvidence, err)
		return
	}

	outcome, err := exec.Run(ctx, buildGatherPrompt(state, execCtx))
	if err != nil {
		m.traceErr(state, StageGatherEvidence, err)
		return
	}
	if outcome.FinalText != "" {
		state.Evidence = append(state.Evidence, Evidence{
			Summary:     outcome.FinalText,
			Iteration:   state.Iteration,
			CollectedAt: m.cfg.Now(),
		})
	}
	m.trace(state, "gathered evidence: %d tool calls, %d iterations", outcome.ToolCalls, outcome.Iterations)
}

type validationPayload struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

// validate judges open hypotheses against collected evidence. On any
// failure the statuses are left untouched: the iteration counter still
// advances, so a persistently failing validator drains the loop budget
// and the investigation synthesizes from what it has.
func (m *Machine) validate(ctx context.Context, state *State) {
	resp, err := m.cfg.Provider.Chat(ctx, validateSystemPrompt,
		[]provider.Message{{Role: provider.RoleUser, Content: buildValidatePrompt(state)}}, nil)
	if err != nil {
		m.traceErr(state, StageValidate, err)
		return
	}

	var parsed struct {
		Results []validationPayload `json:"results"`
	}
	if err := jsonextract.Unmarshal(resp.Content, &parsed); err != nil {
		m.traceErr(state, StageValidate, err)
		return
	}

	byID := make(map[string]int, len(state.Hypotheses))
	for i, h := range state.Hypotheses {
		byID[h.ID] = i
	}

	applied := 0
	for _, r := range parsed.Results {
		i, ok := byID[r.ID]
		if !ok {
			m.logger.Debug("validator referenced unknown hypothesis %q", r.ID)
			continue
		}
		h := &state.Hypotheses[i]
		if h.Status == StatusRejected {
			// Rejections are final within an investigation.
			continue
		}
		switch ValidationStatus(r.Status) {
		case StatusValidated:
			h.Status = StatusValidated
		case StatusRejected:
			h.Status = StatusRejected
			h.RejectionReason = r.Reason
		case StatusNeedsMoreEvidence, StatusPending:
			h.Status = StatusNeedsMoreEvidence
		default:
			// Invented statuses count as inconclusive.
			h.Status = StatusNeedsMoreEvidence
		}
		h.Confidence = ClampConfidence(r.Confidence)
		applied++
	}
	m.trace(state, "validated %d hypotheses", applied)
}

// synthesize writes the final report. A failed or empty model response
// degrades to a placeholder built around the strongest hypothesis, so
// every investigation ends with something to deliver.
func (m *Machine) synthesize(ctx context.Context, state *State) {
	resp, err := m.cfg.Provider.Chat(ctx, synthesizeSystemPrompt,
		[]provider.Message{{Role: provider.RoleUser, Content: buildSynthesizePrompt(state)}}, nil)
	if err == nil && resp.Content != "" {
		state.Report = resp.Content
		return
	}
	if err == nil {
		err = fmt.Errorf("model returned empty report")
	}
	m.traceErr(state, StageSynthesize, err)
	state.Report = fallbackReport(state)
}

// fallbackReport is the placeholder delivered when report generation
// itself fails.
func fallbackReport(s *State) string {
	h := s.bestHypothesis()
	if h == nil {
		return "The investigation could not determine a root cause. No hypothesis was supported by the evidence collected."
	}

	var b strings.Builder
	b.WriteString("The investigation could not determine a definitive root cause.\n\n")
	fmt.Fprintf(&b, "Most likely candidate (%s, confidence %d): %s\n", h.Status, h.Confidence, h.Claim)
	if h.Rationale != "" {
		fmt.Fprintf(&b, "\nRationale: %s\n", h.Rationale)
	}
	return b.String()
}

func (m *Machine) report(ctx context.Context, state *State, message string) {
	err := m.cfg.Reporter.Report(ctx, progress.Update{
		JobID:   state.JobID,
		Stage:   string(state.Stage),
		Message: message,
	})
	if err != nil {
		m.logger.Debug("progress delivery failed: job=%s err=%v", state.JobID, err)
	}
}

func (m *Machine) reportDone(ctx context.Context, state *State, failed bool) {
	err := m.cfg.Reporter.Report(ctx, progress.Update{
		JobID:   state.JobID,
		Stage:   string(state.Stage),
		Message: "Investigation complete",
		Done:    true,
		Failed:  failed,
	})
	if err != nil {
		m.logger.Debug("progress delivery failed: job=%s err=%v", state.JobID, err)
	}
}

func (m *Machine) trace(state *State, format string, args ...interface{}) {
	state.Trace = append(state.Trace, TraceEvent{
		Stage:  state.Stage,
		At:     m.cfg.Now(),
		Detail: fmt.Sprintf(format, args...),
	})
}

func (m *Machine) traceErr(state *State, stage Stage, err error) {
	m.logger.Warn("stage %s degraded: job=%s err=%v", stage, state.JobID, err)
	state.Trace = append(state.Trace, TraceEvent{
		Stage: stage,
		At:    m.cfg.Now(),
		Error: err.Error(),
	})
}
