// Package executor runs a single tool-using agent loop against an LLM
// provider. Executors are built per request via Builder so each run is
// bound to one workspace's execution context and capability set.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kausalhq/kausal/internal/agent/tools"
	"github.com/kausalhq/kausal/internal/capability"
	"github.com/kausalhq/kausal/internal/llm/provider"
	"github.com/kausalhq/kausal/internal/logging"
)

const (
	// DefaultMaxIterations bounds the number of model round-trips.
	DefaultMaxIterations = 10

	// DefaultMaxDuration bounds the wall-clock time of one run.
	DefaultMaxDuration = 5 * time.Minute
)

// Callbacks receives progress notifications during a run. All methods
// are advisory: a panicking or slow callback must never affect the run
// itself, so implementations are invoked behind a recover.
type Callbacks interface {
	// OnToolStart fires before a tool executes.
	OnToolStart(name string, input json.RawMessage)

	// OnToolEnd fires after a tool executes, successful or not.
	OnToolEnd(name string, result *tools.Result)

	// OnMessage fires when the model produces text content.
	OnMessage(text string)
}

// StopCause says why a run ended.
type StopCause string

const (
	StopCompleted     StopCause = "completed"
	StopMaxIterations StopCause = "max_iterations"
	StopTimeout       StopCause = "timeout"
)

// Outcome is the result of one executor run.
type Outcome struct {
	// FinalText is the model's last text output.
	FinalText string

	// Iterations is the number of model round-trips consumed.
	Iterations int

	// ToolCalls is the total number of tool executions.
	ToolCalls int

	// Stopped says why the run ended.
	Stopped StopCause

	// Usage aggregates token usage across all round-trips.
	Usage provider.Usage
}

// Executor runs the agent loop. Build one with Builder.
type Executor struct {
	provider      provider.Provider
	registry      *tools.Registry
	execCtx       *capability.ExecutionContext
	caps          capability.Set
	callbacks     Callbacks
	systemPrompt  string
	maxIterations int
	maxDuration   time.Duration
	logger        *logging.Logger
}

// Builder assembles an Executor. Zero-value fields fall back to
// defaults at Build time; WorkspaceID scoping comes from the registry
// and execution context, never from model input.
type Builder struct {
	provider      provider.Provider
	registry      *tools.Registry
	execCtx       *capability.ExecutionContext
	caps          capability.Set
	callbacks     Callbacks
	systemPrompt  string
	maxIterations int
	maxDuration   time.Duration
	logger        *logging.Logger
}

// NewBuilder creates a builder over the given provider and tool registry.
func NewBuilder(p provider.Provider, registry *tools.Registry) *Builder {
	return &Builder{
		provider: p,
		registry: registry,
	}
}

// WithContext sets the resolved execution context. Required.
func (b *Builder) WithContext(execCtx *capability.ExecutionContext) *Builder {
	b.execCtx = execCtx
	return b
}

// WithCapabilities overrides the capability set used for tool selection.
// When unset, the execution context's resolved capabilities are used.
// The override can only narrow what the registry already exposes: tools
// outside the workspace's registry do not exist regardless of caps.
func (b *Builder) WithCapabilities(caps capability.Set) *Builder {
	b.caps = caps
	return b
}

// WithCallbacks sets the progress callbacks.
func (b *Builder) WithCallbacks(cb Callbacks) *Builder {
	b.callbacks = cb
	return b
}

// WithSystemPrompt sets the system prompt for the run.
func (b *Builder) WithSystemPrompt(prompt string) *Builder {
	b.systemPrompt = prompt
	return b
}

// WithMaxIterations bounds model round-trips.
func (b *Builder) WithMaxIterations(n int) *Builder {
	b.maxIterations = n
	return b
}

// WithMaxDuration bounds wall-clock run time.
func (b *Builder) WithMaxDuration(d time.Duration) *Builder {
	b.maxDuration = d
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger *logging.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration and returns an Executor.
func (b *Builder) Build() (*Executor, error) {
	if b.provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if b.registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if b.execCtx == nil {
		return nil, fmt.Errorf("execution context is required")
	}

	caps := b.caps
	if caps == nil {
		caps = b.execCtx.Capabilities
	}
	maxIterations := b.maxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	maxDuration := b.maxDuration
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	logger := b.logger
	if logger == nil {
		logger = logging.GetLogger("executor")
	}

	return &Executor{
		provider:      b.provider,
		registry:      b.registry,
		execCtx:       b.execCtx,
		caps:          caps,
		callbacks:     b.callbacks,
		systemPrompt:  b.systemPrompt,
		maxIterations: maxIterations,
		maxDuration:   maxDuration,
		logger:        logger,
	}, nil
}

// Run executes the agent loop for a single user message. The loop ends
// when the model stops requesting tools, when maxIterations round-trips
// are consumed, or when the wall-clock limit expires.
func (e *Executor) Run(ctx context.Context, userMessage string) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.maxDuration)
	defer cancel()

	toolDefs := e.registry.ProviderToolsFor(e.caps)
	messages := e.seedMessages(userMessage)

	outcome := &Outcome{Stopped: StopMaxIterations}

	for i := 0; i < e.maxIterations; i++ {
		resp, err := e.provider.Chat(ctx, e.systemPrompt, messages, toolDefs)
		if err != nil {
			if ctx.Err() != nil {
				outcome.Stopped = StopTimeout
				return outcome, fmt.Errorf("run exceeded %s: %w", e.maxDuration, ctx.Err())
			}
			return nil, fmt.Errorf("model call failed: %w", err)
		}
		outcome.Iterations = i + 1
		outcome.Usage.InputTokens += resp.Usage.InputTokens
		outcome.Usage.OutputTokens += resp.Usage.OutputTokens

		if resp.Content != "" {
			outcome.FinalText = resp.Content
			e.notifyMessage(resp.Content)
		}

		if len(resp.ToolCalls) == 0 {
			outcome.Stopped = StopCompleted
			return outcome, nil
		}

		// Record the assistant turn, then execute every requested tool
		// and feed the results back as a single user turn.
		messages = append(messages, provider.Message{
			Role:    provider.RoleAssistant,
			Content: resp.Content,
			ToolUse: resp.ToolCalls,
		})

		results := make([]provider.ToolResultBlock, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			results = append(results, e.executeTool(ctx, call))
			outcome.ToolCalls++
		}
		messages = append(messages, provider.Message{
			Role:       provider.RoleUser,
			ToolResult: results,
		})

		if ctx.Err() != nil {
			outcome.Stopped = StopTimeout
			return outcome, fmt.Errorf("run exceeded %s: %w", e.maxDuration, ctx.Err())
		}
	}

	e.logger.Warn("agent run hit iteration limit: workspace=%s iterations=%d", e.execCtx.WorkspaceID, e.maxIterations)
	return outcome, nil
}

// seedMessages builds the initial transcript from thread history plus
// the current user message.
func (e *Executor) seedMessages(userMessage string) []provider.Message {
	messages := make([]provider.Message, 0, len(e.execCtx.ThreadHistory)+1)
	for _, turn := range e.execCtx.ThreadHistory {
		role := provider.RoleUser
		if turn.Role == "assistant" {
			role = provider.RoleAssistant
		}
		messages = append(messages, provider.Message{Role: role, Content: turn.Content})
	}
	return append(messages, provider.Message{Role: provider.RoleUser, Content: userMessage})
}

// executeTool runs one tool call and converts the result into a tool
// result block for the model.
func (e *Executor) executeTool(ctx context.Context, call provider.ToolUseBlock) provider.ToolResultBlock {
	e.notifyToolStart(call.Name, call.Input)

	result := e.registry.Execute(ctx, call.Name, call.Input, e.caps)
	e.notifyToolEnd(call.Name, result)

	content, err := json.Marshal(result)
	if err != nil {
		content = []byte(fmt.Sprintf(`{"success":false,"error":"marshal result: %s"}`, err))
	}
	return provider.ToolResultBlock{
		ToolUseID: call.ID,
		Content:   string(content),
		IsError:   !result.Success,
	}
}

// Callback invocations are isolated: a panic in a callback is logged
// and swallowed so progress reporting can never fail a run.

func (e *Executor) notifyToolStart(name string, input json.RawMessage) {
	if e.callbacks == nil {
		return
	}
	defer e.recoverCallback("OnToolStart")
	e.callbacks.OnToolStart(name, input)
}

func (e *Executor) notifyToolEnd(name string, result *tools.Result) {
	if e.callbacks == nil {
		return
	}
	defer e.recoverCallback("OnToolEnd")
	e.callbacks.OnToolEnd(name, result)
}

func (e *Executor) notifyMessage(text string) {
	if e.callbacks == nil {
		return
	}
	defer e.recoverCallback("OnMessage")
	e.callbacks.OnMessage(text)
}

func (e *Executor) recoverCallback(name string) {
	if r := recover(); r != nil {
		e.logger.Warn("progress callback %s panicked: %v", name, r)
	}
}
