package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kausalhq/kausal/internal/agent/tools"
	"github.com/kausalhq/kausal/internal/capability"
	"github.com/kausalhq/kausal/internal/llm/provider"
)

func testContext() *capability.ExecutionContext {
	return &capability.ExecutionContext{
		WorkspaceID:  "ws-1",
		Capabilities: capability.NewSet(capability.Logs, capability.Metrics),
	}
}

func testRegistry() *tools.Registry {
	r := tools.NewRegistry(tools.Dependencies{WorkspaceID: "ws-1"})
	r.Register(&tools.MockTool{
		ToolName:    "query_logs",
		RequiredCap: capability.Logs,
		Response:    &tools.Result{Success: true, Summary: "42 lines"},
	})
	r.Register(&tools.MockTool{
		ToolName:    "query_metrics",
		RequiredCap: capability.Metrics,
		Response:    &tools.Result{Success: true, Summary: "3 series"},
	})
	return r
}

func toolUseResponse(id, name, input string) *provider.Response {
	return &provider.Response{
		StopReason: provider.StopReasonToolUse,
		ToolCalls: []provider.ToolUseBlock{
			{ID: id, Name: name, Input: json.RawMessage(input)},
		},
	}
}

func TestBuilder_RequiresContext(t *testing.T) {
	_, err := NewBuilder(provider.NewMockProvider(), testRegistry()).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution context")
}

func TestBuilder_Defaults(t *testing.T) {
	exec, err := NewBuilder(provider.NewMockProvider(), testRegistry()).
		WithContext(testContext()).
		Build()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, exec.maxIterations)
	assert.Equal(t, DefaultMaxDuration, exec.maxDuration)
}

func TestRun_TextOnlyCompletes(t *testing.T) {
	p := provider.NewMockProvider(provider.TextResponse("all good"))
	exec, err := NewBuilder(p, testRegistry()).WithContext(testContext()).Build()
	require.NoError(t, err)

	outcome, err := exec.Run(context.Background(), "how is checkout doing?")
	require.NoError(t, err)
	assert.Equal(t, StopCompleted, outcome.Stopped)
	assert.Equal(t, "all good", outcome.FinalText)
	assert.Equal(t, 1, outcome.Iterations)
	assert.Zero(t, outcome.ToolCalls)
}

func TestRun_ToolLoopThenAnswer(t *testing.T) {
	p := provider.NewMockProvider(
		toolUseResponse("t1", "query_logs", `{"query":"{service=\"checkout\"}","start_time":1,"end_time":2}`),
		provider.TextResponse("errors started at 14:05"),
	)
	exec, err := NewBuilder(p, testRegistry()).WithContext(testContext()).Build()
	require.NoError(t, err)

	outcome, err := exec.Run(context.Background(), "investigate checkout errors")
	require.NoError(t, err)
	assert.Equal(t, StopCompleted, outcome.Stopped)
	assert.Equal(t, 2, outcome.Iterations)
	assert.Equal(t, 1, outcome.ToolCalls)
	assert.Equal(t, "errors started at 14:05", outcome.FinalText)

	// Second call must carry the tool result back to the model.
	calls := p.Calls()
	require.Len(t, calls, 2)
	last := calls[1].Messages[len(calls[1].Messages)-1]
	require.Len(t, last.ToolResult, 1)
	assert.Equal(t, "t1", last.ToolResult[0].ToolUseID)
	assert.False(t, last.ToolResult[0].IsError)
}

func TestRun_StopsAtMaxIterations(t *testing.T) {
	// Model always wants another tool call; the loop must terminate.
	p := provider.NewMockProvider(toolUseResponse("t1", "query_logs", `{}`))
	exec, err := NewBuilder(p, testRegistry()).
		WithContext(testContext()).
		WithMaxIterations(3).
		Build()
	require.NoError(t, err)

	outcome, err := exec.Run(context.Background(), "investigate")
	require.NoError(t, err)
	assert.Equal(t, StopMaxIterations, outcome.Stopped)
	assert.Equal(t, 3, outcome.Iterations)
	assert.Equal(t, 3, outcome.ToolCalls)
}

func TestRun_CapabilityOverrideNarrowsTools(t *testing.T) {
	p := provider.NewMockProvider(
		toolUseResponse("t1", "query_metrics", `{}`),
		provider.TextResponse("done"),
	)
	exec, err := NewBuilder(p, testRegistry()).
		WithContext(testContext()).
		WithCapabilities(capability.NewSet(capability.Logs)).
		Build()
	require.NoError(t, err)

	outcome, err := exec.Run(context.Background(), "investigate")
	require.NoError(t, err)
	assert.Equal(t, StopCompleted, outcome.Stopped)

	// Only query_logs is offered to the model.
	calls := p.Calls()
	require.NotEmpty(t, calls)
	require.Len(t, calls[0].Tools, 1)
	assert.Equal(t, "query_logs", calls[0].Tools[0].Name)

	// The out-of-capability call comes back as an error result.
	last := calls[1].Messages[len(calls[1].Messages)-1]
	require.Len(t, last.ToolResult, 1)
	assert.True(t, last.ToolResult[0].IsError)
}

type panickyCallbacks struct {
	toolStarts int
}

func (c *panickyCallbacks) OnToolStart(name string, input json.RawMessage) {
	c.toolStarts++
	panic("callback exploded")
}
func (c *panickyCallbacks) OnToolEnd(string, *tools.Result) { panic("callback exploded") }
func (c *panickyCallbacks) OnMessage(string)                { panic("callback exploded") }

func TestRun_CallbackPanicDoesNotFailRun(t *testing.T) {
	p := provider.NewMockProvider(
		toolUseResponse("t1", "query_logs", `{}`),
		provider.TextResponse("done"),
	)
	cb := &panickyCallbacks{}
	exec, err := NewBuilder(p, testRegistry()).
		WithContext(testContext()).
		WithCallbacks(cb).
		Build()
	require.NoError(t, err)

	outcome, err := exec.Run(context.Background(), "investigate")
	require.NoError(t, err)
	assert.Equal(t, StopCompleted, outcome.Stopped)
	assert.Equal(t, 1, cb.toolStarts)
}

func TestRun_ThreadHistorySeedsTranscript(t *testing.T) {
	execCtx := testContext()
	execCtx.ThreadHistory = []capability.Turn{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}

	p := provider.NewMockProvider(provider.TextResponse("ok"))
	exec, err := NewBuilder(p, testRegistry()).WithContext(execCtx).Build()
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), "follow-up")
	require.NoError(t, err)

	calls := p.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Messages, 3)
	assert.Equal(t, provider.RoleUser, calls[0].Messages[0].Role)
	assert.Equal(t, provider.RoleAssistant, calls[0].Messages[1].Role)
	assert.Equal(t, "follow-up", calls[0].Messages[2].Content)
}

func TestRun_WallClockLimit(t *testing.T) {
	slow := tools.NewRegistry(tools.Dependencies{WorkspaceID: "ws-1"})
	slow.Register(&tools.MockTool{
		ToolName:    "query_logs",
		RequiredCap: capability.Logs,
		Response:    &tools.Result{Success: true},
		Delay:       50 * time.Millisecond,
	})

	p := provider.NewMockProvider(toolUseResponse("t1", "query_logs", `{}`))
	exec, err := NewBuilder(p, slow).
		WithContext(testContext()).
		WithMaxDuration(20 * time.Millisecond).
		Build()
	require.NoError(t, err)

	outcome, err := exec.Run(context.Background(), "investigate")
	require.Error(t, err)
	assert.Equal(t, StopTimeout, outcome.Stopped)
}
