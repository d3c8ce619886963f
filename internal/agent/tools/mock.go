package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kausalhq/kausal/internal/capability"
)

// MockTool is a tool that returns canned responses for testing.
type MockTool struct {
	ToolName        string
	ToolDescription string
	Schema          map[string]interface{}
	RequiredCap     capability.Capability
	Response        *Result
	Err             error
	Delay           time.Duration
}

func (t *MockTool) Name() string        { return t.ToolName }
func (t *MockTool) Description() string { return t.ToolDescription }

func (t *MockTool) InputSchema() map[string]interface{} {
	if t.Schema != nil {
		return t.Schema
	}
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *MockTool) Capability() capability.Capability { return t.RequiredCap }

func (t *MockTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	if t.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.Delay):
		}
	}

	if t.Err != nil {
		return nil, t.Err
	}
	if t.Response == nil {
		return &Result{
			Success: true,
			Summary: fmt.Sprintf("Mock response for %s", t.ToolName),
			Data:    map[string]interface{}{"mock": true},
		}, nil
	}
	return &Result{
		Success: t.Response.Success,
		Data:    t.Response.Data,
		Error:   t.Response.Error,
		Summary: t.Response.Summary,
	}, nil
}
