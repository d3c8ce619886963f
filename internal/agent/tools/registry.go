// Package tools provides the tool registry and execution layer for the
// RCA agent. Tools are bound to a workspace when the registry is built:
// tool inputs never carry a workspace identifier, so the model cannot
// steer a query into another tenant's data.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kausalhq/kausal/internal/capability"
	"github.com/kausalhq/kausal/internal/llm/provider"
	"github.com/kausalhq/kausal/internal/logging"
)

const (
	// MaxToolResponseBytes is the maximum size of a tool response in bytes.
	// Responses larger than this will be truncated to prevent context overflow.
	// 50KB is a reasonable limit (~12,500 tokens at 4 chars/token).
	MaxToolResponseBytes = 50 * 1024
)

// Tool defines the interface for agent tools.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Description returns a human-readable description for the LLM.
	Description() string

	// InputSchema returns JSON Schema for input validation.
	InputSchema() map[string]interface{}

	// Capability returns the abstract capability this tool requires.
	Capability() capability.Capability

	// Execute runs the tool with given input.
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Result represents the output of a tool execution.
type Result struct {
	// Success indicates if the tool executed successfully
	Success bool `json:"success"`

	// Data contains the tool's output (tool-specific structure)
	Data interface{} `json:"data,omitempty"`

	// Error contains error details if Success is false
	Error string `json:"error,omitempty"`

	// Summary is a brief description of what happened (for display)
	Summary string `json:"summary,omitempty"`

	// ExecutionTimeMs is how long the tool took to run
	ExecutionTimeMs int64 `json:"executionTimeMs"`
}

// Dependencies contains the external clients tools are built on.
// WorkspaceID scopes every tool to a single tenant.
type Dependencies struct {
	WorkspaceID string
	Logs        LogQuerier
	Metrics     MetricQuerier
	Alerts      AlertLister
	Code        CodeHost
	Logger      *logging.Logger
}

// Registry manages tool registration and discovery for one workspace.
type Registry struct {
	workspaceID string
	tools       map[string]Tool
	mu          sync.RWMutex
	logger      *logging.Logger
}

// NewRegistry creates a tool registry bound to deps.WorkspaceID. Tools
// whose backing client is absent are simply not registered, so the model
// never sees tools it cannot use.
func NewRegistry(deps Dependencies) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetLogger("tools")
	}

	r := &Registry{
		workspaceID: deps.WorkspaceID,
		tools:       make(map[string]Tool),
		logger:      logger,
	}

	if deps.Logs != nil {
		r.register(&QueryLogsTool{client: deps.Logs})
	}
	if deps.Metrics != nil {
		r.register(&QueryMetricsTool{client: deps.Metrics})
	}
	if deps.Alerts != nil {
		r.register(&ListAlertsTool{client: deps.Alerts})
	}
	if deps.Code != nil {
		r.register(&SearchCodeTool{host: deps.Code})
		r.register(&ReadFileTool{host: deps.Code})
		r.register(&RepositoryInfoTool{host: deps.Code})
		r.register(&ListDeploymentsTool{host: deps.Code})
	}

	return r
}

// WorkspaceID returns the workspace this registry is bound to.
func (r *Registry) WorkspaceID() string {
	return r.workspaceID
}

// register adds a tool to the registry (internal, no locking).
func (r *Registry) register(tool Tool) {
	r.tools[tool.Name()] = tool
	r.logger.Debug("registered tool %s (capability %s)", tool.Name(), tool.Capability())
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(tool)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// ToolsFor returns the registered tools whose capability is present in
// caps, sorted by name for deterministic prompt construction.
func (r *Registry) ToolsFor(caps capability.Set) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		if caps.Has(tool.Capability()) {
			tools = append(tools, tool)
		}
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// ProviderToolsFor converts the capability-filtered tool list to provider
// tool definitions.
func (r *Registry) ProviderToolsFor(caps capability.Set) []provider.ToolDefinition {
	tools := r.ToolsFor(caps)
	defs := make([]provider.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, provider.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}
	return defs
}

// Execute runs a tool by name with the given input. The allowed set
// restricts execution to capability-permitted tools; a model that calls
// a tool outside the set gets an error result, not an execution.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage, allowed capability.Set) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("tool %q not found", name),
		}
	}
	if !allowed.Has(tool.Capability()) {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("tool %q requires capability %s which is not available in this workspace", name, tool.Capability()),
		}
	}

	start := time.Now()
	result, err := tool.Execute(ctx, input)
	if err != nil {
		return &Result{
			Success:         false,
			Error:           err.Error(),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}

	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	// Truncate oversized results to prevent context overflow
	return truncateResult(result, MaxToolResponseBytes)
}

// truncatedData is used when tool output exceeds MaxToolResponseBytes.
// It preserves structure while indicating data was truncated.
type truncatedData struct {
	Truncated      bool   `json:"_truncated"`
	OriginalBytes  int    `json:"_original_bytes"`
	TruncatedBytes int    `json:"_truncated_bytes"`
	TruncationNote string `json:"_truncation_note"`
	PartialData    string `json:"partial_data"`
}

// truncateResult checks if the result data exceeds maxBytes and truncates
// it if necessary.
func truncateResult(result *Result, maxBytes int) *Result {
	if result == nil || result.Data == nil {
		return result
	}

	dataBytes, err := json.Marshal(result.Data)
	if err != nil {
		// If we can't marshal, return as-is and let the caller handle it
		return result
	}

	if len(dataBytes) <= maxBytes {
		return result
	}

	// Keep the first ~80% of allowed bytes as partial data for context
	partialDataBytes := maxBytes * 80 / 100
	partialData := string(dataBytes)
	if len(partialData) > partialDataBytes {
		partialData = partialData[:partialDataBytes]
	}

	truncated := &truncatedData{
		Truncated:      true,
		OriginalBytes:  len(dataBytes),
		TruncatedBytes: maxBytes,
		TruncationNote: fmt.Sprintf("Response truncated from %d to ~%d bytes to prevent context overflow. Consider using more specific filters to reduce result size.", len(dataBytes), maxBytes),
		PartialData:    partialData,
	}

	summary := result.Summary
	if summary != "" {
		summary = fmt.Sprintf("%s [TRUNCATED: %d→%d bytes]", summary, len(dataBytes), maxBytes)
	} else {
		summary = fmt.Sprintf("[TRUNCATED: %d→%d bytes]", len(dataBytes), maxBytes)
	}

	return &Result{
		Success:         result.Success,
		Data:            truncated,
		Error:           result.Error,
		Summary:         summary,
		ExecutionTimeMs: result.ExecutionTimeMs,
	}
}
