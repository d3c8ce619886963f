package capability

import "github.com/kausalhq/kausal/internal/integration"

// Turn is one prior message in a conversation thread.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExecutionContext scopes one RCA investigation. It is immutable after
// construction: the resolver builds it once per invocation and the state
// machine owns it for the duration of the graph run.
type ExecutionContext struct {
	WorkspaceID string

	// Capabilities is always a subset of the union implied by Integrations.
	// It is never expanded after construction; narrowing for a specific
	// agent happens at executor-build time, not by mutating this field.
	Capabilities Set

	// Integrations maps provider name to the accepted integration record.
	Integrations map[string]integration.Integration

	// ServiceMapping maps a service name to the repositories implementing it.
	ServiceMapping map[string][]string

	// ThreadHistory is the optional prior conversation, oldest first.
	ThreadHistory []Turn
}

// HasCapability reports whether the context grants c.
func (ec *ExecutionContext) HasCapability(c Capability) bool {
	return ec.Capabilities.Has(c)
}

// IntegrationFor returns the accepted integration for a provider, if any.
func (ec *ExecutionContext) IntegrationFor(provider string) (integration.Integration, bool) {
	in, ok := ec.Integrations[provider]
	return in, ok
}
