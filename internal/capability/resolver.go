package capability

import (
	"context"
	"fmt"

	"github.com/kausalhq/kausal/internal/integration"
	"github.com/kausalhq/kausal/internal/logging"
)

// Resolver builds the ExecutionContext for a workspace from its integrations.
type Resolver struct {
	integrations integration.Service
	logger       *logging.Logger
}

// NewResolver creates a Resolver backed by the integration service.
func NewResolver(svc integration.Service) *Resolver {
	return &Resolver{
		integrations: svc,
		logger:       logging.GetLogger("capability.resolver"),
	}
}

// Resolve fetches the workspace's integrations, re-verifies any whose health
// is unknown or failed, and unions the capabilities of the survivors.
//
// A stale "healthy" flag is trusted as-is: probing every healthy integration
// on every job would add latency and API cost for the common case. An unknown
// or failed status is re-probed live so an integration that has recovered
// gets back into the capability set without manual intervention. A probe
// error for one integration excludes only that integration; resolution
// continues for the others.
func (r *Resolver) Resolve(ctx context.Context, workspaceID string) (*ExecutionContext, error) {
	ins, err := r.integrations.GetWorkspaceIntegrations(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list integrations for workspace %s: %w", workspaceID, err)
	}

	ec := &ExecutionContext{
		WorkspaceID:  workspaceID,
		Capabilities: NewSet(),
		Integrations: make(map[string]integration.Integration),
	}

	for _, in := range ins {
		if !in.Connected() {
			continue
		}

		accepted := in
		if in.HealthStatus != integration.HealthHealthy {
			refreshed, probeErr := r.integrations.CheckIntegrationHealth(ctx, in.ID)
			if probeErr != nil {
				r.logger.ErrorWithErr("health re-check for %s failed, excluding integration", probeErr, in.ID)
				continue
			}
			accepted = refreshed
		}

		if accepted.HealthStatus != integration.HealthHealthy {
			r.logger.Debug("excluding unhealthy integration %s (%s)", accepted.ID, accepted.Provider)
			continue
		}

		ec.Integrations[accepted.Provider] = accepted
		for _, c := range ForProvider(accepted.Provider) {
			ec.Capabilities.Add(c)
		}
	}

	r.logger.InfoWithFields("resolved execution context",
		logging.Field("workspace_id", workspaceID),
		logging.Field("capabilities", ec.Capabilities.Sorted()),
		logging.Field("integrations", len(ec.Integrations)),
	)
	return ec, nil
}
