package integration

import (
	"errors"
	"fmt"
	"time"

	"context"

	"github.com/kausalhq/kausal/internal/logging"
)

// ErrNotFound is returned when an integration id does not exist.
var ErrNotFound = errors.New("integration not found")

// HealthService implements Service on top of a Store and per-provider probers.
type HealthService struct {
	store   Store
	probers map[string]Prober
	logger  *logging.Logger
	now     func() time.Time
}

// NewHealthService creates a HealthService. The probers map is keyed by
// provider name; providers without a prober are treated as unreachable.
func NewHealthService(store Store, probers map[string]Prober) *HealthService {
	return &HealthService{
		store:   store,
		probers: probers,
		logger:  logging.GetLogger("integration"),
		now:     time.Now,
	}
}

// GetWorkspaceIntegrations returns all integrations for a workspace.
func (s *HealthService) GetWorkspaceIntegrations(ctx context.Context, workspaceID string) ([]Integration, error) {
	return s.store.ListByWorkspace(ctx, workspaceID)
}

// CheckIntegrationHealth probes the integration live, persists the refreshed
// status, and returns the updated record. A probe failure is not an error of
// this method: the record comes back with HealthFailed so the caller can
// decide how to degrade.
func (s *HealthService) CheckIntegrationHealth(ctx context.Context, integrationID string) (Integration, error) {
	in, err := s.store.Get(ctx, integrationID)
	if err != nil {
		return Integration{}, fmt.Errorf("load integration %s: %w", integrationID, err)
	}

	status := HealthHealthy
	prober, ok := s.probers[in.Provider]
	if !ok {
		status = HealthFailed
		s.logger.Warn("no prober registered for provider %s, marking failed", in.Provider)
	} else if probeErr := prober.Probe(ctx, in); probeErr != nil {
		status = HealthFailed
		s.logger.WarnWithFields("integration probe failed",
			logging.Field("integration_id", in.ID),
			logging.Field("provider", in.Provider),
			logging.Field("error", probeErr.Error()),
		)
	}

	checkedAt := s.now()
	if err := s.store.UpdateHealth(ctx, in.ID, status, checkedAt); err != nil {
		return Integration{}, fmt.Errorf("persist health for %s: %w", in.ID, err)
	}

	in.HealthStatus = status
	in.LastCheckedAt = checkedAt
	return in, nil
}
