// Package integration manages workspace integration records and their health.
//
// An Integration is a per-workspace connection to an external provider
// (GitHub, Grafana, AWS, Datadog, NewRelic). The capability resolver consumes
// this package to decide which abstract capabilities an investigation may use.
package integration

import (
	"context"
	"time"
)

// Provider identifiers. These are the only values accepted in the
// provider→capability table; unknown providers resolve to no capabilities.
const (
	ProviderGitHub   = "github"
	ProviderGrafana  = "grafana"
	ProviderAWS      = "aws"
	ProviderDatadog  = "datadog"
	ProviderNewRelic = "newrelic"
)

// HealthStatus is the persisted health of an integration.
type HealthStatus string

const (
	// HealthUnknown means no probe has recorded a status yet.
	HealthUnknown HealthStatus = ""

	// HealthHealthy means the last probe succeeded.
	HealthHealthy HealthStatus = "healthy"

	// HealthFailed means the last probe failed.
	HealthFailed HealthStatus = "failed"
)

// Integration is a workspace's connection to one external provider.
type Integration struct {
	ID          string
	WorkspaceID string

	// Provider is one of the Provider* constants.
	Provider string

	// Status is the configuration status ("connected", "pending", "revoked").
	// Only connected integrations participate in capability resolution.
	Status string

	// HealthStatus is the result of the most recent health probe.
	HealthStatus HealthStatus

	// LastCheckedAt is when HealthStatus was last refreshed.
	LastCheckedAt time.Time

	// Config holds provider-specific settings (base URL, region, token ref).
	Config map[string]string
}

// Connected reports whether the integration is configured and usable.
func (i Integration) Connected() bool {
	return i.Status == "connected"
}

// Service is the integration collaborator interface consumed by the
// capability resolver and the job worker.
type Service interface {
	// GetWorkspaceIntegrations returns all integrations for a workspace.
	GetWorkspaceIntegrations(ctx context.Context, workspaceID string) ([]Integration, error)

	// CheckIntegrationHealth performs a live probe, persists the refreshed
	// health status, and returns the updated record.
	CheckIntegrationHealth(ctx context.Context, integrationID string) (Integration, error)
}

// Store provides read-then-mutate-then-commit access to integration records.
type Store interface {
	// Get returns the integration by id.
	Get(ctx context.Context, id string) (Integration, error)

	// ListByWorkspace returns all integrations for a workspace in one query.
	ListByWorkspace(ctx context.Context, workspaceID string) ([]Integration, error)

	// UpdateHealth persists a refreshed health status and check timestamp.
	UpdateHealth(ctx context.Context, id string, status HealthStatus, checkedAt time.Time) error
}

// Prober performs a live reachability check against a provider.
type Prober interface {
	// Probe returns nil when the provider is reachable with the
	// integration's credentials. The check must be cheap; it gates
	// capability resolution, not data access.
	Probe(ctx context.Context, in Integration) error
}
