package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kausalhq/kausal/internal/integration"
)

// fakeIntegrationService scripts GetWorkspaceIntegrations and probe outcomes.
type fakeIntegrationService struct {
	integrations []integration.Integration
	listErr      error

	// probeResults maps integration id to the refreshed record or an error.
	probeResults map[string]integration.Integration
	probeErrs    map[string]error
	probed       []string
}

func (f *fakeIntegrationService) GetWorkspaceIntegrations(_ context.Context, _ string) ([]integration.Integration, error) {
	return f.integrations, f.listErr
}

func (f *fakeIntegrationService) CheckIntegrationHealth(_ context.Context, id string) (integration.Integration, error) {
	f.probed = append(f.probed, id)
	if err, ok := f.probeErrs[id]; ok {
		return integration.Integration{}, err
	}
	return f.probeResults[id], nil
}

func connected(id, provider string, health integration.HealthStatus) integration.Integration {
	return integration.Integration{
		ID:           id,
		WorkspaceID:  "ws-1",
		Provider:     provider,
		Status:       "connected",
		HealthStatus: health,
	}
}

func TestResolve_HealthyTrustedWithoutProbe(t *testing.T) {
	svc := &fakeIntegrationService{
		integrations: []integration.Integration{
			connected("gh", integration.ProviderGitHub, integration.HealthHealthy),
		},
	}

	ec, err := NewResolver(svc).Resolve(context.Background(), "ws-1")
	require.NoError(t, err)

	assert.Empty(t, svc.probed, "a stale healthy flag is trusted optimistically")
	assert.True(t, ec.Capabilities.Has(CodeRead))
	assert.True(t, ec.Capabilities.Has(CodeSearch))
	assert.True(t, ec.Capabilities.Has(RepositoryInfo))
	assert.False(t, ec.Capabilities.Has(Logs))
}

func TestResolve_UnknownHealthIsReProbed(t *testing.T) {
	svc := &fakeIntegrationService{
		integrations: []integration.Integration{
			connected("gf", integration.ProviderGrafana, integration.HealthUnknown),
		},
		probeResults: map[string]integration.Integration{
			"gf": connected("gf", integration.ProviderGrafana, integration.HealthHealthy),
		},
	}

	ec, err := NewResolver(svc).Resolve(context.Background(), "ws-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"gf"}, svc.probed)
	assert.True(t, ec.Capabilities.Has(Logs))
	assert.True(t, ec.Capabilities.Has(Metrics))
}

func TestResolve_FailedIntegrationCanRecover(t *testing.T) {
	svc := &fakeIntegrationService{
		integrations: []integration.Integration{
			connected("dd", integration.ProviderDatadog, integration.HealthFailed),
		},
		probeResults: map[string]integration.Integration{
			"dd": connected("dd", integration.ProviderDatadog, integration.HealthHealthy),
		},
	}

	ec, err := NewResolver(svc).Resolve(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.True(t, ec.Capabilities.Has(Alerts))
}

func TestResolve_StillFailedAfterProbeIsExcluded(t *testing.T) {
	svc := &fakeIntegrationService{
		integrations: []integration.Integration{
			connected("aws", integration.ProviderAWS, integration.HealthFailed),
		},
		probeResults: map[string]integration.Integration{
			"aws": connected("aws", integration.ProviderAWS, integration.HealthFailed),
		},
	}

	ec, err := NewResolver(svc).Resolve(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.True(t, ec.Capabilities.IsEmpty())
	assert.Empty(t, ec.Integrations)
}

func TestResolve_ProbeErrorExcludesOnlyThatIntegration(t *testing.T) {
	svc := &fakeIntegrationService{
		integrations: []integration.Integration{
			connected("gh", integration.ProviderGitHub, integration.HealthHealthy),
			connected("gf", integration.ProviderGrafana, integration.HealthUnknown),
		},
		probeErrs: map[string]error{
			"gf": errors.New("probe timeout"),
		},
	}

	ec, err := NewResolver(svc).Resolve(context.Background(), "ws-1")
	require.NoError(t, err, "one unhealthy integration never aborts resolution")

	assert.True(t, ec.Capabilities.Has(CodeRead))
	assert.False(t, ec.Capabilities.Has(Metrics))
}

func TestResolve_DisconnectedIntegrationSkipped(t *testing.T) {
	in := connected("nr", integration.ProviderNewRelic, integration.HealthHealthy)
	in.Status = "revoked"
	svc := &fakeIntegrationService{integrations: []integration.Integration{in}}

	ec, err := NewResolver(svc).Resolve(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.True(t, ec.Capabilities.IsEmpty())
}

// Capability monotonicity: resolution never yields a capability outside the
// static table for the providers actually accepted.
func TestResolve_CapabilityMonotonicity(t *testing.T) {
	providers := []string{
		integration.ProviderGitHub,
		integration.ProviderGrafana,
		integration.ProviderAWS,
		integration.ProviderDatadog,
		integration.ProviderNewRelic,
		"unknown-vendor",
	}

	for _, provider := range providers {
		svc := &fakeIntegrationService{
			integrations: []integration.Integration{
				connected("x", provider, integration.HealthHealthy),
			},
		}
		ec, err := NewResolver(svc).Resolve(context.Background(), "ws-1")
		require.NoError(t, err)

		implied := NewSet(ForProvider(provider)...)
		for c := range ec.Capabilities {
			assert.True(t, implied.Has(c),
				"capability %s not implied by provider %s", c, provider)
		}
	}
}

func TestSetOperations(t *testing.T) {
	a := NewSet(Logs, Metrics)
	b := NewSet(Metrics, CodeRead)

	u := a.Union(b)
	assert.Equal(t, []Capability{CodeRead, Logs, Metrics}, u.Sorted())
	assert.True(t, NewSet().IsEmpty())
	assert.False(t, u.IsEmpty())
}
