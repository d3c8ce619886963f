package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProber returns a fixed error for every probe.
type stubProber struct {
	err   error
	calls int
}

func (p *stubProber) Probe(_ context.Context, _ Integration) error {
	p.calls++
	return p.err
}

func seedStore(t *testing.T, ins ...Integration) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	for _, in := range ins {
		store.Put(in)
	}
	return store
}

func TestCheckIntegrationHealth_ProbeSuccess(t *testing.T) {
	store := seedStore(t, Integration{
		ID:          "int-1",
		WorkspaceID: "ws-1",
		Provider:    ProviderGrafana,
		Status:      "connected",
		HealthStatus: HealthFailed,
	})

	prober := &stubProber{}
	svc := NewHealthService(store, map[string]Prober{ProviderGrafana: prober})
	svc.now = func() time.Time { return time.Unix(1000, 0) }

	got, err := svc.CheckIntegrationHealth(context.Background(), "int-1")
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, got.HealthStatus)
	assert.Equal(t, time.Unix(1000, 0), got.LastCheckedAt)
	assert.Equal(t, 1, prober.calls)

	// Refreshed status is persisted, not just returned.
	persisted, err := store.Get(context.Background(), "int-1")
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, persisted.HealthStatus)
}

func TestCheckIntegrationHealth_ProbeFailure(t *testing.T) {
	store := seedStore(t, Integration{
		ID:       "int-2",
		Provider: ProviderDatadog,
		Status:   "connected",
	})

	svc := NewHealthService(store, map[string]Prober{
		ProviderDatadog: &stubProber{err: errors.New("connection refused")},
	})

	got, err := svc.CheckIntegrationHealth(context.Background(), "int-2")
	require.NoError(t, err, "a failed probe is a status, not an error")
	assert.Equal(t, HealthFailed, got.HealthStatus)
}

func TestCheckIntegrationHealth_NoProberRegistered(t *testing.T) {
	store := seedStore(t, Integration{ID: "int-3", Provider: "unknown-provider"})
	svc := NewHealthService(store, map[string]Prober{})

	got, err := svc.CheckIntegrationHealth(context.Background(), "int-3")
	require.NoError(t, err)
	assert.Equal(t, HealthFailed, got.HealthStatus)
}

func TestCheckIntegrationHealth_UnknownID(t *testing.T) {
	svc := NewHealthService(NewMemoryStore(), map[string]Prober{})

	_, err := svc.CheckIntegrationHealth(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListByWorkspace(t *testing.T) {
	store := seedStore(t,
		Integration{ID: "a", WorkspaceID: "ws-1", Provider: ProviderGitHub},
		Integration{ID: "b", WorkspaceID: "ws-1", Provider: ProviderGrafana},
		Integration{ID: "c", WorkspaceID: "ws-2", Provider: ProviderAWS},
	)

	got, err := store.ListByWorkspace(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
