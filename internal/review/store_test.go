package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AddListAndMarkRun(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Unix(1756500000, 0)

	require.NoError(t, store.AddSchedule(ctx, Schedule{ID: "s1", WorkspaceID: "ws-1", Service: "checkout", Cadence: time.Hour}))
	require.NoError(t, store.AddSchedule(ctx, Schedule{ID: "s2", WorkspaceID: "ws-1", Service: "payments", Cadence: time.Hour}))

	due, err := store.ListDue(ctx, base)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "s1", due[0].ID)

	require.NoError(t, store.MarkRun(ctx, ServiceReview{ID: "r1", ScheduleID: "s1", JobID: "j-1", CreatedAt: base}))

	due, err = store.ListDue(ctx, base)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "s2", due[0].ID)

	// s1 comes back once its cadence elapses.
	due, err = store.ListDue(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestMemoryStore_AddScheduleValidation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	assert.Error(t, store.AddSchedule(ctx, Schedule{WorkspaceID: "ws-1", Service: "checkout"}))
	assert.Error(t, store.AddSchedule(ctx, Schedule{ID: "s1", Service: "checkout"}))
	assert.Error(t, store.AddSchedule(ctx, Schedule{ID: "s1", WorkspaceID: "ws-1"}))

	require.NoError(t, store.AddSchedule(ctx, Schedule{ID: "s1", WorkspaceID: "ws-1", Service: "checkout"}))
	assert.Error(t, store.AddSchedule(ctx, Schedule{ID: "s1", WorkspaceID: "ws-1", Service: "checkout"}))
}

func TestMemoryStore_MarkRunUnknownSchedule(t *testing.T) {
	store := NewMemoryStore()
	err := store.MarkRun(context.Background(), ServiceReview{ID: "r1", ScheduleID: "nope"})
	assert.Error(t, err)
}
