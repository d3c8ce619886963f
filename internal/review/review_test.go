package review

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kausalhq/kausal/internal/job"
	"github.com/kausalhq/kausal/internal/worker"
)

func TestSchedule_Due(t *testing.T) {
	base := time.Unix(1756500000, 0)

	tests := []struct {
		name     string
		schedule Schedule
		now      time.Time
		want     bool
	}{
		{"never ran", Schedule{Cadence: time.Hour}, base, true},
		{"cadence elapsed", Schedule{Cadence: time.Hour, LastRunAt: base.Add(-2 * time.Hour)}, base, true},
		{"exactly due", Schedule{Cadence: time.Hour, LastRunAt: base.Add(-time.Hour)}, base, true},
		{"not yet due", Schedule{Cadence: time.Hour, LastRunAt: base.Add(-30 * time.Minute)}, base, false},
		{"default cadence not due", Schedule{LastRunAt: base.Add(-23 * time.Hour)}, base, false},
		{"default cadence due", Schedule{LastRunAt: base.Add(-25 * time.Hour)}, base, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.schedule.Due(tt.now))
		})
	}
}

func TestSchedule_QueryNamesService(t *testing.T) {
	s := Schedule{Service: "checkout"}
	assert.Contains(t, s.Query(), `"checkout"`)
}

type stubStore struct {
	due     []Schedule
	listErr error
	markErr map[string]error
	runs    []ServiceReview
}

func (s *stubStore) ListDue(context.Context, time.Time) ([]Schedule, error) {
	return s.due, s.listErr
}

func (s *stubStore) MarkRun(_ context.Context, r ServiceReview) error {
	if err := s.markErr[r.ScheduleID]; err != nil {
		return err
	}
	s.runs = append(s.runs, r)
	return nil
}

type stubSubmitter struct {
	requests []worker.SubmitRequest
	errFor   map[string]error // keyed by workspace id
	nextJob  int
}

func (s *stubSubmitter) Submit(_ context.Context, req worker.SubmitRequest) (*job.Job, error) {
	if err := s.errFor[req.WorkspaceID]; err != nil {
		return nil, err
	}
	s.requests = append(s.requests, req)
	s.nextJob++
	return &job.Job{ID: fmt.Sprintf("j-%d", s.nextJob)}, nil
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("rev-%d", n)
	}
}

func TestRunDue_SubmitsAndRecordsEachDueSchedule(t *testing.T) {
	store := &stubStore{due: []Schedule{
		{ID: "s1", WorkspaceID: "ws-1", Service: "checkout"},
		{ID: "s2", WorkspaceID: "ws-2", Service: "payments"},
	}}
	submitter := &stubSubmitter{}
	r := NewRunner(store, submitter, sequentialIDs(), nil)

	n, err := r.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, submitter.requests, 2)
	assert.Contains(t, submitter.requests[0].Query, "checkout")
	require.Len(t, store.runs, 2)
	assert.Equal(t, "s1", store.runs[0].ScheduleID)
	assert.Equal(t, "j-1", store.runs[0].JobID)
}

func TestRunDue_OneFailureDoesNotStopTheRest(t *testing.T) {
	store := &stubStore{due: []Schedule{
		{ID: "s1", WorkspaceID: "ws-bad", Service: "checkout"},
		{ID: "s2", WorkspaceID: "ws-2", Service: "payments"},
	}}
	submitter := &stubSubmitter{errFor: map[string]error{"ws-bad": errors.New("queue down")}}
	r := NewRunner(store, submitter, sequentialIDs(), nil)

	n, err := r.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, store.runs, 1)
	assert.Equal(t, "s2", store.runs[0].ScheduleID)
}

func TestRunDue_ListErrorFails(t *testing.T) {
	store := &stubStore{listErr: errors.New("db down")}
	r := NewRunner(store, &stubSubmitter{}, sequentialIDs(), nil)

	_, err := r.RunDue(context.Background())
	assert.Error(t, err)
}
