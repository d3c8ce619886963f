package review

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. Schedules live for the process
// lifetime; MarkRun advances the schedule so it is not immediately due
// again.
type MemoryStore struct {
	mu        sync.RWMutex
	schedules map[string]Schedule
	runs      []ServiceReview
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{schedules: make(map[string]Schedule)}
}

// AddSchedule registers a new review schedule.
func (s *MemoryStore) AddSchedule(ctx context.Context, sched Schedule) error {
	if sched.ID == "" {
		return fmt.Errorf("schedule id is required")
	}
	if sched.WorkspaceID == "" {
		return fmt.Errorf("workspace id is required")
	}
	if sched.Service == "" {
		return fmt.Errorf("service is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sched.ID]; ok {
		return fmt.Errorf("schedule %s already exists", sched.ID)
	}
	s.schedules[sched.ID] = sched
	return nil
}

// ListSchedules returns all schedules ordered by id.
func (s *MemoryStore) ListSchedules(ctx context.Context) ([]Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListDue implements Store.
func (s *MemoryStore) ListDue(ctx context.Context, now time.Time) ([]Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []Schedule
	for _, sched := range s.schedules {
		if sched.Due(now) {
			due = append(due, sched)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

// MarkRun implements Store. It records the run and moves the
// schedule's LastRunAt forward.
func (s *MemoryStore) MarkRun(ctx context.Context, r ServiceReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[r.ScheduleID]
	if !ok {
		return fmt.Errorf("unknown schedule %s", r.ScheduleID)
	}
	sched.LastRunAt = r.CreatedAt
	s.schedules[r.ScheduleID] = sched
	s.runs = append(s.runs, r)
	return nil
}
