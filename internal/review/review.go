// Package review schedules periodic service health reviews. A due
// schedule turns into a regular investigation job with a
// review-specific query, so reviews reuse the whole investigation
// pipeline including progress reporting and delivery.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/kausalhq/kausal/internal/job"
	"github.com/kausalhq/kausal/internal/logging"
	"github.com/kausalhq/kausal/internal/worker"
)

// DefaultCadence is the review interval for schedules that do not set
// their own.
const DefaultCadence = 24 * time.Hour

// Schedule is a recurring review of one service.
type Schedule struct {
	ID          string
	WorkspaceID string
	Service     string

	// Cadence is the interval between reviews. Zero means
	// DefaultCadence.
	Cadence time.Duration

	// LastRunAt is when the last review job was submitted. Zero means
	// the schedule has never run.
	LastRunAt time.Time
}

// Due reports whether the schedule should run at the given time.
func (s Schedule) Due(now time.Time) bool {
	if s.LastRunAt.IsZero() {
		return true
	}
	return !now.Before(s.NextRun())
}

// NextRun returns when the schedule becomes due.
func (s Schedule) NextRun() time.Time {
	cadence := s.Cadence
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return s.LastRunAt.Add(cadence)
}

// Query builds the investigation query for a review run.
func (s Schedule) Query() string {
	return fmt.Sprintf(
		"Periodic health review of service %q: check error rates, latency, active alerts, and recent deployments, and report anything that needs attention.",
		s.Service)
}

// ServiceReview records one submitted review run.
type ServiceReview struct {
	ID         string
	ScheduleID string
	JobID      string
	CreatedAt  time.Time
}

// Store persists schedules and review runs.
type Store interface {
	// ListDue returns schedules due at the given time.
	ListDue(ctx context.Context, now time.Time) ([]Schedule, error)

	// MarkRun records that a schedule ran and produced the given job.
	MarkRun(ctx context.Context, review ServiceReview) error
}

// Submitter enqueues investigation jobs. Implemented by
// worker.Submitter.
type Submitter interface {
	Submit(ctx context.Context, req worker.SubmitRequest) (*job.Job, error)
}

// Runner submits jobs for every due schedule.
type Runner struct {
	store     Store
	submitter Submitter
	logger    *logging.Logger
	now       func() time.Time
	newID     func() string
}

// NewRunner creates a Runner.
func NewRunner(store Store, submitter Submitter, newID func() string, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.GetLogger("review")
	}
	return &Runner{
		store:     store,
		submitter: submitter,
		logger:    logger,
		now:       time.Now,
		newID:     newID,
	}
}

// RunDue submits one review job per due schedule and returns how many
// were submitted. A single schedule failing does not stop the rest.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	now := r.now()
	due, err := r.store.ListDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due schedules: %w", err)
	}

	submitted := 0
	for _, s := range due {
		j, err := r.submitter.Submit(ctx, worker.SubmitRequest{
			WorkspaceID: s.WorkspaceID,
			Query:       s.Query(),
		})
		if err != nil {
			r.logger.ErrorWithErr("review submit failed for schedule %s", err, s.ID)
			continue
		}
		if err := r.store.MarkRun(ctx, ServiceReview{
			ID:         r.newID(),
			ScheduleID: s.ID,
			JobID:      j.ID,
			CreatedAt:  now,
		}); err != nil {
			r.logger.ErrorWithErr("recording review run for schedule %s failed", err, s.ID)
			continue
		}
		submitted++
	}
	return submitted, nil
}
