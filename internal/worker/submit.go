package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kausalhq/kausal/internal/capability"
	"github.com/kausalhq/kausal/internal/job"
	"github.com/kausalhq/kausal/internal/logging"
	"github.com/kausalhq/kausal/internal/pii"
	"github.com/kausalhq/kausal/internal/queue"
)

// SubmitRequest describes a new investigation to enqueue.
type SubmitRequest struct {
	WorkspaceID   string
	Query         string
	Source        job.Source
	Slack         *job.SlackRef
	ThreadHistory []capability.Turn

	// Backoff optionally defers processing until the given time.
	Backoff time.Time
}

// Submitter creates jobs and enqueues them. The query is masked before
// it is stored so no sensitive value ever reaches a prompt; the mapping
// travels with the job for unmasking on delivery.
type Submitter struct {
	queue  queue.Queue
	jobs   job.Store
	logger *logging.Logger
	newID  func() string
	now    func() time.Time
}

// NewSubmitter creates a Submitter.
func NewSubmitter(q queue.Queue, jobs job.Store, logger *logging.Logger) *Submitter {
	if logger == nil {
		logger = logging.GetLogger("worker.submit")
	}
	return &Submitter{
		queue:  q,
		jobs:   jobs,
		logger: logger,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Submit masks the query, persists the job as QUEUED, and publishes it.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*job.Job, error) {
	if req.WorkspaceID == "" {
		return nil, fmt.Errorf("workspace id is required")
	}
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	source := req.Source
	if source == "" {
		source = job.SourceWeb
	}

	masker := pii.NewMasker()
	masked := masker.Mask(req.Query)

	history := make([]capability.Turn, 0, len(req.ThreadHistory))
	for _, turn := range req.ThreadHistory {
		history = append(history, capability.Turn{
			Role:    turn.Role,
			Content: masker.Mask(turn.Content),
		})
	}

	j := &job.Job{
		ID:            s.newID(),
		WorkspaceID:   req.WorkspaceID,
		Query:         masked,
		Status:        job.StatusQueued,
		Source:        source,
		Slack:         req.Slack,
		ThreadHistory: history,
		BackoffUntil:  req.Backoff,
		PIIMapping:    masker.Mapping(),
		CreatedAt:     s.now(),
	}

	if err := s.jobs.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	var delay time.Duration
	if !req.Backoff.IsZero() {
		delay = queue.ClampDelay(req.Backoff.Sub(s.now()))
	}
	if err := s.queue.Enqueue(ctx, j.ID, delay); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("job %s submitted: workspace=%s source=%s", j.ID, j.WorkspaceID, j.Source)
	return j, nil
}
