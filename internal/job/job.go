// Package job defines the investigation job model and its store.
package job

import (
	"context"
	"errors"
	"time"

	"github.com/kausalhq/kausal/internal/capability"
	"github.com/kausalhq/kausal/internal/pii"
)

// Status is the lifecycle state of a job. The only legal transitions
// are QUEUED -> RUNNING -> COMPLETED|FAILED.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Source says where a job came from, which decides how results are
// delivered.
type Source string

const (
	SourceWeb   Source = "WEB"
	SourceSlack Source = "SLACK"
)

// ErrorType classifies a failure for delivery. Configuration failures
// are fixable by the user and carry a remediation link; internal
// failures do not.
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeInternal      ErrorType = "internal"
)

// SlackRef locates the Slack conversation a job belongs to.
type SlackRef struct {
	ChannelID string `json:"channel_id"`
	ThreadTS  string `json:"thread_ts,omitempty"`
}

// Job is one queued investigation.
type Job struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Query       string `json:"query"`
	Status      Status `json:"status"`
	Source      Source `json:"source"`

	// Slack is set when Source is SourceSlack.
	Slack *SlackRef `json:"slack,omitempty"`

	// ThreadHistory carries prior conversation turns into the
	// investigation.
	ThreadHistory []capability.Turn `json:"thread_history,omitempty"`

	// ServiceMapping caches the service→repository mapping discovered
	// during preprocessing.
	ServiceMapping map[string][]string `json:"service_mapping,omitempty"`

	// Metadata carries soft preprocessing results, such as deployment
	// and ownership details keyed by repository.
	Metadata map[string]string `json:"metadata,omitempty"`

	// BackoffUntil defers processing: a dequeued job whose BackoffUntil
	// lies in the future is re-enqueued with a delay instead of run.
	BackoffUntil time.Time `json:"backoff_until,omitempty"`

	// PIIMapping holds the placeholder substitutions applied to the
	// query before it was enqueued, used to unmask results on delivery.
	PIIMapping pii.Mapping `json:"pii_mapping,omitempty"`

	// Report is the final investigation output (masked until delivery).
	Report string `json:"report,omitempty"`

	// Error is set when Status is StatusFailed. ErrorType classifies it
	// for delivery.
	Error     string    `json:"error,omitempty"`
	ErrorType ErrorType `json:"error_type,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// ErrNotFound is returned when a job ID has no stored job.
var ErrNotFound = errors.New("job not found")

// Store persists jobs.
type Store interface {
	// Create stores a new job.
	Create(ctx context.Context, j *Job) error

	// Get returns a job by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// Update replaces the stored job.
	Update(ctx context.Context, j *Job) error

	// MarkRunning transitions a QUEUED job to RUNNING. It returns the
	// job, or ErrNotFound if the job does not exist, or
	// ErrNotQueued if the job exists in any other status. The check and
	// transition are atomic, which makes dequeue idempotent under
	// duplicate queue delivery.
	MarkRunning(ctx context.Context, id string, at time.Time) (*Job, error)
}

// ErrNotQueued is returned by MarkRunning when the job is not in
// StatusQueued.
var ErrNotQueued = errors.New("job is not queued")
