package tools

import (
	"context"
	"time"
)

// LogQuery describes a log search within a time range.
type LogQuery struct {
	Query string
	Start time.Time
	End   time.Time
	Limit int
}

// LogEntry is a single log line with its labels.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Line      string            `json:"line"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// LogQuerier searches logs in the workspace's log backend.
type LogQuerier interface {
	QueryLogs(ctx context.Context, q LogQuery) ([]LogEntry, error)
}

// MetricQuery describes a metric query within a time range.
type MetricQuery struct {
	Expr  string
	Start time.Time
	End   time.Time
}

// MetricPoint is a single sample.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricSeries is a labelled series of samples.
type MetricSeries struct {
	Labels map[string]string `json:"labels,omitempty"`
	Points []MetricPoint     `json:"points"`
}

// MetricQuerier evaluates metric expressions against the workspace's
// metrics backend.
type MetricQuerier interface {
	QueryMetrics(ctx context.Context, q MetricQuery) ([]MetricSeries, error)
}

// AlertSummary describes a firing alert.
type AlertSummary struct {
	Name        string            `json:"name"`
	State       string            `json:"state"`
	StartsAt    time.Time         `json:"starts_at"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// AlertLister lists currently firing alerts.
type AlertLister interface {
	ListAlerts(ctx context.Context) ([]AlertSummary, error)
}

// CodeMatch is a single code search hit.
type CodeMatch struct {
	Repository string `json:"repository"`
	Path       string `json:"path"`
	Fragment   string `json:"fragment,omitempty"`
	URL        string `json:"url,omitempty"`
}

// RepositoryInfo summarizes a repository.
type RepositoryInfo struct {
	FullName      string    `json:"full_name"`
	Description   string    `json:"description,omitempty"`
	DefaultBranch string    `json:"default_branch"`
	Language      string    `json:"language,omitempty"`
	PushedAt      time.Time `json:"pushed_at"`
}

// Deployment describes a recorded deployment.
type Deployment struct {
	ID          int64     `json:"id"`
	Environment string    `json:"environment"`
	Ref         string    `json:"ref"`
	SHA         string    `json:"sha"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// CodeHost accesses source code and deployment history for the
// workspace's connected repositories.
type CodeHost interface {
	SearchCode(ctx context.Context, query, repo string, limit int) ([]CodeMatch, error)
	ReadFile(ctx context.Context, repo, path, ref string) (string, error)
	GetRepositoryInfo(ctx context.Context, repo string) (*RepositoryInfo, error)
	ListDeployments(ctx context.Context, repo string, limit int) ([]Deployment, error)
}
