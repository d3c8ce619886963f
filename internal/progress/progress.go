// Package progress delivers advisory progress updates for running
// investigations. Delivery failures never affect the investigation:
// callers wrap sinks in a Breaker and ignore returned errors beyond
// logging them.
package progress

import "context"

// Update describes one progress event for a job.
type Update struct {
	// JobID identifies the investigation this update belongs to.
	JobID string `json:"job_id"`

	// Stage is the investigation stage that produced the update.
	Stage string `json:"stage"`

	// Message is a short human-readable description.
	Message string `json:"message"`

	// Done marks the terminal update for the job.
	Done bool `json:"done"`

	// Failed marks the terminal update of a failed job. Only meaningful
	// when Done is true.
	Failed bool `json:"failed,omitempty"`

	// ErrorType classifies the failure on a terminal failed update.
	ErrorType string `json:"error_type,omitempty"`

	// ActionURL links to the page where a configuration failure can be
	// fixed. Only set when ErrorType warrants it.
	ActionURL string `json:"action_url,omitempty"`
}

// Reporter delivers progress updates to one destination.
type Reporter interface {
	Report(ctx context.Context, u Update) error
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ctx context.Context, u Update) error

// Report implements Reporter.
func (f ReporterFunc) Report(ctx context.Context, u Update) error {
	return f(ctx, u)
}

// Nop is a Reporter that discards all updates.
var Nop Reporter = ReporterFunc(func(context.Context, Update) error { return nil })

// Multi fans one update out to several reporters. Each reporter gets
// every update; the first error is returned after all have been tried.
func Multi(reporters ...Reporter) Reporter {
	return ReporterFunc(func(ctx context.Context, u Update) error {
		var firstErr error
		for _, r := range reporters {
			if err := r.Report(ctx, u); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
}
