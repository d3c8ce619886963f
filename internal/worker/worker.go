// Package worker runs the job orchestrator: it polls the queue,
// enforces the job lifecycle, runs preprocessing, drives the
// investigation state machine, and delivers results.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kausalhq/kausal/internal/job"
	"github.com/kausalhq/kausal/internal/logging"
	"github.com/kausalhq/kausal/internal/metrics"
	"github.com/kausalhq/kausal/internal/pii"
	"github.com/kausalhq/kausal/internal/progress"
	"github.com/kausalhq/kausal/internal/queue"
	"github.com/kausalhq/kausal/internal/rca"
)

// Analyzer runs one investigation. Implemented by rca.Machine.
type Analyzer interface {
	Analyze(ctx context.Context, req rca.Request) (*rca.State, error)
}

// AnalyzerFactory builds an Analyzer wired to the given per-job
// progress reporter.
type AnalyzerFactory func(reporter progress.Reporter) (Analyzer, error)

// Preprocessor is one preparation step run before an investigation.
// Required steps abort the job on failure; optional steps only log.
type Preprocessor interface {
	Name() string
	Required() bool
	Run(ctx context.Context, j *job.Job) error
}

// Deliverer sends a completed report to the job's origin.
type Deliverer interface {
	Deliver(ctx context.Context, j *job.Job, report string) error
}

// ConfigurationError marks a failure the user can fix themselves, such
// as a broken integration. ActionURL points at the settings page where
// the fix happens.
type ConfigurationError struct {
	Message   string
	ActionURL string
}

func (e *ConfigurationError) Error() string { return e.Message }

// ReporterFactory builds the progress reporter for one job, typically a
// breaker-wrapped sink chosen by the job's source.
type ReporterFactory func(j *job.Job) progress.Reporter

// Config configures the Orchestrator.
type Config struct {
	Queue       queue.Queue
	Jobs        job.Store
	NewAnalyzer AnalyzerFactory

	// Reporters builds per-job progress reporters. Optional.
	Reporters ReporterFactory

	// Preprocessors run in order before each investigation.
	Preprocessors []Preprocessor

	// Deliverers route completed reports by job source. A source with
	// no deliverer still gets its report persisted in the job store.
	Deliverers map[job.Source]Deliverer

	// Concurrency is the number of parallel job processors. Defaults
	// to 1.
	Concurrency int

	Metrics *metrics.Metrics
	Logger  *logging.Logger
	Now     func() time.Time
}

// Orchestrator polls the queue and processes jobs.
type Orchestrator struct {
	cfg    Config
	logger *logging.Logger
	now    func() time.Time
}

// NewOrchestrator validates cfg and creates an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if cfg.NewAnalyzer == nil {
		return nil, fmt.Errorf("analyzer factory is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger("worker")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{cfg: cfg, logger: cfg.Logger, now: cfg.Now}, nil
}

// Run polls the queue until ctx is canceled. It blocks.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("worker started with concurrency %d", o.cfg.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < o.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				if err := ctx.Err(); err != nil {
					return nil
				}
				msg, err := o.cfg.Queue.Receive(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					o.logger.ErrorWithErr("queue receive failed", err)
					continue
				}
				if msg == nil {
					continue
				}
				o.handleMessage(ctx, msg)
			}
		})
	}
	return g.Wait()
}

// handleMessage processes one queue message end to end. The message is
// always acknowledged: at-least-once delivery plus the QUEUED status
// check makes dropping duplicates safe, while leaving messages
// unacknowledged would loop them forever.
func (o *Orchestrator) handleMessage(ctx context.Context, msg *queue.Message) {
	defer o.ack(ctx, msg)

	j, err := o.cfg.Jobs.Get(ctx, msg.JobID)
	if errors.Is(err, job.ErrNotFound) {
		o.logger.Warn("dropping message for unknown job %s", msg.JobID)
		o.countDropped("not_found")
		return
	}
	if err != nil {
		o.logger.ErrorWithErr("job lookup failed, dropping message for job %s", err, msg.JobID)
		o.countDropped("store_error")
		return
	}

	// Backoff deferral happens before the status transition: a backed
	// off job stays QUEUED so the re-enqueued message can claim it.
	if delay := j.BackoffUntil.Sub(o.now()); delay > 0 {
		capped := queue.ClampDelay(delay)
		o.logger.Info("job %s backed off for %s, re-enqueueing with delay %s", j.ID, delay, capped)
		if err := o.cfg.Queue.Enqueue(ctx, j.ID, capped); err != nil {
			o.logger.ErrorWithErr("re-enqueue of backed off job %s failed", err, j.ID)
		}
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.JobsRequeued.Inc()
		}
		return
	}

	j, err = o.cfg.Jobs.MarkRunning(ctx, j.ID, o.now())
	if errors.Is(err, job.ErrNotQueued) {
		o.logger.Info("dropping duplicate delivery for job %s", msg.JobID)
		o.countDropped("not_queued")
		return
	}
	if errors.Is(err, job.ErrNotFound) {
		o.countDropped("not_found")
		return
	}
	if err != nil {
		o.logger.ErrorWithErr("mark running failed for job %s", err, msg.JobID)
		o.countDropped("store_error")
		return
	}

	o.processJob(ctx, j)
}

// processJob runs preprocessing, the investigation, and delivery for a
// RUNNING job. Panics are converted into a failed job so a single bad
// investigation cannot take the worker down.
func (o *Orchestrator) processJob(ctx context.Context, j *job.Job) {
	reporter := progress.Nop
	if o.cfg.Reporters != nil {
		if r := o.cfg.Reporters(j); r != nil {
			reporter = r
		}
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("investigation panicked: job=%s panic=%v", j.ID, r)
			o.failAndNotifyJob(ctx, j, reporter, fmt.Errorf("internal error: %v", r))
		}
	}()

	for _, pre := range o.cfg.Preprocessors {
		if err := pre.Run(ctx, j); err != nil {
			if pre.Required() {
				o.failAndNotifyJob(ctx, j, reporter,
					fmt.Errorf("preprocessing step %s failed: %w", pre.Name(), err))
				return
			}
			o.logger.Warn("optional preprocessing step %s failed for job %s: %v", pre.Name(), j.ID, err)
		}
	}

	analyzer, err := o.cfg.NewAnalyzer(reporter)
	if err != nil {
		o.failAndNotifyJob(ctx, j, reporter, fmt.Errorf("build analyzer: %w", err))
		return
	}

	state, err := analyzer.Analyze(ctx, rca.Request{
		JobID:          j.ID,
		WorkspaceID:    j.WorkspaceID,
		Query:          j.Query,
		ThreadHistory:  j.ThreadHistory,
		ServiceMapping: j.ServiceMapping,
	})
	if err != nil {
		o.failAndNotifyJob(ctx, j, reporter, err)
		return
	}

	o.completeJob(ctx, j, state)
}

// completeJob unmasks the report, persists the terminal state, and
// delivers the result.
func (o *Orchestrator) completeJob(ctx context.Context, j *job.Job, state *rca.State) {
	report := pii.Unmask(state.Report, j.PIIMapping)

	j.Status = job.StatusCompleted
	j.Report = report
	j.CompletedAt = o.now()
	if err := o.cfg.Jobs.Update(ctx, j); err != nil {
		o.logger.ErrorWithErr("persisting completed job %s failed", err, j.ID)
	}

	if d, ok := o.cfg.Deliverers[j.Source]; ok {
		if err := d.Deliver(ctx, j, report); err != nil {
			// The report is persisted; delivery is best effort.
			o.logger.ErrorWithErr("delivering report for job %s failed", err, j.ID)
		}
	}

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.ObserveJob(string(job.StatusCompleted), string(j.Source), j.CompletedAt.Sub(j.StartedAt))
		o.cfg.Metrics.InvestigationLoops.Observe(float64(state.Iteration))
	}
	o.logger.Info("job %s completed after %d loops", j.ID, state.Iteration)
}

// failAndNotifyJob is the single failure path for running jobs: it
// persists the FAILED status and sends the terminal progress update.
// Configuration failures get a remediation link; everything else gets
// the generic internal-error message.
func (o *Orchestrator) failAndNotifyJob(ctx context.Context, j *job.Job, reporter progress.Reporter, cause error) {
	o.logger.ErrorWithErr("job %s failed", cause, j.ID)

	j.Status = job.StatusFailed
	j.Error = cause.Error()
	j.ErrorType = job.ErrorTypeInternal
	j.CompletedAt = o.now()

	// The notification carries a sanitized message; the raw cause stays
	// in the job record and the logs.
	message := "The investigation could not be completed. Please try again, or contact support if the problem persists."
	actionURL := ""
	var confErr *ConfigurationError
	if errors.As(cause, &confErr) {
		j.ErrorType = job.ErrorTypeConfiguration
		message = "The investigation could not run because an integration is misconfigured. Fix the integration and try again."
		actionURL = confErr.ActionURL
	}

	if err := o.cfg.Jobs.Update(ctx, j); err != nil {
		o.logger.ErrorWithErr("persisting failed job %s failed", err, j.ID)
	}

	if err := reporter.Report(ctx, progress.Update{
		JobID:     j.ID,
		Stage:     "failed",
		Message:   message,
		Done:      true,
		Failed:    true,
		ErrorType: string(j.ErrorType),
		ActionURL: actionURL,
	}); err != nil {
		o.logger.Debug("failure notification for job %s not delivered: %v", j.ID, err)
	}

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.ObserveJob(string(job.StatusFailed), string(j.Source), j.CompletedAt.Sub(j.StartedAt))
	}
}

func (o *Orchestrator) ack(ctx context.Context, msg *queue.Message) {
	if err := o.cfg.Queue.Delete(ctx, msg); err != nil {
		o.logger.ErrorWithErr("acknowledging message for job %s failed", err, msg.JobID)
	}
}

func (o *Orchestrator) countDropped(reason string) {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.JobsDropped.WithLabelValues(reason).Inc()
	}
}
