package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kausalhq/kausal/internal/capability"
	"github.com/kausalhq/kausal/internal/job"
	"github.com/kausalhq/kausal/internal/progress"
	"github.com/kausalhq/kausal/internal/queue"
	"github.com/kausalhq/kausal/internal/rca"
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	state   *rca.State
	err     error
	panic   bool
	calls   int
	lastReq rca.Request
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req rca.Request) (*rca.State, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	f.mu.Unlock()
	if f.panic {
		panic("analyzer exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	state := f.state
	if state == nil {
		state = &rca.State{JobID: req.JobID, Report: "report for " + req.Query, Iteration: 1}
	}
	return state, nil
}

func (f *fakeAnalyzer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAnalyzer) LastRequest() rca.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

type recordingQueue struct {
	*queue.MemoryQueue
	mu       sync.Mutex
	enqueues []time.Duration
	deletes  int
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{MemoryQueue: queue.NewMemoryQueue()}
}

func (q *recordingQueue) Enqueue(ctx context.Context, jobID string, delay time.Duration) error {
	q.mu.Lock()
	q.enqueues = append(q.enqueues, delay)
	q.mu.Unlock()
	return q.MemoryQueue.Enqueue(ctx, jobID, delay)
}

func (q *recordingQueue) Delete(ctx context.Context, msg *queue.Message) error {
	q.mu.Lock()
	q.deletes++
	q.mu.Unlock()
	return q.MemoryQueue.Delete(ctx, msg)
}

type recordedDelivery struct {
	jobID  string
	report string
}

type fakeDeliverer struct {
	mu         sync.Mutex
	deliveries []recordedDelivery
	err        error
}

func (d *fakeDeliverer) Deliver(_ context.Context, j *job.Job, report string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.deliveries = append(d.deliveries, recordedDelivery{jobID: j.ID, report: report})
	return nil
}

type recordingReporter struct {
	mu      sync.Mutex
	updates []progress.Update
}

func (r *recordingReporter) Report(_ context.Context, u progress.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *recordingReporter) Last() (progress.Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return progress.Update{}, false
	}
	return r.updates[len(r.updates)-1], true
}

type namedPreprocessor struct {
	name     string
	required bool
	err      error
	runs     int
}

func (p *namedPreprocessor) Name() string   { return p.name }
func (p *namedPreprocessor) Required() bool { return p.required }
func (p *namedPreprocessor) Run(context.Context, *job.Job) error {
	p.runs++
	return p.err
}

type fixture struct {
	queue    *recordingQueue
	jobs     *job.MemoryStore
	analyzer *fakeAnalyzer
	deliver  *fakeDeliverer
	reporter *recordingReporter
	orch     *Orchestrator
	now      time.Time
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		queue:    newRecordingQueue(),
		jobs:     job.NewMemoryStore(),
		analyzer: &fakeAnalyzer{},
		deliver:  &fakeDeliverer{},
		reporter: &recordingReporter{},
		now:      time.Unix(1756500000, 0),
	}
	cfg := Config{
		Queue: f.queue,
		Jobs:  f.jobs,
		NewAnalyzer: func(progress.Reporter) (Analyzer, error) {
			return f.analyzer, nil
		},
		Reporters:  func(*job.Job) progress.Reporter { return f.reporter },
		Deliverers: map[job.Source]Deliverer{job.SourceSlack: f.deliver},
		Now:        func() time.Time { return f.now },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	orch, err := NewOrchestrator(cfg)
	require.NoError(t, err)
	f.orch = orch
	return f
}

func (f *fixture) seedJob(t *testing.T, j *job.Job) *job.Job {
	t.Helper()
	if j.Status == "" {
		j.Status = job.StatusQueued
	}
	if j.Source == "" {
		j.Source = job.SourceSlack
	}
	require.NoError(t, f.jobs.Create(context.Background(), j))
	return j
}

func (f *fixture) handle(jobID string) {
	f.orch.handleMessage(context.Background(), &queue.Message{JobID: jobID, Receipt: "r-" + jobID})
}

func TestHandleMessage_CompletesJob(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, &job.Job{ID: "j1", WorkspaceID: "ws-1", Query: "checkout down"})

	f.handle("j1")

	stored, err := f.jobs.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, stored.Status)
	assert.Equal(t, "report for checkout down", stored.Report)
	assert.Equal(t, f.now, stored.CompletedAt)

	require.Len(t, f.deliver.deliveries, 1)
	assert.Equal(t, "j1", f.deliver.deliveries[0].jobID)
	assert.Equal(t, 1, f.queue.deletes)
}

func TestHandleMessage_UnknownJobDropped(t *testing.T) {
	f := newFixture(t)
	f.handle("ghost")

	assert.Zero(t, f.analyzer.Calls())
	assert.Equal(t, 1, f.queue.deletes, "message for unknown job must still be acknowledged")
}

func TestHandleMessage_DuplicateDeliveryDropped(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, &job.Job{ID: "j1", WorkspaceID: "ws-1", Query: "q", Status: job.StatusCompleted})

	f.handle("j1")

	assert.Zero(t, f.analyzer.Calls())
	stored, _ := f.jobs.Get(context.Background(), "j1")
	assert.Equal(t, job.StatusCompleted, stored.Status)
}

func TestHandleMessage_BackoffReEnqueuesWithoutRunning(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, &job.Job{
		ID: "j1", WorkspaceID: "ws-1", Query: "q",
		BackoffUntil: f.now.Add(2 * time.Hour),
	})

	f.handle("j1")

	// Not run, not transitioned, original message acknowledged.
	assert.Zero(t, f.analyzer.Calls())
	stored, _ := f.jobs.Get(context.Background(), "j1")
	assert.Equal(t, job.StatusQueued, stored.Status)
	assert.True(t, stored.StartedAt.IsZero())
	assert.Equal(t, 1, f.queue.deletes)

	// Re-enqueued with the delay capped at the queue maximum even
	// though two hours remain.
	require.Len(t, f.queue.enqueues, 1)
	assert.Equal(t, queue.MaxDelay, f.queue.enqueues[0])
}

func TestHandleMessage_ShortBackoffKeepsExactDelay(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, &job.Job{
		ID: "j1", WorkspaceID: "ws-1", Query: "q",
		BackoffUntil: f.now.Add(30 * time.Second),
	})

	f.handle("j1")

	require.Len(t, f.queue.enqueues, 1)
	assert.Equal(t, 30*time.Second, f.queue.enqueues[0])
}

func TestHandleMessage_ElapsedBackoffRuns(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, &job.Job{
		ID: "j1", WorkspaceID: "ws-1", Query: "q",
		BackoffUntil: f.now.Add(-time.Minute),
	})

	f.handle("j1")

	assert.Equal(t, 1, f.analyzer.Calls())
	stored, _ := f.jobs.Get(context.Background(), "j1")
	assert.Equal(t, job.StatusCompleted, stored.Status)
}

func TestProcessJob_RequiredPreprocessorFailureFailsJob(t *testing.T) {
	probe := &namedPreprocessor{name: "github_probe", required: true, err: errors.New("rate limit probe failed")}
	f := newFixture(t, func(c *Config) {
		c.Preprocessors = []Preprocessor{probe}
	})
	f.seedJob(t, &job.Job{ID: "j1", WorkspaceID: "ws-1", Query: "q"})

	f.handle("j1")

	assert.Zero(t, f.analyzer.Calls())
	stored, _ := f.jobs.Get(context.Background(), "j1")
	assert.Equal(t, job.StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "github_probe")

	last, ok := f.reporter.Last()
	require.True(t, ok)
	assert.True(t, last.Done)
	assert.True(t, last.Failed)
	// The raw cause never reaches the user-facing channel.
	assert.NotContains(t, last.Message, "rate limit probe failed")
}

func TestProcessJob_ConfigurationErrorCarriesActionURL(t *testing.T) {
	probe := &namedPreprocessor{name: "github_probe", required: true,
		err: &ConfigurationError{Message: "github integration i-gh is failed", ActionURL: "/settings/integrations"}}
	f := newFixture(t, func(c *Config) {
		c.Preprocessors = []Preprocessor{probe}
	})
	f.seedJob(t, &job.Job{ID: "j1", WorkspaceID: "ws-1", Query: "q"})

	f.handle("j1")

	stored, _ := f.jobs.Get(context.Background(), "j1")
	assert.Equal(t, job.StatusFailed, stored.Status)
	assert.Equal(t, job.ErrorTypeConfiguration, stored.ErrorType)

	last, ok := f.reporter.Last()
	require.True(t, ok)
	assert.True(t, last.Failed)
	assert.Equal(t, string(job.ErrorTypeConfiguration), last.ErrorType)
	assert.Equal(t, "/settings/integrations", last.ActionURL)
	assert.Contains(t, last.Message, "misconfigured")
	// The raw cause stays in the job record.
	assert.NotContains(t, last.Message, "i-gh")
}

func TestProcessJob_PassesServiceMappingToAnalyzer(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, &job.Job{
		ID: "j1", WorkspaceID: "ws-1", Query: "checkout 500s",
		ServiceMapping: map[string][]string{"checkout": {"org/checkout"}},
	})

	f.handle("j1")

	req := f.analyzer.LastRequest()
	assert.Equal(t, map[string][]string{"checkout": {"org/checkout"}}, req.ServiceMapping)
}

func TestProcessJob_OptionalPreprocessorFailureContinues(t *testing.T) {
	warmup := &namedPreprocessor{name: "integration_warmup", err: errors.New("grafana probe failed")}
	f := newFixture(t, func(c *Config) {
		c.Preprocessors = []Preprocessor{warmup}
	})
	f.seedJob(t, &job.Job{ID: "j1", WorkspaceID: "ws-1", Query: "q"})

	f.handle("j1")

	assert.Equal(t, 1, warmup.runs)
	assert.Equal(t, 1, f.analyzer.Calls())
	stored, _ := f.jobs.Get(context.Background(), "j1")
	assert.Equal(t, job.StatusCompleted, stored.Status)
}

func TestProcessJob_AnalyzerErrorFailsJob(t *testing.T) {
	f := newFixture(t)
	f.analyzer.err = errors.New("synthesize report: model unavailable")
	f.seedJob(t, &job.Job{ID: "j1", WorkspaceID: "ws-1", Query: "q"})

	f.handle("j1")

	stored, _ := f.jobs.Get(context.Background(), "j1")
	assert.Equal(t, job.StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "model unavailable")
	assert.Equal(t, job.ErrorTypeInternal, stored.ErrorType)
	assert.Empty(t, f.deliver.deliveries)

	// Internal failures carry no remediation link.
	last, ok := f.reporter.Last()
	require.True(t, ok)
	assert.Equal(t, string(job.ErrorTypeInternal), last.ErrorType)
	assert.Empty(t, last.ActionURL)
}

func TestProcessJob_PanicConvertsToFailedJob(t *testing.T) {
	f := newFixture(t)
	f.analyzer.panic = true
	f.seedJob(t, &job.Job{ID: "j1", WorkspaceID: "ws-1", Query: "q"})

	f.handle("j1")

	stored, _ := f.jobs.Get(context.Background(), "j1")
	assert.Equal(t, job.StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "internal error")

	last, ok := f.reporter.Last()
	require.True(t, ok)
	assert.True(t, last.Failed)
}

func TestCompleteJob_UnmasksPII(t *testing.T) {
	f := newFixture(t)
	submitter := NewSubmitter(f.queue, f.jobs, nil)
	submitter.now = func() time.Time { return f.now }

	j, err := submitter.Submit(context.Background(), SubmitRequest{
		WorkspaceID: "ws-1",
		Source:      job.SourceSlack,
		Slack:       &job.SlackRef{ChannelID: "C1"},
		Query:       "user alice@example.com sees 500s from 10.0.0.7",
	})
	require.NoError(t, err)

	// The stored query never contains the raw values.
	assert.NotContains(t, j.Query, "alice@example.com")
	assert.NotContains(t, j.Query, "10.0.0.7")

	// The analyzer reports in terms of placeholders, as the model saw
	// them; delivery restores the original values.
	f.analyzer.state = &rca.State{
		Report: "Requests from <ip_1> for <email_1> hit a dead backend",
	}
	f.handle(j.ID)

	stored, err := f.jobs.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, "Requests from 10.0.0.7 for alice@example.com hit a dead backend", stored.Report)
	require.Len(t, f.deliver.deliveries, 1)
	assert.Equal(t, stored.Report, f.deliver.deliveries[0].report)
}

func TestSubmitter_MasksThreadHistoryWithSharedMapping(t *testing.T) {
	f := newFixture(t)
	submitter := NewSubmitter(f.queue, f.jobs, nil)

	j, err := submitter.Submit(context.Background(), SubmitRequest{
		WorkspaceID: "ws-1",
		Query:       "alice@example.com again",
		ThreadHistory: []capability.Turn{
			{Role: "user", Content: "first report from alice@example.com"},
			{Role: "assistant", Content: "looking into it"},
		},
	})
	require.NoError(t, err)

	// One masker covers the query and every turn, so the same address
	// maps to the same placeholder everywhere.
	assert.Equal(t, "<email_1> again", j.Query)
	require.Len(t, j.ThreadHistory, 2)
	assert.Equal(t, "first report from <email_1>", j.ThreadHistory[0].Content)
	assert.Equal(t, "looking into it", j.ThreadHistory[1].Content)
	assert.Equal(t, "alice@example.com", j.PIIMapping["<email_1>"])
}

func TestSubmitter_Validation(t *testing.T) {
	f := newFixture(t)
	submitter := NewSubmitter(f.queue, f.jobs, nil)

	_, err := submitter.Submit(context.Background(), SubmitRequest{Query: "q"})
	assert.Error(t, err)
	_, err = submitter.Submit(context.Background(), SubmitRequest{WorkspaceID: "ws-1"})
	assert.Error(t, err)
}

func TestSubmitter_DefaultsSourceWeb(t *testing.T) {
	f := newFixture(t)
	submitter := NewSubmitter(f.queue, f.jobs, nil)

	j, err := submitter.Submit(context.Background(), SubmitRequest{WorkspaceID: "ws-1", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, job.SourceWeb, j.Source)
	assert.Equal(t, 1, f.queue.Len())
}

func TestRun_ProcessesFromQueueUntilCanceled(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("j%d", i)
		f.seedJob(t, &job.Job{ID: id, WorkspaceID: "ws-1", Query: "q"})
		require.NoError(t, f.queue.Enqueue(context.Background(), id, 0))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	require.Eventually(t, func() bool { return f.analyzer.Calls() == 3 }, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
