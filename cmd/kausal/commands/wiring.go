package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kausalhq/kausal/internal/agent/tools"
	"github.com/kausalhq/kausal/internal/capability"
	"github.com/kausalhq/kausal/internal/config"
	"github.com/kausalhq/kausal/internal/integration"
	"github.com/kausalhq/kausal/internal/integration/grafana"
	"github.com/kausalhq/kausal/internal/job"
	"github.com/kausalhq/kausal/internal/llm/provider"
	"github.com/kausalhq/kausal/internal/metrics"
	"github.com/kausalhq/kausal/internal/progress"
	"github.com/kausalhq/kausal/internal/queue"
	"github.com/kausalhq/kausal/internal/rca"
	"github.com/kausalhq/kausal/internal/review"
	"github.com/kausalhq/kausal/internal/scan"
	"github.com/kausalhq/kausal/internal/tracing"
	"github.com/kausalhq/kausal/internal/worker"
)

// app holds the wired process dependencies shared by the serve and
// worker commands.
type app struct {
	cfg          *config.Config
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	jobs         job.Store
	queue        queue.Queue
	integrations integration.Service
	hub          *progress.SSEHub
	submitter    *worker.Submitter
	orchestrator *worker.Orchestrator
	tracing      *tracing.Provider
	scanner      *scan.Scanner
	reviews      *review.MemoryStore
	reviewRunner *review.Runner
}

// buildApp wires the whole pipeline from config: queue, job store,
// integrations, capability resolver, tool registry, model provider,
// investigation machine, and the job orchestrator.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	tp, err := tracing.NewProvider(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		TLSCAPath:   cfg.Tracing.TLSCAPath,
		TLSInsecure: cfg.Tracing.TLSInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	var q queue.Queue
	if cfg.Queue.URL != "" {
		sqsQueue, err := queue.NewSQSQueue(ctx, cfg.Queue.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("init queue: %w", err)
		}
		q = sqsQueue
	} else {
		q = queue.NewMemoryQueue()
	}

	jobs := job.NewMemoryStore()

	integrationStore := integration.NewMemoryStore()
	integrations := integration.NewHealthService(integrationStore, integration.DefaultProbers())
	resolver := capability.NewResolver(integrations)

	var observability *tools.GrafanaBackend
	if cfg.Grafana.URL != "" {
		client := grafana.NewClient(grafana.Config{URL: cfg.Grafana.URL, Token: cfg.Grafana.Token}, nil)
		observability = tools.NewGrafanaBackend(client, cfg.Grafana.LogsDatasource, cfg.Grafana.MetricsDatasource)
	}

	var code tools.CodeHost
	if cfg.GitHub.Token != "" {
		code = tools.NewGitHubHost(ctx, cfg.GitHub.Token)
	}

	var scanner *scan.Scanner
	if code != nil {
		scanner, err = scan.NewScanner(scan.NewManifestScanner(code, scan.DefaultManifestPath), scan.Config{})
		if err != nil {
			return nil, fmt.Errorf("init scanner: %w", err)
		}
	}

	registryBuilder := func(execCtx *capability.ExecutionContext) *tools.Registry {
		deps := tools.Dependencies{
			WorkspaceID: execCtx.WorkspaceID,
			Code:        code,
		}
		if observability != nil {
			deps.Logs = observability
			deps.Metrics = observability
			deps.Alerts = observability
		}
		return tools.NewRegistry(deps)
	}

	providerCfg := provider.DefaultConfig()
	if cfg.Model.Name != "" {
		providerCfg.Model = cfg.Model.Name
	}
	if cfg.Model.MaxTokens > 0 {
		providerCfg.MaxTokens = cfg.Model.MaxTokens
	}
	providerCfg.Temperature = cfg.Model.Temperature

	// An empty api_key falls back to ANTHROPIC_API_KEY.
	var llm provider.Provider
	if cfg.Model.APIKey != "" {
		llm, err = provider.NewAnthropicProviderWithKey(cfg.Model.APIKey, providerCfg)
	} else {
		llm, err = provider.NewAnthropicProvider(providerCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("init model provider: %w", err)
	}

	hub := progress.NewSSEHub(nil)

	reporters := func(j *job.Job) progress.Reporter {
		sinks := []progress.Reporter{hub}
		if j.Slack != nil && cfg.Slack.BotToken != "" {
			sinks = append(sinks, progress.NewSlackSink(cfg.Slack.BotToken, j.Slack.ChannelID, j.Slack.ThreadTS, nil))
		}
		return progress.NewBreaker(progress.Multi(sinks...), progress.DefaultBreakerThreshold, nil)
	}

	newAnalyzer := func(reporter progress.Reporter) (worker.Analyzer, error) {
		machine, err := rca.NewMachine(rca.Config{
			Provider:      llm,
			Resolver:      resolver,
			Registry:      registryBuilder,
			Reporter:      reporter,
			MaxLoops:      cfg.Investigation.MaxLoops,
			MaxIterations: cfg.Investigation.MaxIterations,
			MaxDuration:   cfg.Investigation.MaxDuration,
		})
		if err != nil {
			return nil, err
		}
		return &rca.RetryingMachine{Machine: machine, Retries: rca.DefaultAnalyzeRetries}, nil
	}

	deliverers := map[job.Source]worker.Deliverer{}
	if cfg.Slack.BotToken != "" {
		deliverers[job.SourceSlack] = worker.NewSlackDeliverer(cfg.Slack.BotToken, nil)
	}

	preprocessors := []worker.Preprocessor{
		worker.NewGitHubProbe(integrations),
		worker.NewIntegrationWarmup(integrations),
	}
	if scanner != nil && len(cfg.GitHub.Repositories) > 0 {
		preprocessors = append(preprocessors, worker.NewServiceMapPreprocessor(scanner, cfg.GitHub.Repositories))
	}
	if code != nil && len(cfg.GitHub.Repositories) > 0 {
		preprocessors = append(preprocessors, worker.NewRepoMetadata(code, cfg.GitHub.Repositories))
	}

	orchestrator, err := worker.NewOrchestrator(worker.Config{
		Queue:         q,
		Jobs:          jobs,
		NewAnalyzer:   newAnalyzer,
		Reporters:     reporters,
		Preprocessors: preprocessors,
		Deliverers:    deliverers,
		Concurrency:   cfg.Investigation.Concurrency,
		Metrics:       m,
	})
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	submitter := worker.NewSubmitter(q, jobs, nil)
	reviews := review.NewMemoryStore()
	reviewRunner := review.NewRunner(reviews, submitter, uuid.NewString, nil)

	return &app{
		cfg:          cfg,
		registry:     registry,
		metrics:      m,
		jobs:         jobs,
		queue:        q,
		integrations: integrations,
		hub:          hub,
		submitter:    submitter,
		orchestrator: orchestrator,
		tracing:      tp,
		scanner:      scanner,
		reviews:      reviews,
		reviewRunner: reviewRunner,
	}, nil
}
