package commands

import (
	"context"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kausalhq/kausal/internal/api"
	"github.com/kausalhq/kausal/internal/config"
	"github.com/kausalhq/kausal/internal/lifecycle"
	"github.com/kausalhq/kausal/internal/logging"
	"github.com/kausalhq/kausal/internal/review"
	"github.com/kausalhq/kausal/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the job worker in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLog(logLevelFlags); err != nil {
			return err
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}

		apiCfg := api.Config{
			Port:      cfg.Server.Port,
			Submitter: a.submitter,
			Jobs:      a.jobs,
			Hub:       a.hub,
			Metrics:   a.registry,
			Reviews:   a.reviews,
		}
		if a.scanner != nil {
			apiCfg.Scanner = a.scanner
		}
		server, err := api.New(apiCfg)
		if err != nil {
			return err
		}

		manager := lifecycle.NewManager()
		if err := manager.Register(a.tracing); err != nil {
			return err
		}
		if err := manager.Register(server, a.tracing); err != nil {
			return err
		}
		workerComp := newWorkerComponent(a.orchestrator)
		if err := manager.Register(workerComp, a.tracing); err != nil {
			return err
		}
		if err := manager.Register(newReviewComponent(a.reviewRunner), workerComp); err != nil {
			return err
		}
		watcherComp, err := newConfigWatcherComponent(configPath)
		if err != nil {
			return err
		}
		if err := manager.Register(watcherComp); err != nil {
			return err
		}

		if err := manager.Start(ctx); err != nil {
			return err
		}

		logger := logging.GetLogger("serve")
		logger.Info("kausal v%s serving on port %d", Version, cfg.Server.Port)

		<-ctx.Done()
		logger.Info("shutdown signal received")
		return manager.Stop(context.Background())
	},
}

// workerComponent adapts the blocking Orchestrator.Run to
// lifecycle.Component.
type workerComponent struct {
	orch   *worker.Orchestrator
	cancel context.CancelFunc
	done   chan error
}

func newWorkerComponent(orch *worker.Orchestrator) *workerComponent {
	return &workerComponent{orch: orch, done: make(chan error, 1)}
}

func (c *workerComponent) Start(context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		c.done <- c.orch.Run(runCtx)
	}()
	return nil
}

func (c *workerComponent) Stop(ctx context.Context) error {
	c.cancel()
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("worker did not stop in time: %w", ctx.Err())
	}
}

func (c *workerComponent) Name() string { return "worker" }

// configWatcherComponent hot-reloads the config file while the process
// runs. Only the log level applies live; other changes take effect on
// restart.
type configWatcherComponent struct {
	watcher *config.Watcher
}

func newConfigWatcherComponent(path string) (*configWatcherComponent, error) {
	logger := logging.GetLogger("serve")
	var initialSeen atomic.Bool
	w, err := config.NewWatcher(config.WatcherConfig{FilePath: path}, func(cfg *config.Config) error {
		// The initial delivery mirrors the config already applied at
		// startup, where --log-level flags win.
		if !initialSeen.Swap(true) {
			return nil
		}
		if err := logging.Initialize(cfg.LogLevel); err != nil {
			return fmt.Errorf("apply log level %q: %w", cfg.LogLevel, err)
		}
		logger.Info("config reloaded: log_level=%s, other changes take effect on restart", cfg.LogLevel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &configWatcherComponent{watcher: w}, nil
}

func (c *configWatcherComponent) Start(ctx context.Context) error { return c.watcher.Start(ctx) }

func (c *configWatcherComponent) Stop(context.Context) error { return c.watcher.Stop() }

func (c *configWatcherComponent) Name() string { return "config-watcher" }

// reviewCheckInterval is how often due review schedules are checked.
const reviewCheckInterval = 15 * time.Minute

// reviewComponent runs due service reviews on a fixed interval.
type reviewComponent struct {
	runner *review.Runner
	cancel context.CancelFunc
	done   chan struct{}
	logger *logging.Logger
}

func newReviewComponent(runner *review.Runner) *reviewComponent {
	return &reviewComponent{
		runner: runner,
		done:   make(chan struct{}),
		logger: logging.GetLogger("review"),
	}
}

func (c *reviewComponent) Start(context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(reviewCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				n, err := c.runner.RunDue(runCtx)
				if err != nil {
					c.logger.ErrorWithErr("running due reviews failed", err)
					continue
				}
				if n > 0 {
					c.logger.Info("submitted %d review jobs", n)
				}
			}
		}
	}()
	return nil
}

func (c *reviewComponent) Stop(ctx context.Context) error {
	c.cancel()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *reviewComponent) Name() string { return "review-scheduler" }
