package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kausalhq/kausal/internal/config"
	"github.com/kausalhq/kausal/internal/lifecycle"
	"github.com/kausalhq/kausal/internal/logging"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the job worker",
	Long: `Runs the queue poller and investigation pipeline without the API server.
Use this to scale job processing independently of the HTTP surface; it
requires a shared queue (queue.url) so submissions reach the workers.`,
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

		logger := logging.GetLogger("worker.cmd")
		if cfg.Queue.URL == "" {
			logger.Warn("no queue.url configured: using the in-memory queue, submissions from other processes will not arrive")
		}

		manager := lifecycle.NewManager()
		if err := manager.Register(a.tracing); err != nil {
			return err
		}
		if err := manager.Register(newWorkerComponent(a.orchestrator), a.tracing); err != nil {
			return err
		}
		if err := manager.Start(ctx); err != nil {
			return err
		}

		logger.Info("kausal worker v%s started", Version)
		<-ctx.Done()
		return manager.Stop(context.Background())
	},
}
