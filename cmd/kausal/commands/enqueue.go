package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kausalhq/kausal/internal/config"
	"github.com/kausalhq/kausal/internal/worker"
)

var (
	enqueueWorkspaceID string
	enqueueQuery       string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit an investigation job to the queue",
	Long: `Submits one investigation job and prints its id. The job is picked up
by whichever worker polls the configured queue; use 'serve' or 'worker'
to process it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLog(logLevelFlags); err != nil {
			return err
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Queue.URL == "" {
			return fmt.Errorf("enqueue requires a shared queue, set queue.url")
		}

		ctx := context.Background()
		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}

		j, err := a.submitter.Submit(ctx, worker.SubmitRequest{
			WorkspaceID: enqueueWorkspaceID,
			Query:       enqueueQuery,
		})
		if err != nil {
			return err
		}

		fmt.Printf("job %s queued\n", j.ID)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueWorkspaceID, "workspace", "", "Workspace id to investigate in")
	enqueueCmd.Flags().StringVar(&enqueueQuery, "query", "", "Incident description to investigate")
	_ = enqueueCmd.MarkFlagRequired("workspace")
	_ = enqueueCmd.MarkFlagRequired("query")
}
