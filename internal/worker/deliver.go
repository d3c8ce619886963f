package worker

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/kausalhq/kausal/internal/job"
	"github.com/kausalhq/kausal/internal/logging"
)

// slackPoster is the subset of the Slack client the deliverer uses.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackDeliverer posts completed reports into the Slack thread the job
// came from.
type SlackDeliverer struct {
	api    slackPoster
	logger *logging.Logger
}

// NewSlackDeliverer creates a deliverer using the given bot token.
func NewSlackDeliverer(token string, logger *logging.Logger) *SlackDeliverer {
	if logger == nil {
		logger = logging.GetLogger("worker.deliver")
	}
	return &SlackDeliverer{api: slack.New(token), logger: logger}
}

// newSlackDelivererWithAPI is used by tests.
func newSlackDelivererWithAPI(api slackPoster, logger *logging.Logger) *SlackDeliverer {
	if logger == nil {
		logger = logging.GetLogger("worker.deliver")
	}
	return &SlackDeliverer{api: api, logger: logger}
}

// Deliver implements Deliverer. The report message carries feedback
// buttons so users can rate the investigation from the thread; the
// button value holds the job ID for the interaction handler.
func (d *SlackDeliverer) Deliver(ctx context.Context, j *job.Job, report string) error {
	if j.Slack == nil {
		return fmt.Errorf("job %s has no slack reference", j.ID)
	}

	reportBlock := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, report, false, false), nil, nil)
	feedback := slack.NewActionBlock("report_feedback",
		slack.NewButtonBlockElement("feedback_helpful", j.ID,
			slack.NewTextBlockObject(slack.PlainTextType, "Helpful", false, false)),
		slack.NewButtonBlockElement("feedback_unhelpful", j.ID,
			slack.NewTextBlockObject(slack.PlainTextType, "Not helpful", false, false)),
	)

	opts := []slack.MsgOption{
		slack.MsgOptionText(report, false),
		slack.MsgOptionBlocks(reportBlock, feedback),
	}
	if j.Slack.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(j.Slack.ThreadTS))
	}
	if _, _, err := d.api.PostMessageContext(ctx, j.Slack.ChannelID, opts...); err != nil {
		return fmt.Errorf("post report: %w", err)
	}
	d.logger.Debug("delivered report for job %s to channel %s", j.ID, j.Slack.ChannelID)
	return nil
}
