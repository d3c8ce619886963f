package progress

import (
	"context"
	"fmt"
	"sync"

	"github.com/slack-go/slack"

	"github.com/kausalhq/kausal/internal/logging"
)

// slackAPI is the subset of the Slack client the sink uses. Extracted so
// tests can substitute a stub.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
}

// SlackSink posts investigation progress to a Slack thread as a running
// step list: every update posts a fresh hourglass message, and the next
// update first rewrites the previous hourglass into a checkmark. The
// thread reads as a log of completed steps with the current one still
// pending; the terminal update posts with a checkmark (or a cross on
// failure) directly.
type SlackSink struct {
	api       slackAPI
	channelID string
	threadTS  string
	logger    *logging.Logger

	mu       sync.Mutex
	lastTS   string
	lastBody string
}

// NewSlackSink creates a sink posting to channelID. If threadTS is
// non-empty the progress message is posted as a reply in that thread.
func NewSlackSink(token, channelID, threadTS string, logger *logging.Logger) *SlackSink {
	if logger == nil {
		logger = logging.GetLogger("progress.slack")
	}
	return &SlackSink{
		api:       slack.New(token),
		channelID: channelID,
		threadTS:  threadTS,
		logger:    logger,
	}
}

// newSlackSinkWithAPI is used by tests.
func newSlackSinkWithAPI(api slackAPI, channelID, threadTS string, logger *logging.Logger) *SlackSink {
	if logger == nil {
		logger = logging.GetLogger("progress.slack")
	}
	return &SlackSink{
		api:       api,
		channelID: channelID,
		threadTS:  threadTS,
		logger:    logger,
	}
}

// Report implements Reporter.
func (s *SlackSink) Report(ctx context.Context, u Update) error {
	s.mu.Lock()
	prevTS, prevBody := s.lastTS, s.lastBody
	s.mu.Unlock()

	// Check off the previous step first. The step list is cosmetic, so
	// a failed rewrite never blocks the new update.
	if prevTS != "" {
		done := fmt.Sprintf(":white_check_mark: %s", prevBody)
		if _, _, _, err := s.api.UpdateMessageContext(ctx, s.channelID, prevTS, slack.MsgOptionText(done, false)); err != nil {
			s.logger.Warn("rewriting previous progress message failed: %v", err)
		}
	}

	opts := []slack.MsgOption{slack.MsgOptionText(s.formatUpdate(u), false)}
	if s.threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(s.threadTS))
	}
	_, ts, err := s.api.PostMessageContext(ctx, s.channelID, opts...)
	if err != nil {
		return fmt.Errorf("post progress message: %w", err)
	}

	s.mu.Lock()
	if u.Done {
		s.lastTS, s.lastBody = "", ""
	} else {
		s.lastTS, s.lastBody = ts, body(u)
	}
	s.mu.Unlock()
	return nil
}

func body(u Update) string {
	if u.Message == "" {
		return u.Stage
	}
	return u.Message
}

func (s *SlackSink) formatUpdate(u Update) string {
	icon := ":hourglass_flowing_sand:"
	if u.Done {
		icon = ":white_check_mark:"
		if u.Failed {
			icon = ":x:"
		}
	}
	text := fmt.Sprintf("%s %s", icon, body(u))
	if u.ActionURL != "" {
		text = fmt.Sprintf("%s (<%s|fix the integration>)", text, u.ActionURL)
	}
	return text
}
