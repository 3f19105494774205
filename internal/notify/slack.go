package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// SlackAPI is the part of the Slack client the notifier needs.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts events to one channel.
type Slack struct {
	api     SlackAPI
	channel string
	logger  zerolog.Logger
}

// NewSlack creates a Slack notifier from a bot token.
func NewSlack(botToken, channel string, logger zerolog.Logger) *Slack {
	return NewSlackWithAPI(slack.New(botToken), channel, logger)
}

// NewSlackWithAPI creates a Slack notifier over an existing client.
func NewSlackWithAPI(api SlackAPI, channel string, logger zerolog.Logger) *Slack {
	return &Slack{
		api:     api,
		channel: channel,
		logger:  logger.With().Str("component", "notify_slack").Logger(),
	}
}

// Notify posts e as a section block with the event fields as context.
func (s *Slack) Notify(ctx context.Context, e Event) error {
	_, ts, err := s.api.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(e.Summary, false),
		slack.MsgOptionBlocks(BuildBlocks(e)...),
	)
	if err != nil {
		return fmt.Errorf("posting %s to slack: %w", e.Type, err)
	}
	s.logger.Debug().Str("type", e.Type).Str("ts", ts).Msg("slack notification sent")
	return nil
}

// BuildBlocks renders an event as Block Kit blocks.
func BuildBlocks(e Event) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*%s*\n%s", e.Type, e.Summary), false, false),
			nil, nil,
		),
	}

	var meta []string
	if e.ProjectID != "" {
		meta = append(meta, "project `"+e.ProjectID+"`")
	}
	if e.SessionID != "" {
		meta = append(meta, "session `"+e.SessionID+"`")
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		meta = append(meta, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	if len(meta) > 0 {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject("mrkdwn", strings.Join(meta, " | "), false, false)))
	}
	return blocks
}
