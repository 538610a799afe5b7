package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/slack-go/slack"
)

// slackNotifier posts operational traffic to Slack: alerts for the
// on-call channel, review prompts for the triage channel, and the
// periodic stats digest. Implements both Alerter and ReviewEnqueuer.
type slackNotifier struct {
	api           *slack.Client
	alertChannel  string
	reviewChannel string
}

func newSlackNotifier(cfg Config) *slackNotifier {
	if cfg.SlackBotToken == "" {
		return nil
	}
	return &slackNotifier{
		api:           slack.New(cfg.SlackBotToken),
		alertChannel:  cfg.AlertChannelID,
		reviewChannel: cfg.ReviewChannelID,
	}
}

func (n *slackNotifier) Alert(message string) {
	if n == nil || n.alertChannel == "" {
		log.Printf("ALERT: %s", message)
		return
	}
	_, _, err := n.api.PostMessage(n.alertChannel,
		slack.MsgOptionText(":rotating_light: "+message, false),
	)
	if err != nil {
		log.Printf("slack alert post error: %v (message: %s)", err, message)
	}
}

// EnqueueReview posts the interaction into the review channel with enough
// context for a human to triage it without opening the database.
func (n *slackNotifier) EnqueueReview(ctx context.Context, in Interaction, queueName string) error {
	if n == nil || n.reviewChannel == "" {
		log.Printf("review enqueue interaction=%s queue=%s (no review channel)", in.ID, queueName)
		return nil
	}

	excerpt := strings.TrimSpace(in.NormalizedText)
	if excerpt == "" {
		excerpt = "(no readable content)"
	}
	if len(excerpt) > 400 {
		excerpt = excerpt[:400] + "..."
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType,
				fmt.Sprintf("Review needed: %s", queueName), false, false),
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*Interaction:* `%s`\n*Channel:* %s\n\n> %s",
					in.ID, in.SourceChannel, excerpt), false, false),
			nil, nil,
		),
	}

	_, _, err := n.api.PostMessageContext(ctx, n.reviewChannel, slack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("posting review message: %w", err)
	}
	return nil
}

// PostDigest sends the formatted stats digest to the alert channel.
func (n *slackNotifier) PostDigest(digest string) error {
	if n == nil || n.alertChannel == "" {
		log.Printf("digest (no alert channel):\n%s", digest)
		return nil
	}
	_, _, err := n.api.PostMessage(n.alertChannel, slack.MsgOptionText(digest, false))
	if err != nil {
		return fmt.Errorf("posting digest: %w", err)
	}
	return nil
}
