package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hypercore-one/bridge-health/internal/registry"
	"github.com/hypercore-one/bridge-health/internal/transition"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// header and context blocks are repeated in every message
	slackReservedBlocks = 2
	slackMaxNodes       = slackMaxBlocks - slackReservedBlocks
)

// SlackNotifier posts transition reports to a Slack incoming webhook.
type SlackNotifier struct {
	logger      zerolog.Logger
	webhookURL  string
	explorerURL string
	timing      timingConfig
	poster      *poster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// WithSlackExplorer links node names to their explorer page.
func WithSlackExplorer(baseURL string) SlackOption {
	return func(s *SlackNotifier) {
		s.explorerURL = strings.TrimRight(baseURL, "/")
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; notifications disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}
	for _, opt := range opts {
		opt(notifier)
	}
	notifier.poster = newPoster(logger, "slack", webhookURL, notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, report transition.Report) error {
	if report.Empty() {
		return nil
	}
	if err := n.poster.throttle(ctx); err != nil {
		return err
	}

	messages := n.buildMessages(report)
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		if err := n.poster.deliver(ctx, payload); err != nil {
			return err
		}
	}

	n.logger.Debug().
		Bool("bridge_changed", report.Bridge != nil).
		Int("node_transitions", len(report.Nodes)).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func (n *SlackNotifier) buildMessages(report transition.Report) []slack.WebhookMessage {
	total := len(report.Nodes)
	if total == 0 {
		return []slack.WebhookMessage{n.buildMessage(report, nil, 1, 1)}
	}

	parts := (total + slackMaxNodes - 1) / slackMaxNodes
	messages := make([]slack.WebhookMessage, 0, parts)
	for i := 0; i < total; i += slackMaxNodes {
		end := i + slackMaxNodes
		if end > total {
			end = total
		}
		messages = append(messages, n.buildMessage(report, report.Nodes[i:end], i/slackMaxNodes+1, parts))
	}
	return messages
}

func (n *SlackNotifier) buildMessage(report transition.Report, nodes []transition.NodeTransition, part, parts int) slack.WebhookMessage {
	summary := summaryLine(report)
	if parts > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, part, parts)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))

	elements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Observed: %s", report.ObservedAt.UTC().Format(time.RFC3339)), false, false),
	}
	if bridge := report.Bridge; bridge != nil {
		elements = append(elements, slack.NewTextBlockObject("mrkdwn",
			fmt.Sprintf("Bridge: `%s` → `%s` (%d/%d online, threshold %d)",
				stateLabel(string(bridge.PreviousState)), bridge.CurrentState, bridge.OnlineCount, bridge.TotalCount, bridge.Threshold),
			false, false))
	}
	if parts > 1 {
		elements = append(elements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Batch: %d/%d", part, parts), false, false))
	}

	blocks := []slack.Block{header, slack.NewContextBlock("", elements...)}
	for _, change := range nodes {
		blocks = append(blocks, n.nodeBlock(change))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func (n *SlackNotifier) nodeBlock(change transition.NodeTransition) slack.Block {
	name := change.DisplayName
	if n.explorerURL != "" {
		if slug := registry.Slug(name); slug != "" {
			name = fmt.Sprintf("<%s/pillar/%s|%s>", n.explorerURL, slug, name)
		}
	}
	title := fmt.Sprintf("*%s* (`%s`): `%s` → `%s`", name, change.Address,
		stateLabel(string(change.PreviousStatus)), stateLabel(string(change.CurrentStatus)))
	text := slack.NewTextBlockObject("mrkdwn", title, false, false)

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject("mrkdwn", "*State:*\n"+stateLabel(change.CurrentState), false, false),
	}
	if change.IdentityMismatch {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Identity:*\nmismatch", false, false))
	} else if change.MismatchChanged {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Identity:*\nresolved", false, false))
	}
	if change.Detail != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Detail:*\n"+change.Detail, false, false))
	}

	return slack.NewSectionBlock(text, fields, nil)
}

func summaryLine(report transition.Report) string {
	if bridge := report.Bridge; bridge != nil {
		line := fmt.Sprintf("Bridge %s", strings.ToUpper(string(bridge.CurrentState)))
		if len(report.Nodes) > 0 {
			line = fmt.Sprintf("%s: %d node transition(s)", line, len(report.Nodes))
		}
		return line
	}
	return fmt.Sprintf("Bridge health: %d node transition(s)", len(report.Nodes))
}

func stateLabel(value string) string {
	if value == "" {
		return "UNKNOWN"
	}
	return value
}
