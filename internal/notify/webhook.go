package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/hypercore-one/bridge-health/internal/transition"
	"github.com/rs/zerolog"
)

const defaultWebhookTemplate = `{"observedAt":"{{ .ObservedAt.Format "2006-01-02T15:04:05Z07:00" }}","bridge":{{ toJson .Bridge }},"nodes":{{ toJson .Nodes }}}`

// WebhookPayload is the template context for webhook notifications.
type WebhookPayload struct {
	ObservedAt  time.Time
	Bridge      *transition.BridgeTransition
	Nodes       []transition.NodeTransition
	GeneratedAt time.Time
}

// WebhookNotifier sends transition reports to a generic webhook.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	poster   *poster
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
// An empty URL yields a nil notifier.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL string, tmpl string) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		poster:   newPoster(logger, "webhook", webhookURL, defaultTiming),
	}, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, report transition.Report) error {
	if n == nil || report.Empty() {
		return nil
	}
	if err := n.poster.throttle(ctx); err != nil {
		return err
	}

	payload := WebhookPayload{
		ObservedAt:  report.ObservedAt,
		Bridge:      report.Bridge,
		Nodes:       report.Nodes,
		GeneratedAt: time.Now().UTC(),
	}

	var buf bytes.Buffer
	if err := n.template.Execute(&buf, payload); err != nil {
		return fmt.Errorf("render webhook template: %w", err)
	}
	if err := n.poster.deliver(ctx, buf.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Int("node_transitions", len(report.Nodes)).
		Msg("webhook notification sent")

	return nil
}
