package notify

import (
	"context"

	"github.com/hypercore-one/bridge-health/internal/transition"
	"github.com/rs/zerolog"
)

// DryRunNotifier logs transitions without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, report transition.Report) error {
	if bridge := report.Bridge; bridge != nil {
		n.logger.Info().
			Str("previous_state", stateLabel(string(bridge.PreviousState))).
			Str("current_state", string(bridge.CurrentState)).
			Int("online", bridge.OnlineCount).
			Int("total", bridge.TotalCount).
			Int("threshold", bridge.Threshold).
			Msg("[DRY-RUN] Would notify bridge transition")
	}
	for _, change := range report.Nodes {
		n.logger.Info().
			Str("node", change.Address).
			Str("name", change.DisplayName).
			Str("previous_status", stateLabel(string(change.PreviousStatus))).
			Str("current_status", string(change.CurrentStatus)).
			Bool("identity_mismatch", change.IdentityMismatch).
			Str("detail", change.Detail).
			Msg("[DRY-RUN] Would notify")
	}
	return nil
}
