package notify

import (
	"context"

	"github.com/hypercore-one/bridge-health/internal/transition"
)

// Notifier delivers transition alerts to external systems.
type Notifier interface {
	Notify(ctx context.Context, report transition.Report) error
}
