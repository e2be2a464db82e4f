package notify

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/hypercore-one/bridge-health/internal/fleet"
	"github.com/hypercore-one/bridge-health/internal/orchestrator"
	"github.com/hypercore-one/bridge-health/internal/transition"
	"github.com/rs/zerolog"
)

type countingNotifier struct {
	calls int
	err   error
}

func (n *countingNotifier) Notify(context.Context, transition.Report) error {
	n.calls++
	return n.err
}

func TestDryRunNotifierSuppressesDelivery(t *testing.T) {
	inner := &countingNotifier{}
	var buf bytes.Buffer
	dryRun := NewDryRunNotifier(zerolog.New(&buf), inner)

	report := transition.Report{
		Bridge: &transition.BridgeTransition{PreviousState: fleet.BridgeOnline, CurrentState: fleet.BridgeOffline},
		Nodes: []transition.NodeTransition{
			{Address: "10.0.0.1", DisplayName: "Anvil", CurrentStatus: orchestrator.StatusOffline},
		},
	}

	if err := dryRun.Notify(context.Background(), report); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if inner.calls != 0 {
		t.Fatalf("expected no notifier calls, got %d", inner.calls)
	}
	if got := strings.Count(buf.String(), "[DRY-RUN]"); got != 2 {
		t.Fatalf("expected 2 dry-run log lines, got %d: %s", got, buf.String())
	}
}

func TestMultiNotifierCallsAllAndReturnsFirstError(t *testing.T) {
	failing := &countingNotifier{err: context.DeadlineExceeded}
	ok := &countingNotifier{}
	multi := NewMultiNotifier(failing, nil, ok)

	if multi.Len() != 2 {
		t.Fatalf("expected nil notifiers to be dropped, got %d", multi.Len())
	}
	err := multi.Notify(context.Background(), transition.Report{})
	if err != context.DeadlineExceeded {
		t.Fatalf("expected first error, got %v", err)
	}
	if failing.calls != 1 || ok.calls != 1 {
		t.Fatalf("expected both notifiers called, got %d and %d", failing.calls, ok.calls)
	}
}
