package status

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hypercore-one/bridge-health/internal/fleet"
	"github.com/hypercore-one/bridge-health/internal/healthcheck"
	"github.com/hypercore-one/bridge-health/internal/metrics"
	"github.com/hypercore-one/bridge-health/internal/notify"
	"github.com/hypercore-one/bridge-health/internal/orchestrator"
	"github.com/hypercore-one/bridge-health/internal/registry"
	"github.com/hypercore-one/bridge-health/internal/snapshot"
	"github.com/hypercore-one/bridge-health/internal/transition"
	"github.com/rs/zerolog"
)

// DefaultExplorerBaseURL is the block explorer linked from enriched registry rows.
const DefaultExplorerBaseURL = "https://zenonhub.io"

// Poller runs one aggregation cycle over a set of addresses.
type Poller interface {
	Poll(ctx context.Context, addresses []string) (fleet.Snapshot, error)
	Threshold() int
}

// Service owns one poll pipeline and serves the latest snapshot to readers.
// Update calls are serialized so snapshots are published in cycle order.
type Service struct {
	logger      zerolog.Logger
	registry    *registry.Registry
	poller      Poller
	store       *snapshot.Store
	addresses   []string
	transport   io.Closer
	metrics     *metrics.Metrics
	tracker     *healthcheck.Tracker
	notifier    notify.Notifier
	explorerURL string

	updateMu  sync.Mutex
	closeOnce sync.Once
}

// Option customizes a Service.
type Option func(*Service)

// WithTransport registers the node client whose connections are released by Close.
func WithTransport(closer io.Closer) Option {
	return func(s *Service) {
		s.transport = closer
	}
}

// WithMetrics records cycle results in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracker records cycle timing for health endpoints.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(s *Service) {
		s.tracker = tracker
	}
}

// WithNotifier delivers detected transitions.
func WithNotifier(notifier notify.Notifier) Option {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithExplorerBaseURL overrides the explorer used for registry links.
func WithExplorerBaseURL(baseURL string) Option {
	return func(s *Service) {
		if baseURL != "" {
			s.explorerURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// New constructs a Service polling addresses with poller and publishing into store.
func New(logger zerolog.Logger, reg *registry.Registry, poller Poller, store *snapshot.Store, addresses []string, opts ...Option) *Service {
	s := &Service{
		logger:      logger.With().Str("component", "status").Logger(),
		registry:    reg,
		poller:      poller,
		store:       store,
		addresses:   append([]string(nil), addresses...),
		explorerURL: DefaultExplorerBaseURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addresses returns the polled addresses.
func (s *Service) Addresses() []string {
	return append([]string(nil), s.addresses...)
}

// Update runs one poll cycle and publishes its snapshot. On failure the
// previous snapshot stays current.
func (s *Service) Update(ctx context.Context) (fleet.Snapshot, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	previous, _ := s.store.Latest()

	snap, err := s.poller.Poll(ctx, s.addresses)
	if err != nil {
		s.recordFailure()
		return fleet.Snapshot{}, fmt.Errorf("poll fleet: %w", err)
	}
	// A completed poll is always published, even when ctx was canceled meanwhile.
	if err := s.store.Publish(context.WithoutCancel(ctx), snap); err != nil {
		s.recordFailure()
		return fleet.Snapshot{}, err
	}

	s.recordCycle(snap)
	s.dispatch(ctx, previous, snap)

	return snap, nil
}

// Latest returns the current snapshot, if any.
func (s *Service) Latest() (*fleet.Snapshot, bool) {
	return s.store.Latest()
}

// Summary returns the aggregate part of the current snapshot, if any.
func (s *Service) Summary() (fleet.Summary, bool) {
	latest, ok := s.store.Latest()
	if !ok {
		return fleet.Summary{}, false
	}
	return latest.Summary, true
}

// Close releases the node client's idle connections. It is safe to call
// more than once.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.transport != nil {
			err = s.transport.Close()
		}
	})
	return err
}

func (s *Service) recordFailure() {
	s.metrics.IncPollFailures()
	s.tracker.RecordFailure()
}

func (s *Service) recordCycle(snap fleet.Snapshot) {
	duration := time.Duration(snap.PollDurationSeconds * float64(time.Second))
	s.tracker.RecordCycle(duration, snap.TotalCount, string(snap.BridgeState))

	if s.metrics == nil {
		return
	}
	s.metrics.ObservePollDuration(duration)
	s.metrics.SetNodes(string(orchestrator.StatusOnline), snap.OnlineCount)
	s.metrics.SetNodes(string(orchestrator.StatusOffline), snap.TotalCount-snap.OnlineCount)
	s.metrics.SetBridgeOnline(snap.BridgeState == fleet.BridgeOnline)

	mismatches := 0
	pending := orchestrator.ZeroCounters()
	for _, result := range snap.Results {
		if result.IdentityMismatch {
			mismatches++
		} else if category := orchestrator.CategoryOf(result.ErrorDetail); category != "" {
			s.metrics.IncNodeQueryErrors(string(category))
		}
		for chain, counters := range result.NetworkCounters {
			total := pending[chain]
			total.Wraps += counters.Wraps
			total.Unwraps += counters.Unwraps
			pending[chain] = total
		}
	}
	s.metrics.SetIdentityMismatches(mismatches)
	for chain, counters := range pending {
		s.metrics.SetPendingOperations(chain, "wrap", counters.Wraps)
		s.metrics.SetPendingOperations(chain, "unwrap", counters.Unwraps)
	}
	s.metrics.SetLastSuccessfulCycleTimestamp(snap.ObservedAt)
}

// dispatch logs transitions against the previous snapshot and hands them to
// the notifier. Delivery failures never fail the cycle.
func (s *Service) dispatch(ctx context.Context, previous *fleet.Snapshot, current fleet.Snapshot) {
	report := transition.Detect(previous, current, s.poller.Threshold())
	if report.Empty() {
		return
	}

	if bridge := report.Bridge; bridge != nil {
		event := s.logger.Info()
		if bridge.CurrentState == fleet.BridgeOffline {
			event = s.logger.Error()
		}
		event.
			Str("previous_state", string(bridge.PreviousState)).
			Str("current_state", string(bridge.CurrentState)).
			Int("online", bridge.OnlineCount).
			Int("total", bridge.TotalCount).
			Int("threshold", bridge.Threshold).
			Msg("bridge state transition detected")
		s.metrics.IncAlertsTotal("bridge")
	}
	for _, change := range report.Nodes {
		event := s.logger.Info()
		if change.CurrentStatus != orchestrator.StatusOnline || change.IdentityMismatch {
			event = s.logger.Warn()
		}
		event.
			Str("node", change.Address).
			Str("pillar", change.DisplayName).
			Str("previous_status", string(change.PreviousStatus)).
			Str("current_status", string(change.CurrentStatus)).
			Bool("identity_mismatch", change.IdentityMismatch).
			Msg("node transition detected")
		s.metrics.IncAlertsTotal("node")
	}

	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, report); err != nil {
		s.logger.Warn().Err(err).Msg("transition notification failed")
	}
}
