package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hypercore-one/bridge-health/internal/orchestrator"
	"github.com/hypercore-one/bridge-health/internal/registry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers    = 10
	DefaultThreshold  = 16
	DefaultBatchPause = 200 * time.Millisecond
)

// ErrNoAddresses is returned when a poll is requested for an empty fleet.
var ErrNoAddresses = errors.New("no node addresses configured")

// Querier polls a single node.
type Querier interface {
	Query(ctx context.Context, address string) orchestrator.NodeResult
}

// Aggregator polls a fleet in bounded batches and reduces the results into a
// Snapshot.
type Aggregator struct {
	logger     zerolog.Logger
	querier    Querier
	registry   *registry.Registry
	workers    int
	threshold  int
	batchPause time.Duration
	now        func() time.Time
}

// Option customizes aggregator behavior.
type Option func(*Aggregator)

// WithWorkers sets the batch size and with it the number of concurrent queries.
func WithWorkers(workers int) Option {
	return func(a *Aggregator) {
		a.workers = workers
	}
}

// WithThreshold sets the online count at which the bridge is considered online.
func WithThreshold(threshold int) Option {
	return func(a *Aggregator) {
		a.threshold = threshold
	}
}

// WithBatchPause sets the pause between consecutive batches.
func WithBatchPause(pause time.Duration) Option {
	return func(a *Aggregator) {
		a.batchPause = pause
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// New constructs an Aggregator. The registry supplies display names for
// results synthesized when a query panics.
func New(logger zerolog.Logger, querier Querier, reg *registry.Registry, opts ...Option) *Aggregator {
	a := &Aggregator{
		logger:     logger,
		querier:    querier,
		registry:   reg,
		workers:    DefaultWorkers,
		threshold:  DefaultThreshold,
		batchPause: DefaultBatchPause,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.workers <= 0 {
		a.workers = DefaultWorkers
	}
	return a
}

// Threshold returns the configured bridge threshold.
func (a *Aggregator) Threshold() int {
	return a.threshold
}

// Poll queries every address and returns exactly one result per address.
// Canceling ctx lets the running batch finish; the poll then stops at the next
// batch boundary and returns the context error.
func (a *Aggregator) Poll(ctx context.Context, addresses []string) (Snapshot, error) {
	if len(addresses) == 0 {
		return Snapshot{}, ErrNoAddresses
	}

	start := time.Now()
	results := make([]orchestrator.NodeResult, len(addresses))
	queryCtx := context.WithoutCancel(ctx)

	for batchStart := 0; batchStart < len(addresses); batchStart += a.workers {
		if batchStart > 0 {
			if err := a.waitBetweenBatches(ctx); err != nil {
				return Snapshot{}, fmt.Errorf("poll stopped after %d of %d nodes: %w", batchStart, len(addresses), err)
			}
		}

		batchEnd := min(batchStart+a.workers, len(addresses))
		var g errgroup.Group
		g.SetLimit(a.workers)
		for i := batchStart; i < batchEnd; i++ {
			g.Go(func() error {
				results[i] = a.safeQuery(queryCtx, addresses[i])
				return nil
			})
		}
		_ = g.Wait()

		a.logger.Debug().
			Int("batch_start", batchStart).
			Int("batch_size", batchEnd-batchStart).
			Msg("batch completed")
	}

	snapshot := Summarize(results, a.threshold, a.now(), time.Since(start))

	a.logger.Info().
		Str("bridge_state", string(snapshot.BridgeState)).
		Int("online", snapshot.OnlineCount).
		Int("total", snapshot.TotalCount).
		Float64("duration_seconds", snapshot.PollDurationSeconds).
		Msg("fleet poll completed")

	return snapshot, nil
}

func (a *Aggregator) safeQuery(ctx context.Context, address string) (result orchestrator.NodeResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			a.logger.Error().
				Str("node", address).
				Interface("panic", recovered).
				Msg("node query panicked")
			result = orchestrator.NewFailureResult(
				address,
				a.registry.DisplayName(address),
				fmt.Sprintf("unexpected error: %v", recovered),
				a.now(),
			)
		}
	}()
	return a.querier.Query(ctx, address)
}

func (a *Aggregator) waitBetweenBatches(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.batchPause <= 0 {
		return nil
	}
	timer := time.NewTimer(a.batchPause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
