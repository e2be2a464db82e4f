package snapshot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hypercore-one/bridge-health/internal/fleet"
	"github.com/rs/zerolog"
)

// Persister durably records snapshots.
type Persister interface {
	Load(ctx context.Context) (*fleet.Snapshot, error)
	Save(ctx context.Context, snapshot fleet.Snapshot) error
}

// Store holds the latest snapshot in memory for lock-free reads and writes
// every new snapshot through to a Persister. Mirrors receive a copy after the
// snapshot has been persisted; their failures are logged only.
type Store struct {
	logger    zerolog.Logger
	persister Persister
	mirrors   []Persister

	writeMu sync.Mutex
	latest  atomic.Pointer[fleet.Snapshot]
}

// NewStore constructs a Store. persister may be nil for a memory-only store.
func NewStore(logger zerolog.Logger, persister Persister, mirrors ...Persister) *Store {
	filtered := make([]Persister, 0, len(mirrors))
	for _, mirror := range mirrors {
		if mirror != nil {
			filtered = append(filtered, mirror)
		}
	}
	return &Store{
		logger:    logger,
		persister: persister,
		mirrors:   filtered,
	}
}

// Restore loads the last persisted snapshot into memory. When the persister
// has nothing the mirrors are tried in order.
func (s *Store) Restore(ctx context.Context) error {
	sources := make([]Persister, 0, len(s.mirrors)+1)
	if s.persister != nil {
		sources = append(sources, s.persister)
	}
	sources = append(sources, s.mirrors...)

	for _, source := range sources {
		loaded, err := source.Load(ctx)
		if err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		if loaded == nil {
			continue
		}

		s.writeMu.Lock()
		if s.latest.Load() == nil {
			s.latest.Store(loaded)
		}
		s.writeMu.Unlock()

		s.logger.Info().
			Time("observed_at", loaded.ObservedAt).
			Int("results", len(loaded.Results)).
			Msg("restored previous snapshot")
		return nil
	}
	return nil
}

// Publish persists snapshot and then makes it the latest. On a persistence
// error the previous snapshot stays in place.
func (s *Store) Publish(ctx context.Context, snapshot fleet.Snapshot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.persister != nil {
		if err := s.persister.Save(ctx, snapshot); err != nil {
			return fmt.Errorf("persist snapshot: %w", err)
		}
	}

	stored := snapshot
	stored.Results = append(stored.Results[:0:0], snapshot.Results...)
	s.latest.Store(&stored)

	for _, mirror := range s.mirrors {
		if err := mirror.Save(ctx, stored); err != nil {
			s.logger.Warn().Err(err).Msg("snapshot mirror update failed")
		}
	}
	return nil
}

// Latest returns the most recent snapshot. The returned value is shared and
// must not be modified.
func (s *Store) Latest() (*fleet.Snapshot, bool) {
	current := s.latest.Load()
	return current, current != nil
}
