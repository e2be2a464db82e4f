package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hypercore-one/bridge-health/internal/fleet"
	"github.com/rs/zerolog"
)

const (
	// DefaultInitialWait bounds how long a fresh loop waits for ForceUpdate.
	DefaultInitialWait = 10 * time.Second
	// DefaultFailureCap bounds the retry wait after a failed cycle.
	DefaultFailureCap = 30 * time.Second
	// DefaultStopTimeout bounds how long Stop waits for the loop to exit.
	DefaultStopTimeout = 10 * time.Second

	failureInitialWait = 5 * time.Second
)

// ErrStillStopping is returned by Start while a previously stopped loop has
// not exited yet.
var ErrStillStopping = errors.New("previous scheduler loop is still running")

// Updater runs one poll-and-publish cycle.
type Updater interface {
	Update(ctx context.Context) (fleet.Snapshot, error)
}

// Timer is the minimal interface needed for the loop's waits.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type timeTimer struct {
	timer *time.Timer
}

func (t timeTimer) C() <-chan time.Time {
	return t.timer.C
}

func (t timeTimer) Stop() bool {
	return t.timer.Stop()
}

// Scheduler drives periodic and on-demand updates. It moves between stopped
// and running; Start and Stop are no-ops when already in the target state.
type Scheduler struct {
	logger       zerolog.Logger
	updater      Updater
	transport    io.Closer
	interval     time.Duration
	initialWait  time.Duration
	failureCap   time.Duration
	stopTimeout  time.Duration
	timerFactory func(time.Duration) Timer

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	// stopping is the done channel of a loop that outlived its stop timeout.
	stopping chan struct{}

	initialOnce sync.Once
	initialData chan struct{}
}

// Option customizes scheduler behavior.
type Option func(*Scheduler)

// WithTimerFactory overrides how timers are created.
func WithTimerFactory(factory func(time.Duration) Timer) Option {
	return func(s *Scheduler) {
		s.timerFactory = factory
	}
}

// WithInitialWait overrides how long a started loop waits for initial data.
func WithInitialWait(wait time.Duration) Option {
	return func(s *Scheduler) {
		s.initialWait = wait
	}
}

// WithFailureCap overrides the upper bound of the post-failure wait.
func WithFailureCap(limit time.Duration) Option {
	return func(s *Scheduler) {
		s.failureCap = limit
	}
}

// WithStopTimeout overrides how long Stop waits for the loop.
func WithStopTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		s.stopTimeout = timeout
	}
}

// WithTransport registers the node client released on Stop.
func WithTransport(closer io.Closer) Option {
	return func(s *Scheduler) {
		s.transport = closer
	}
}

// New constructs a Scheduler running updater every interval.
func New(logger zerolog.Logger, updater Updater, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:      logger.With().Str("component", "scheduler").Logger(),
		updater:     updater,
		interval:    interval,
		initialWait: DefaultInitialWait,
		failureCap:  DefaultFailureCap,
		stopTimeout: DefaultStopTimeout,
		timerFactory: func(d time.Duration) Timer {
			return timeTimer{timer: time.NewTimer(d)}
		},
		initialData: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop. ctx bounds the loop's lifetime in
// addition to Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn().Msg("scheduler already running")
		return nil
	}
	if s.stopping != nil {
		select {
		case <-s.stopping:
			s.stopping = nil
		default:
			s.logger.Warn().Msg("previous scheduler loop has not exited yet")
			return ErrStillStopping
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running = true

	go s.loop(loopCtx, done)

	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
	return nil
}

// Stop signals the loop to exit at its next wait or batch boundary, waits up
// to the stop timeout, then releases the node client's connections.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	s.logger.Info().Msg("stopping scheduler")
	cancel()

	timer := s.timerFactory(s.stopTimeout)
	select {
	case <-done:
		timer.Stop()
		s.logger.Info().Msg("scheduler stopped")
	case <-timer.C():
		s.logger.Warn().Dur("timeout", s.stopTimeout).Msg("scheduler loop did not stop in time")
		s.mu.Lock()
		s.stopping = done
		s.mu.Unlock()
	}

	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("release node transport")
		}
	}
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ForceUpdate runs one cycle synchronously and, on success, signals that
// initial data is available so a waiting loop proceeds.
func (s *Scheduler) ForceUpdate(ctx context.Context) (fleet.Snapshot, error) {
	s.logger.Info().Msg("forcing immediate update")
	snap, err := s.updater.Update(ctx)
	if err != nil {
		err = wrapCycle("forced update", err)
		s.logger.Error().Err(err).Msg("forced update failed")
		return fleet.Snapshot{}, err
	}
	s.initialOnce.Do(func() { close(s.initialData) })
	s.logger.Info().
		Str("bridge_state", string(snap.BridgeState)).
		Int("online", snap.OnlineCount).
		Int("total", snap.TotalCount).
		Msg("forced update completed")
	return snap, nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if !s.awaitInitialData(ctx) {
		return
	}

	failures := s.failureBackOff()
	wait := s.interval
	for {
		if !s.sleep(ctx, wait) {
			return
		}

		if err := s.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = failures.NextBackOff()
			s.logger.Error().Err(err).Dur("retry_in", wait).Msg("update cycle failed")
			continue
		}
		failures.Reset()
		wait = s.interval
	}
}

func (s *Scheduler) runCycle(ctx context.Context) error {
	s.logger.Debug().Msg("starting scheduled update")
	snap, err := s.updater.Update(ctx)
	if err != nil {
		return wrapCycle("scheduled update", err)
	}
	s.logger.Debug().
		Str("bridge_state", string(snap.BridgeState)).
		Float64("duration_seconds", snap.PollDurationSeconds).
		Msg("scheduled update completed")
	return nil
}

// awaitInitialData waits for ForceUpdate or the initial wait, whichever is
// first. It returns false when ctx ends.
func (s *Scheduler) awaitInitialData(ctx context.Context) bool {
	select {
	case <-s.initialData:
		return true
	default:
	}
	if s.initialWait <= 0 {
		return ctx.Err() == nil
	}

	timer := s.timerFactory(s.initialWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.initialData:
		return true
	case <-timer.C():
		s.logger.Debug().Msg("no initial data signal; entering interval loop")
		return true
	}
}

func (s *Scheduler) sleep(ctx context.Context, wait time.Duration) bool {
	timer := s.timerFactory(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	}
}

// failureBackOff grows the retry wait after consecutive failures, never
// exceeding the smaller of the interval and the failure cap.
func (s *Scheduler) failureBackOff() backoff.BackOff {
	limit := s.interval
	if s.failureCap > 0 && s.failureCap < limit {
		limit = s.failureCap
	}
	initial := failureInitialWait
	if initial > limit {
		initial = limit
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.MaxInterval = limit
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}
