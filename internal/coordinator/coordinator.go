package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/hypercore-one/bridge-health/internal/api"
	"github.com/hypercore-one/bridge-health/internal/config"
	"github.com/hypercore-one/bridge-health/internal/fleet"
	"github.com/hypercore-one/bridge-health/internal/healthcheck"
	"github.com/hypercore-one/bridge-health/internal/metrics"
	"github.com/hypercore-one/bridge-health/internal/notify"
	"github.com/hypercore-one/bridge-health/internal/orchestrator"
	"github.com/hypercore-one/bridge-health/internal/registry"
	"github.com/hypercore-one/bridge-health/internal/scheduler"
	"github.com/hypercore-one/bridge-health/internal/server"
	"github.com/hypercore-one/bridge-health/internal/snapshot"
	"github.com/hypercore-one/bridge-health/internal/status"
	"github.com/rs/zerolog"
)

// Coordinator owns every long-lived component and runs them until shutdown.
type Coordinator struct {
	logger zerolog.Logger
	cfg    config.Config

	registry  *registry.Registry
	client    *orchestrator.Client
	store     *snapshot.Store
	metrics   *metrics.Metrics
	tracker   *healthcheck.Tracker
	service   *status.Service
	scheduler *scheduler.Scheduler
	api       *api.Server

	closers []io.Closer
}

// Option customizes a Coordinator.
type Option func(*options)

type options struct {
	clientOptions    []orchestrator.Option
	schedulerOptions []scheduler.Option
	notifier         notify.Notifier
}

// WithClientOptions appends options to the node client.
func WithClientOptions(opts ...orchestrator.Option) Option {
	return func(o *options) {
		o.clientOptions = append(o.clientOptions, opts...)
	}
}

// WithSchedulerOptions appends options to the refresh scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(o *options) {
		o.schedulerOptions = append(o.schedulerOptions, opts...)
	}
}

// WithNotifier replaces the notifiers built from configuration.
func WithNotifier(notifier notify.Notifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

// New wires the components described by cfg. Nothing is started.
func New(logger zerolog.Logger, cfg config.Config, opts ...Option) (*Coordinator, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Coordinator{
		logger:  logger,
		cfg:     cfg,
		metrics: metrics.New(),
		tracker: healthcheck.NewTracker(),
	}

	for _, address := range cfg.InvalidAddresses {
		logger.Warn().Str("address", address).Msg("skipping invalid node address")
	}

	reg, err := loadRegistry(logger, cfg.RegistryFile)
	if err != nil {
		return nil, err
	}
	c.registry = reg
	for _, address := range cfg.NodeAddresses {
		if _, ok := reg.Lookup(address); !ok {
			logger.Warn().Str("address", address).Msg("node address is not in the registry")
		}
	}

	clientOpts := []orchestrator.Option{
		orchestrator.WithPort(cfg.NodePort),
		orchestrator.WithTimeout(cfg.NodeTimeout),
		orchestrator.WithRetries(cfg.NodeRetries),
		orchestrator.WithCallPause(cfg.CallPause),
	}
	c.client = orchestrator.NewClient(logger, reg, append(clientOpts, o.clientOptions...)...)

	aggregator := fleet.New(logger, c.client, reg,
		fleet.WithWorkers(cfg.Workers),
		fleet.WithThreshold(cfg.OnlineThreshold),
		fleet.WithBatchPause(cfg.BatchPause),
	)

	var mirrors []snapshot.Persister
	if cfg.RedisURL != "" {
		redisClient, err := snapshot.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, redisClient)
		mirrors = append(mirrors, snapshot.NewRedisMirror(redisClient, snapshot.DefaultRedisKey, 0))
	}
	c.store = snapshot.NewStore(logger, snapshot.NewFileStore(cfg.SnapshotFile, logger), mirrors...)

	notifier := o.notifier
	if notifier == nil {
		notifier, err = buildNotifier(logger, cfg)
		if err != nil {
			return nil, err
		}
	}

	c.service = status.New(logger, reg, aggregator, c.store, cfg.NodeAddresses,
		status.WithTransport(c.client),
		status.WithMetrics(c.metrics),
		status.WithTracker(c.tracker),
		status.WithNotifier(notifier),
		status.WithExplorerBaseURL(cfg.ExplorerBaseURL),
	)

	schedulerOpts := append([]scheduler.Option{scheduler.WithTransport(c.client)}, o.schedulerOptions...)
	c.scheduler = scheduler.New(logger, c.service, cfg.PollInterval, schedulerOpts...)

	apiOpts := []api.Option{api.WithHealth(c.tracker, cfg.PollInterval)}
	if cfg.MetricsPort == 0 {
		apiOpts = append(apiOpts, api.WithMetrics(c.metrics.Handler()))
	}
	c.api = api.New(logger, c.service, c.scheduler, api.Config{
		APIKeys:            cfg.APIKeys,
		AllowedOrigins:     cfg.AllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, apiOpts...)

	return c, nil
}

// Service exposes the read side for one-shot commands.
func (c *Coordinator) Service() *status.Service {
	return c.service
}

// PollOnce runs a single update cycle outside the scheduler.
func (c *Coordinator) PollOnce(ctx context.Context) (fleet.Snapshot, error) {
	return c.service.Update(ctx)
}

// Run restores the last snapshot, refreshes once, then serves until ctx is
// canceled. Returns nil on clean shutdown.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info().
		Int("nodes", len(c.cfg.NodeAddresses)).
		Int("registered", c.registry.Len()).
		Dur("poll_interval", c.cfg.PollInterval).
		Int("online_threshold", c.cfg.OnlineThreshold).
		Msg("starting coordinator")

	if err := c.store.Restore(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("failed to restore previous snapshot")
	}
	if _, ok := c.store.Latest(); ok {
		c.tracker.MarkReady()
	}

	if _, err := c.scheduler.ForceUpdate(ctx); err != nil {
		c.logger.Error().Err(err).Msg("initial update failed")
	}

	if err := c.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	listeners := []server.Listener{{Label: "api", Port: c.cfg.HTTPPort, Handler: c.api.Handler()}}
	if c.cfg.MetricsPort > 0 {
		listeners = append(listeners, server.Listener{Label: "metrics", Port: c.cfg.MetricsPort, Handler: c.metrics.Handler()})
	}
	group, err := server.Start(ctx, c.logger, listeners...)
	if err != nil {
		c.scheduler.Stop()
		return err
	}

	<-ctx.Done()
	c.logger.Info().Msg("shutting down")

	c.scheduler.Stop()
	group.Wait()

	if err := c.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to release resources")
	}
	c.logger.Info().Msg("coordinator stopped")
	return nil
}

// Close releases the node client and any external connections.
func (c *Coordinator) Close() error {
	errs := []error{c.service.Close()}
	for _, closer := range c.closers {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

func loadRegistry(logger zerolog.Logger, path string) (*registry.Registry, error) {
	if path == "" {
		return registry.New(nil), nil
	}
	reg, err := registry.LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Str("path", path).Msg("registry file not found, nodes will use synthetic names")
		return registry.New(nil), nil
	}
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func buildNotifier(logger zerolog.Logger, cfg config.Config) (notify.Notifier, error) {
	var notifiers []notify.Notifier

	slackOpts := []notify.SlackOption{notify.WithSlackExplorer(cfg.ExplorerBaseURL)}
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(logger, cfg.SlackWebhookURL, slackOpts...))
	}

	webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, cfg.WebhookTemplate)
	if err != nil {
		return nil, err
	}
	if webhook != nil {
		notifiers = append(notifiers, webhook)
	}

	if cfg.NotifyDryRun {
		return notify.NewDryRunNotifier(logger, notify.NewMultiNotifier(notifiers...)), nil
	}
	if len(notifiers) == 0 {
		return notify.NewNoop(logger, "no notification targets configured"), nil
	}
	return notify.NewMultiNotifier(notifiers...), nil
}
