package api

import (
	"context"
	"net/http"
	"time"

	"github.com/hypercore-one/bridge-health/internal/fleet"
	"github.com/hypercore-one/bridge-health/internal/healthcheck"
	"github.com/hypercore-one/bridge-health/internal/status"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// Version is reported in every successful response envelope.
const Version = "1.0"

// DefaultRateLimitPerMinute is the per-client request budget for /api.
const DefaultRateLimitPerMinute = 60

// Reader exposes the cached fleet view.
type Reader interface {
	Latest() (*fleet.Snapshot, bool)
	Summary() (fleet.Summary, bool)
	Pillars() (status.Pillars, bool)
}

// Refresher runs an update outside the schedule.
type Refresher interface {
	ForceUpdate(ctx context.Context) (fleet.Snapshot, error)
}

// Config controls authentication and request policy.
type Config struct {
	APIKeys            []string
	AllowedOrigins     []string
	RateLimitPerMinute int
}

// Server is the REST presentation layer.
type Server struct {
	logger    zerolog.Logger
	echo      *echo.Echo
	reader    Reader
	refresher Refresher
	keys      []string
	now       func() time.Time

	tracker      *healthcheck.Tracker
	pollInterval time.Duration
	metrics      http.Handler
}

// Option customizes a Server.
type Option func(*Server)

// WithHealth serves /healthz and /readyz from tracker.
func WithHealth(tracker *healthcheck.Tracker, pollInterval time.Duration) Option {
	return func(s *Server) {
		s.tracker = tracker
		s.pollInterval = pollInterval
	}
}

// WithMetrics serves /metrics from handler.
func WithMetrics(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

// WithClock overrides the access time reported by /api/auth/info.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New builds the echo instance and registers all routes.
func New(logger zerolog.Logger, reader Reader, refresher Refresher, cfg Config, opts ...Option) *Server {
	s := &Server{
		logger:    logger.With().Str("component", "api").Logger(),
		echo:      echo.New(),
		reader:    reader,
		refresher: refresher,
		keys:      append([]string(nil), cfg.APIKeys...),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes(cfg)
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) setupRoutes(cfg Config) {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins(cfg.AllowedOrigins),
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, headerAPIKey},
	}))

	if s.tracker != nil {
		s.echo.GET("/healthz", healthcheck.HealthHandler(s.tracker, s.pollInterval))
		s.echo.GET("/readyz", healthcheck.ReadyHandler(s.tracker))
	}
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	group := s.echo.Group("/api")
	group.Use(s.rateLimiter(cfg.RateLimitPerMinute))
	if len(s.keys) > 0 {
		group.Use(s.keyAuth())
	}
	group.GET("/status", s.handleStatus)
	group.GET("/status/summary", s.handleSummary)
	group.GET("/pillars", s.handlePillars)
	group.GET("/auth/info", s.handleAuthInfo)
	group.POST("/admin/refresh", s.handleRefresh)
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
