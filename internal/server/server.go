package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Listener describes one HTTP server to run.
type Listener struct {
	Label   string
	Port    int
	Handler http.Handler
}

// Group runs HTTP servers until their context ends.
type Group struct {
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// Start launches a server for every listener with a positive port. Servers
// shut down gracefully once ctx is canceled; Wait blocks until they have.
func Start(ctx context.Context, logger zerolog.Logger, listeners ...Listener) (*Group, error) {
	g := &Group{logger: logger.With().Str("component", "http").Logger()}

	for _, listener := range listeners {
		if listener.Port <= 0 || listener.Handler == nil {
			continue
		}
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", listener.Port))
		if err != nil {
			return g, fmt.Errorf("listen %s on port %d: %w", listener.Label, listener.Port, err)
		}
		g.serve(ctx, ln, listener)
	}
	return g, nil
}

// Wait blocks until every started server has shut down.
func (g *Group) Wait() {
	g.wg.Wait()
}

func (g *Group) serve(ctx context.Context, ln net.Listener, listener Listener) {
	server := &http.Server{
		Handler:           listener.Handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	logger := g.logger.With().Str("server", listener.Label).Int("port", listener.Port).Logger()

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		logger.Info().Msg("http server starting")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	go func() {
		defer g.wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http server shutdown failed")
			return
		}
		logger.Info().Msg("http server stopped")
	}()
}
