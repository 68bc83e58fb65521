// ABOUTME: Gateway orchestrator wiring the websocket endpoint, REST API, and HTTP server
// ABOUTME: Manages server lifecycle with graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/2389/relay-gateway/internal/agent"
	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/identity"
	"github.com/2389/relay-gateway/internal/prompt"
	"github.com/2389/relay-gateway/internal/store"
)

// Gateway orchestrates the relay-gateway server components.
// It owns the HTTP server carrying the websocket endpoint and REST API;
// the store, identity resolver, agent factory, and prompt enhancer are
// injected.
type Gateway struct {
	store    store.Store
	resolver identity.Resolver
	factory  agent.Factory
	enhancer prompt.Enhancer
	logger   *slog.Logger

	httpAddr        string
	workspaceRoot   string
	identityTimeout time.Duration

	httpServer *http.Server

	// connections counts live authenticated websocket connections
	connections atomic.Int64
}

// Options carries the injected collaborators for a Gateway
type Options struct {
	Store    store.Store
	Resolver identity.Resolver
	Factory  agent.Factory
	Enhancer prompt.Enhancer // optional; enhance_prompt reports unavailable when nil
	Logger   *slog.Logger
}

// New creates a new Gateway instance with the given configuration
func New(cfg *config.Config, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		store:           opts.Store,
		resolver:        opts.Resolver,
		factory:         opts.Factory,
		enhancer:        opts.Enhancer,
		logger:          logger.With("component", "gateway"),
		httpAddr:        cfg.Server.HTTPAddr,
		workspaceRoot:   cfg.Workspace.Root,
		identityTimeout: cfg.Identity.Timeout,
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g
}

// Handler returns the gateway's HTTP handler with all routes registered
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("GET /api/sessions/{device_id}", g.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{session_id}/events", g.handleListEvents)
	mux.HandleFunc("POST /api/upload", g.handleUpload)

	return mux
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.httpAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	if err := g.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// handleHealth returns liveness plus the live connection count
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": g.connections.Load(),
	})
}
