// Package harness provides a reusable roost server that can be
// embedded in other binaries (e.g. tests or the roost CLI). It wires
// the workspace stores, the observed-event bus, the session
// coordinator, and the stream/HTTP listeners.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roostlabs/roost/internal/auth"
	"github.com/roostlabs/roost/internal/config"
	"github.com/roostlabs/roost/internal/events"
	"github.com/roostlabs/roost/internal/logging"
	"github.com/roostlabs/roost/internal/session"
	"github.com/roostlabs/roost/internal/store"
	"github.com/roostlabs/roost/internal/stream"
)

// Server is a fully wired roost instance. Build it with New, run it
// with Serve; Serve owns the teardown and returns once everything is
// drained and persisted.
type Server struct {
	cfg    *config.Config
	bus    *events.Bus
	stores *store.Manager
	coord  *session.Coordinator
	stream *stream.Server

	streamLis net.Listener
	httpLis   net.Listener
}

// New validates cfg, binds both listeners, and wires the components.
// The HTTP listener binds here rather than in Serve because the
// per-session OTLP ingest root handed to agents must carry the
// resolved port (the configured address may be ":0"). A bind or
// journal-load failure leaves nothing running.
func New(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	streamLis, err := net.Listen("tcp", cfg.StreamAddr)
	if err != nil {
		return nil, fmt.Errorf("listen stream %s: %w", cfg.StreamAddr, err)
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = streamLis.Close()
		return nil, fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}

	bus := events.NewBus(cfg.EventJournalSize)
	if err := bus.LoadJournal(cfg.JournalPath()); err != nil {
		slog.Warn("event journal unreadable, starting empty",
			"path", cfg.JournalPath(), "error", err)
	}

	stores := store.NewManager(cfg.WorkspaceDBPath, bus)
	coord := session.NewCoordinator(bus, stores, session.Options{
		MaxBacklogBytes: cfg.MaxBacklogBytes,
		PollInterval:    cfg.NotifyPollInterval,
		NotifyPath:      cfg.NotifyPath,
		OTLPBaseURL:     otlpBaseURL(httpLis.Addr()),
	})
	streamSrv := stream.New(bus, stores, coord, stream.Options{
		Auth:                  auth.New(cfg.AuthToken, cfg.AuthTokenHash),
		SubscriptionQueueSize: cfg.SubscriptionQueueSize,
	})

	return &Server{
		cfg:       cfg,
		bus:       bus,
		stores:    stores,
		coord:     coord,
		stream:    streamSrv,
		streamLis: streamLis,
		httpLis:   httpLis,
	}, nil
}

// StreamAddr returns the bound control-plane TCP address.
func (s *Server) StreamAddr() string { return s.streamLis.Addr().String() }

// HTTPAddr returns the bound HTTP listener address (OTLP ingest,
// /metrics, /ws, /healthz).
func (s *Server) HTTPAddr() string { return s.httpLis.Addr().String() }

// Serve runs the harness until ctx is cancelled, then shuts down in
// order: refuse new connections and notify clients, drain in-flight
// HTTP, terminate live sessions with the configured grace, drop the
// remaining connections, persist the event journal, and checkpoint and
// close the stores. It returns nil on a clean ctx-driven shutdown.
func (s *Server) Serve(ctx context.Context) error {
	httpSrv := &http.Server{
		Handler:           logging.HTTPMiddleware(s.stream.HTTPHandler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.stream.Serve(gctx, s.streamLis); err != nil {
			return fmt.Errorf("stream listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := httpSrv.Serve(s.httpLis); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.UsageInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.coord.RefreshUsage()
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.GitInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.coord.RefreshGitSummaries()
			}
		}
	})

	slog.Info("roost listening", "stream", s.StreamAddr(), "http", s.HTTPAddr())

	// Blocks until the caller cancels or a listener fails.
	<-gctx.Done()
	slog.Info("roost shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 1. Refuse new connections and tell current clients.
	s.stream.NotifyShutdown("server shutting down")

	// 2. Drain in-flight HTTP requests. WS connections are hijacked and
	// not waited on; step 4 drops them.
	_ = httpSrv.Shutdown(shutdownCtx)

	// 3. Terminate live sessions: SIGTERM, grace, then kill. Their exit
	// events still land in the journal saved below.
	s.coord.Shutdown(shutdownCtx, s.cfg.ShutdownGrace)

	// 4. Drop remaining stream and WS connections.
	s.stream.Close()

	// 5. Persist the event journal for afterCursor replay across restarts.
	if err := s.bus.SaveJournal(s.cfg.JournalPath()); err != nil {
		slog.Warn("event journal save failed", "path", s.cfg.JournalPath(), "error", err)
	}

	// 6. Checkpoint WALs and close the stores.
	s.stores.Checkpoint(shutdownCtx)
	if err := s.stores.Close(); err != nil {
		slog.Warn("store close failed", "error", err)
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// otlpBaseURL derives the ingest root advertised to agents from the
// bound listener address. A wildcard bind advertises loopback: the
// agents it feeds run on this host.
func otlpBaseURL(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
