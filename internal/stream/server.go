package stream

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/roostlabs/roost/internal/auth"
	"github.com/roostlabs/roost/internal/events"
	"github.com/roostlabs/roost/internal/metrics"
	"github.com/roostlabs/roost/internal/session"
	"github.com/roostlabs/roost/internal/store"
	"github.com/roostlabs/roost/protocol"
)

// Options configures a stream server.
type Options struct {
	Auth *auth.Authenticator

	// SubscriptionQueueSize bounds each stream.subscribe queue.
	SubscriptionQueueSize int
}

// Server owns the control-plane connections. The same command surface
// is served over raw TCP (Serve) and WebSocket (HTTPHandler); both
// funnel into conn.
type Server struct {
	bus       *events.Bus
	stores    *store.Manager
	coord     *session.Coordinator
	auth      *auth.Authenticator
	queueSize int

	mu       sync.Mutex
	conns    map[string]*conn
	shutdown bool
}

func New(bus *events.Bus, stores *store.Manager, coord *session.Coordinator, opts Options) *Server {
	queueSize := opts.SubscriptionQueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	a := opts.Auth
	if a == nil {
		a = auth.New("", "")
	}
	return &Server{
		bus:       bus,
		stores:    stores,
		coord:     coord,
		auth:      a,
		queueSize: queueSize,
		conns:     make(map[string]*conn),
	}
}

// Serve accepts line-JSON connections until the listener closes or ctx
// is canceled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = lis.Close() })
	defer stop()

	for {
		netConn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || s.shuttingDown() {
				return nil
			}
			return err
		}
		c := newConn(s, newTCPTransport(netConn))
		if !s.register(c) {
			_ = netConn.Close()
			continue
		}
		slog.Debug("stream connection opened", "conn", c.id, "remote", netConn.RemoteAddr())
		go c.run(ctx)
	}
}

func (s *Server) authRequired() bool { return s.auth.Required() }

func (s *Server) checkToken(token string) error { return s.auth.Verify(token) }

func (s *Server) register(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.conns[c.id] = c
	metrics.ActiveConnections.Inc()
	return true
}

func (s *Server) unregister(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[connID]; ok {
		delete(s.conns, connID)
		metrics.ActiveConnections.Dec()
	}
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// ConnCount reports the number of registered connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// NotifyShutdown stops admitting connections and tells every current
// one that the server is going away. Transports stay open so in-flight
// results can drain; Close tears them down.
func (s *Server) NotifyShutdown(reason string) {
	s.mu.Lock()
	s.shutdown = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.send(protocol.ServerEnvelope{Type: protocol.ServerShutdown, Reason: reason})
	}
}

// Close force-closes every connection.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.cleanup()
	}
}
