package stream

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/roostlabs/roost/internal/metrics"
)

// Subprotocol spoken over the WebSocket bridge: the same line-JSON
// envelopes as TCP, one per text frame.
const wsSubprotocol = "roost.stream.v1"

// handleWS bridges a WebSocket onto the stream protocol. The connection
// lives as long as the request context.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocol},
	})
	if err != nil {
		slog.Debug("ws: accept failed", "error", err)
		return
	}
	defer func() { _ = ws.CloseNow() }()

	metrics.WSConnectionsActive.Inc()
	defer metrics.WSConnectionsActive.Dec()

	ctx := r.Context()
	c := newConn(s, &wsTransport{ws: ws, ctx: ctx, remote: r.RemoteAddr})
	if !s.register(c) {
		_ = ws.Close(websocket.StatusGoingAway, "server is shutting down")
		return
	}
	slog.Debug("stream connection opened", "conn", c.id, "remote", r.RemoteAddr, "via", "websocket")
	c.run(ctx)
}

// wsTransport adapts a WebSocket to the line transport: one envelope
// per text frame. Non-text frames are skipped.
type wsTransport struct {
	ws     *websocket.Conn
	ctx    context.Context
	remote string
}

func (t *wsTransport) ReadLine() ([]byte, error) {
	for {
		typ, data, err := t.ws.Read(t.ctx)
		if err != nil {
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) WriteLine(data []byte) error {
	if err := t.ws.Write(t.ctx, websocket.MessageText, data); err != nil {
		return err
	}
	metrics.WSMessagesTotal.Inc()
	return nil
}

func (t *wsTransport) Close() error {
	return t.ws.Close(websocket.StatusNormalClosure, "")
}

func (t *wsTransport) RemoteAddr() string { return t.remote }
