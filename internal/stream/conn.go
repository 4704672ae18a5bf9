// Package stream serves the roost control plane: line-JSON envelopes
// over TCP and WebSocket, the command surface, event subscriptions with
// bounded queues, and lossless PTY attachments. One reader goroutine
// per connection accepts envelopes; commands are acknowledged
// immediately and executed by a single per-connection processor so
// results come back in receipt order.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/roostlabs/roost/internal/id"
	"github.com/roostlabs/roost/internal/metrics"
	"github.com/roostlabs/roost/internal/ptyhost"
	"github.com/roostlabs/roost/protocol"
)

// maxLineBytes bounds one envelope. Snapshot frames and backlog replay
// chunks fit comfortably; anything larger is a broken client.
const maxLineBytes = 4 << 20

// transport reads and writes single envelopes. Implementations are not
// concurrency-safe; the connection serializes writes under sendMu.
type transport interface {
	ReadLine() ([]byte, error)
	WriteLine(data []byte) error
	Close() error
	RemoteAddr() string
}

type tcpTransport struct {
	c       net.Conn
	scanner *bufio.Scanner
	w       *bufio.Writer
}

func newTCPTransport(c net.Conn) *tcpTransport {
	scanner := bufio.NewScanner(c)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &tcpTransport{c: c, scanner: scanner, w: bufio.NewWriter(c)}
}

func (t *tcpTransport) ReadLine() ([]byte, error) {
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return t.scanner.Bytes(), nil
}

func (t *tcpTransport) WriteLine(data []byte) error {
	if _, err := t.w.Write(data); err != nil {
		return err
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return err
	}
	return t.w.Flush()
}

func (t *tcpTransport) Close() error       { return t.c.Close() }
func (t *tcpTransport) RemoteAddr() string { return t.c.RemoteAddr().String() }

type queuedCommand struct {
	commandID string
	raw       json.RawMessage
}

// conn is one control-plane connection, TCP or WebSocket.
type conn struct {
	id  string
	srv *Server
	t   transport

	// authed is owned by the reader goroutine.
	authed bool

	sendMu sync.Mutex

	commands chan queuedCommand

	mu          sync.Mutex
	closed      bool
	subs        map[string]*subscription
	attachments map[string]*attachment
	eventSubs   map[string]string // sessionID -> exit-only attachment id

	closeOnce sync.Once
}

func newConn(srv *Server, t transport) *conn {
	return &conn{
		id:          id.Short(),
		srv:         srv,
		t:           t,
		authed:      !srv.authRequired(),
		commands:    make(chan queuedCommand, 64),
		subs:        make(map[string]*subscription),
		attachments: make(map[string]*attachment),
		eventSubs:   make(map[string]string),
	}
}

// run drives the connection until the peer disconnects or the server
// shuts down. It blocks; the caller owns the goroutine.
func (c *conn) run(ctx context.Context) {
	defer c.cleanup()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.process(ctx)
	}()

	c.readLoop()
	close(c.commands)
	wg.Wait()
}

func (c *conn) readLoop() {
	for {
		line, err := c.t.ReadLine()
		if err != nil {
			if err != io.EOF {
				slog.Debug("connection read ended", "conn", c.id, "error", err)
			}
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var env protocol.ClientEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			// Malformed lines are ignored; the connection stays open.
			slog.Debug("malformed envelope ignored", "conn", c.id, "error", err)
			continue
		}
		c.handle(env)
	}
}

func (c *conn) handle(env protocol.ClientEnvelope) {
	switch env.Type {
	case protocol.ClientAuth:
		c.handleAuth(env.Token)

	case protocol.ClientCommand:
		if env.CommandID == "" {
			return
		}
		if !c.authed {
			c.send(protocol.ServerEnvelope{
				Type:      protocol.ServerCommandFailed,
				CommandID: env.CommandID,
				Error:     "unauthenticated",
			})
			return
		}
		c.send(protocol.ServerEnvelope{Type: protocol.ServerCommandAccepted, CommandID: env.CommandID})
		// A full queue blocks the reader, which is the backpressure
		// that keeps receipt order equal to processing order.
		c.commands <- queuedCommand{commandID: env.CommandID, raw: env.Command}

	case protocol.ClientPTYInput:
		if !c.authed {
			return
		}
		s, err := c.srv.coord.Get(env.SessionID)
		if err != nil {
			return
		}
		data, err := base64.StdEncoding.DecodeString(env.DataBase64)
		if err != nil {
			return
		}
		s.WriteInput(data)

	case protocol.ClientPTYResize:
		if !c.authed {
			return
		}
		if s, err := c.srv.coord.Get(env.SessionID); err == nil {
			s.Resize(env.Cols, env.Rows)
		}

	case protocol.ClientPTYSignal:
		if !c.authed {
			return
		}
		kind, err := ptyhost.ParseSignal(env.Signal)
		if err != nil {
			return
		}
		if s, err := c.srv.coord.Get(env.SessionID); err == nil {
			s.Signal(kind)
		}

	default:
		slog.Debug("unknown envelope type ignored", "conn", c.id, "type", env.Type)
	}
}

func (c *conn) handleAuth(token string) {
	if err := c.srv.checkToken(token); err != nil {
		c.send(protocol.ServerEnvelope{Type: protocol.ServerAuthError, Error: err.Error()})
		return
	}
	c.authed = true
	c.send(protocol.ServerEnvelope{Type: protocol.ServerAuthOK})
}

// process executes queued commands one at a time and emits exactly one
// command.completed or command.failed per command.
func (c *conn) process(ctx context.Context) {
	for q := range c.commands {
		c.execute(ctx, q)
	}
}

func (c *conn) execute(ctx context.Context, q queuedCommand) {
	started := time.Now()

	var header protocol.CommandHeader
	if err := json.Unmarshal(q.raw, &header); err != nil || header.Type == "" {
		c.send(protocol.ServerEnvelope{
			Type:      protocol.ServerCommandFailed,
			CommandID: q.commandID,
			Error:     "malformed command",
		})
		metrics.CommandsTotal.WithLabelValues("unknown", "failed").Inc()
		return
	}

	result, err := c.srv.dispatch(ctx, c, header.Type, q.raw)
	status := "completed"
	if err != nil {
		status = "failed"
		c.send(protocol.ServerEnvelope{
			Type:      protocol.ServerCommandFailed,
			CommandID: q.commandID,
			Error:     err.Error(),
		})
	} else {
		data, merr := json.Marshal(result)
		if merr != nil {
			status = "failed"
			c.send(protocol.ServerEnvelope{
				Type:      protocol.ServerCommandFailed,
				CommandID: q.commandID,
				Error:     "encode result: " + merr.Error(),
			})
		} else {
			c.send(protocol.ServerEnvelope{
				Type:      protocol.ServerCommandCompleted,
				CommandID: q.commandID,
				Result:    data,
			})
		}
	}

	metrics.CommandsTotal.WithLabelValues(header.Type, status).Inc()
	metrics.CommandDuration.WithLabelValues(header.Type).Observe(time.Since(started).Seconds())
}

// send serializes env onto the transport. Concurrency-safe; errors are
// returned so pumps can stop, and otherwise surface when the reader
// notices the broken transport.
func (c *conn) send(env protocol.ServerEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.t.WriteLine(data)
}

// addSubscription registers sub unless the connection is already
// closing, in which case the subscription is stopped immediately.
func (c *conn) addSubscription(sub *subscription) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.stop()
		return false
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()
	return true
}

func (c *conn) removeSubscription(subscriptionID string) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[subscriptionID]
	if !ok {
		return nil
	}
	delete(c.subs, subscriptionID)
	return sub
}

func (c *conn) addAttachment(a *attachment) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		a.stop(true)
		return false
	}
	c.attachments[a.id] = a
	c.mu.Unlock()
	return true
}

// eventSubFor reports the exit-only attachment for sessionID, if any.
// Commands run on one goroutine per connection, so check-then-add has
// no self-race; only cleanup mutates these maps concurrently.
func (c *conn) eventSubFor(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	attachmentID, ok := c.eventSubs[sessionID]
	return attachmentID, ok
}

func (c *conn) addEventSub(sessionID string, a *attachment) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		a.stop(true)
		return false
	}
	c.attachments[a.id] = a
	c.eventSubs[sessionID] = a.id
	c.mu.Unlock()
	return true
}

func (c *conn) removeEventSub(sessionID string) *attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	attachmentID, ok := c.eventSubs[sessionID]
	if !ok {
		return nil
	}
	delete(c.eventSubs, sessionID)
	a := c.attachments[attachmentID]
	delete(c.attachments, attachmentID)
	return a
}

func (c *conn) removeAttachment(attachmentID string) *attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.attachments[attachmentID]
	if !ok {
		return nil
	}
	delete(c.attachments, attachmentID)
	for sessionID, eventAttID := range c.eventSubs {
		if eventAttID == attachmentID {
			delete(c.eventSubs, sessionID)
		}
	}
	return a
}

// cleanup tears the connection down exactly once: subscriptions are
// unsubscribed from the bus, attachments detached from their brokers,
// the transport closed, and the connection unregistered.
func (c *conn) cleanup() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		subs := c.subs
		atts := c.attachments
		c.subs = make(map[string]*subscription)
		c.attachments = make(map[string]*attachment)
		c.eventSubs = make(map[string]string)
		c.mu.Unlock()

		for _, sub := range subs {
			sub.stop()
		}
		for _, a := range atts {
			a.stop(true)
		}
		_ = c.t.Close()
		c.srv.unregister(c.id)
	})
}
