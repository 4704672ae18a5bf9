// Package client is the Go client for the roost control plane. It
// speaks line-delimited JSON envelopes over TCP: an auth handshake,
// correlated commands, observed-event subscriptions, and raw PTY
// attachment streams. RunWithReconnect wraps a session loop with
// exponential backoff for long-lived observers.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/roostlabs/roost/internal/id"
	"github.com/roostlabs/roost/protocol"
)

const (
	defaultDialTimeout    = 10 * time.Second
	defaultCommandTimeout = 30 * time.Second

	// maxLineBytes caps one server envelope line.
	maxLineBytes = 4 << 20
)

// ErrAuthRejected is returned by Dial when the server refuses the
// configured token. Reconnect loops do not retry it.
var ErrAuthRejected = errors.New("authentication rejected")

// ErrClosed is returned for operations on a closed client.
var ErrClosed = errors.New("client closed")

// CommandError is a command.failed reply. Message carries the server's
// error string verbatim, e.g. "session not found".
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string { return e.Message }

// Options configures a Client. The handlers are optional and run on
// the read goroutine, so a slow handler stalls envelope processing for
// the whole connection.
type Options struct {
	// Token is presented in the auth handshake. Servers without
	// authentication configured accept any value, including empty.
	Token string

	// DialTimeout bounds the TCP dial and the auth handshake combined
	// (default 10s).
	DialTimeout time.Duration

	// CommandTimeout bounds Call when the caller's context carries no
	// deadline (default 30s).
	CommandTimeout time.Duration

	// OnEvent receives stream.event envelopes for every subscription
	// opened on this connection.
	OnEvent func(subscriptionID string, ev protocol.ObservedEvent)

	// OnOutput receives decoded pty.output chunks for every attachment
	// opened on this connection.
	OnOutput func(sessionID, attachmentID string, cursor uint64, chunk []byte)

	// OnExit receives pty.exit envelopes.
	OnExit func(sessionID, attachmentID string, exit *protocol.ExitRecord)

	// OnShutdown receives the server.shutdown reason. The connection
	// will drop shortly after.
	OnShutdown func(reason string)
}

// Client is one control-plane connection. It is safe for concurrent
// use: command replies are correlated by command id, so calls from many
// goroutines interleave freely.
type Client struct {
	opts    Options
	pending *pendingCommands

	mu     sync.Mutex
	conn   net.Conn
	w      *bufio.Writer
	closed bool
	err    error

	authCh    chan error
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to addr, starts the read loop, and performs the auth
// handshake. The handshake is always sent; servers with authentication
// disabled answer auth.ok regardless of the token.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &Client{
		opts:    opts,
		pending: newPendingCommands(),
		conn:    conn,
		w:       bufio.NewWriter(conn),
		authCh:  make(chan error, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	if err := c.send(protocol.ClientEnvelope{Type: protocol.ClientAuth, Token: opts.Token}); err != nil {
		_ = c.Close()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	case <-timer.C:
		_ = c.Close()
		return nil, fmt.Errorf("auth handshake timed out after %s", timeout)
	case <-c.done:
		err := c.Err()
		if err == nil {
			err = errors.New("connection closed during handshake")
		}
		return nil, err
	case err := <-c.authCh:
		if err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	slog.Debug("connected", "addr", addr)
	return c, nil
}

// Close tears down the connection. In-flight calls fail with ErrClosed.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.shut(nil)
	return nil
}

// Done is closed when the connection has ended for any reason.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended: the read error, or nil when
// Close was called first. Meaningful once Done is closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// shut tears the connection down once; the first caller's err becomes
// Err(). User-initiated Close passes nil.
func (c *Client) shut(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.err = err
		c.mu.Unlock()

		_ = c.conn.Close()

		failErr := err
		if failErr == nil {
			failErr = ErrClosed
		}
		c.pending.failAll(failErr)
		close(c.done)
	})
}

func (c *Client) readLoop() {
	sc := bufio.NewScanner(c.conn)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var env protocol.ServerEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			slog.Debug("malformed server envelope", "error", err)
			continue
		}
		c.handle(env)
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	c.shut(err)
}

func (c *Client) handle(env protocol.ServerEnvelope) {
	switch env.Type {
	case protocol.ServerAuthOK:
		select {
		case c.authCh <- nil:
		default:
		}

	case protocol.ServerAuthError:
		select {
		case c.authCh <- fmt.Errorf("%w: %s", ErrAuthRejected, env.Error):
		default:
		}

	case protocol.ServerCommandAccepted:
		// Completion is what callers wait on.

	case protocol.ServerCommandCompleted:
		c.pending.complete(env.CommandID, env.Result, nil)

	case protocol.ServerCommandFailed:
		c.pending.complete(env.CommandID, nil, &CommandError{Message: env.Error})

	case protocol.ServerStreamEvent:
		if c.opts.OnEvent != nil && env.Event != nil {
			c.opts.OnEvent(env.SubscriptionID, *env.Event)
		}

	case protocol.ServerPTYOutput:
		if c.opts.OnOutput == nil {
			return
		}
		chunk, err := base64.StdEncoding.DecodeString(env.ChunkBase64)
		if err != nil {
			slog.Debug("undecodable pty.output chunk", "session", env.SessionID, "error", err)
			return
		}
		c.opts.OnOutput(env.SessionID, env.AttachmentID, env.Cursor, chunk)

	case protocol.ServerPTYExit:
		if c.opts.OnExit != nil {
			c.opts.OnExit(env.SessionID, env.AttachmentID, env.Exit)
		}

	case protocol.ServerShutdown:
		if c.opts.OnShutdown != nil {
			c.opts.OnShutdown(env.Reason)
		}

	default:
		slog.Debug("unhandled server envelope", "type", env.Type)
	}
}

// send serializes writes; the lock is held for the whole write so
// envelopes from concurrent callers never interleave.
func (c *Client) send(env protocol.ClientEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// Call issues one command and decodes its reply into result (skipped
// when result is nil). A context without deadline gets the configured
// command timeout. The returned error is a *CommandError when the
// server answered command.failed.
func (c *Client) Call(ctx context.Context, cmdType string, params, result any) error {
	raw, err := encodeCommand(cmdType, params)
	if err != nil {
		return err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := c.opts.CommandTimeout
		if timeout <= 0 {
			timeout = defaultCommandTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	commandID := id.Short()
	ch := c.pending.add(commandID)
	defer c.pending.remove(commandID)

	if err := c.send(protocol.ClientEnvelope{
		Type:      protocol.ClientCommand,
		CommandID: commandID,
		Command:   raw,
	}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case out := <-ch:
		if out.err != nil {
			var cmdErr *CommandError
			if errors.As(out.err, &cmdErr) {
				cmdErr.Command = cmdType
			}
			return out.err
		}
		if result == nil || len(out.result) == 0 {
			return nil
		}
		if err := json.Unmarshal(out.result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", cmdType, err)
		}
		return nil
	}
}

// encodeCommand flattens params into a command object carrying the
// type tag, e.g. {"type":"directory.upsert","scope":{...},"path":"…"}.
func encodeCommand(cmdType string, params any) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if params != nil {
		body, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", cmdType, err)
		}
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("%s params must encode to a JSON object: %w", cmdType, err)
		}
	}
	typeTag, err := json.Marshal(cmdType)
	if err != nil {
		return nil, fmt.Errorf("encode command type: %w", err)
	}
	fields["type"] = typeTag
	return json.Marshal(fields)
}

// SendInput writes bytes to the session's PTY. Fire-and-forget: the
// server does not acknowledge it.
func (c *Client) SendInput(sessionID string, data []byte) error {
	return c.send(protocol.ClientEnvelope{
		Type:       protocol.ClientPTYInput,
		SessionID:  sessionID,
		DataBase64: base64.StdEncoding.EncodeToString(data),
	})
}

// Resize sets the session's PTY size. Fire-and-forget.
func (c *Client) Resize(sessionID string, cols, rows uint16) error {
	return c.send(protocol.ClientEnvelope{
		Type:      protocol.ClientPTYResize,
		SessionID: sessionID,
		Cols:      cols,
		Rows:      rows,
	})
}

// Signal delivers "interrupt", "eof", or "terminate" to the session's
// child. Fire-and-forget.
func (c *Client) Signal(sessionID, signal string) error {
	return c.send(protocol.ClientEnvelope{
		Type:      protocol.ClientPTYSignal,
		SessionID: sessionID,
		Signal:    signal,
	})
}
