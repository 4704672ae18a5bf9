package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// resetThreshold is the connection lifetime after which the next
// reconnect starts from the initial backoff interval again.
const resetThreshold = 30 * time.Second

// newDefaultBackoff creates an exponential backoff: 1s → 60s, multiplier 2x, ±20% jitter.
func newDefaultBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 60 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// dialFn establishes one connection. Used for injection in tests.
type dialFn func(ctx context.Context) (*Client, error)

// sessionFn runs one connected session.
type sessionFn func(ctx context.Context, c *Client) error

// RunWithReconnect dials addr and runs session on each connection,
// redialing with exponential backoff whenever the connection drops or
// session returns. The backoff resets after a connection that lived
// past 30s. session should run until ctx is cancelled or c.Done()
// closes. RunWithReconnect returns nil once ctx is cancelled, or the
// rejection error when the server refuses the token (never retried).
func RunWithReconnect(ctx context.Context, addr string, opts Options, session func(ctx context.Context, c *Client) error) error {
	dial := func(ctx context.Context) (*Client, error) { return Dial(ctx, addr, opts) }
	return runWithReconnect(ctx, dial, session, newDefaultBackoff(), resetThreshold)
}

func runWithReconnect(ctx context.Context, dial dialFn, session sessionFn, bo backoff.BackOff, threshold time.Duration) error {
	for {
		start := time.Now()
		err := runSession(ctx, dial, session)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrAuthRejected) {
			slog.Warn("authentication rejected, giving up", "error", err)
			return err
		}

		if time.Since(start) >= threshold {
			bo.Reset()
		}
		interval := bo.NextBackOff()
		slog.Warn("disconnected, reconnecting...", "error", err, "backoff", interval)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// runSession dials once and runs session on the connection. A nil
// session error surfaces the transport error, if any, for the
// reconnect log line.
func runSession(ctx context.Context, dial dialFn, session sessionFn) error {
	c, err := dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := session(ctx, c); err != nil {
		return err
	}
	return c.Err()
}
