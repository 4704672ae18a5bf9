// Package ptyhost spawns a child process attached to a pseudo-terminal
// and surfaces its output and exit as callbacks.
package ptyhost

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// SignalKind names the signals a caller may deliver to a session.
type SignalKind string

const (
	SignalInterrupt SignalKind = "interrupt"
	SignalEOF       SignalKind = "eof"
	SignalTerminate SignalKind = "terminate"
)

// ParseSignal validates a wire signal value.
func ParseSignal(s string) (SignalKind, error) {
	switch SignalKind(s) {
	case SignalInterrupt, SignalEOF, SignalTerminate:
		return SignalKind(s), nil
	}
	return "", fmt.Errorf("unknown signal %q", s)
}

// ExitRecord describes how the child ended. Exactly one of Code and
// Signal is set for a real exit; both are nil for a synthesized exit
// after an internal error.
type ExitRecord struct {
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
}

// Handlers receive output and the terminal event. Data is called from the
// PTY reader goroutine with a private copy of each chunk; Exit is called
// exactly once.
type Handlers struct {
	Data func(data []byte)
	Exit func(rec ExitRecord)
}

// Options configures a new PTY host.
type Options struct {
	Command string
	Args    []string
	Env     []string // appended to the inherited environment
	Dir     string
	Cols    uint16
	Rows    uint16
}

// Handle is a live PTY-hosted child process.
type Handle struct {
	cmd      *exec.Cmd
	ptmx     *os.File
	handlers Handlers

	mu     sync.Mutex
	closed bool

	readDone chan struct{}

	exitOnce sync.Once
	exitCh   chan struct{}
	exitRec  ExitRecord
}

// Start spawns the command on a fresh PTY. The child inherits the parent
// environment plus opts.Env; TERM is injected when absent so interactive
// agents render correctly.
func Start(opts Options, handlers Handlers) (*Handle, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(opts.Env)

	winSize := &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows}
	if winSize.Cols == 0 {
		winSize.Cols = 80
	}
	if winSize.Rows == 0 {
		winSize.Rows = 24
	}

	ptmx, err := pty.StartWithSize(cmd, winSize)
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	h := &Handle{
		cmd:      cmd,
		ptmx:     ptmx,
		handlers: handlers,
		readDone: make(chan struct{}),
		exitCh:   make(chan struct{}),
	}

	go h.readOutput()
	go h.waitForExit()

	slog.Info("pty started",
		"command", opts.Command,
		"pid", cmd.Process.Pid,
		"cols", winSize.Cols,
		"rows", winSize.Rows,
	)

	return h, nil
}

func buildEnv(extra []string) []string {
	env := append(os.Environ(), extra...)
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			return env
		}
	}
	return append(env, "TERM=xterm-256color")
}

// Write sends input bytes to the PTY. Writes after Close or exit are
// dropped silently.
func (h *Handle) Write(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.exited() {
		return nil
	}
	_, err := h.ptmx.Write(data)
	return err
}

// Resize changes the terminal dimensions. Dropped silently after Close
// or exit, like Write.
func (h *Handle) Resize(cols, rows uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.exited() {
		return nil
	}
	return pty.Setsize(h.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Signal delivers an asynchronous signal to the child. Interrupt goes to
// the child's process group (the child is the session leader), eof is the
// VEOF byte through the line discipline, terminate is SIGTERM.
func (h *Handle) Signal(kind SignalKind) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.exited() {
		return nil
	}

	switch kind {
	case SignalInterrupt:
		if err := syscall.Kill(-h.cmd.Process.Pid, syscall.SIGINT); err != nil {
			return h.cmd.Process.Signal(os.Interrupt)
		}
		return nil
	case SignalEOF:
		_, err := h.ptmx.Write([]byte{0x04})
		return err
	case SignalTerminate:
		return h.cmd.Process.Signal(syscall.SIGTERM)
	}
	return fmt.Errorf("unknown signal %q", kind)
}

// Close tears the session down: the PTY fd is closed and the child is
// killed. Safe to call more than once.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	_ = h.ptmx.Close()
	if h.cmd.Process != nil && !h.exited() {
		_ = h.cmd.Process.Kill()
	}
}

// ProcessID returns the child's pid.
func (h *Handle) ProcessID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Exited reports whether the terminal event has been emitted.
func (h *Handle) Exited() bool {
	return h.exited()
}

// Wait blocks until the child exits and returns its exit record.
func (h *Handle) Wait() ExitRecord {
	<-h.exitCh
	return h.exitRec
}

func (h *Handle) exited() bool {
	select {
	case <-h.exitCh:
		return true
	default:
		return false
	}
}

func (h *Handle) readOutput() {
	defer close(h.readDone)
	buf := make([]byte, 32*1024)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 && h.handlers.Data != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			h.handlers.Data(data)
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("pty read ended", "pid", h.ProcessID(), "error", err)
			}
			return
		}
	}
}

func (h *Handle) waitForExit() {
	err := h.cmd.Wait()

	// Let the reader drain buffered output so exit is observed after
	// the final chunks. Grandchildren can hold the PTY open forever,
	// so give up after a short grace.
	select {
	case <-h.readDone:
	case <-time.After(time.Second):
	}

	rec := ExitRecord{}
	switch {
	case err == nil:
		code := 0
		rec.Code = &code
	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				name := unix.SignalName(ws.Signal())
				rec.Signal = &name
			} else {
				code := exitErr.ExitCode()
				rec.Code = &code
			}
		}
		// A non-exit error (wait failure) leaves both fields nil: the
		// synthesized record consumers treat as a uniform terminal event.
	}

	h.emitExit(rec)
}

func (h *Handle) emitExit(rec ExitRecord) {
	h.exitOnce.Do(func() {
		h.exitRec = rec
		close(h.exitCh)
		if h.handlers.Exit != nil {
			h.handlers.Exit(rec)
		}
		slog.Info("pty exited",
			"pid", h.ProcessID(),
			"code", rec.Code,
			"signal", rec.Signal,
		)
	})
}
