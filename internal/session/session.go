// Package session owns the live session records: one PTY-hosted agent
// per session, its output broker and snapshot oracle, the runtime
// status state machine, and the controller claim. All transitions for
// one session are serialized by its apply mutex, and observed events
// are published while that mutex is held, so the per-session event
// order on the bus matches the order transitions actually happened.
package session

import (
	"encoding/base64"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/roostlabs/roost/internal/agents"
	"github.com/roostlabs/roost/internal/broker"
	"github.com/roostlabs/roost/internal/errs"
	"github.com/roostlabs/roost/internal/metrics"
	"github.com/roostlabs/roost/internal/notify"
	"github.com/roostlabs/roost/internal/procwatch"
	"github.com/roostlabs/roost/internal/ptyhost"
	"github.com/roostlabs/roost/internal/telemetry"
	"github.com/roostlabs/roost/internal/util/timefmt"
	"github.com/roostlabs/roost/internal/vterm"
	"github.com/roostlabs/roost/protocol"
)

// Session is one live (or exited but not yet removed) agent terminal.
// Immutable identity fields are set at start; everything behind mu is
// owned by the apply lock. The broker and PTY handle lock internally
// and are safe to call from any goroutine.
type Session struct {
	ID          string
	Scope       protocol.Scope
	DirectoryID string
	Cwd         string
	Title       string
	AgentType   string

	adapter agents.Adapter
	coord   *Coordinator
	broker  *broker.Broker
	pty     *ptyhost.Handle // nil when spawn failed

	notifyTailer  *notify.Tailer
	historyTailer *telemetry.HistoryTailer
	tailersOnce   sync.Once

	// exitDone closes after the exit transition has been applied and
	// published. Remove and Shutdown wait on it so session-removed is
	// never observed before the exited status.
	exitDone chan struct{}

	mu              sync.Mutex
	term            *vterm.Terminal
	dedupe          *telemetry.Deduper
	status          string
	attentionReason string
	attentionSince  string
	live            bool
	pid             int
	controller      *protocol.Controller
	statusModel     *protocol.StatusModel
	summary         *protocol.TelemetrySummary
	usage           *protocol.UsageSample
	gitSummary      map[string]any
	exitRecord      *protocol.ExitRecord
	startedAt       string
	lastEventAt     string
}

// publishLocked emits an observed event for this session. Callers hold
// s.mu, which is what makes per-session bus order match apply order.
func (s *Session) publishLocked(eventType string, payload map[string]any) {
	s.coord.bus.Publish(eventType, s.ID, &s.Scope, payload)
}

// setStatusLocked applies a runtime status transition and emits
// session-status. Exited is terminal; re-entering the current status is
// a no-op so repeated hints do not spam subscribers.
func (s *Session) setStatusLocked(status, attentionReason string) {
	if s.status == protocol.StatusExited || s.status == status {
		return
	}
	s.status = status
	if status == protocol.StatusNeedsInput {
		s.attentionReason = attentionReason
		s.attentionSince = timefmt.Format(time.Now())
	} else {
		s.attentionReason = ""
		s.attentionSince = ""
	}
	payload := map[string]any{"status": status}
	if s.attentionReason != "" {
		payload["attentionReason"] = s.attentionReason
	}
	s.publishLocked(protocol.EventSessionStatus, payload)
}

// handleData runs on the PTY reader goroutine. The push happens under
// the apply lock so the broker cursor and the bus event stay paired;
// chunks the broker drops after exit produce no event either.
func (s *Session) handleData(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursor := s.broker.Push(data)
	if cursor == 0 {
		return
	}
	s.term.Write(data)
	s.lastEventAt = timefmt.Format(time.Now())
	s.publishLocked(protocol.EventSessionOutput, map[string]any{
		"cursor":      cursor,
		"chunkBase64": base64.StdEncoding.EncodeToString(data),
	})
}

// handleExit runs exactly once on the PTY wait goroutine. The broker
// delivers pty.exit to attachments after all preceding chunks; the
// status transition and session-exit event follow under the apply lock.
// Tailers are stopped outside the lock because their handlers take it.
func (s *Session) handleExit(rec ptyhost.ExitRecord) {
	s.broker.Exit(rec)

	s.mu.Lock()
	s.live = false
	s.exitRecord = &protocol.ExitRecord{Code: rec.Code, Signal: rec.Signal}
	s.lastEventAt = timefmt.Format(time.Now())
	s.setStatusLocked(protocol.StatusExited, "")
	s.publishLocked(protocol.EventSessionEvent, map[string]any{
		"kind": protocol.SessionEventExit,
		"exit": s.exitRecord,
	})
	pid := s.pid
	s.mu.Unlock()

	s.stopTailers()
	s.coord.watcher.Forget(pid)
	metrics.ActiveSessions.Dec()
	close(s.exitDone)
}

func (s *Session) stopTailers() {
	s.tailersOnce.Do(func() {
		if s.notifyTailer != nil {
			s.notifyTailer.Stop()
		}
		if s.historyTailer != nil {
			s.historyTailer.Stop()
		}
	})
}

// handleNotify classifies one notify line into the state machine:
// attention-required sets needs-input with its reason, turn-completed
// marks the turn done. Prompt-bearing payloads also produce a key
// event regardless of kind.
func (s *Session) handleNotify(ev notify.Event) {
	observedAt := time.Now()
	if ev.TS != "" {
		if t, err := timefmt.Parse(ev.TS); err == nil {
			observedAt = t
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case notify.KindAttention:
		if s.status == protocol.StatusRunning {
			s.setStatusLocked(protocol.StatusNeedsInput, ev.Reason)
		}
	case notify.KindTurnCompleted:
		if s.status == protocol.StatusRunning || s.status == protocol.StatusNeedsInput {
			s.setStatusLocked(protocol.StatusCompleted, "")
		}
	}

	if rec, ok := s.adapter.ExtractPromptFromNotify(ev.Payload, observedAt); ok {
		s.publishLocked(protocol.EventSessionKeyEvent, map[string]any{
			"kind":   "prompt",
			"prompt": rec,
		})
	}
	s.lastEventAt = timefmt.Format(time.Now())
}

// ingestTelemetry folds normalized telemetry events into the session:
// dedupe, summary bookkeeping, status-model reduction, hint-driven
// transitions, and key-event emission. Returns the number of events
// accepted (not deduplicated).
func (s *Session) ingestTelemetry(events []telemetry.Event) int {
	accepted := 0
	var newThreadID string

	s.mu.Lock()
	for _, ev := range events {
		fp := telemetry.Fingerprint(s.ID, ev)
		if s.dedupe.Seen(fp) {
			metrics.TelemetryDedupedTotal.Inc()
			continue
		}
		accepted++
		metrics.TelemetryEventsTotal.WithLabelValues(string(ev.Source)).Inc()

		if s.summary == nil {
			s.summary = &protocol.TelemetrySummary{}
		}
		s.summary.EventCount++
		s.summary.LastEventAt = timefmt.Format(ev.ObservedAt)
		if ev.EventName != "" {
			s.summary.LastEventName = ev.EventName
		}
		if ev.StatusHint != "" {
			s.summary.LastStatusHint = ev.StatusHint
		}
		if ev.ProviderThreadID != "" && s.summary.ProviderThreadID == "" {
			s.summary.ProviderThreadID = ev.ProviderThreadID
			newThreadID = ev.ProviderThreadID
		}

		s.statusModel = s.adapter.ReduceStatus(s.statusModel, ev, s.status)
		s.applyHintLocked(ev)

		if ev.EventName != "" {
			s.publishLocked(protocol.EventSessionKeyEvent, map[string]any{
				"kind":       "telemetry",
				"event":      ev,
				"observedAt": timefmt.Format(ev.ObservedAt),
			})
		}
		if rec, ok := s.adapter.ExtractPromptFromTelemetry(ev); ok {
			s.publishLocked(protocol.EventSessionKeyEvent, map[string]any{
				"kind":   "prompt",
				"prompt": rec,
			})
		}
		s.lastEventAt = timefmt.Format(time.Now())
	}
	s.mu.Unlock()

	if newThreadID != "" {
		s.coord.persistThreadID(s, newThreadID)
	}
	return accepted
}

// applyHintLocked is the telemetry half of the state machine.
// Needs-input and completion are trusted only from OTLP logs and
// metrics (plus the turn-duration metric special case); revival back
// to running additionally requires an event name in the agent's
// running-eligible set. Traces and history never change status.
func (s *Session) applyHintLocked(ev telemetry.Event) {
	if s.status == protocol.StatusExited || ev.StatusHint == "" {
		return
	}
	fromLogOrMetric := ev.Source == telemetry.SourceOTLPLog || ev.Source == telemetry.SourceOTLPMetric

	switch ev.StatusHint {
	case telemetry.HintNeedsInput:
		if fromLogOrMetric && s.status == protocol.StatusRunning {
			s.setStatusLocked(protocol.StatusNeedsInput, protocol.AttentionTelemetry)
		}
	case telemetry.HintCompleted:
		eligible := (ev.Source == telemetry.SourceOTLPMetric && ev.EventName == telemetry.TurnDurationMetric) ||
			ev.Source == telemetry.SourceOTLPLog
		if eligible && (s.status == protocol.StatusRunning || s.status == protocol.StatusNeedsInput) {
			s.setStatusLocked(protocol.StatusCompleted, "")
		}
	case telemetry.HintRunning:
		if !fromLogOrMetric || !s.adapter.RunningEligible(ev.EventName) {
			return
		}
		if s.status == protocol.StatusNeedsInput || s.status == protocol.StatusCompleted {
			s.setStatusLocked(protocol.StatusRunning, "")
		}
	}
}

// Respond writes text to the PTY on behalf of the claim holder and
// clears needs-input. When a controller exists, only it may respond;
// unclaimed sessions accept any caller.
func (s *Session) Respond(text, controllerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.controller != nil && s.controller.ControllerID != controllerID {
		return errs.Conflictf("session is claimed by %s", controllerLabel(s.controller))
	}
	if !s.live {
		return errs.Conflictf("session %s has exited", s.ID)
	}
	if err := s.pty.Write([]byte(text)); err != nil {
		return errs.Transient("write to pty", err)
	}
	if s.status == protocol.StatusNeedsInput {
		s.setStatusLocked(protocol.StatusRunning, "")
	}
	s.lastEventAt = timefmt.Format(time.Now())
	return nil
}

// Claim takes the controller slot. Unowned sessions are claimed;
// owned sessions are taken over only when the caller asks for it, and
// re-claims by the current holder refresh the label without an event.
func (s *Session) Claim(p protocol.SessionClaimParams) (protocol.SessionClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action := protocol.ClaimActionClaimed
	switch {
	case s.controller == nil:
	case s.controller.ControllerID == p.ControllerID:
		action = protocol.ClaimActionRefreshed
	case p.Takeover:
		action = protocol.ClaimActionTakenOver
	default:
		return protocol.SessionClaimResult{}, errs.Conflictf(
			"session is already claimed by %s", controllerLabel(s.controller))
	}

	claimedAt := timefmt.Format(time.Now())
	if action == protocol.ClaimActionRefreshed {
		claimedAt = s.controller.ClaimedAt
	}
	s.controller = &protocol.Controller{
		ControllerID:    p.ControllerID,
		ControllerType:  p.ControllerType,
		ControllerLabel: p.ControllerLabel,
		ClaimedAt:       claimedAt,
	}
	if action != protocol.ClaimActionRefreshed {
		payload := map[string]any{"action": action, "controller": s.controller}
		if p.Reason != "" {
			payload["reason"] = p.Reason
		}
		s.publishLocked(protocol.EventSessionControl, payload)
	}
	return protocol.SessionClaimResult{Action: action, Controller: s.controller}, nil
}

// Release clears the controller slot. Releasing an unowned session
// succeeds without emitting anything.
func (s *Session) Release(reason string) protocol.SessionReleaseResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.controller == nil {
		return protocol.SessionReleaseResult{}
	}
	s.controller = nil
	payload := map[string]any{"action": "released"}
	if reason != "" {
		payload["reason"] = reason
	}
	s.publishLocked(protocol.EventSessionControl, payload)
	return protocol.SessionReleaseResult{Released: true}
}

func controllerLabel(c *protocol.Controller) string {
	if c.ControllerLabel != "" {
		return c.ControllerLabel
	}
	return c.ControllerID
}

// WriteInput feeds raw bytes to the PTY. Fire-and-forget: input to an
// exited session is dropped. Claims are advisory here.
func (s *Session) WriteInput(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return
	}
	if err := s.pty.Write(data); err != nil {
		slog.Debug("pty input dropped", "session", s.ID, "error", err)
		return
	}
	s.lastEventAt = timefmt.Format(time.Now())
}

// Resize applies new dimensions to the PTY and the snapshot oracle
// together so frames keep matching what the child renders into.
func (s *Session) Resize(cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return
	}
	if err := s.pty.Resize(cols, rows); err != nil {
		slog.Debug("pty resize failed", "session", s.ID, "error", err)
		return
	}
	s.term.Resize(int(cols), int(rows))
}

// Signal delivers interrupt/eof/terminate to the child if it is alive.
func (s *Session) Signal(kind ptyhost.SignalKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return
	}
	if err := s.pty.Signal(kind); err != nil {
		slog.Debug("pty signal failed", "session", s.ID, "signal", kind, "error", err)
	}
}

// Interrupt is the session.interrupt command: SIGINT to the child's
// process group.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return errs.Conflictf("session %s has exited", s.ID)
	}
	if err := s.pty.Signal(ptyhost.SignalInterrupt); err != nil {
		return errs.Transient("signal pty", err)
	}
	return nil
}

// Close is the pty.close command: kill the child and let the exit flow
// run. The session record stays registered until session.remove. Closing
// an already exited session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return nil
	}
	pty := s.pty
	s.mu.Unlock()
	pty.Close()
	return nil
}

// Snapshot renders the current frame from the oracle. Exited sessions
// stay snapshottable until removed.
func (s *Session) Snapshot() vterm.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term.Snapshot()
}

// Attach registers broker handlers, replaying backlog past sinceCursor.
func (s *Session) Attach(h broker.Handlers, sinceCursor uint64) (attachmentID string, latestCursor uint64) {
	attachmentID = s.broker.Attach(h, sinceCursor)
	return attachmentID, s.broker.LatestCursor()
}

// Detach removes a broker attachment.
func (s *Session) Detach(attachmentID string) {
	s.broker.Detach(attachmentID)
}

// setUsage records a fresh usage sample and reports whether it changed
// enough to publish.
func (s *Session) setUsage(sample protocol.UsageSample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usage != nil && !procwatch.Changed(*s.usage, sample) {
		return false
	}
	s.usage = &sample
	s.publishLocked(protocol.EventSessionEvent, map[string]any{
		"kind":  protocol.SessionEventUsage,
		"usage": sample,
	})
	return true
}

// setGitSummary records the latest git summary, publishing only when
// the summary materially changed.
func (s *Session) setGitSummary(summary map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maps.EqualFunc(s.gitSummary, summary, func(a, b any) bool { return a == b }) {
		return false
	}
	s.gitSummary = summary
	s.publishLocked(protocol.EventSessionEvent, map[string]any{
		"kind":       protocol.SessionEventGitSummary,
		"gitSummary": summary,
	})
	return true
}

// Info projects the session into its wire shape.
func (s *Session) Info() protocol.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := protocol.SessionInfo{
		SessionID:       s.ID,
		Scope:           s.Scope,
		DirectoryID:     s.DirectoryID,
		Cwd:             s.Cwd,
		Title:           s.Title,
		AgentType:       s.AgentType,
		RuntimeStatus:   s.status,
		AttentionReason: s.attentionReason,
		Live:            s.live,
		LatestCursor:    s.broker.LatestCursor(),
		Controller:      s.controller,
		StatusModel:     s.statusModel,
		Telemetry:       s.summary,
		Usage:           s.usage,
		GitSummary:      s.gitSummary,
		StartedAt:       s.startedAt,
		LastEventAt:     s.lastEventAt,
		ExitRecord:      s.exitRecord,
	}
	if s.live {
		info.PID = s.pid
	}
	return info
}

// Status returns the current runtime status.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Live reports whether the PTY child is still running.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// PID returns the child pid, 0 after exit or spawn failure.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return 0
	}
	return s.pid
}

func (s *Session) attentionLocked() (protocol.AttentionEntry, bool) {
	if s.status != protocol.StatusNeedsInput {
		return protocol.AttentionEntry{}, false
	}
	return protocol.AttentionEntry{
		SessionID:       s.ID,
		AttentionReason: s.attentionReason,
		Since:           s.attentionSince,
	}, true
}
