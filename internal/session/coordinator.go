package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roostlabs/roost/internal/agents"
	"github.com/roostlabs/roost/internal/broker"
	"github.com/roostlabs/roost/internal/errs"
	"github.com/roostlabs/roost/internal/events"
	"github.com/roostlabs/roost/internal/gitsummary"
	"github.com/roostlabs/roost/internal/metrics"
	"github.com/roostlabs/roost/internal/notify"
	"github.com/roostlabs/roost/internal/procwatch"
	"github.com/roostlabs/roost/internal/ptyhost"
	"github.com/roostlabs/roost/internal/store"
	"github.com/roostlabs/roost/internal/telemetry"
	"github.com/roostlabs/roost/internal/util/timefmt"
	"github.com/roostlabs/roost/internal/vterm"
	"github.com/roostlabs/roost/protocol"
)

// Options tunes the coordinator. Zero values fall back to the broker
// backlog default and a 100ms poll.
type Options struct {
	MaxBacklogBytes int
	PollInterval    time.Duration

	// NotifyPath maps a session id to its notify JSONL file.
	NotifyPath func(sessionID string) string

	// OTLPBaseURL is the HTTP listener root advertised to agents, e.g.
	// "http://127.0.0.1:7334". Per-session ingest roots are derived
	// from it.
	OTLPBaseURL string
}

// Coordinator owns every live session record. The registry lock covers
// only the map; per-session state is guarded by each session's apply
// lock, and the two are never held together except registry-then-apply.
type Coordinator struct {
	bus     *events.Bus
	stores  *store.Manager
	watcher *procwatch.Watcher
	opts    Options

	mu       sync.Mutex
	sessions map[string]*Session
	starting map[string]struct{}
}

func NewCoordinator(bus *events.Bus, stores *store.Manager, opts Options) *Coordinator {
	return &Coordinator{
		bus:      bus,
		stores:   stores,
		watcher:  procwatch.New(),
		opts:     opts,
		sessions: make(map[string]*Session),
		starting: make(map[string]struct{}),
	}
}

// reserve blocks concurrent starts for one conversation id. The
// reservation covers the whole spawn sequence so no two sessions are
// ever built for the same id.
func (c *Coordinator) reserve(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sessions[sessionID]; exists {
		return errs.Conflictf("session %s already exists", sessionID)
	}
	if _, held := c.starting[sessionID]; held {
		return errs.Conflictf("session %s is starting", sessionID)
	}
	c.starting[sessionID] = struct{}{}
	return nil
}

func (c *Coordinator) unreserve(sessionID string) {
	c.mu.Lock()
	delete(c.starting, sessionID)
	c.mu.Unlock()
}

// Start resolves the conversation backing this session, spawns the
// agent on a fresh PTY, and registers the session under the
// conversation's id. A spawn failure still creates the session record,
// immediately exited, with the error merged into the conversation's
// adapter state.
func (c *Coordinator) Start(ctx context.Context, p protocol.PTYStartParams) (*Session, error) {
	adapter, err := agents.ForType(p.AgentType)
	if err != nil {
		return nil, err
	}
	st, err := c.stores.ForScope(p.Scope)
	if err != nil {
		return nil, err
	}

	if p.ConversationID != "" {
		if err := c.reserve(p.ConversationID); err != nil {
			return nil, err
		}
		defer c.unreserve(p.ConversationID)
	}

	conv, cwd, err := c.resolveConversation(ctx, st, p)
	if err != nil {
		return nil, err
	}

	sessionID := conv.ConversationID
	cols, rows := int(p.Cols), int(p.Rows)
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	now := timefmt.Format(time.Now())
	s := &Session{
		ID:          sessionID,
		Scope:       p.Scope,
		DirectoryID: conv.DirectoryID,
		Cwd:         cwd,
		Title:       conv.Title,
		AgentType:   conv.AgentType,
		adapter:     adapter,
		coord:       c,
		broker:      broker.New(c.opts.MaxBacklogBytes),
		exitDone:    make(chan struct{}),
		term:        vterm.New(cols, rows),
		dedupe:      telemetry.NewDeduper(telemetry.DefaultDedupeWindow),
		status:      protocol.StatusRunning,
		startedAt:   now,
		lastEventAt: now,
	}

	s.mu.Lock()
	s.publishLocked(protocol.EventSessionStatus, map[string]any{"status": protocol.StatusRunning})
	s.mu.Unlock()

	envInfo := agents.EnvInfo{
		SessionID:    sessionID,
		NotifyPath:   c.opts.NotifyPath(sessionID),
		OTLPEndpoint: c.opts.OTLPBaseURL + "/otlp/" + sessionID,
	}
	s.notifyTailer = notify.NewTailer(envInfo.NotifyPath, c.opts.PollInterval, s.handleNotify)
	s.notifyTailer.Start()
	if historyPath := adapter.HistoryPath(conv.AdapterState); historyPath != "" {
		s.historyTailer = telemetry.NewHistoryTailer(historyPath, c.opts.PollInterval, func(evs []telemetry.Event) {
			s.ingestTelemetry(evs)
		})
		s.historyTailer.Start()
	}

	env := append(append([]string(nil), p.Env...), adapter.Env(envInfo)...)
	handle, err := ptyhost.Start(ptyhost.Options{
		Command: adapter.Command(),
		Args:    adapter.ComposeStartArgs(p.BaseArgs, conv.AdapterState),
		Env:     env,
		Dir:     cwd,
		Cols:    p.Cols,
		Rows:    p.Rows,
	}, ptyhost.Handlers{Data: s.handleData, Exit: s.handleExit})
	if err != nil {
		s.stopTailers()
		s.mu.Lock()
		s.exitRecord = &protocol.ExitRecord{}
		s.setStatusLocked(protocol.StatusExited, "")
		s.mu.Unlock()
		close(s.exitDone)
		c.register(s)
		if _, merr := st.MergeAdapterState(ctx, p.Scope, sessionID, map[string]any{
			conv.AgentType: map[string]any{"spawnError": err.Error()},
		}); merr != nil {
			slog.Warn("record spawn error", "session", sessionID, "error", merr)
		}
		return nil, errs.Transient("spawn agent", err)
	}

	s.mu.Lock()
	s.pty = handle
	s.pid = handle.ProcessID()
	if s.status != protocol.StatusExited {
		s.live = true
	}
	s.mu.Unlock()

	metrics.ActiveSessions.Inc()
	c.register(s)

	slog.Info("session started",
		"session", sessionID,
		"agent", conv.AgentType,
		"pid", s.PID(),
		"cwd", cwd,
	)
	return s, nil
}

// register inserts s. Uniqueness is guaranteed by the reservation (or
// by the freshness of a just-created conversation id).
func (c *Coordinator) register(s *Session) {
	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()
}

// resolveConversation maps pty.start parameters onto a conversation
// row and the working directory to spawn in. An explicit conversation
// id resumes that conversation; otherwise one is created against the
// given directory (or a directory upserted from cwd).
func (c *Coordinator) resolveConversation(ctx context.Context, st *store.Store, p protocol.PTYStartParams) (protocol.Conversation, string, error) {
	if p.ConversationID != "" {
		conv, err := st.GetConversation(ctx, p.Scope, p.ConversationID)
		if err != nil {
			return protocol.Conversation{}, "", err
		}
		if conv.ArchivedAt != nil {
			return protocol.Conversation{}, "", errs.Conflictf("conversation %s is archived", p.ConversationID)
		}
		if conv.AgentType != p.AgentType {
			return protocol.Conversation{}, "", errs.Invalidf(
				"conversation %s runs agent %q, not %q", p.ConversationID, conv.AgentType, p.AgentType)
		}
		if len(p.AdapterState) > 0 {
			conv, err = st.MergeAdapterState(ctx, p.Scope, conv.ConversationID, p.AdapterState)
			if err != nil {
				return protocol.Conversation{}, "", err
			}
		}
		dir, err := st.GetDirectory(ctx, p.Scope, conv.DirectoryID)
		if err != nil {
			return protocol.Conversation{}, "", err
		}
		return conv, dir.Path, nil
	}

	directoryID := p.DirectoryID
	cwd := p.Cwd
	switch {
	case directoryID != "":
		dir, err := st.GetDirectory(ctx, p.Scope, directoryID)
		if err != nil {
			return protocol.Conversation{}, "", err
		}
		cwd = dir.Path
	case cwd != "":
		dir, err := st.UpsertDirectory(ctx, p.Scope, cwd)
		if err != nil {
			return protocol.Conversation{}, "", err
		}
		directoryID, cwd = dir.DirectoryID, dir.Path
	default:
		return protocol.Conversation{}, "", errs.Invalidf("directoryId or cwd is required")
	}

	conv, err := st.CreateConversation(ctx, protocol.ConversationCreateParams{
		Scope:        p.Scope,
		DirectoryID:  directoryID,
		Title:        p.Title,
		AgentType:    p.AgentType,
		AdapterState: p.AdapterState,
	})
	if err != nil {
		return protocol.Conversation{}, "", err
	}
	return conv, cwd, nil
}

// persistThreadID stores the provider's thread id on the conversation
// so the next start composes resume arguments. Called off the apply
// lock; a store failure costs resumption, not the session.
func (c *Coordinator) persistThreadID(s *Session, threadID string) {
	st, err := c.stores.ForScope(s.Scope)
	if err != nil {
		slog.Warn("persist thread id", "session", s.ID, "error", err)
		return
	}
	patch := map[string]any{s.AgentType: map[string]any{"resumeSessionId": threadID}}
	if _, err := st.MergeAdapterState(context.Background(), s.Scope, s.ID, patch); err != nil {
		slog.Warn("persist thread id", "session", s.ID, "error", err)
	}
}

// Get returns a registered session.
func (c *Coordinator) Get(sessionID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, errs.NotFound("session")
	}
	return s, nil
}

func (c *Coordinator) snapshot() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

// List projects every session, optionally narrowed to one scope,
// ordered by start time then id.
func (c *Coordinator) List(scope *protocol.Scope) []protocol.SessionInfo {
	infos := make([]protocol.SessionInfo, 0)
	for _, s := range c.snapshot() {
		if scope != nil && s.Scope != *scope {
			continue
		}
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt != infos[j].StartedAt {
			return infos[i].StartedAt < infos[j].StartedAt
		}
		return infos[i].SessionID < infos[j].SessionID
	})
	return infos
}

// Attention lists sessions waiting on input, oldest first.
func (c *Coordinator) Attention(scope *protocol.Scope) []protocol.AttentionEntry {
	entries := make([]protocol.AttentionEntry, 0)
	for _, s := range c.snapshot() {
		if scope != nil && s.Scope != *scope {
			continue
		}
		s.mu.Lock()
		entry, ok := s.attentionLocked()
		s.mu.Unlock()
		if ok {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Since != entries[j].Since {
			return entries[i].Since < entries[j].Since
		}
		return entries[i].SessionID < entries[j].SessionID
	})
	return entries
}

// IngestTelemetry routes normalized telemetry events to a session,
// returning how many were accepted after dedupe.
func (c *Coordinator) IngestTelemetry(sessionID string, evs []telemetry.Event) (int, error) {
	s, err := c.Get(sessionID)
	if err != nil {
		return 0, err
	}
	return s.ingestTelemetry(evs), nil
}

// Remove destroys a session record: a live child is killed first, and
// session-removed is published only after the exit transition, so the
// two events are never observed out of order.
func (c *Coordinator) Remove(sessionID string) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	if !ok {
		return errs.NotFound("session")
	}

	if s.Live() {
		s.pty.Close()
	}
	<-s.exitDone
	s.stopTailers()
	s.broker.DetachAll()

	s.mu.Lock()
	s.publishLocked(protocol.EventSessionEvent, map[string]any{"kind": protocol.SessionEventRemoved})
	s.mu.Unlock()

	slog.Info("session removed", "session", sessionID)
	return nil
}

// RefreshUsage samples process usage for every live session and
// publishes samples that changed.
func (c *Coordinator) RefreshUsage() {
	for _, s := range c.snapshot() {
		pid := s.PID()
		if pid == 0 {
			continue
		}
		sample, err := c.watcher.Sample(pid)
		if err != nil {
			continue
		}
		s.setUsage(sample)
	}
}

// RefreshGitSummaries collects a git summary per live session
// directory and publishes changes.
func (c *Coordinator) RefreshGitSummaries() {
	for _, s := range c.snapshot() {
		if !s.Live() {
			continue
		}
		summary := gitsummary.Collect(s.Cwd)
		if summary == nil {
			continue
		}
		s.setGitSummary(summary.Map())
	}
}

// Shutdown terminates every child: SIGTERM, a grace period, then kill.
// Sessions stay registered; the process is going down and the exit
// events they publish still reach the journal.
func (c *Coordinator) Shutdown(ctx context.Context, grace time.Duration) {
	sessions := c.snapshot()

	for _, s := range sessions {
		s.Signal(ptyhost.SignalTerminate)
	}

	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	for _, s := range sessions {
		select {
		case <-s.exitDone:
		case <-graceCtx.Done():
		}
	}

	for _, s := range sessions {
		if s.Live() {
			s.pty.Close()
		}
	}
	for _, s := range sessions {
		select {
		case <-s.exitDone:
		case <-time.After(2 * time.Second):
			slog.Warn("session did not exit after kill", "session", s.ID)
		}
	}
	for _, s := range sessions {
		s.stopTailers()
		s.broker.DetachAll()
	}
}
