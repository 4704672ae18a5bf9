package stream

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roostlabs/roost/internal/auth"
	"github.com/roostlabs/roost/internal/events"
	"github.com/roostlabs/roost/internal/session"
	"github.com/roostlabs/roost/internal/store"
	"github.com/roostlabs/roost/internal/util/testutil"
	"github.com/roostlabs/roost/protocol"
)

var wireScope = protocol.Scope{TenantID: "t1", UserID: "u1", WorkspaceID: "w1"}

type streamFixture struct {
	t     *testing.T
	bus   *events.Bus
	srv   *Server
	coord *session.Coordinator
	addr  string
}

func newStreamFixture(t *testing.T, token string, queueSize int) *streamFixture {
	t.Helper()

	bus := events.NewBus(1024)
	stores := store.NewManager(func(_, _, _ string) string { return ":memory:" }, bus)
	notifyDir := t.TempDir()
	coord := session.NewCoordinator(bus, stores, session.Options{
		PollInterval: 10 * time.Millisecond,
		NotifyPath:   func(sessionID string) string { return filepath.Join(notifyDir, sessionID+".jsonl") },
		OTLPBaseURL:  "http://127.0.0.1:0",
	})
	srv := New(bus, stores, coord, Options{
		Auth:                  auth.New(token, ""),
		SubscriptionQueueSize: queueSize,
	})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, lis) }()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		coord.Shutdown(shutdownCtx, 500*time.Millisecond)
		_ = stores.Close()
	})

	return &streamFixture{t: t, bus: bus, srv: srv, coord: coord, addr: lis.Addr().String()}
}

// wireClient talks the raw line protocol. Envelopes that arrive while
// waiting for something else are kept in backlog for later assertions.
type wireClient struct {
	t       *testing.T
	conn    net.Conn
	scanner *bufio.Scanner
	nextID  int
	backlog []protocol.ServerEnvelope
}

func (f *streamFixture) dial() *wireClient {
	f.t.Helper()
	conn, err := net.Dial("tcp", f.addr)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = conn.Close() })
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &wireClient{t: f.t, conn: conn, scanner: scanner}
}

func (w *wireClient) sendRaw(line string) {
	w.t.Helper()
	_, err := w.conn.Write([]byte(line + "\n"))
	require.NoError(w.t, err)
}

func (w *wireClient) send(env protocol.ClientEnvelope) {
	w.t.Helper()
	data, err := json.Marshal(env)
	require.NoError(w.t, err)
	w.sendRaw(string(data))
}

func (w *wireClient) next() protocol.ServerEnvelope {
	w.t.Helper()
	require.NoError(w.t, w.conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	if !w.scanner.Scan() {
		w.t.Fatalf("read envelope: %v", w.scanner.Err())
	}
	var env protocol.ServerEnvelope
	require.NoError(w.t, json.Unmarshal(w.scanner.Bytes(), &env))
	return env
}

func (w *wireClient) auth(token string) protocol.ServerEnvelope {
	w.t.Helper()
	w.send(protocol.ClientEnvelope{Type: protocol.ClientAuth, Token: token})
	return w.next()
}

// command sends one command and reads to its completion, banking any
// unrelated envelopes. It returns the result or the failure text.
func (w *wireClient) command(cmdType string, params any) (json.RawMessage, string) {
	w.t.Helper()
	w.nextID++
	cmdID := fmt.Sprintf("c%d", w.nextID)

	obj := map[string]any{}
	if params != nil {
		data, err := json.Marshal(params)
		require.NoError(w.t, err)
		require.NoError(w.t, json.Unmarshal(data, &obj))
	}
	obj["type"] = cmdType
	raw, err := json.Marshal(obj)
	require.NoError(w.t, err)

	w.send(protocol.ClientEnvelope{Type: protocol.ClientCommand, CommandID: cmdID, Command: raw})

	accepted := false
	for {
		env := w.next()
		switch {
		case env.Type == protocol.ServerCommandAccepted && env.CommandID == cmdID:
			accepted = true
		case env.Type == protocol.ServerCommandCompleted && env.CommandID == cmdID:
			require.True(w.t, accepted, "command completed without acceptance")
			return env.Result, ""
		case env.Type == protocol.ServerCommandFailed && env.CommandID == cmdID:
			return nil, env.Error
		default:
			w.backlog = append(w.backlog, env)
		}
	}
}

func (w *wireClient) mustCommand(cmdType string, params any) json.RawMessage {
	w.t.Helper()
	result, errText := w.command(cmdType, params)
	require.Empty(w.t, errText, "command %s failed", cmdType)
	return result
}

// waitEnvelope returns the first envelope matching match, consuming the
// backlog before reading more from the wire.
func (w *wireClient) waitEnvelope(match func(protocol.ServerEnvelope) bool) protocol.ServerEnvelope {
	w.t.Helper()
	for i, env := range w.backlog {
		if match(env) {
			w.backlog = append(w.backlog[:i], w.backlog[i+1:]...)
			return env
		}
	}
	for {
		env := w.next()
		if match(env) {
			return env
		}
		w.backlog = append(w.backlog, env)
	}
}

func (w *wireClient) backlogHas(match func(protocol.ServerEnvelope) bool) bool {
	for _, env := range w.backlog {
		if match(env) {
			return true
		}
	}
	return false
}

func decodeResult[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func isStreamEvent(eventType, sessionID string) func(protocol.ServerEnvelope) bool {
	return func(env protocol.ServerEnvelope) bool {
		if env.Type != protocol.ServerStreamEvent || env.Event == nil {
			return false
		}
		if env.Event.Type != eventType {
			return false
		}
		return sessionID == "" || env.Event.SessionID == sessionID
	}
}

func TestAuthFlow(t *testing.T) {
	f := newStreamFixture(t, "sekrit", 0)
	w := f.dial()

	_, errText := w.command(protocol.CmdDirectoryList, protocol.DirectoryListParams{Scope: wireScope})
	require.Equal(t, "unauthenticated", errText)

	env := w.auth("wrong")
	require.Equal(t, protocol.ServerAuthError, env.Type)
	require.NotEmpty(t, env.Error)

	env = w.auth("sekrit")
	require.Equal(t, protocol.ServerAuthOK, env.Type)

	dir := decodeResult[protocol.Directory](t, w.mustCommand(protocol.CmdDirectoryUpsert,
		protocol.DirectoryUpsertParams{Scope: wireScope, Path: t.TempDir()}))
	require.NotEmpty(t, dir.DirectoryID)
}

func TestNoAuthConfiguredSkipsHandshake(t *testing.T) {
	f := newStreamFixture(t, "", 0)
	w := f.dial()

	dir := decodeResult[protocol.Directory](t, w.mustCommand(protocol.CmdDirectoryUpsert,
		protocol.DirectoryUpsertParams{Scope: wireScope, Path: t.TempDir()}))
	require.NotEmpty(t, dir.DirectoryID)
}

func TestStoreCommandRouting(t *testing.T) {
	f := newStreamFixture(t, "", 0)
	w := f.dial()

	dirPath := t.TempDir()
	dir := decodeResult[protocol.Directory](t, w.mustCommand(protocol.CmdDirectoryUpsert,
		protocol.DirectoryUpsertParams{Scope: wireScope, Path: dirPath}))

	dirs := decodeResult[protocol.DirectoryListResult](t, w.mustCommand(protocol.CmdDirectoryList,
		protocol.DirectoryListParams{Scope: wireScope}))
	require.Len(t, dirs.Directories, 1)
	require.Equal(t, dir.DirectoryID, dirs.Directories[0].DirectoryID)

	repo := decodeResult[protocol.Repository](t, w.mustCommand(protocol.CmdRepositoryUpsert,
		protocol.RepositoryUpsertParams{Scope: wireScope, Name: "roost", RemoteURL: "git@github.com:roostlabs/roost.git"}))
	newName := "roost-fork"
	updated := decodeResult[protocol.Repository](t, w.mustCommand(protocol.CmdRepositoryUpdate,
		protocol.RepositoryUpdateParams{Scope: wireScope, RepositoryID: repo.RepositoryID, Name: &newName}))
	require.Equal(t, newName, updated.Name)

	conv := decodeResult[protocol.Conversation](t, w.mustCommand(protocol.CmdConversationCreate,
		protocol.ConversationCreateParams{Scope: wireScope, DirectoryID: dir.DirectoryID, Title: "first", AgentType: protocol.AgentTerminal}))
	archived := decodeResult[protocol.Conversation](t, w.mustCommand(protocol.CmdConversationArchive,
		protocol.ConversationArchiveParams{Scope: wireScope, ConversationID: conv.ConversationID}))
	require.NotNil(t, archived.ArchivedAt)
	w.mustCommand(protocol.CmdConversationDelete,
		protocol.ConversationDeleteParams{Scope: wireScope, ConversationID: conv.ConversationID})

	first := decodeResult[protocol.Task](t, w.mustCommand(protocol.CmdTaskCreate,
		protocol.TaskCreateParams{Scope: wireScope, Title: "one"}))
	second := decodeResult[protocol.Task](t, w.mustCommand(protocol.CmdTaskCreate,
		protocol.TaskCreateParams{Scope: wireScope, Title: "two"}))

	reordered := decodeResult[protocol.TaskListResult](t, w.mustCommand(protocol.CmdTaskReorder,
		protocol.TaskReorderParams{Scope: wireScope, OrderedTaskIDs: []string{second.TaskID, first.TaskID}}))
	require.Len(t, reordered.Tasks, 2)
	require.Equal(t, second.TaskID, reordered.Tasks[0].TaskID)
	require.Equal(t, 0, reordered.Tasks[0].OrderIndex)

	done := decodeResult[protocol.Task](t, w.mustCommand(protocol.CmdTaskComplete,
		protocol.TaskIDParams{Scope: wireScope, TaskID: first.TaskID}))
	require.Equal(t, protocol.TaskCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
}

func TestUnknownCommandFails(t *testing.T) {
	f := newStreamFixture(t, "", 0)
	w := f.dial()

	_, errText := w.command("bogus.command", nil)
	require.Contains(t, errText, "unknown command")
}

func TestMalformedInputIsTolerated(t *testing.T) {
	f := newStreamFixture(t, "", 0)
	w := f.dial()

	// Broken JSON lines are dropped without killing the connection.
	w.sendRaw("{this is not json")
	w.sendRaw("")

	// A command object without a type fails cleanly.
	w.send(protocol.ClientEnvelope{Type: protocol.ClientCommand, CommandID: "m1", Command: json.RawMessage(`{}`)})
	env := w.waitEnvelope(func(env protocol.ServerEnvelope) bool {
		return env.Type == protocol.ServerCommandFailed && env.CommandID == "m1"
	})
	require.Contains(t, env.Error, "malformed")

	dir := decodeResult[protocol.Directory](t, w.mustCommand(protocol.CmdDirectoryUpsert,
		protocol.DirectoryUpsertParams{Scope: wireScope, Path: t.TempDir()}))
	require.NotEmpty(t, dir.DirectoryID)
}

func TestSubscribeReplayAndLiveEvents(t *testing.T) {
	f := newStreamFixture(t, "", 0)
	w := f.dial()

	pathA := t.TempDir()
	w.mustCommand(protocol.CmdDirectoryUpsert, protocol.DirectoryUpsertParams{Scope: wireScope, Path: pathA})

	sub := decodeResult[protocol.StreamSubscribeResult](t, w.mustCommand(protocol.CmdStreamSubscribe,
		protocol.StreamSubscribeParams{
			Filters:     protocol.StreamFilters{Types: []string{protocol.EventDirectoryUpserted}},
			AfterCursor: 0,
		}))
	require.NotEmpty(t, sub.SubscriptionID)

	// The journaled upsert replays onto the fresh subscription.
	replayed := w.waitEnvelope(isStreamEvent(protocol.EventDirectoryUpserted, ""))
	require.Equal(t, sub.SubscriptionID, replayed.SubscriptionID)
	require.Greater(t, replayed.Event.Cursor, uint64(0))

	pathB := t.TempDir()
	w.mustCommand(protocol.CmdDirectoryUpsert, protocol.DirectoryUpsertParams{Scope: wireScope, Path: pathB})
	live := w.waitEnvelope(isStreamEvent(protocol.EventDirectoryUpserted, ""))
	require.Greater(t, live.Event.Cursor, replayed.Event.Cursor)

	w.mustCommand(protocol.CmdStreamUnsubscribe, protocol.StreamUnsubscribeParams{SubscriptionID: sub.SubscriptionID})

	_, errText := w.command(protocol.CmdStreamUnsubscribe, protocol.StreamUnsubscribeParams{SubscriptionID: sub.SubscriptionID})
	require.Contains(t, errText, "not found")

	// The sink is gone before unsubscribe returns, so this upsert can
	// never reach the old subscription.
	pathC := t.TempDir()
	w.mustCommand(protocol.CmdDirectoryUpsert, protocol.DirectoryUpsertParams{Scope: wireScope, Path: pathC})
	w.mustCommand(protocol.CmdDirectoryList, protocol.DirectoryListParams{Scope: wireScope})
	require.False(t, w.backlogHas(func(env protocol.ServerEnvelope) bool {
		return env.Type == protocol.ServerStreamEvent &&
			env.Event != nil &&
			strings.Contains(string(mustJSON(t, env.Event.Payload)), pathC)
	}))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func startWireSession(t *testing.T, w *wireClient, script string) protocol.PTYStartResult {
	t.Helper()
	result := decodeResult[protocol.PTYStartResult](t, w.mustCommand(protocol.CmdPTYStart, protocol.PTYStartParams{
		Scope:     wireScope,
		Cwd:       t.TempDir(),
		AgentType: protocol.AgentTerminal,
		Title:     "wire",
		BaseArgs:  []string{"-c", script},
	}))
	require.NotEmpty(t, result.SessionID)
	require.Greater(t, result.PID, 0)
	return result
}

func TestPTYSessionOverWire(t *testing.T) {
	f := newStreamFixture(t, "", 0)
	w := f.dial()

	sub := decodeResult[protocol.StreamSubscribeResult](t, w.mustCommand(protocol.CmdStreamSubscribe,
		protocol.StreamSubscribeParams{AfterCursor: 0}))
	require.NotEmpty(t, sub.SubscriptionID)

	started := startWireSession(t, w, "printf ready; read x; exit 3")
	sid := started.SessionID

	running := w.waitEnvelope(isStreamEvent(protocol.EventSessionStatus, sid))
	require.Equal(t, protocol.StatusRunning, running.Event.Payload["status"])

	attach := decodeResult[protocol.PTYAttachResult](t, w.mustCommand(protocol.CmdPTYAttach,
		protocol.PTYAttachParams{SessionID: sid}))
	require.NotEmpty(t, attach.AttachmentID)

	var output strings.Builder
	w.waitEnvelope(func(env protocol.ServerEnvelope) bool {
		if env.Type != protocol.ServerPTYOutput || env.SessionID != sid {
			return false
		}
		chunk, err := base64.StdEncoding.DecodeString(env.ChunkBase64)
		require.NoError(t, err)
		output.Write(chunk)
		return strings.Contains(output.String(), "ready")
	})

	// The oracle sees the same bytes the attachment does.
	testutil.RequireEventually(t, func() bool {
		frame := decodeResult[protocol.Frame](t, w.mustCommand(protocol.CmdSessionSnapshot,
			protocol.SessionIDParams{SessionID: sid}))
		return len(frame.Lines) > 0 && strings.Contains(frame.Lines[0], "ready") && frame.FrameHash != ""
	}, "snapshot should render the emitted output")

	claim := decodeResult[protocol.SessionClaimResult](t, w.mustCommand(protocol.CmdSessionClaim,
		protocol.SessionClaimParams{SessionID: sid, ControllerID: "alice", ControllerType: protocol.ControllerHuman, ControllerLabel: "alice"}))
	require.Equal(t, protocol.ClaimActionClaimed, claim.Action)

	_, errText := w.command(protocol.CmdSessionClaim,
		protocol.SessionClaimParams{SessionID: sid, ControllerID: "bob", ControllerType: protocol.ControllerAgent})
	require.Contains(t, errText, "already claimed")

	takeover := decodeResult[protocol.SessionClaimResult](t, w.mustCommand(protocol.CmdSessionClaim,
		protocol.SessionClaimParams{SessionID: sid, ControllerID: "bob", ControllerType: protocol.ControllerAgent, Takeover: true}))
	require.Equal(t, protocol.ClaimActionTakenOver, takeover.Action)

	released := decodeResult[protocol.SessionReleaseResult](t, w.mustCommand(protocol.CmdSessionRelease,
		protocol.SessionReleaseParams{SessionID: sid}))
	require.True(t, released.Released)

	w.send(protocol.ClientEnvelope{
		Type:       protocol.ClientPTYInput,
		SessionID:  sid,
		DataBase64: base64.StdEncoding.EncodeToString([]byte("go\n")),
	})

	exit := w.waitEnvelope(func(env protocol.ServerEnvelope) bool {
		return env.Type == protocol.ServerPTYExit && env.SessionID == sid
	})
	require.NotNil(t, exit.Exit)
	require.NotNil(t, exit.Exit.Code)
	require.Equal(t, 3, *exit.Exit.Code)

	exited := w.waitEnvelope(func(env protocol.ServerEnvelope) bool {
		return isStreamEvent(protocol.EventSessionStatus, sid)(env) &&
			env.Event.Payload["status"] == protocol.StatusExited
	})
	require.NotNil(t, exited.Event)

	info := decodeResult[protocol.SessionInfo](t, w.mustCommand(protocol.CmdSessionStatus,
		protocol.SessionIDParams{SessionID: sid}))
	require.Equal(t, protocol.StatusExited, info.RuntimeStatus)
	require.False(t, info.Live)
	require.NotNil(t, info.ExitRecord)

	_, errText = w.command(protocol.CmdSessionInterrupt, protocol.SessionIDParams{SessionID: sid})
	require.Contains(t, errText, "exited")

	list := decodeResult[protocol.SessionListResult](t, w.mustCommand(protocol.CmdSessionList,
		protocol.SessionListParams{Scope: &wireScope}))
	require.Len(t, list.Sessions, 1)

	w.mustCommand(protocol.CmdSessionRemove, protocol.SessionIDParams{SessionID: sid})
	w.waitEnvelope(func(env protocol.ServerEnvelope) bool {
		return isStreamEvent(protocol.EventSessionEvent, sid)(env) &&
			env.Event.Payload["kind"] == protocol.SessionEventRemoved
	})

	_, errText = w.command(protocol.CmdSessionStatus, protocol.SessionIDParams{SessionID: sid})
	require.Contains(t, errText, "not found")
}

func TestEventOnlySubscriptionAndClose(t *testing.T) {
	f := newStreamFixture(t, "", 0)
	w := f.dial()

	started := startWireSession(t, w, "printf chatter; read x")
	sid := started.SessionID

	w.mustCommand(protocol.CmdPTYSubscribeEvents, protocol.SessionIDParams{SessionID: sid})
	// Idempotent per connection and session.
	w.mustCommand(protocol.CmdPTYSubscribeEvents, protocol.SessionIDParams{SessionID: sid})

	w.mustCommand(protocol.CmdPTYClose, protocol.SessionIDParams{SessionID: sid})

	exit := w.waitEnvelope(func(env protocol.ServerEnvelope) bool {
		return env.Type == protocol.ServerPTYExit && env.SessionID == sid
	})
	require.NotNil(t, exit.Exit)

	// Event-only attachments never see output, not even the backlog.
	require.False(t, w.backlogHas(func(env protocol.ServerEnvelope) bool {
		return env.Type == protocol.ServerPTYOutput && env.SessionID == sid
	}))

	// Closing an exited session stays a no-op.
	w.mustCommand(protocol.CmdPTYClose, protocol.SessionIDParams{SessionID: sid})

	w.mustCommand(protocol.CmdPTYUnsubscribeEvents, protocol.SessionIDParams{SessionID: sid})
	w.mustCommand(protocol.CmdPTYUnsubscribeEvents, protocol.SessionIDParams{SessionID: sid})
}

func TestConversationDeleteRejectsLiveSession(t *testing.T) {
	f := newStreamFixture(t, "", 0)
	w := f.dial()

	started := startWireSession(t, w, "read x")
	sid := started.SessionID

	info := decodeResult[protocol.SessionInfo](t, w.mustCommand(protocol.CmdSessionStatus,
		protocol.SessionIDParams{SessionID: sid}))

	_, errText := w.command(protocol.CmdConversationDelete,
		protocol.ConversationDeleteParams{Scope: info.Scope, ConversationID: sid})
	require.Contains(t, errText, "live session")

	w.mustCommand(protocol.CmdPTYClose, protocol.SessionIDParams{SessionID: sid})
	testutil.RequireEventually(t, func() bool {
		statusInfo := decodeResult[protocol.SessionInfo](t, w.mustCommand(protocol.CmdSessionStatus,
			protocol.SessionIDParams{SessionID: sid}))
		return statusInfo.RuntimeStatus == protocol.StatusExited
	}, "session should exit after pty.close")

	w.mustCommand(protocol.CmdConversationDelete,
		protocol.ConversationDeleteParams{Scope: info.Scope, ConversationID: sid})
}

func TestDetachStopsOutput(t *testing.T) {
	f := newStreamFixture(t, "", 0)
	w := f.dial()

	started := startWireSession(t, w, "printf first; read x; printf second; read y")
	sid := started.SessionID

	attach := decodeResult[protocol.PTYAttachResult](t, w.mustCommand(protocol.CmdPTYAttach,
		protocol.PTYAttachParams{SessionID: sid}))

	var output strings.Builder
	w.waitEnvelope(func(env protocol.ServerEnvelope) bool {
		if env.Type != protocol.ServerPTYOutput || env.SessionID != sid {
			return false
		}
		chunk, err := base64.StdEncoding.DecodeString(env.ChunkBase64)
		require.NoError(t, err)
		output.Write(chunk)
		return strings.Contains(output.String(), "first")
	})

	w.mustCommand(protocol.CmdPTYDetach, protocol.PTYDetachParams{SessionID: sid, AttachmentID: attach.AttachmentID})
	// Detach is idempotent.
	w.mustCommand(protocol.CmdPTYDetach, protocol.PTYDetachParams{SessionID: sid, AttachmentID: attach.AttachmentID})

	// The detach completed after the broker dropped the attachment, so
	// output produced now cannot reach this connection.
	w.send(protocol.ClientEnvelope{
		Type:       protocol.ClientPTYInput,
		SessionID:  sid,
		DataBase64: base64.StdEncoding.EncodeToString([]byte("go\n")),
	})

	testutil.RequireEventually(t, func() bool {
		frame := decodeResult[protocol.Frame](t, w.mustCommand(protocol.CmdSessionSnapshot,
			protocol.SessionIDParams{SessionID: sid}))
		return strings.Contains(strings.Join(frame.Lines, "\n"), "second")
	}, "child should emit more output after input")

	require.False(t, w.backlogHas(func(env protocol.ServerEnvelope) bool {
		if env.Type != protocol.ServerPTYOutput || env.SessionID != sid {
			return false
		}
		chunk, err := base64.StdEncoding.DecodeString(env.ChunkBase64)
		require.NoError(t, err)
		return strings.Contains(string(chunk), "second")
	}))
}

func TestServerShutdownNotifiesClients(t *testing.T) {
	f := newStreamFixture(t, "", 0)
	w := f.dial()

	// Prove the connection is live before the notification.
	w.mustCommand(protocol.CmdSessionList, protocol.SessionListParams{})

	f.srv.NotifyShutdown("maintenance")

	env := w.waitEnvelope(func(env protocol.ServerEnvelope) bool {
		return env.Type == protocol.ServerShutdown
	})
	require.Equal(t, "maintenance", env.Reason)

	// New connections are refused while shutting down.
	refused, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer refused.Close()
	require.NoError(t, refused.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 1)
	_, err = refused.Read(buf)
	require.Error(t, err)
}

func TestSubscriptionDropPolicy(t *testing.T) {
	outputEvent := func(cursor uint64) protocol.ObservedEvent {
		return protocol.ObservedEvent{Cursor: cursor, Type: protocol.EventSessionOutput, SessionID: "s1"}
	}
	statusEvent := func(cursor uint64) protocol.ObservedEvent {
		return protocol.ObservedEvent{Cursor: cursor, Type: protocol.EventSessionStatus, SessionID: "s1"}
	}

	// No pump: enqueue against a dead queue to inspect the policy.
	sub := &subscription{includeOutput: true, limit: 4, wake: make(chan struct{}, 1)}

	sub.enqueue(outputEvent(1))
	sub.enqueue(outputEvent(2))
	require.Len(t, sub.queue, 2)

	// Queue at half capacity: new output is shed, control events pass.
	sub.enqueue(outputEvent(3))
	require.Len(t, sub.queue, 2)
	sub.enqueue(statusEvent(4))
	sub.enqueue(statusEvent(5))
	require.Len(t, sub.queue, 4)

	// Full queue: the oldest queued output is evicted first.
	sub.enqueue(statusEvent(6))
	require.Len(t, sub.queue, 4)
	require.Equal(t, uint64(2), sub.queue[0].Cursor)
	require.Equal(t, uint64(6), sub.queue[3].Cursor)

	// No output left: the oldest event goes.
	sub.enqueue(statusEvent(7))
	sub.enqueue(statusEvent(8))
	require.Len(t, sub.queue, 4)
	require.Equal(t, uint64(5), sub.queue[0].Cursor)
	require.Equal(t, uint64(8), sub.queue[3].Cursor)
}

func TestSubscriptionFilters(t *testing.T) {
	sub := &subscription{
		filters: protocol.StreamFilters{
			Types:      []string{protocol.EventSessionStatus, protocol.EventSessionOutput},
			SessionIDs: []string{"s1"},
		},
		includeOutput: false,
		limit:         8,
		wake:          make(chan struct{}, 1),
	}

	require.True(t, sub.matches(protocol.ObservedEvent{Type: protocol.EventSessionStatus, SessionID: "s1"}))
	require.False(t, sub.matches(protocol.ObservedEvent{Type: protocol.EventSessionStatus, SessionID: "s2"}))
	require.False(t, sub.matches(protocol.ObservedEvent{Type: protocol.EventSessionControl, SessionID: "s1"}))
	// includeOutput gates session-output even when the type filter
	// names it.
	require.False(t, sub.matches(protocol.ObservedEvent{Type: protocol.EventSessionOutput, SessionID: "s1"}))
	// Store events carry no session id and fail a session filter.
	require.False(t, sub.matches(protocol.ObservedEvent{Type: protocol.EventSessionStatus}))
}
