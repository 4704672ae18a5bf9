// Package protocol defines the wire vocabulary of the roost control
// plane: envelope shapes, command payloads, persisted entity DTOs, and
// the observed event stream. Everything here is JSON with camelCase
// keys; the same types are used by the server and the client library.
package protocol

// Scope identifies the tenant/user/workspace a persisted entity or
// command belongs to. All three parts are lowercase slugs.
type Scope struct {
	TenantID    string `json:"tenantId"`
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
}

// Key returns a stable string form used for map keys and storage paths.
func (s Scope) Key() string {
	return s.TenantID + "/" + s.UserID + "/" + s.WorkspaceID
}

// Agent types accepted by pty.start and conversation.create.
const (
	AgentCodex    = "codex"
	AgentClaude   = "claude"
	AgentCursor   = "cursor"
	AgentTerminal = "terminal"
	AgentCritique = "critique"
)

// Runtime statuses of a live session. Exited is terminal.
const (
	StatusRunning    = "running"
	StatusNeedsInput = "needs-input"
	StatusCompleted  = "completed"
	StatusExited     = "exited"
)

// Attention reasons carried alongside StatusNeedsInput.
const (
	AttentionApproval  = "approval"
	AttentionUserInput = "user-input"
	AttentionTelemetry = "telemetry"
)

// Controller types for session claims.
const (
	ControllerHuman      = "human"
	ControllerAgent      = "agent"
	ControllerAutomation = "automation"
)

// Claim actions reported by session.claim.
const (
	ClaimActionClaimed   = "claimed"
	ClaimActionTakenOver = "taken-over"
	ClaimActionRefreshed = "refreshed"
)

// Task statuses.
const (
	TaskDraft      = "draft"
	TaskReady      = "ready"
	TaskInProgress = "in-progress"
	TaskCompleted  = "completed"
)

// Signals accepted by the pty.signal envelope.
const (
	SignalInterrupt = "interrupt"
	SignalEOF       = "eof"
	SignalTerminate = "terminate"
)

// Observed event types. The vocabulary is closed: consumers may switch
// exhaustively on these values.
const (
	EventDirectoryUpserted    = "directory-upserted"
	EventDirectoryArchived    = "directory-archived"
	EventConversationCreated  = "conversation-created"
	EventConversationUpdated  = "conversation-updated"
	EventConversationArchived = "conversation-archived"
	EventConversationDeleted  = "conversation-deleted"
	EventSessionStatus        = "session-status"
	EventSessionEvent         = "session-event"
	EventSessionKeyEvent      = "session-key-event"
	EventSessionControl       = "session-control"
	EventSessionOutput        = "session-output"
)

// Kinds carried in the payload of session-event.
const (
	SessionEventExit       = "session-exit"
	SessionEventRemoved    = "session-removed"
	SessionEventUsage      = "usage"
	SessionEventGitSummary = "git-summary"
)

// ObservedEvent is one entry of the workspace event stream. Cursor is
// process-wide and strictly monotonic; gaps are possible after
// backpressure drops and clients must tolerate them.
type ObservedEvent struct {
	Cursor     uint64         `json:"cursor"`
	Type       string         `json:"type"`
	OccurredAt string         `json:"occurredAt"`
	SessionID  string         `json:"sessionId,omitempty"`
	Scope      *Scope         `json:"scope,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// StreamFilters narrows a stream.subscribe feed. Empty slices match
// everything.
type StreamFilters struct {
	Types      []string `json:"types,omitempty"`
	SessionIDs []string `json:"sessionIds,omitempty"`
}

// Directory is a persisted working directory registration.
type Directory struct {
	DirectoryID string  `json:"directoryId"`
	Scope       Scope   `json:"scope"`
	Path        string  `json:"path"`
	CreatedAt   string  `json:"createdAt"`
	ArchivedAt  *string `json:"archivedAt"`
}

// Repository is a persisted remote repository registration. Metadata is
// opaque JSON owned by clients; metadata.homePriority orders listings.
type Repository struct {
	RepositoryID        string         `json:"repositoryId"`
	Scope               Scope          `json:"scope"`
	Name                string         `json:"name"`
	NormalizedRemoteURL string         `json:"normalizedRemoteUrl"`
	DefaultBranch       string         `json:"defaultBranch"`
	Metadata            map[string]any `json:"metadata"`
	CreatedAt           string         `json:"createdAt"`
	ArchivedAt          *string        `json:"archivedAt"`
}

// Conversation is a persisted conversation. Its id doubles as the
// session id of any running PTY for it. AdapterState is opaque to the
// core and stored verbatim.
type Conversation struct {
	ConversationID string         `json:"conversationId"`
	Scope          Scope          `json:"scope"`
	DirectoryID    string         `json:"directoryId"`
	Title          string         `json:"title"`
	AgentType      string         `json:"agentType"`
	AdapterState   map[string]any `json:"adapterState"`
	CreatedAt      string         `json:"createdAt"`
	UpdatedAt      string         `json:"updatedAt"`
	ArchivedAt     *string        `json:"archivedAt"`
}

// Task is a persisted work item. OrderIndex is dense within the active
// (non-completed) set of its scope.
type Task struct {
	TaskID       string  `json:"taskId"`
	Scope        Scope   `json:"scope"`
	RepositoryID *string `json:"repositoryId"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Status       string  `json:"status"`
	OrderIndex   int     `json:"orderIndex"`
	CompletedAt  *string `json:"completedAt"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
}

// Controller describes the current claim on a session.
type Controller struct {
	ControllerID    string `json:"controllerId"`
	ControllerType  string `json:"controllerType"`
	ControllerLabel string `json:"controllerLabel,omitempty"`
	ClaimedAt       string `json:"claimedAt"`
}

// StatusModel is the per-agent human-readable status projection. It is
// null until the agent's telemetry produces one.
type StatusModel struct {
	State           string `json:"state"`
	LastKnownWork   string `json:"lastKnownWork,omitempty"`
	LastKnownWorkAt string `json:"lastKnownWorkAt,omitempty"`
}

// TelemetrySummary aggregates what the harness has observed about a
// session's agent so far.
type TelemetrySummary struct {
	EventCount       int    `json:"eventCount"`
	LastEventName    string `json:"lastEventName,omitempty"`
	LastEventAt      string `json:"lastEventAt,omitempty"`
	LastStatusHint   string `json:"lastStatusHint,omitempty"`
	ProviderThreadID string `json:"providerThreadId,omitempty"`
}

// UsageSample is a point-in-time process usage reading.
type UsageSample struct {
	CPUPercent float64 `json:"cpuPercent"`
	MemoryMB   float64 `json:"memoryMb"`
	Status     string  `json:"status,omitempty"`
	SampledAt  string  `json:"sampledAt"`
}

// ExitRecord reports how a PTY child terminated. Exactly one of Code
// and Signal is set for real exits; both nil means the record was
// synthesized without wait status.
type ExitRecord struct {
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
}

// SessionInfo is the full projection of a session returned by
// session.list and session.status.
type SessionInfo struct {
	SessionID       string            `json:"sessionId"`
	Scope           Scope             `json:"scope"`
	DirectoryID     string            `json:"directoryId,omitempty"`
	Cwd             string            `json:"cwd"`
	Title           string            `json:"title"`
	AgentType       string            `json:"agentType"`
	PID             int               `json:"pid,omitempty"`
	RuntimeStatus   string            `json:"runtimeStatus"`
	AttentionReason string            `json:"attentionReason,omitempty"`
	Live            bool              `json:"live"`
	LatestCursor    uint64            `json:"latestCursor"`
	Controller      *Controller       `json:"controller"`
	StatusModel     *StatusModel      `json:"statusModel"`
	Telemetry       *TelemetrySummary `json:"telemetry"`
	Usage           *UsageSample      `json:"usage,omitempty"`
	GitSummary      map[string]any    `json:"gitSummary,omitempty"`
	StartedAt       string            `json:"startedAt"`
	LastEventAt     string            `json:"lastEventAt"`
	ExitRecord      *ExitRecord       `json:"exitRecord,omitempty"`
}

// AttentionEntry is one row of attention.list.
type AttentionEntry struct {
	SessionID       string `json:"sessionId"`
	AttentionReason string `json:"attentionReason"`
	Since           string `json:"since"`
}

// FrameCursor is the cursor position within a snapshot frame. Row and
// Col are zero-based.
type FrameCursor struct {
	Row     int  `json:"row"`
	Col     int  `json:"col"`
	Visible bool `json:"visible"`
}

// Frame is the session.snapshot result: the rendered screen with
// trailing spaces trimmed per line and a content hash over the
// hashless frame.
type Frame struct {
	Rows         int         `json:"rows"`
	Cols         int         `json:"cols"`
	ActiveScreen string      `json:"activeScreen"`
	Cursor       FrameCursor `json:"cursor"`
	Lines        []string    `json:"lines"`
	FrameHash    string      `json:"frameHash,omitempty"`
}
