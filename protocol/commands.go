package protocol

// Command types routed by the stream server. The string doubles as the
// "type" field of the command object inside a command envelope.
const (
	CmdDirectoryUpsert  = "directory.upsert"
	CmdDirectoryList    = "directory.list"
	CmdDirectoryArchive = "directory.archive"

	CmdRepositoryUpsert  = "repository.upsert"
	CmdRepositoryUpdate  = "repository.update"
	CmdRepositoryList    = "repository.list"
	CmdRepositoryArchive = "repository.archive"

	CmdConversationCreate  = "conversation.create"
	CmdConversationUpdate  = "conversation.update"
	CmdConversationList    = "conversation.list"
	CmdConversationArchive = "conversation.archive"
	CmdConversationDelete  = "conversation.delete"

	CmdTaskCreate   = "task.create"
	CmdTaskUpdate   = "task.update"
	CmdTaskReady    = "task.ready"
	CmdTaskDraft    = "task.draft"
	CmdTaskComplete = "task.complete"
	CmdTaskReorder  = "task.reorder"
	CmdTaskDelete   = "task.delete"
	CmdTaskList     = "task.list"

	CmdPTYStart             = "pty.start"
	CmdPTYAttach            = "pty.attach"
	CmdPTYDetach            = "pty.detach"
	CmdPTYClose             = "pty.close"
	CmdPTYSubscribeEvents   = "pty.subscribe-events"
	CmdPTYUnsubscribeEvents = "pty.unsubscribe-events"

	CmdSessionList      = "session.list"
	CmdSessionStatus    = "session.status"
	CmdSessionSnapshot  = "session.snapshot"
	CmdSessionRespond   = "session.respond"
	CmdSessionClaim     = "session.claim"
	CmdSessionRelease   = "session.release"
	CmdSessionInterrupt = "session.interrupt"
	CmdSessionRemove    = "session.remove"
	CmdAttentionList    = "attention.list"

	CmdStreamSubscribe   = "stream.subscribe"
	CmdStreamUnsubscribe = "stream.unsubscribe"
)

type DirectoryUpsertParams struct {
	Scope Scope  `json:"scope"`
	Path  string `json:"path"`
}

// List command results. Single-entity commands return the entity bare;
// list commands wrap the slice so the result object stays extensible.
type DirectoryListResult struct {
	Directories []Directory `json:"directories"`
}

type RepositoryListResult struct {
	Repositories []Repository `json:"repositories"`
}

type ConversationListResult struct {
	Conversations []Conversation `json:"conversations"`
}

type TaskListResult struct {
	Tasks []Task `json:"tasks"`
}

type SessionListResult struct {
	Sessions []SessionInfo `json:"sessions"`
}

type AttentionListResult struct {
	Entries []AttentionEntry `json:"entries"`
}

type DirectoryListParams struct {
	Scope           Scope `json:"scope"`
	IncludeArchived bool  `json:"includeArchived,omitempty"`
	Limit           int   `json:"limit,omitempty"`
}

type DirectoryArchiveParams struct {
	Scope       Scope  `json:"scope"`
	DirectoryID string `json:"directoryId"`
}

type RepositoryUpsertParams struct {
	Scope         Scope          `json:"scope"`
	Name          string         `json:"name"`
	RemoteURL     string         `json:"remoteUrl"`
	DefaultBranch string         `json:"defaultBranch,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type RepositoryUpdateParams struct {
	Scope         Scope          `json:"scope"`
	RepositoryID  string         `json:"repositoryId"`
	Name          *string        `json:"name,omitempty"`
	DefaultBranch *string        `json:"defaultBranch,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type RepositoryListParams struct {
	Scope           Scope `json:"scope"`
	IncludeArchived bool  `json:"includeArchived,omitempty"`
	Limit           int   `json:"limit,omitempty"`
}

type RepositoryArchiveParams struct {
	Scope        Scope  `json:"scope"`
	RepositoryID string `json:"repositoryId"`
}

type ConversationCreateParams struct {
	Scope        Scope          `json:"scope"`
	DirectoryID  string         `json:"directoryId"`
	Title        string         `json:"title"`
	AgentType    string         `json:"agentType"`
	AdapterState map[string]any `json:"adapterState,omitempty"`
}

type ConversationUpdateParams struct {
	Scope          Scope          `json:"scope"`
	ConversationID string         `json:"conversationId"`
	Title          *string        `json:"title,omitempty"`
	AdapterState   map[string]any `json:"adapterState,omitempty"`
}

type ConversationListParams struct {
	Scope           Scope `json:"scope"`
	IncludeArchived bool  `json:"includeArchived,omitempty"`
	Limit           int   `json:"limit,omitempty"`
}

type ConversationArchiveParams struct {
	Scope          Scope  `json:"scope"`
	ConversationID string `json:"conversationId"`
}

type ConversationDeleteParams struct {
	Scope          Scope  `json:"scope"`
	ConversationID string `json:"conversationId"`
}

type TaskCreateParams struct {
	Scope        Scope   `json:"scope"`
	RepositoryID *string `json:"repositoryId,omitempty"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
}

type TaskUpdateParams struct {
	Scope        Scope   `json:"scope"`
	TaskID       string  `json:"taskId"`
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	Status       *string `json:"status,omitempty"`
	RepositoryID *string `json:"repositoryId,omitempty"`
}

type TaskIDParams struct {
	Scope  Scope  `json:"scope"`
	TaskID string `json:"taskId"`
}

type TaskReorderParams struct {
	Scope          Scope    `json:"scope"`
	OrderedTaskIDs []string `json:"orderedTaskIds"`
}

type TaskListParams struct {
	Scope            Scope `json:"scope"`
	IncludeCompleted bool  `json:"includeCompleted,omitempty"`
	Limit            int   `json:"limit,omitempty"`
}

type PTYStartParams struct {
	Scope          Scope          `json:"scope"`
	DirectoryID    string         `json:"directoryId,omitempty"`
	Cwd            string         `json:"cwd,omitempty"`
	AgentType      string         `json:"agentType"`
	Title          string         `json:"title,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	BaseArgs       []string       `json:"baseArgs,omitempty"`
	Env            []string       `json:"env,omitempty"`
	Cols           uint16         `json:"cols,omitempty"`
	Rows           uint16         `json:"rows,omitempty"`
	AdapterState   map[string]any `json:"adapterState,omitempty"`
}

type PTYStartResult struct {
	SessionID string `json:"sessionId"`
	PID       int    `json:"pid"`
}

type PTYAttachParams struct {
	SessionID   string `json:"sessionId"`
	SinceCursor uint64 `json:"sinceCursor,omitempty"`
}

type PTYAttachResult struct {
	AttachmentID string `json:"attachmentId"`
	LatestCursor uint64 `json:"latestCursor"`
}

type PTYDetachParams struct {
	SessionID    string `json:"sessionId"`
	AttachmentID string `json:"attachmentId"`
}

type SessionIDParams struct {
	SessionID string `json:"sessionId"`
}

type SessionListParams struct {
	Scope *Scope `json:"scope,omitempty"`
}

type AttentionListParams struct {
	Scope *Scope `json:"scope,omitempty"`
}

type SessionRespondParams struct {
	SessionID    string `json:"sessionId"`
	Text         string `json:"text"`
	ControllerID string `json:"controllerId,omitempty"`
}

type SessionClaimParams struct {
	SessionID       string `json:"sessionId"`
	ControllerID    string `json:"controllerId"`
	ControllerType  string `json:"controllerType"`
	ControllerLabel string `json:"controllerLabel,omitempty"`
	Takeover        bool   `json:"takeover,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type SessionClaimResult struct {
	Action     string      `json:"action"`
	Controller *Controller `json:"controller"`
}

type SessionReleaseParams struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

type SessionReleaseResult struct {
	Released bool `json:"released"`
}

type StreamSubscribeParams struct {
	Filters       StreamFilters `json:"filters,omitempty"`
	IncludeOutput bool          `json:"includeOutput,omitempty"`
	AfterCursor   uint64        `json:"afterCursor,omitempty"`
}

type StreamSubscribeResult struct {
	SubscriptionID string `json:"subscriptionId"`
}

type StreamUnsubscribeParams struct {
	SubscriptionID string `json:"subscriptionId"`
}
