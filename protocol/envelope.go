package protocol

import "encoding/json"

// Client envelope types. One JSON object per line (TCP) or per text
// message (WebSocket).
const (
	ClientAuth      = "auth"
	ClientCommand   = "command"
	ClientPTYInput  = "pty.input"
	ClientPTYResize = "pty.resize"
	ClientPTYSignal = "pty.signal"
)

// Server envelope types.
const (
	ServerAuthOK           = "auth.ok"
	ServerAuthError        = "auth.error"
	ServerCommandAccepted  = "command.accepted"
	ServerCommandCompleted = "command.completed"
	ServerCommandFailed    = "command.failed"
	ServerStreamEvent      = "stream.event"
	ServerPTYOutput        = "pty.output"
	ServerPTYExit          = "pty.exit"
	ServerShutdown         = "server.shutdown"
)

// ClientEnvelope is the tagged union of everything a client may send.
// Only the fields for the given Type are populated.
type ClientEnvelope struct {
	Type string `json:"type"`

	// auth
	Token string `json:"token,omitempty"`

	// command
	CommandID string          `json:"commandId,omitempty"`
	Command   json.RawMessage `json:"command,omitempty"`

	// pty.input / pty.resize / pty.signal
	SessionID  string `json:"sessionId,omitempty"`
	DataBase64 string `json:"dataBase64,omitempty"`
	Cols       uint16 `json:"cols,omitempty"`
	Rows       uint16 `json:"rows,omitempty"`
	Signal     string `json:"signal,omitempty"`
}

// ServerEnvelope is the tagged union of everything the server may send.
type ServerEnvelope struct {
	Type string `json:"type"`

	// auth.error / command.failed
	Error string `json:"error,omitempty"`

	// command.*
	CommandID string          `json:"commandId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`

	// stream.event
	SubscriptionID string         `json:"subscriptionId,omitempty"`
	Event          *ObservedEvent `json:"event,omitempty"`

	// pty.output / pty.exit
	SessionID    string      `json:"sessionId,omitempty"`
	AttachmentID string      `json:"attachmentId,omitempty"`
	Cursor       uint64      `json:"cursor,omitempty"`
	ChunkBase64  string      `json:"chunkBase64,omitempty"`
	Exit         *ExitRecord `json:"exit,omitempty"`

	// server.shutdown
	Reason string `json:"reason,omitempty"`
}

// CommandHeader is the minimal decode of a command object, enough to
// route it. Handlers re-decode the raw bytes into their params type.
type CommandHeader struct {
	Type string `json:"type"`
}
