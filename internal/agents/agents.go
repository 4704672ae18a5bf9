// Package agents holds the per-agent adapter layer. Each supported
// agent type implements Adapter in its own file, consolidating launch
// argument composition, environment injection, prompt capture and the
// status-revival policy in one place.
package agents

import (
	"time"

	"github.com/roostlabs/roost/internal/errs"
	"github.com/roostlabs/roost/internal/telemetry"
	"github.com/roostlabs/roost/internal/util/timefmt"
	"github.com/roostlabs/roost/protocol"
)

// EnvInfo is what an adapter may expose to its child process.
type EnvInfo struct {
	SessionID    string
	NotifyPath   string
	OTLPEndpoint string // endpoint root, e.g. http://127.0.0.1:7334/otlp/<sessionId>
}

// Adapter abstracts one agent CLI. Implementations must be stateless;
// per-session state lives in the conversation's adapter state.
type Adapter interface {
	// Type returns the agent type constant this adapter serves.
	Type() string

	// Command returns the binary to spawn when baseArgs carry no
	// explicit program.
	Command() string

	// ComposeStartArgs merges persisted adapter state into the launch
	// arguments, e.g. resuming a previous provider session.
	ComposeStartArgs(baseArgs []string, adapterState map[string]any) []string

	// Env returns extra environment entries for the child.
	Env(info EnvInfo) []string

	// ExtractPromptFromNotify captures a user prompt from a notify
	// payload, when this agent delivers prompts that way.
	ExtractPromptFromNotify(payload map[string]any, observedAt time.Time) (*PromptRecord, bool)

	// ExtractPromptFromTelemetry captures a user prompt from a
	// normalized telemetry event.
	ExtractPromptFromTelemetry(ev telemetry.Event) (*PromptRecord, bool)

	// RunningEligible reports whether a running-hint with this event
	// name may revive a needs-input or completed session.
	RunningEligible(eventName string) bool

	// HistoryPath returns the history JSONL file to tail, or "".
	HistoryPath(adapterState map[string]any) string

	// ReduceStatus folds a telemetry event into the session's status
	// model. A nil return keeps the model unchanged (nil stays null).
	ReduceStatus(prev *protocol.StatusModel, ev telemetry.Event, runtimeStatus string) *protocol.StatusModel
}

var registry = map[string]Adapter{
	protocol.AgentCodex:    &Codex{},
	protocol.AgentClaude:   &Claude{},
	protocol.AgentCursor:   &Cursor{},
	protocol.AgentTerminal: &Terminal{},
	protocol.AgentCritique: &Critique{},
}

// ForType returns the adapter for an agent type.
func ForType(agentType string) (Adapter, error) {
	a, ok := registry[agentType]
	if !ok {
		return nil, errs.Invalidf("unknown agent type %q", agentType)
	}
	return a, nil
}

// stateString digs a string out of adapterState[section][keys...],
// returning the first non-empty hit.
func stateString(adapterState map[string]any, section string, keys ...string) string {
	sub, ok := adapterState[section].(map[string]any)
	if !ok {
		return ""
	}
	for _, k := range keys {
		if v, ok := sub[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// reduceWorkStatus is the shared status-model reducer: any named event
// updates lastKnownWork unless it arrives out of order, and the state
// mirrors whether the session still looks busy.
func reduceWorkStatus(prev *protocol.StatusModel, ev telemetry.Event, runtimeStatus string) *protocol.StatusModel {
	if ev.EventName == "" {
		return prev
	}
	observedAt := timefmt.Format(ev.ObservedAt)
	if prev != nil && prev.LastKnownWorkAt != "" && observedAt < prev.LastKnownWorkAt {
		return prev
	}
	work := ev.EventName
	if ev.Summary != "" {
		work = ev.Summary
	}
	state := "inactive"
	if runtimeStatus == protocol.StatusRunning || ev.StatusHint == telemetry.HintRunning {
		state = "active"
	}
	return &protocol.StatusModel{
		State:           state,
		LastKnownWork:   work,
		LastKnownWorkAt: observedAt,
	}
}

// containsArg reports whether args carries flag either standalone or in
// "flag=value" form.
func containsArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag || len(a) > len(flag) && a[:len(flag)+1] == flag+"=" {
			return true
		}
	}
	return false
}
