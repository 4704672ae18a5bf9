package agents

import (
	"time"

	"github.com/roostlabs/roost/internal/telemetry"
	"github.com/roostlabs/roost/protocol"
)

// Cursor adapts the Cursor CLI agent. Prompts surface through the
// beforeSubmitPrompt hook.
type Cursor struct{}

func (Cursor) Type() string    { return protocol.AgentCursor }
func (Cursor) Command() string { return "cursor-agent" }

func (Cursor) ComposeStartArgs(baseArgs []string, adapterState map[string]any) []string {
	resumeID := stateString(adapterState, "cursor", "resumeSessionId", "chatId")
	if resumeID == "" || containsArg(baseArgs, "--resume") {
		return baseArgs
	}
	return append([]string{"--resume=" + resumeID}, baseArgs...)
}

func (Cursor) Env(info EnvInfo) []string {
	return []string{"ROOST_NOTIFY_FILE=" + info.NotifyPath}
}

func (Cursor) ExtractPromptFromNotify(payload map[string]any, observedAt time.Time) (*PromptRecord, bool) {
	hook, _ := payloadString(payload, "hook_event_name")
	if hook == "" {
		hook, _ = payloadString(payload, "event")
	}
	if hook != "beforeSubmitPrompt" {
		return nil, false
	}
	if text, ok := payloadString(payload, "prompt"); ok {
		return newPromptRecord(&text, ConfidenceHigh, CaptureNotify, hook, payload, observedAt), true
	}
	if prompt, ok := payload["prompt"].(map[string]any); ok {
		if text, ok := payloadString(prompt, "text"); ok {
			return newPromptRecord(&text, ConfidenceHigh, CaptureNotify, hook, payload, observedAt), true
		}
	}
	return newPromptRecord(nil, ConfidenceLow, CaptureNotify, hook, payload, observedAt), true
}

func (Cursor) ExtractPromptFromTelemetry(ev telemetry.Event) (*PromptRecord, bool) {
	if ev.EventName != "beforeSubmitPrompt" && ev.EventName != "user_prompt" {
		return nil, false
	}
	source := CaptureTelemetry
	if ev.Source == telemetry.SourceHistory {
		source = CaptureHistory
	}
	if text, ok := payloadString(ev.Payload, "prompt"); ok {
		return newPromptRecord(&text, ConfidenceHigh, source, ev.EventName, ev.Payload, ev.ObservedAt), true
	}
	return newPromptRecord(nil, ConfidenceLow, source, ev.EventName, ev.Payload, ev.ObservedAt), true
}

func (Cursor) RunningEligible(eventName string) bool {
	return eventName == "beforeSubmitPrompt" || eventName == "user_prompt"
}

func (Cursor) HistoryPath(adapterState map[string]any) string {
	return stateString(adapterState, "cursor", "historyPath")
}

func (Cursor) ReduceStatus(prev *protocol.StatusModel, ev telemetry.Event, runtimeStatus string) *protocol.StatusModel {
	return reduceWorkStatus(prev, ev, runtimeStatus)
}
