package agents

import (
	"time"

	"github.com/roostlabs/roost/internal/telemetry"
	"github.com/roostlabs/roost/protocol"
)

// Claude adapts the Claude Code CLI. Prompts surface through the
// UserPromptSubmit hook on the notify file; telemetry flows over OTLP
// when the CLI's exporter is enabled.
type Claude struct{}

func (Claude) Type() string    { return protocol.AgentClaude }
func (Claude) Command() string { return "claude" }

func (Claude) ComposeStartArgs(baseArgs []string, adapterState map[string]any) []string {
	resumeID := stateString(adapterState, "claude", "resumeSessionId", "sessionId")
	if resumeID == "" || containsArg(baseArgs, "--resume") || containsArg(baseArgs, "-r") {
		return baseArgs
	}
	return append([]string{"--resume", resumeID}, baseArgs...)
}

func (Claude) Env(info EnvInfo) []string {
	return []string{
		"ROOST_NOTIFY_FILE=" + info.NotifyPath,
		"CLAUDE_CODE_ENABLE_TELEMETRY=1",
		"OTEL_METRICS_EXPORTER=otlp",
		"OTEL_LOGS_EXPORTER=otlp",
		"OTEL_EXPORTER_OTLP_ENDPOINT=" + info.OTLPEndpoint,
		"OTEL_EXPORTER_OTLP_PROTOCOL=http/json",
	}
}

func (Claude) ExtractPromptFromNotify(payload map[string]any, observedAt time.Time) (*PromptRecord, bool) {
	hook, _ := payloadString(payload, "hook_event_name")
	if hook != "UserPromptSubmit" {
		return nil, false
	}
	if text, ok := payloadString(payload, "prompt"); ok {
		return newPromptRecord(&text, ConfidenceHigh, CaptureNotify, hook, payload, observedAt), true
	}
	return newPromptRecord(nil, ConfidenceMedium, CaptureNotify, hook, payload, observedAt), true
}

func (Claude) ExtractPromptFromTelemetry(ev telemetry.Event) (*PromptRecord, bool) {
	if ev.EventName != "claude_code.user_prompt" && ev.EventName != "user_prompt" {
		return nil, false
	}
	source := CaptureTelemetry
	if ev.Source == telemetry.SourceHistory {
		source = CaptureHistory
	}
	if text, ok := payloadString(ev.Payload, "prompt"); ok {
		return newPromptRecord(&text, ConfidenceHigh, source, ev.EventName, ev.Payload, ev.ObservedAt), true
	}
	// The CLI redacts prompt text unless OTEL_LOG_USER_PROMPTS is set.
	return newPromptRecord(nil, ConfidenceMedium, source, ev.EventName, ev.Payload, ev.ObservedAt), true
}

func (Claude) RunningEligible(eventName string) bool {
	switch eventName {
	case "claude_code.user_prompt", "user_prompt", "UserPromptSubmit":
		return true
	}
	return false
}

func (Claude) HistoryPath(adapterState map[string]any) string {
	return stateString(adapterState, "claude", "historyPath")
}

func (Claude) ReduceStatus(prev *protocol.StatusModel, ev telemetry.Event, runtimeStatus string) *protocol.StatusModel {
	return reduceWorkStatus(prev, ev, runtimeStatus)
}
