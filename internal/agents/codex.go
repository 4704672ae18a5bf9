package agents

import (
	"time"

	"github.com/roostlabs/roost/internal/telemetry"
	"github.com/roostlabs/roost/protocol"
)

// Codex adapts the OpenAI Codex CLI. Resume state persists under
// adapterState.codex; telemetry arrives via the per-session OTLP
// endpoint the Env hook advertises.
type Codex struct{}

// codexReservedSubcommands must stay bare: prepending "resume" in front
// of them would change the invocation entirely.
var codexReservedSubcommands = map[string]bool{
	"exec": true, "review": true, "login": true, "logout": true,
	"mcp": true, "proto": true, "completion": true, "debug": true,
	"apply": true, "sandbox": true, "resume": true, "fork": true,
}

func (Codex) Type() string    { return protocol.AgentCodex }
func (Codex) Command() string { return "codex" }

func (Codex) ComposeStartArgs(baseArgs []string, adapterState map[string]any) []string {
	resumeID := stateString(adapterState, "codex", "resumeSessionId", "threadId")
	if resumeID == "" {
		return baseArgs
	}
	if len(baseArgs) > 0 && codexReservedSubcommands[baseArgs[0]] {
		return baseArgs
	}
	return append([]string{"resume", resumeID}, baseArgs...)
}

func (Codex) Env(info EnvInfo) []string {
	return []string{
		"ROOST_NOTIFY_FILE=" + info.NotifyPath,
		"OTEL_EXPORTER_OTLP_ENDPOINT=" + info.OTLPEndpoint,
		"OTEL_EXPORTER_OTLP_PROTOCOL=http/json",
	}
}

// Codex reports prompts through telemetry, not notify hooks.
func (Codex) ExtractPromptFromNotify(map[string]any, time.Time) (*PromptRecord, bool) {
	return nil, false
}

func (Codex) ExtractPromptFromTelemetry(ev telemetry.Event) (*PromptRecord, bool) {
	if ev.EventName != "codex.user_prompt" && ev.EventName != "user_prompt" {
		return nil, false
	}
	source := CaptureTelemetry
	if ev.Source == telemetry.SourceHistory {
		source = CaptureHistory
	}
	if text, ok := payloadString(ev.Payload, "prompt"); ok {
		return newPromptRecord(&text, ConfidenceHigh, source, ev.EventName, ev.Payload, ev.ObservedAt), true
	}
	if text, ok := payloadString(ev.Payload, "text"); ok {
		return newPromptRecord(&text, ConfidenceHigh, source, ev.EventName, ev.Payload, ev.ObservedAt), true
	}
	// Prompt happened but its content is redacted.
	return newPromptRecord(nil, ConfidenceMedium, source, ev.EventName, ev.Payload, ev.ObservedAt), true
}

func (Codex) RunningEligible(eventName string) bool {
	switch eventName {
	case "codex.user_prompt", "user_prompt", "codex.api_request", "api_request":
		return true
	}
	return false
}

func (Codex) HistoryPath(adapterState map[string]any) string {
	return stateString(adapterState, "codex", "historyPath")
}

func (Codex) ReduceStatus(prev *protocol.StatusModel, ev telemetry.Event, runtimeStatus string) *protocol.StatusModel {
	return reduceWorkStatus(prev, ev, runtimeStatus)
}
