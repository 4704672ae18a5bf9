package agents

import (
	"time"

	"github.com/roostlabs/roost/internal/telemetry"
	"github.com/roostlabs/roost/protocol"
)

// Critique adapts the critique review CLI. It shares the generic work
// reducer but exposes no resume or prompt-capture behavior.
type Critique struct{}

func (Critique) Type() string    { return protocol.AgentCritique }
func (Critique) Command() string { return "critique" }

func (Critique) ComposeStartArgs(baseArgs []string, _ map[string]any) []string {
	return baseArgs
}

func (Critique) Env(info EnvInfo) []string {
	return []string{"ROOST_NOTIFY_FILE=" + info.NotifyPath}
}

func (Critique) ExtractPromptFromNotify(map[string]any, time.Time) (*PromptRecord, bool) {
	return nil, false
}

func (Critique) ExtractPromptFromTelemetry(telemetry.Event) (*PromptRecord, bool) {
	return nil, false
}

func (Critique) RunningEligible(string) bool { return false }

func (Critique) HistoryPath(adapterState map[string]any) string {
	return stateString(adapterState, "critique", "historyPath")
}

func (Critique) ReduceStatus(prev *protocol.StatusModel, ev telemetry.Event, runtimeStatus string) *protocol.StatusModel {
	return reduceWorkStatus(prev, ev, runtimeStatus)
}
