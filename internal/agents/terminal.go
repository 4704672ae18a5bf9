package agents

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/roostlabs/roost/internal/telemetry"
	"github.com/roostlabs/roost/protocol"
)

// Terminal runs a plain shell. It emits no telemetry and never produces
// a status model: the session stays a raw terminal.
type Terminal struct{}

var shellCache struct {
	once  sync.Once
	shell string
}

// defaultShell checks ROOST_DEFAULT_SHELL (bare name or absolute path),
// then $SHELL, then falls back to /bin/sh.
func defaultShell() string {
	shellCache.once.Do(func() {
		for _, candidate := range []string{os.Getenv("ROOST_DEFAULT_SHELL"), os.Getenv("SHELL")} {
			if candidate == "" {
				continue
			}
			if filepath.IsAbs(candidate) {
				shellCache.shell = candidate
				return
			}
			if abs, err := exec.LookPath(candidate); err == nil {
				shellCache.shell = abs
				return
			}
		}
		shellCache.shell = "/bin/sh"
	})
	return shellCache.shell
}

func (Terminal) Type() string    { return protocol.AgentTerminal }
func (Terminal) Command() string { return defaultShell() }

func (Terminal) ComposeStartArgs(baseArgs []string, _ map[string]any) []string {
	return baseArgs
}

// The notify file is still exported so shell users can script
// attention requests by appending JSON lines to it.
func (Terminal) Env(info EnvInfo) []string {
	return []string{"ROOST_NOTIFY_FILE=" + info.NotifyPath}
}

func (Terminal) ExtractPromptFromNotify(map[string]any, time.Time) (*PromptRecord, bool) {
	return nil, false
}

func (Terminal) ExtractPromptFromTelemetry(telemetry.Event) (*PromptRecord, bool) {
	return nil, false
}

func (Terminal) RunningEligible(string) bool { return false }

func (Terminal) HistoryPath(map[string]any) string { return "" }

func (Terminal) ReduceStatus(prev *protocol.StatusModel, _ telemetry.Event, _ string) *protocol.StatusModel {
	return prev
}
