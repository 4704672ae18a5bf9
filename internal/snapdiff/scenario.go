// Package snapdiff replays scripted terminal scenarios against the
// snapshot oracle and compares the frames it produces at recorded
// checkpoints. A scenario is a recording: the byte stream and resizes a
// real session saw, plus the frame hashes a reference run captured.
// Replaying it pins the oracle's behavior without spawning a PTY.
package snapdiff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/roostlabs/roost/internal/vterm"
)

// Step is one scripted action. Output and OutputBase64 are
// alternatives for the same field; base64 wins when both are set so
// recordings can carry raw escape bytes. Output applies before Resize
// when a step carries both.
type Step struct {
	Output       string  `json:"output,omitempty"`
	OutputBase64 string  `json:"outputBase64,omitempty"`
	Resize       *Resize `json:"resize,omitempty"`
}

// Resize is a step payload changing the oracle dimensions.
type Resize struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Checkpoint pins the frame expected after the step at index Step has
// applied. DirectFrame is optional; when present a mismatch report
// includes a field-wise diff instead of just the hash pair.
type Checkpoint struct {
	Step            int          `json:"step"`
	DirectFrameHash string       `json:"directFrameHash"`
	DirectFrame     *vterm.Frame `json:"directFrame,omitempty"`
}

// Scenario is one replayable recording. Cols and Rows size the blank
// oracle the steps start from.
type Scenario struct {
	Name        string       `json:"name"`
	Cols        int          `json:"cols"`
	Rows        int          `json:"rows"`
	Steps       []Step       `json:"steps"`
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// Load reads scenarios from a JSON file holding either a single
// scenario object or an array of them.
func Load(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	scs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scs, nil
}

// Parse decodes a scenario document: one object or an array.
func Parse(data []byte) ([]Scenario, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty scenario document")
	}
	if trimmed[0] == '[' {
		var scs []Scenario
		if err := json.Unmarshal(trimmed, &scs); err != nil {
			return nil, fmt.Errorf("decode scenario array: %w", err)
		}
		return scs, nil
	}
	var sc Scenario
	if err := json.Unmarshal(trimmed, &sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return []Scenario{sc}, nil
}
