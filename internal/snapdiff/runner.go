package snapdiff

import (
	"encoding/base64"
	"fmt"

	"github.com/roostlabs/roost/internal/vterm"
)

// CheckpointResult is the outcome of one checkpoint comparison.
type CheckpointResult struct {
	Step     int
	Pass     bool
	WantHash string
	GotHash  string

	// Diff lists field-wise differences against the checkpoint's
	// DirectFrame. Empty when the checkpoint has no frame recorded or
	// nothing differs.
	Diff []string
}

// Result is the outcome of replaying one scenario. Pass requires every
// checkpoint to pass; a scenario without checkpoints passes vacuously.
type Result struct {
	Name        string
	Pass        bool
	Checkpoints []CheckpointResult
}

// Run replays a scenario from a blank oracle. It returns an error only
// when the scenario itself is malformed (checkpoint out of range, bad
// base64); hash mismatches are reported through the result.
func Run(sc Scenario) (Result, error) {
	for _, cp := range sc.Checkpoints {
		if cp.Step < 0 || cp.Step >= len(sc.Steps) {
			return Result{}, fmt.Errorf("checkpoint step %d out of range (%d steps)", cp.Step, len(sc.Steps))
		}
	}

	// Checkpoints keyed by step, evaluation order preserved.
	byStep := make(map[int][]int, len(sc.Checkpoints))
	for i, cp := range sc.Checkpoints {
		byStep[cp.Step] = append(byStep[cp.Step], i)
	}

	term := vterm.New(sc.Cols, sc.Rows)
	res := Result{Name: sc.Name, Pass: true}
	for i, step := range sc.Steps {
		if err := apply(term, step); err != nil {
			return Result{}, fmt.Errorf("step %d: %w", i, err)
		}
		for _, ci := range byStep[i] {
			cr := evaluate(term.Snapshot(), sc.Checkpoints[ci])
			if !cr.Pass {
				res.Pass = false
			}
			res.Checkpoints = append(res.Checkpoints, cr)
		}
	}
	return res, nil
}

// RunAll replays scenarios in order, stopping at the first malformed
// one.
func RunAll(scs []Scenario) ([]Result, error) {
	results := make([]Result, 0, len(scs))
	for i, sc := range scs {
		res, err := Run(sc)
		if err != nil {
			name := sc.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func apply(term *vterm.Terminal, step Step) error {
	switch {
	case step.OutputBase64 != "":
		raw, err := base64.StdEncoding.DecodeString(step.OutputBase64)
		if err != nil {
			return fmt.Errorf("decode outputBase64: %w", err)
		}
		_, _ = term.Write(raw)
	case step.Output != "":
		_, _ = term.Write([]byte(step.Output))
	}
	if step.Resize != nil {
		term.Resize(step.Resize.Cols, step.Resize.Rows)
	}
	return nil
}

func evaluate(frame vterm.Frame, cp Checkpoint) CheckpointResult {
	cr := CheckpointResult{
		Step:     cp.Step,
		WantHash: cp.DirectFrameHash,
		GotHash:  frame.FrameHash,
		Pass:     frame.FrameHash == cp.DirectFrameHash,
	}
	if cp.DirectFrame != nil {
		cr.Diff = diffFrames(frame, *cp.DirectFrame)
	}
	return cr
}

// diffFrames reports the structural fields that differ plus the first
// differing line. Want is the recorded frame, got the replayed one.
func diffFrames(got, want vterm.Frame) []string {
	var diffs []string
	if got.Rows != want.Rows {
		diffs = append(diffs, fmt.Sprintf("rows: got %d want %d", got.Rows, want.Rows))
	}
	if got.Cols != want.Cols {
		diffs = append(diffs, fmt.Sprintf("cols: got %d want %d", got.Cols, want.Cols))
	}
	if got.ActiveScreen != want.ActiveScreen {
		diffs = append(diffs, fmt.Sprintf("activeScreen: got %s want %s", got.ActiveScreen, want.ActiveScreen))
	}
	if got.Cursor != want.Cursor {
		diffs = append(diffs, fmt.Sprintf("cursor: got row=%d col=%d visible=%t want row=%d col=%d visible=%t",
			got.Cursor.Row, got.Cursor.Col, got.Cursor.Visible,
			want.Cursor.Row, want.Cursor.Col, want.Cursor.Visible))
	}
	for i := 0; i < max(len(got.Lines), len(want.Lines)); i++ {
		var g, w string
		if i < len(got.Lines) {
			g = got.Lines[i]
		}
		if i < len(want.Lines) {
			w = want.Lines[i]
		}
		if g != w {
			diffs = append(diffs, fmt.Sprintf("line %d: got %q want %q", i, g, w))
			break
		}
	}
	return diffs
}
