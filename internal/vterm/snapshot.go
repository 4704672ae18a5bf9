package vterm

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/roostlabs/roost/internal/util/canonjson"
)

// Cursor is the snapshot cursor position. Row and Col are zero-based.
type Cursor struct {
	Row     int  `json:"row"`
	Col     int  `json:"col"`
	Visible bool `json:"visible"`
}

// Frame is a point-in-time rendering of the active screen. Lines carry
// the visible text with trailing spaces trimmed. FrameHash is the
// SHA-256 of the canonical JSON serialization of the frame with the
// hash field itself left empty, so equal content always hashes equal.
type Frame struct {
	Rows         int      `json:"rows"`
	Cols         int      `json:"cols"`
	ActiveScreen string   `json:"activeScreen"`
	Cursor       Cursor   `json:"cursor"`
	Lines        []string `json:"lines"`
	FrameHash    string   `json:"frameHash,omitempty"`
}

// Snapshot renders the active screen.
func (t *Terminal) Snapshot() Frame {
	s := t.active()
	name := screenPrimary
	if t.altActive {
		name = screenAlternate
	}
	lines := make([]string, t.rows)
	for r := 0; r < t.rows; r++ {
		lines[r] = strings.TrimRight(string(s.cells[r]), " ")
	}
	f := Frame{
		Rows:         t.rows,
		Cols:         t.cols,
		ActiveScreen: name,
		Cursor:       Cursor{Row: s.cur.row, Col: s.cur.col, Visible: t.cursorVisible},
		Lines:        lines,
	}
	f.FrameHash = f.hash()
	return f
}

func (f Frame) hash() string {
	hashless := f
	hashless.FrameHash = ""
	data, err := canonjson.Marshal(hashless)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
