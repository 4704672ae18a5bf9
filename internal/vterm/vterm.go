// Package vterm maintains an in-memory terminal screen from a PTY byte
// stream. It implements the escape subset needed for deterministic
// snapshots, not a full emulator: the frame produced by Snapshot is a
// pure function of the byte sequence and resizes applied so far.
package vterm

import (
	"unicode/utf8"
)

const (
	screenPrimary   = "primary"
	screenAlternate = "alternate"
)

type position struct {
	row, col int
}

// screen is one of the two VT screens. Each keeps its own saved-cursor
// slot for ESC 7/8 and CSI s/u.
type screen struct {
	cells [][]rune
	cur   position
	saved position
}

func newScreen(rows, cols int) *screen {
	s := &screen{cells: make([][]rune, rows)}
	for i := range s.cells {
		s.cells[i] = blankRow(cols)
	}
	return s
}

func blankRow(cols int) []rune {
	row := make([]rune, cols)
	for i := range row {
		row[i] = ' '
	}
	return row
}

// parser states
const (
	stGround = iota
	stEscape
	stCSI
	stOSC
	stOSCEscape
	stCharset
)

// Terminal is not safe for concurrent use; callers serialize Write,
// Resize, and Snapshot.
type Terminal struct {
	rows, cols int

	primary   *screen
	alternate *screen
	altActive bool

	cursorVisible bool

	state    int
	pending  []byte // partial UTF-8 sequence
	params   []int
	hasParam bool
	private  bool
}

// New returns a blank terminal. Non-positive dimensions fall back to
// 80x24.
func New(cols, rows int) *Terminal {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	return &Terminal{
		rows:          rows,
		cols:          cols,
		primary:       newScreen(rows, cols),
		alternate:     newScreen(rows, cols),
		cursorVisible: true,
	}
}

func (t *Terminal) active() *screen {
	if t.altActive {
		return t.alternate
	}
	return t.primary
}

// Write feeds PTY output through the parser. It never fails; the
// signature satisfies io.Writer.
func (t *Terminal) Write(p []byte) (int, error) {
	for _, b := range p {
		t.step(b)
	}
	return len(p), nil
}

func (t *Terminal) step(b byte) {
	switch t.state {
	case stGround:
		t.stepGround(b)
	case stEscape:
		t.stepEscape(b)
	case stCSI:
		t.stepCSI(b)
	case stOSC:
		if b == 0x07 {
			t.state = stGround
		} else if b == 0x1b {
			t.state = stOSCEscape
		}
	case stOSCEscape:
		// ESC \ (ST) ends the OSC string; anything else stays inside it.
		if b == '\\' {
			t.state = stGround
		} else if b != 0x1b {
			t.state = stOSC
		}
	case stCharset:
		t.state = stGround
	}
}

func (t *Terminal) stepGround(b byte) {
	switch {
	case b == 0x1b:
		t.pending = t.pending[:0]
		t.state = stEscape
	case b == '\r':
		t.active().cur.col = 0
	case b == '\n':
		t.lineFeed()
	case b == 0x08:
		s := t.active()
		if s.cur.col > 0 {
			s.cur.col--
		}
	case b < 0x20 || b == 0x7f:
		// other C0 controls are ignored
	default:
		t.pending = append(t.pending, b)
		if utf8.FullRune(t.pending) {
			r, _ := utf8.DecodeRune(t.pending)
			t.pending = t.pending[:0]
			t.putRune(r)
		} else if len(t.pending) >= utf8.UTFMax {
			t.pending = t.pending[:0]
			t.putRune(utf8.RuneError)
		}
	}
}

func (t *Terminal) putRune(r rune) {
	s := t.active()
	s.cells[s.cur.row][s.cur.col] = r
	if s.cur.col < t.cols-1 {
		s.cur.col++
	}
}

func (t *Terminal) lineFeed() {
	s := t.active()
	if s.cur.row == t.rows-1 {
		t.scrollUp(1)
	} else {
		s.cur.row++
	}
}

func (t *Terminal) scrollUp(n int) {
	s := t.active()
	for ; n > 0; n-- {
		copy(s.cells, s.cells[1:])
		s.cells[t.rows-1] = blankRow(t.cols)
	}
}

func (t *Terminal) scrollDown(n int) {
	s := t.active()
	for ; n > 0; n-- {
		copy(s.cells[1:], s.cells)
		s.cells[0] = blankRow(t.cols)
	}
}

func (t *Terminal) stepEscape(b byte) {
	switch b {
	case '[':
		t.params = t.params[:0]
		t.hasParam = false
		t.private = false
		t.state = stCSI
	case ']':
		t.state = stOSC
	case '7':
		s := t.active()
		s.saved = s.cur
		t.state = stGround
	case '8':
		t.restoreCursor()
		t.state = stGround
	case '(', ')', '#', '%', '*', '+':
		t.state = stCharset
	default:
		t.state = stGround
	}
}

func (t *Terminal) stepCSI(b byte) {
	switch {
	case b >= '0' && b <= '9':
		if !t.hasParam {
			t.params = append(t.params, 0)
			t.hasParam = true
		}
		i := len(t.params) - 1
		if t.params[i] < 10000 {
			t.params[i] = t.params[i]*10 + int(b-'0')
		}
	case b == ';':
		if !t.hasParam {
			t.params = append(t.params, 0)
		}
		t.params = append(t.params, 0)
		t.hasParam = true
	case b == '?':
		t.private = true
	case b >= 0x20 && b <= 0x3f:
		// intermediates and remaining prefix bytes are ignored
	case b >= 0x40 && b <= 0x7e:
		t.dispatchCSI(b)
		t.state = stGround
	default:
		t.state = stGround
	}
}

// param returns the i-th parameter, treating absent and zero values as
// def (the usual VT default rule).
func (t *Terminal) param(i, def int) int {
	if i >= len(t.params) || t.params[i] == 0 {
		return def
	}
	return t.params[i]
}

func (t *Terminal) dispatchCSI(final byte) {
	s := t.active()
	switch final {
	case 'A':
		s.cur.row = clamp(s.cur.row-t.param(0, 1), 0, t.rows-1)
	case 'B':
		s.cur.row = clamp(s.cur.row+t.param(0, 1), 0, t.rows-1)
	case 'C':
		s.cur.col = clamp(s.cur.col+t.param(0, 1), 0, t.cols-1)
	case 'D':
		s.cur.col = clamp(s.cur.col-t.param(0, 1), 0, t.cols-1)
	case 'G':
		s.cur.col = clamp(t.param(0, 1)-1, 0, t.cols-1)
	case 'H', 'f':
		s.cur.row = clamp(t.param(0, 1)-1, 0, t.rows-1)
		s.cur.col = clamp(t.param(1, 1)-1, 0, t.cols-1)
	case 'J':
		t.eraseDisplay(t.paramRaw(0))
	case 'K':
		t.eraseLine(t.paramRaw(0))
	case 'S':
		t.scrollUp(t.param(0, 1))
	case 'T':
		t.scrollDown(t.param(0, 1))
	case 's':
		s.saved = s.cur
	case 'u':
		t.restoreCursor()
	case 'h':
		if t.private {
			t.setPrivateModes(true)
		}
	case 'l':
		if t.private {
			t.setPrivateModes(false)
		}
	}
}

// paramRaw is param without the zero-means-default rule; CSI J and K
// treat 0 as a distinct selector.
func (t *Terminal) paramRaw(i int) int {
	if i >= len(t.params) {
		return 0
	}
	return t.params[i]
}

func (t *Terminal) eraseDisplay(mode int) {
	s := t.active()
	switch mode {
	case 0:
		t.eraseLine(0)
		for r := s.cur.row + 1; r < t.rows; r++ {
			s.cells[r] = blankRow(t.cols)
		}
	case 1:
		t.eraseLine(1)
		for r := 0; r < s.cur.row; r++ {
			s.cells[r] = blankRow(t.cols)
		}
	case 2, 3:
		for r := 0; r < t.rows; r++ {
			s.cells[r] = blankRow(t.cols)
		}
	}
}

func (t *Terminal) eraseLine(mode int) {
	s := t.active()
	row := s.cells[s.cur.row]
	switch mode {
	case 0:
		for c := s.cur.col; c < t.cols; c++ {
			row[c] = ' '
		}
	case 1:
		for c := 0; c <= s.cur.col; c++ {
			row[c] = ' '
		}
	case 2:
		s.cells[s.cur.row] = blankRow(t.cols)
	}
}

func (t *Terminal) setPrivateModes(set bool) {
	if len(t.params) == 0 {
		return
	}
	for _, p := range t.params {
		switch p {
		case 25:
			t.cursorVisible = set
		case 47, 1047, 1049:
			if set {
				t.enterAlternate()
			} else {
				t.exitAlternate()
			}
		case 1048:
			if set {
				s := t.active()
				s.saved = s.cur
			} else {
				t.restoreCursor()
			}
		}
	}
}

// enterAlternate saves the primary cursor, switches to a cleared
// alternate screen, and keeps the cursor position.
func (t *Terminal) enterAlternate() {
	if t.altActive {
		return
	}
	t.primary.saved = t.primary.cur
	t.altActive = true
	for r := 0; r < t.rows; r++ {
		t.alternate.cells[r] = blankRow(t.cols)
	}
	t.alternate.cur = t.primary.cur
}

func (t *Terminal) exitAlternate() {
	if !t.altActive {
		return
	}
	t.altActive = false
	t.primary.cur = clampPos(t.primary.saved, t.rows, t.cols)
}

func (t *Terminal) restoreCursor() {
	s := t.active()
	s.cur = clampPos(s.saved, t.rows, t.cols)
}

// Resize changes dimensions of both screens, preserving the top-left
// overlap of existing content and clamping cursors into the new grid.
func (t *Terminal) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 || (cols == t.cols && rows == t.rows) {
		return
	}
	for _, s := range []*screen{t.primary, t.alternate} {
		cells := make([][]rune, rows)
		for r := 0; r < rows; r++ {
			cells[r] = blankRow(cols)
			if r < len(s.cells) {
				copy(cells[r], s.cells[r])
			}
		}
		s.cells = cells
		s.cur = clampPos(s.cur, rows, cols)
		s.saved = clampPos(s.saved, rows, cols)
	}
	t.rows = rows
	t.cols = cols
}

// Size returns the current dimensions.
func (t *Terminal) Size() (cols, rows int) {
	return t.cols, t.rows
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampPos(p position, rows, cols int) position {
	return position{
		row: clamp(p.row, 0, rows-1),
		col: clamp(p.col, 0, cols-1),
	}
}
