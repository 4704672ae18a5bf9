// Package notify tails per-session notification files. Agents (or
// their hook scripts) append one JSON object per line; the tailer polls
// for growth, classifies each complete line, and hands events to the
// session layer.
package notify

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/roostlabs/roost/internal/metrics"
)

type Kind string

const (
	KindTurnCompleted Kind = "turn-completed"
	KindAttention     Kind = "attention-required"
	KindGeneric       Kind = "generic"
)

// Attention reasons derived from the payload type.
const (
	ReasonApproval  = "approval"
	ReasonUserInput = "user-input"
)

// Event is one classified notification line.
type Event struct {
	Kind    Kind
	Reason  string // set for KindAttention
	TS      string
	Payload map[string]any
}

// line is the on-disk shape: a timestamp wrapper around the agent's
// payload. Bare payloads without the wrapper are accepted too.
type line struct {
	TS      string         `json:"ts"`
	Payload map[string]any `json:"payload"`
}

// Classify parses one notification line. Malformed lines report
// ok=false and are dropped by the tailer.
func Classify(raw []byte) (Event, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Event{}, false
	}
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return Event{}, false
	}
	if l.Payload == nil {
		var bare map[string]any
		if err := json.Unmarshal(raw, &bare); err != nil || len(bare) == 0 {
			return Event{}, false
		}
		l = line{Payload: bare}
	}

	ev := Event{TS: l.TS, Payload: l.Payload}
	typ, _ := l.Payload["type"].(string)
	switch {
	case typ == "agent-turn-complete":
		ev.Kind = KindTurnCompleted
	case strings.Contains(typ, "approval"):
		ev.Kind = KindAttention
		ev.Reason = ReasonApproval
	case strings.Contains(typ, "input"):
		ev.Kind = KindAttention
		ev.Reason = ReasonUserInput
	default:
		ev.Kind = KindGeneric
	}
	return ev, true
}

// Tailer polls one notification file. The file may not exist yet when
// the tailer starts; it is picked up on the first poll after creation.
type Tailer struct {
	path     string
	interval time.Duration
	handler  func(Event)

	offset int64
	carry  []byte
	stop   chan struct{}
	done   chan struct{}
}

func NewTailer(path string, interval time.Duration, handler func(Event)) *Tailer {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Tailer{
		path:     path,
		interval: interval,
		handler:  handler,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (t *Tailer) Start() {
	go t.loop()
}

func (t *Tailer) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	<-t.done
}

func (t *Tailer) loop() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.poll()
		}
	}
}

func (t *Tailer) poll() {
	st, err := os.Stat(t.path)
	if err != nil {
		return
	}
	if st.Size() < t.offset {
		// Truncated or rotated; start over.
		t.offset = 0
		t.carry = nil
	}
	if st.Size() == t.offset {
		return
	}

	f, err := os.Open(t.path)
	if err != nil {
		slog.Debug("notify open failed", "path", t.path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return
	}
	t.offset += int64(len(data))

	buf := append(t.carry, data...)
	lines := bytes.Split(buf, []byte{'\n'})
	t.carry = append([]byte(nil), lines[len(lines)-1]...)

	for _, raw := range lines[:len(lines)-1] {
		ev, ok := Classify(raw)
		if !ok {
			continue
		}
		metrics.NotifyEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
		if t.handler != nil {
			t.handler(ev)
		}
	}
}
