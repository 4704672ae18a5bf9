package telemetry

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/roostlabs/roost/internal/util/sanitize"
	"github.com/roostlabs/roost/internal/util/timefmt"
)

// ParseHistoryLine decodes one line of an agent history JSONL file.
// History files are prompt logs, so a record with text but no explicit
// event name is treated as a user_prompt. Blank and malformed lines
// report ok=false.
func ParseHistoryLine(line []byte, ingestAt time.Time) (Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, false
	}
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return Event{}, false
	}

	name := firstString(rec, "event", "type", "name")
	summary := firstString(rec, "text", "content", "message", "prompt")
	if name == "" && summary != "" {
		name = "user_prompt"
	}

	ev := Event{
		Source:     SourceHistory,
		ObservedAt: historyTime(rec, ingestAt),
		EventName:  name,
		Summary:    sanitize.Summary(summary, maxSummaryLen),
		Payload:    rec,
	}
	finish(&ev)
	return ev, true
}

func firstString(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := rec[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// historyTime reads ts/timestamp/time in whatever unit the agent used:
// ISO strings, or numbers in seconds through nanoseconds picked apart
// by magnitude.
func historyTime(rec map[string]any, ingestAt time.Time) time.Time {
	for _, k := range []string{"ts", "timestamp", "time"} {
		v, ok := rec[k]
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			if t, err := timefmt.Parse(s); err == nil {
				return t
			}
			continue
		}
		n, err := asInt64(v)
		if err != nil || n <= 0 {
			continue
		}
		switch {
		case n >= 1e17: // nanoseconds
			return time.Unix(0, n).UTC()
		case n >= 1e14: // microseconds
			return time.UnixMicro(n).UTC()
		case n >= 1e11: // milliseconds
			return time.UnixMilli(n).UTC()
		default: // seconds
			return time.Unix(n, 0).UTC()
		}
	}
	return ingestAt
}

// HistoryTailer polls an append-only JSONL file and emits normalized
// events for new complete lines. Partial trailing lines carry over to
// the next poll; a shrink resets to the start (rotation).
type HistoryTailer struct {
	path     string
	interval time.Duration
	handler  func([]Event)

	offset int64
	carry  []byte
	stop   chan struct{}
	done   chan struct{}
}

func NewHistoryTailer(path string, interval time.Duration, handler func([]Event)) *HistoryTailer {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &HistoryTailer{
		path:     path,
		interval: interval,
		handler:  handler,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the poll loop. Existing content is skipped: only
// lines appended after Start are reported.
func (t *HistoryTailer) Start() {
	if st, err := os.Stat(t.path); err == nil {
		t.offset = st.Size()
	}
	go t.loop()
}

func (t *HistoryTailer) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	<-t.done
}

func (t *HistoryTailer) loop() {
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

func (t *HistoryTailer) poll() {
	st, err := os.Stat(t.path)
	if err != nil {
		return
	}
	if st.Size() < t.offset {
		t.offset = 0
		t.carry = nil
	}
	if st.Size() == t.offset {
		return
	}

	f, err := os.Open(t.path)
	if err != nil {
		slog.Debug("history open failed", "path", t.path, "error", err)
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

	now := time.Now()
	var events []Event
	for _, line := range lines[:len(lines)-1] {
		if ev, ok := ParseHistoryLine(line, now); ok {
			events = append(events, ev)
		}
	}
	if len(events) > 0 && t.handler != nil {
		t.handler(events)
	}
}
