package telemetry

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roostlabs/roost/internal/util/testutil"
)

func TestParseHistoryLine(t *testing.T) {
	ingest := time.Unix(1700000000, 0).UTC()

	ev, ok := ParseHistoryLine([]byte(`{"session_id":"abc","ts":1712345678,"text":"fix the tests"}`), ingest)
	require.True(t, ok)
	require.Equal(t, SourceHistory, ev.Source)
	require.Equal(t, "user_prompt", ev.EventName, "history text records are prompt entries")
	require.Equal(t, "fix the tests", ev.Summary)
	require.Equal(t, "abc", ev.ProviderThreadID)
	require.Equal(t, HintRunning, ev.StatusHint)
	require.Equal(t, time.Unix(1712345678, 0).UTC(), ev.ObservedAt)
}

func TestParseHistoryLineExplicitType(t *testing.T) {
	ev, ok := ParseHistoryLine([]byte(`{"type":"turn-complete","ts":1712345678000}`), time.Now())
	require.True(t, ok)
	require.Equal(t, "turn-complete", ev.EventName)
	require.Equal(t, HintCompleted, ev.StatusHint)
	require.Equal(t, time.UnixMilli(1712345678000).UTC(), ev.ObservedAt)
}

func TestParseHistoryLineTimestampUnits(t *testing.T) {
	want := time.Unix(1712345678, 0).UTC()
	for _, raw := range []string{
		`{"ts":1712345678,"text":"x"}`,
		`{"ts":1712345678000,"text":"x"}`,
		`{"ts":1712345678000000,"text":"x"}`,
		`{"ts":1712345678000000000,"text":"x"}`,
		`{"ts":"2024-04-05T17:34:38.000Z","text":"x"}`,
	} {
		ev, ok := ParseHistoryLine([]byte(raw), time.Now())
		require.True(t, ok, raw)
		if !ev.ObservedAt.Equal(want) {
			t.Errorf("%s: observedAt = %v, want %v", raw, ev.ObservedAt, want)
		}
	}
}

func TestParseHistoryLineRejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "not json", `["array"]`} {
		if _, ok := ParseHistoryLine([]byte(raw), time.Now()); ok {
			t.Errorf("ParseHistoryLine(%q) accepted", raw)
		}
	}
}

func TestHistoryTailer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"text":"old prompt"}`+"\n"), 0o600))

	var mu sync.Mutex
	var got []Event
	tailer := NewHistoryTailer(path, 5*time.Millisecond, func(evs []Event) {
		mu.Lock()
		got = append(got, evs...)
		mu.Unlock()
	})
	tailer.Start()
	defer tailer.Stop()

	// Existing content is skipped.
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	require.Empty(t, got)
	mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(`{"text":"new prompt","session_id":"s1"}` + "\n" + `{"text":"partial`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	testutil.RequireEventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "complete line should be reported")
	mu.Lock()
	require.Equal(t, "new prompt", got[0].Summary)
	mu.Unlock()

	// Completing the partial line emits it.
	f, err = os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(` line"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	testutil.RequireEventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, "carried partial line should complete")
	mu.Lock()
	require.Equal(t, "partial line", got[1].Summary)
	mu.Unlock()
}

func TestHistoryTailerShrinkResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"text":"aaaaaaaaaaaaaaaaaaaaaaaa"}`+"\n"), 0o600))

	var mu sync.Mutex
	var got []Event
	tailer := NewHistoryTailer(path, 5*time.Millisecond, func(evs []Event) {
		mu.Lock()
		got = append(got, evs...)
		mu.Unlock()
	})
	tailer.Start()
	defer tailer.Stop()
	time.Sleep(20 * time.Millisecond)

	// Rotation: the file is rewritten shorter than the old offset.
	require.NoError(t, os.WriteFile(path, []byte(`{"text":"fresh"}`+"\n"), 0o600))

	testutil.RequireEventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].Summary == "fresh"
	}, "tailer should restart from offset 0 after shrink")
}
