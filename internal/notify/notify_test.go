package notify

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roostlabs/roost/internal/util/testutil"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		raw    string
		kind   Kind
		reason string
	}{
		{`{"ts":"2026-01-01T00:00:00.000Z","payload":{"type":"agent-turn-complete"}}`, KindTurnCompleted, ""},
		{`{"payload":{"type":"approval.required"}}`, KindAttention, ReasonApproval},
		{`{"payload":{"type":"awaiting-user-input"}}`, KindAttention, ReasonUserInput},
		{`{"payload":{"type":"something-else"}}`, KindGeneric, ""},
		{`{"payload":{"no":"type"}}`, KindGeneric, ""},
		// Bare payloads without the ts wrapper are accepted.
		{`{"type":"agent-turn-complete","last-assistant-message":"done"}`, KindTurnCompleted, ""},
	}
	for _, c := range cases {
		ev, ok := Classify([]byte(c.raw))
		require.True(t, ok, c.raw)
		if ev.Kind != c.kind || ev.Reason != c.reason {
			t.Errorf("Classify(%s) = (%s, %q), want (%s, %q)", c.raw, ev.Kind, ev.Reason, c.kind, c.reason)
		}
	}
}

func TestClassifyTurnCompleteIsExactMatch(t *testing.T) {
	// "input" substring classification must not swallow turn-complete
	// variants; only the exact type counts as a completed turn.
	ev, ok := Classify([]byte(`{"payload":{"type":"agent-turn-complete-v2"}}`))
	require.True(t, ok)
	require.Equal(t, KindGeneric, ev.Kind)
}

func TestClassifyRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "not json", `123`, `{}`} {
		if _, ok := Classify([]byte(raw)); ok {
			t.Errorf("Classify(%q) accepted", raw)
		}
	}
}

func TestTailerDeliversAppendedEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notify-s1.jsonl")

	var mu sync.Mutex
	var got []Event
	tailer := NewTailer(path, 5*time.Millisecond, func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	tailer.Start()
	defer tailer.Stop()

	// File does not exist yet; the tailer waits for it.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"payload":{"type":"agent-turn-complete"}}`+"\n"), 0o600))

	testutil.RequireEventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].Kind == KindTurnCompleted
	}, "turn-complete should be delivered")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(`{"payload":{"type":"approval.request"}}` + "\n" + "garbage line\n" + `{"payload":{"type":"needs input"}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	testutil.RequireEventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, "valid lines should be delivered, garbage dropped")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, KindAttention, got[1].Kind)
	require.Equal(t, ReasonApproval, got[1].Reason)
	require.Equal(t, KindAttention, got[2].Kind)
	require.Equal(t, ReasonUserInput, got[2].Reason)
}

func TestTailerCarriesPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))

	var mu sync.Mutex
	var got []Event
	tailer := NewTailer(path, 5*time.Millisecond, func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	tailer.Start()
	defer tailer.Stop()

	half := `{"payload":{"type":"agent-`
	rest := `turn-complete"}}` + "\n"

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(half)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	time.Sleep(25 * time.Millisecond)
	mu.Lock()
	require.Empty(t, got, "partial line must not be classified")
	mu.Unlock()

	f, err = os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(rest)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	testutil.RequireEventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0].Kind == KindTurnCompleted
	}, "joined line should classify as turn-complete")
}
