package broker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roostlabs/roost/internal/ptyhost"
)

type recorder struct {
	mu      sync.Mutex
	cursors []uint64
	data    []string
	exits   []ptyhost.ExitRecord
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		Data: func(ch Chunk) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.cursors = append(r.cursors, ch.Cursor)
			r.data = append(r.data, string(ch.Data))
		},
		Exit: func(rec ptyhost.ExitRecord) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.exits = append(r.exits, rec)
		},
	}
}

func (r *recorder) snapshot() ([]uint64, []string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.cursors...), append([]string(nil), r.data...), len(r.exits)
}

func TestCursorsStartAtOne(t *testing.T) {
	b := New(1024)
	require.Equal(t, uint64(0), b.LatestCursor())

	rec := &recorder{}
	b.Attach(rec.handlers(), 0)
	b.Push([]byte("hi\n"))

	cursors, data, _ := rec.snapshot()
	require.Equal(t, []uint64{1}, cursors)
	require.Equal(t, []string{"hi\n"}, data)
	require.Equal(t, uint64(1), b.LatestCursor())
}

func TestFanOutSameOrderThenExit(t *testing.T) {
	b := New(1024)
	r1, r2 := &recorder{}, &recorder{}
	b.Attach(r1.handlers(), 0)
	b.Attach(r2.handlers(), 0)

	b.Push([]byte("hi\n"))
	code := 0
	b.Exit(ptyhost.ExitRecord{Code: &code})

	for _, r := range []*recorder{r1, r2} {
		cursors, data, exits := r.snapshot()
		require.Equal(t, []uint64{1}, cursors)
		require.Equal(t, []string{"hi\n"}, data)
		require.Equal(t, 1, exits)
	}
}

func TestEvictionKeepsCursors(t *testing.T) {
	b := New(8)
	b.Push([]byte("aaaa"))
	b.Push([]byte("bbbb"))
	b.Push([]byte("cccc")) // evicts cursor 1

	rec := &recorder{}
	b.Attach(rec.handlers(), 0)
	cursors, data, _ := rec.snapshot()
	require.Equal(t, []uint64{2, 3}, cursors)
	require.Equal(t, []string{"bbbb", "cccc"}, data)
	require.Equal(t, uint64(3), b.LatestCursor())
	require.Equal(t, 8, b.BacklogBytes())
}

func TestOversizedChunkTruncatedFromHead(t *testing.T) {
	b := New(4)
	b.Push([]byte("0123456789"))

	rec := &recorder{}
	b.Attach(rec.handlers(), 0)
	cursors, data, _ := rec.snapshot()
	require.Equal(t, []uint64{1}, cursors)
	require.Equal(t, []string{"6789"}, data, "replay sees the stored tail")
	require.Equal(t, 4, b.BacklogBytes())
}

func TestLiveDeliveryCarriesFullChunk(t *testing.T) {
	b := New(4)
	rec := &recorder{}
	b.Attach(rec.handlers(), 0)
	b.Push([]byte("0123456789"))

	_, data, _ := rec.snapshot()
	require.Equal(t, []string{"0123456789"}, data)
}

func TestReplayFromCursor(t *testing.T) {
	b := New(1024)
	b.Push([]byte("one"))
	b.Push([]byte("two"))
	b.Push([]byte("three"))

	rec := &recorder{}
	b.Attach(rec.handlers(), 1)
	cursors, data, _ := rec.snapshot()
	require.Equal(t, []uint64{2, 3}, cursors)
	require.Equal(t, []string{"two", "three"}, data)

	// Live chunks continue the sequence with no duplicates.
	b.Push([]byte("four"))
	cursors, _, _ = rec.snapshot()
	require.Equal(t, []uint64{2, 3, 4}, cursors)
}

func TestAttachAfterExitReplaysThenExit(t *testing.T) {
	b := New(1024)
	b.Push([]byte("bye\n"))
	sig := "SIGTERM"
	b.Exit(ptyhost.ExitRecord{Signal: &sig})

	rec := &recorder{}
	b.Attach(rec.handlers(), 0)
	cursors, _, exits := rec.snapshot()
	require.Equal(t, []uint64{1}, cursors)
	require.Equal(t, 1, exits)
}

func TestPushAfterExitDropped(t *testing.T) {
	b := New(1024)
	code := 1
	b.Exit(ptyhost.ExitRecord{Code: &code})
	b.Push([]byte("late"))
	require.Equal(t, uint64(0), b.LatestCursor())
}

func TestExitOnlyOnce(t *testing.T) {
	b := New(1024)
	rec := &recorder{}
	b.Attach(rec.handlers(), 0)
	code := 0
	b.Exit(ptyhost.ExitRecord{Code: &code})
	b.Exit(ptyhost.ExitRecord{Code: &code})
	_, _, exits := rec.snapshot()
	require.Equal(t, 1, exits)
}

func TestDetachStopsDelivery(t *testing.T) {
	b := New(1024)
	rec := &recorder{}
	attachmentID := b.Attach(rec.handlers(), 0)
	b.Push([]byte("a"))
	b.Detach(attachmentID)
	b.Detach(attachmentID) // idempotent
	b.Push([]byte("b"))

	_, data, _ := rec.snapshot()
	require.Equal(t, []string{"a"}, data)
}

func TestNilDataHandlerSkipsReplay(t *testing.T) {
	b := New(1024)
	b.Push([]byte("x"))

	exits := 0
	b.Attach(Handlers{Exit: func(ptyhost.ExitRecord) { exits++ }}, 0)
	code := 0
	b.Exit(ptyhost.ExitRecord{Code: &code})
	require.Equal(t, 1, exits)
}

func TestConcurrentPushersKeepOrderPerAttachment(t *testing.T) {
	b := New(64 * 1024)
	rec := &recorder{}
	b.Attach(rec.handlers(), 0)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Push([]byte{byte('a')})
			}
		}()
	}
	wg.Wait()

	cursors, _, _ := rec.snapshot()
	require.Len(t, cursors, 200)
	for i := 1; i < len(cursors); i++ {
		if cursors[i] != cursors[i-1]+1 {
			t.Fatalf("cursor gap or reorder at %d: %d -> %d", i, cursors[i-1], cursors[i])
		}
	}
}
