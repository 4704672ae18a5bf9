// Package broker fans PTY output out to attachments. Chunks are
// stamped with a per-session cursor starting at 1 and retained in a
// byte-capped backlog so late attachments can replay recent output
// before receiving live chunks.
package broker

import (
	"sync"

	"github.com/roostlabs/roost/internal/id"
	"github.com/roostlabs/roost/internal/metrics"
	"github.com/roostlabs/roost/internal/ptyhost"
)

// DefaultMaxBacklogBytes caps the backlog when no limit is configured.
const DefaultMaxBacklogBytes = 256 * 1024

// Chunk is one stamped piece of PTY output. Data is shared across
// attachments and the backlog; receivers must not modify or retain it
// past the callback.
type Chunk struct {
	Cursor uint64
	Data   []byte
}

// Handlers receive broker deliveries. Either may be nil. Both are
// invoked under the broker's ordering lock: every attachment observes
// the same cursor order, and Exit arrives only after all preceding
// chunks. Handlers must not call back into the broker.
type Handlers struct {
	Data func(Chunk)
	Exit func(ptyhost.ExitRecord)
}

type Broker struct {
	mu sync.Mutex

	maxBytes     int
	nextCursor   uint64
	backlog      []Chunk
	backlogBytes int

	attachments map[string]Handlers

	exited  bool
	exitRec ptyhost.ExitRecord
}

func New(maxBacklogBytes int) *Broker {
	if maxBacklogBytes <= 0 {
		maxBacklogBytes = DefaultMaxBacklogBytes
	}
	return &Broker{
		maxBytes:    maxBacklogBytes,
		nextCursor:  1,
		attachments: make(map[string]Handlers),
	}
}

// Push stamps data with the next cursor, stores it in the backlog, and
// delivers it to every attachment, returning the assigned cursor. A
// chunk larger than the backlog cap is truncated from its head before
// storage but keeps its cursor; older entries are then evicted
// oldest-first until the cap holds. Empty pushes and pushes after exit
// are dropped and report cursor 0.
func (b *Broker) Push(data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exited {
		return 0
	}

	stored := data
	if len(stored) > b.maxBytes {
		stored = stored[len(stored)-b.maxBytes:]
	}
	ch := Chunk{Cursor: b.nextCursor, Data: stored}
	b.nextCursor++
	b.backlog = append(b.backlog, ch)
	b.backlogBytes += len(stored)
	for b.backlogBytes > b.maxBytes {
		b.backlogBytes -= len(b.backlog[0].Data)
		b.backlog[0].Data = nil
		b.backlog = b.backlog[1:]
	}
	metrics.OutputBytesTotal.Add(float64(len(data)))

	// Live delivery carries the full chunk even when storage truncated.
	live := Chunk{Cursor: ch.Cursor, Data: data}
	for _, h := range b.attachments {
		if h.Data != nil {
			h.Data(live)
		}
	}
	return ch.Cursor
}

// Exit records the terminal exit and delivers it to every attachment.
// Only the first call has an effect.
func (b *Broker) Exit(rec ptyhost.ExitRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exited {
		return
	}
	b.exited = true
	b.exitRec = rec
	for _, h := range b.attachments {
		if h.Exit != nil {
			h.Exit(rec)
		}
	}
}

// Attach registers handlers and returns the attachment id. Backlog
// entries with cursor > sinceCursor are replayed in order before the
// attachment starts receiving live chunks; if the session already
// exited, the exit record is delivered after the replay. Replay and
// registration are atomic, so no chunk is missed or duplicated.
func (b *Broker) Attach(h Handlers, sinceCursor uint64) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h.Data != nil {
		for _, ch := range b.backlog {
			if ch.Cursor > sinceCursor {
				h.Data(ch)
			}
		}
	}
	if b.exited && h.Exit != nil {
		h.Exit(b.exitRec)
	}
	attachmentID := id.Short()
	b.attachments[attachmentID] = h
	metrics.ActiveAttachments.Inc()
	return attachmentID
}

// Detach removes an attachment. Unknown ids are ignored.
func (b *Broker) Detach(attachmentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.attachments[attachmentID]; ok {
		delete(b.attachments, attachmentID)
		metrics.ActiveAttachments.Dec()
	}
}

// DetachAll removes every attachment, used when a session is removed.
func (b *Broker) DetachAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for attachmentID := range b.attachments {
		delete(b.attachments, attachmentID)
		metrics.ActiveAttachments.Dec()
	}
}

// LatestCursor returns the cursor of the most recent chunk, 0 when no
// output has been produced.
func (b *Broker) LatestCursor() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextCursor - 1
}

// BacklogBytes reports the retained backlog size.
func (b *Broker) BacklogBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backlogBytes
}

func (b *Broker) Exited() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exited
}
