// Package events is the workspace observed-event bus. Every state
// change of interest is published here with a process-wide monotonic
// cursor; a bounded journal of recent events supports replay for
// late subscribers.
package events

import (
	"sync"
	"time"

	"github.com/roostlabs/roost/internal/metrics"
	"github.com/roostlabs/roost/internal/util/timefmt"
	"github.com/roostlabs/roost/protocol"
)

// Sink receives published events. Sinks run under the bus lock and
// must not block; slow consumers buffer on their own side.
type Sink func(protocol.ObservedEvent)

// Bus assigns cursors, journals, and fans out observed events.
// Publish order defines cursor order: both happen under one lock.
type Bus struct {
	mu      sync.Mutex
	cursor  uint64
	journal []protocol.ObservedEvent
	max     int
	sinks   map[int]Sink
	nextID  int
}

func NewBus(journalSize int) *Bus {
	if journalSize <= 0 {
		journalSize = 8192
	}
	return &Bus{
		max:   journalSize,
		sinks: make(map[int]Sink),
	}
}

// Publish stamps the event with the next cursor and the current time,
// appends it to the journal, and delivers it to every sink.
func (b *Bus) Publish(eventType, sessionID string, scope *protocol.Scope, payload map[string]any) protocol.ObservedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cursor++
	ev := protocol.ObservedEvent{
		Cursor:     b.cursor,
		Type:       eventType,
		OccurredAt: timefmt.Format(time.Now()),
		SessionID:  sessionID,
		Scope:      scope,
		Payload:    payload,
	}
	b.append(ev)
	metrics.ObservedEventsTotal.WithLabelValues(eventType).Inc()
	for _, sink := range b.sinks {
		sink(ev)
	}
	return ev
}

func (b *Bus) append(ev protocol.ObservedEvent) {
	b.journal = append(b.journal, ev)
	if len(b.journal) > b.max {
		b.journal = b.journal[len(b.journal)-b.max:]
	}
}

// Subscribe registers sink and returns the journaled events with
// cursor > afterCursor. Registration and replay snapshot happen under
// one lock, so the sink sees every event after the returned slice with
// no gap and no duplicate.
func (b *Bus) Subscribe(afterCursor uint64, sink Sink) (replay []protocol.ObservedEvent, unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ev := range b.journal {
		if ev.Cursor > afterCursor {
			replay = append(replay, ev)
		}
	}
	id := b.nextID
	b.nextID++
	b.sinks[id] = sink
	metrics.ActiveSubscriptions.Inc()
	return replay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.sinks[id]; ok {
			delete(b.sinks, id)
			metrics.ActiveSubscriptions.Dec()
		}
	}
}

// Cursor returns the cursor of the most recently published event.
func (b *Bus) Cursor() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// JournalLen reports how many events the journal currently holds.
func (b *Bus) JournalLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.journal)
}
