package stream

import (
	"slices"
	"sync"

	"github.com/roostlabs/roost/internal/id"
	"github.com/roostlabs/roost/internal/metrics"
	"github.com/roostlabs/roost/protocol"
)

// subscription is one stream.subscribe feed. The bus sink appends into
// a bounded queue under sub.mu; a pump goroutine drains batches onto
// the connection. Queue overflow sheds session-output first, then the
// oldest event, so control events survive a slow consumer at the cost
// of cursor gaps.
type subscription struct {
	id            string
	conn          *conn
	filters       protocol.StreamFilters
	includeOutput bool
	limit         int

	mu          sync.Mutex
	queue       []protocol.ObservedEvent
	stopped     bool
	unsubscribe func()

	wake chan struct{}
}

// newSubscription registers against the bus and starts the pump. It
// holds sub.mu across bus registration so the replayed journal lands in
// the queue ahead of any concurrently published event: live enqueues
// block on sub.mu until the prepend completes.
func newSubscription(c *conn, params protocol.StreamSubscribeParams, queueLimit int) *subscription {
	if queueLimit < 2 {
		queueLimit = 2
	}
	sub := &subscription{
		id:            id.Short(),
		conn:          c,
		filters:       params.Filters,
		includeOutput: params.IncludeOutput,
		limit:         queueLimit,
		wake:          make(chan struct{}, 1),
	}

	sub.mu.Lock()
	replay, unsubscribe := c.srv.bus.Subscribe(params.AfterCursor, sub.enqueue)
	sub.unsubscribe = unsubscribe
	for _, ev := range replay {
		if sub.matches(ev) {
			sub.queue = append(sub.queue, ev)
		}
	}
	sub.mu.Unlock()

	go sub.pump()
	return sub
}

func (sub *subscription) matches(ev protocol.ObservedEvent) bool {
	if ev.Type == protocol.EventSessionOutput && !sub.includeOutput {
		return false
	}
	if len(sub.filters.Types) > 0 && !slices.Contains(sub.filters.Types, ev.Type) {
		return false
	}
	if len(sub.filters.SessionIDs) > 0 {
		if ev.SessionID == "" || !slices.Contains(sub.filters.SessionIDs, ev.SessionID) {
			return false
		}
	}
	return true
}

// enqueue is the bus sink. It runs under the bus lock and must stay
// cheap: filter, shed, append, wake.
func (sub *subscription) enqueue(ev protocol.ObservedEvent) {
	if !sub.matches(ev) {
		return
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.stopped {
		return
	}

	// Output is the shedding class: once the queue is half full, new
	// output chunks are dropped so control events keep their room.
	if ev.Type == protocol.EventSessionOutput && len(sub.queue) >= sub.limit/2 {
		metrics.DroppedEventsTotal.WithLabelValues("output-backpressure").Inc()
		return
	}
	if len(sub.queue) >= sub.limit {
		victim := 0
		for i, queued := range sub.queue {
			if queued.Type == protocol.EventSessionOutput {
				victim = i
				break
			}
		}
		sub.queue = append(sub.queue[:victim], sub.queue[victim+1:]...)
		metrics.DroppedEventsTotal.WithLabelValues("backpressure").Inc()
	}

	sub.queue = append(sub.queue, ev)
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscription) pump() {
	for {
		sub.mu.Lock()
		stopped := sub.stopped
		batch := sub.queue
		sub.queue = nil
		sub.mu.Unlock()

		for i := range batch {
			ev := batch[i]
			if err := sub.conn.send(protocol.ServerEnvelope{
				Type:           protocol.ServerStreamEvent,
				SubscriptionID: sub.id,
				Event:          &ev,
			}); err != nil {
				sub.stop()
				return
			}
		}
		if stopped {
			return
		}
		<-sub.wake
	}
}

// stop unhooks the bus sink and releases the pump. Idempotent. The bus
// manages the subscription gauge inside subscribe/unsubscribe.
func (sub *subscription) stop() {
	sub.mu.Lock()
	if sub.stopped {
		sub.mu.Unlock()
		return
	}
	sub.stopped = true
	sub.mu.Unlock()

	sub.unsubscribe()
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}
