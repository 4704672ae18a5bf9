package stream

import (
	"encoding/base64"
	"sync"

	"github.com/roostlabs/roost/internal/broker"
	"github.com/roostlabs/roost/internal/ptyhost"
	"github.com/roostlabs/roost/internal/session"
	"github.com/roostlabs/roost/protocol"
)

// qItem is one queued delivery for an attachment: an output chunk or
// the exit record.
type qItem struct {
	chunk *broker.Chunk
	exit  *ptyhost.ExitRecord
}

// attachment bridges one broker attachment onto the connection.
// Deliveries are lossless: the broker hands chunks to onData under its
// lock, the queue grows without bound, and the pump emits pty.output
// and pty.exit envelopes in order. eventOnly attachments carry no Data
// handler and surface only the exit.
type attachment struct {
	id        string
	sessionID string
	conn      *conn
	sess      *session.Session
	eventOnly bool

	mu      sync.Mutex
	queue   []qItem
	stopped bool

	wake chan struct{}
}

// newAttachment registers against the session's broker and starts the
// pump. Backlog replay happens synchronously inside Attach, before the
// broker id is known, which is why queue items carry raw chunks and the
// envelope is built at pump time.
func newAttachment(c *conn, s *session.Session, sinceCursor uint64, eventOnly bool) (*attachment, uint64) {
	a := &attachment{
		sessionID: s.ID,
		conn:      c,
		sess:      s,
		eventOnly: eventOnly,
		wake:      make(chan struct{}, 1),
	}
	h := broker.Handlers{Exit: a.onExit}
	if !eventOnly {
		h.Data = a.onData
	}
	attachmentID, latest := s.Attach(h, sinceCursor)
	a.id = attachmentID
	go a.pump()
	return a, latest
}

// onData runs under the broker lock. The chunk data is copied because
// the pump sends after the lock is gone.
func (a *attachment) onData(ch broker.Chunk) {
	data := make([]byte, len(ch.Data))
	copy(data, ch.Data)
	a.push(qItem{chunk: &broker.Chunk{Cursor: ch.Cursor, Data: data}})
}

func (a *attachment) onExit(rec ptyhost.ExitRecord) {
	a.push(qItem{exit: &rec})
}

func (a *attachment) push(item qItem) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.queue = append(a.queue, item)
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *attachment) pump() {
	for {
		a.mu.Lock()
		stopped := a.stopped
		batch := a.queue
		a.queue = nil
		a.mu.Unlock()

		for _, item := range batch {
			var env protocol.ServerEnvelope
			switch {
			case item.chunk != nil:
				env = protocol.ServerEnvelope{
					Type:         protocol.ServerPTYOutput,
					SessionID:    a.sessionID,
					AttachmentID: a.id,
					Cursor:       item.chunk.Cursor,
					ChunkBase64:  base64.StdEncoding.EncodeToString(item.chunk.Data),
				}
			case item.exit != nil:
				env = protocol.ServerEnvelope{
					Type:         protocol.ServerPTYExit,
					SessionID:    a.sessionID,
					AttachmentID: a.id,
					Exit:         &protocol.ExitRecord{Code: item.exit.Code, Signal: item.exit.Signal},
				}
			default:
				continue
			}
			if err := a.conn.send(env); err != nil {
				a.stop(true)
				return
			}
		}
		if stopped {
			return
		}
		<-a.wake
	}
}

// stop detaches from the broker when requested and releases the pump.
// Idempotent. detach is false when the broker is already tearing the
// attachment down (session removal).
func (a *attachment) stop(detach bool) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.mu.Unlock()

	if detach {
		a.sess.Detach(a.id)
	}
	select {
	case a.wake <- struct{}{}:
	default:
	}
}
