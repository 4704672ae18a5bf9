package client

import (
	"encoding/json"
	"sync"
)

// outcome is one command's terminal reply.
type outcome struct {
	result json.RawMessage
	err    error
}

// pendingCommands correlates command.completed / command.failed
// envelopes with their waiting callers by command id.
type pendingCommands struct {
	mu      sync.Mutex
	waiting map[string]chan outcome
}

func newPendingCommands() *pendingCommands {
	return &pendingCommands{waiting: make(map[string]chan outcome)}
}

func (p *pendingCommands) add(commandID string) <-chan outcome {
	ch := make(chan outcome, 1)
	p.mu.Lock()
	p.waiting[commandID] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingCommands) remove(commandID string) {
	p.mu.Lock()
	delete(p.waiting, commandID)
	p.mu.Unlock()
}

// complete delivers a reply. Unknown ids are ignored: the caller may
// have timed out and removed itself already.
func (p *pendingCommands) complete(commandID string, result json.RawMessage, err error) {
	p.mu.Lock()
	ch, ok := p.waiting[commandID]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- outcome{result: result, err: err}:
	default:
	}
}

// failAll fails every waiting caller, used when the connection drops.
func (p *pendingCommands) failAll(err error) {
	p.mu.Lock()
	waiting := p.waiting
	p.waiting = make(map[string]chan outcome)
	p.mu.Unlock()
	for _, ch := range waiting {
		select {
		case ch <- outcome{err: err}:
		default:
		}
	}
}
