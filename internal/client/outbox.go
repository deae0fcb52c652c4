package client

import (
	"sync"
	"time"
)

// PendingMessage is a locally shown message waiting for the server echo.
type PendingMessage struct {
	ClientMessageID string
	ConversationID  string
	Content         string
	CreatedAt       time.Time
	Failed          bool
}

// Outbox holds optimistic messages keyed by client message id.
type Outbox struct {
	mu    sync.Mutex
	items map[string]*PendingMessage
	order []string
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{items: make(map[string]*PendingMessage)}
}

// Add records a pending message. Adding an existing key is a no-op.
func (o *Outbox) Add(msg PendingMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.items[msg.ClientMessageID]; ok {
		return
	}
	o.items[msg.ClientMessageID] = &msg
	o.order = append(o.order, msg.ClientMessageID)
}

// Resolve removes and returns the pending message confirmed by the server.
func (o *Outbox) Resolve(clientMessageID string) (PendingMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg, ok := o.items[clientMessageID]
	if !ok {
		return PendingMessage{}, false
	}
	delete(o.items, clientMessageID)
	for i, id := range o.order {
		if id == clientMessageID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return *msg, true
}

// Fail marks a pending message as not stored.
func (o *Outbox) Fail(clientMessageID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg, ok := o.items[clientMessageID]
	if ok {
		msg.Failed = true
	}
	return ok
}

// Pending lists pending messages for a conversation in send order.
func (o *Outbox) Pending(conversationID string) []PendingMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := []PendingMessage{}
	for _, id := range o.order {
		if msg := o.items[id]; msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	return out
}
