// Package notify fans change notifications out to in-process subscribers:
// the debounce trigger and the live operator feed both listen here.
package notify

import (
    "sync"
)

// Kinds of messages published on the feed.
const (
    KindEnqueued = "enqueued"
    KindStatus   = "status"
)

type Message struct {
    Kind      string `json:"kind"`
    TenantID  string `json:"tenantId"`
    EventID   string `json:"eventId,omitempty"`
    EventType string `json:"eventType,omitempty"`
    Status    string `json:"status,omitempty"`
    Attempts  int    `json:"attempts,omitempty"`
}

type Notifier interface {
    Publish(msg Message)
    Subscribe() chan Message
    Unsubscribe(ch chan Message)
}

// Broker is the in-memory Notifier used for single-process deployments.
type Broker struct {
    mu   sync.Mutex
    subs map[chan Message]struct{}
}

func NewBroker() *Broker {
    return &Broker{subs: map[chan Message]struct{}{}}
}

func (b *Broker) Subscribe() chan Message {
    ch := make(chan Message, 16)
    b.mu.Lock()
    b.subs[ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(ch chan Message) {
    b.mu.Lock()
    if _, ok := b.subs[ch]; ok {
        delete(b.subs, ch)
        close(ch)
    }
    b.mu.Unlock()
}

func (b *Broker) Publish(msg Message) {
    b.mu.Lock()
    for ch := range b.subs {
        // drop rather than block a slow subscriber
        select { case ch <- msg: default: }
    }
    b.mu.Unlock()
}
