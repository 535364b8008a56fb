package notify

import (
    "testing"
    "time"
)

func TestBrokerFanOut(t *testing.T) {
    b := NewBroker()
    a := b.Subscribe()
    c := b.Subscribe()

    b.Publish(Message{Kind: KindEnqueued, TenantID: "t1", EventID: "e1"})

    for _, ch := range []chan Message{a, c} {
        select {
        case msg := <-ch:
            if msg.EventID != "e1" {
                t.Fatalf("wrong message: %+v", msg)
            }
        case <-time.After(time.Second):
            t.Fatal("subscriber did not receive message")
        }
    }
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe()
    b.Unsubscribe(ch)
    if _, ok := <-ch; ok {
        t.Fatal("channel not closed on unsubscribe")
    }
    // double unsubscribe must not panic
    b.Unsubscribe(ch)
    b.Publish(Message{Kind: KindStatus})
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe()
    for i := 0; i < 100; i++ {
        b.Publish(Message{Kind: KindStatus, EventID: "spam"})
    }
    // the slow subscriber lost messages but Publish never blocked
    if len(ch) != cap(ch) {
        t.Fatalf("expected buffer full, got %d/%d", len(ch), cap(ch))
    }
}
