package dispatch

import (
    "context"
    "net/http"
    "net/http/httptest"
    "sync/atomic"
    "testing"
    "time"

    "bookrelay/internal/notify"
    "bookrelay/internal/store"
)

func TestTriggerCollapsesBurstIntoOnePass(t *testing.T) {
    m := store.NewMemory()
    broker := notify.NewBroker()
    d := New(m, broker)

    var hits int32
    ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt32(&hits, 1)
        w.WriteHeader(http.StatusOK)
    }))
    defer ts.Close()
    addEndpoint(t, m, "t1", ts.URL, "")

    tr := NewTrigger(d, broker, 50*time.Millisecond)
    tr.Start()
    defer tr.Stop()

    ctx := context.Background()
    for i := 0; i < 5; i++ {
        id, err := m.EnqueueEvent(ctx, "t1", "booking.created", nil)
        if err != nil {
            t.Fatalf("enqueue: %v", err)
        }
        broker.Publish(notify.Message{Kind: notify.KindEnqueued, TenantID: "t1", EventID: id})
    }

    deadline := time.Now().Add(2 * time.Second)
    for time.Now().Before(deadline) {
        counts, _ := m.CountEventsByStatus(ctx, "t1")
        if counts["sent"] == 5 {
            break
        }
        time.Sleep(10 * time.Millisecond)
    }
    counts, _ := m.CountEventsByStatus(ctx, "t1")
    if counts["sent"] != 5 {
        t.Fatalf("burst not fully delivered: %+v", counts)
    }
    // one delivery per event, the burst ran as a single batch
    if n := atomic.LoadInt32(&hits); n != 5 {
        t.Fatalf("expected 5 deliveries, got %d", n)
    }
}

func TestTriggerIgnoresStatusMessages(t *testing.T) {
    m := store.NewMemory()
    broker := notify.NewBroker()
    d := New(m, broker)

    tr := NewTrigger(d, broker, 20*time.Millisecond)
    tr.Start()
    defer tr.Stop()

    ctx := context.Background()
    id, _ := m.EnqueueEvent(ctx, "t1", "booking.created", nil)
    broker.Publish(notify.Message{Kind: notify.KindStatus, TenantID: "t1", EventID: id, Status: "sent"})

    time.Sleep(100 * time.Millisecond)
    ev, _ := m.GetEvent(ctx, "t1", id)
    if ev.Status != "pending" {
        t.Fatalf("status message must not trigger a pass, got %+v", ev)
    }
}

func TestTriggerStopIsIdempotentWithPendingTimer(t *testing.T) {
    m := store.NewMemory()
    broker := notify.NewBroker()
    d := New(m, broker)

    tr := NewTrigger(d, broker, time.Hour) // never fires
    tr.Start()
    broker.Publish(notify.Message{Kind: notify.KindEnqueued, TenantID: "t1"})
    time.Sleep(20 * time.Millisecond)
    tr.Stop()

    tr.mu.Lock()
    n := len(tr.pending)
    tr.mu.Unlock()
    if n != 0 {
        t.Fatalf("pending timers not drained on stop: %d", n)
    }
}
