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

func TestSweeperDrainsQueueWithoutTrigger(t *testing.T) {
    m := store.NewMemory()
    d := New(m, notify.NewBroker())

    var hits int32
    ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt32(&hits, 1)
        w.WriteHeader(http.StatusOK)
    }))
    defer ts.Close()
    addEndpoint(t, m, "t1", ts.URL, "")
    _, _ = m.EnqueueEvent(context.Background(), "t1", "booking.created", nil)

    sw := NewSweeper(d, 20*time.Millisecond)
    sw.Start()
    defer close(sw.Stop)

    deadline := time.Now().Add(2 * time.Second)
    for time.Now().Before(deadline) {
        if atomic.LoadInt32(&hits) == 1 {
            return
        }
        time.Sleep(10 * time.Millisecond)
    }
    t.Fatalf("sweeper never delivered the queued event, hits=%d", atomic.LoadInt32(&hits))
}
