package dispatch

import (
    "context"
    "sync"
    "time"

    "github.com/rs/zerolog"

    "bookrelay/internal/logging"
    "bookrelay/internal/notify"
)

// DefaultDebounce is how long the realtime trigger waits after an enqueue
// notification before running a tenant-scoped pass, so a burst of sibling
// inserts lands in one batch. Latency knob only; the atomic claim keeps
// overlapping passes correct whatever the delay.
const DefaultDebounce = 2 * time.Second

// Trigger listens for enqueue notifications and schedules a debounced,
// tenant-scoped dispatch pass per notifying tenant.
type Trigger struct {
    Dispatcher *Dispatcher
    Notifier   notify.Notifier
    Delay      time.Duration

    log     zerolog.Logger
    mu      sync.Mutex
    pending map[string]*time.Timer
    stop    chan struct{}
    done    chan struct{}
}

func NewTrigger(d *Dispatcher, n notify.Notifier, delay time.Duration) *Trigger {
    if delay <= 0 { delay = DefaultDebounce }
    return &Trigger{
        Dispatcher: d,
        Notifier:   n,
        Delay:      delay,
        log:        logging.NewLogger("trigger"),
        pending:    map[string]*time.Timer{},
        stop:       make(chan struct{}),
        done:       make(chan struct{}),
    }
}

func (t *Trigger) Start() {
    ch := t.Notifier.Subscribe()
    go func() {
        defer close(t.done)
        for {
            select {
            case <-t.stop:
                t.Notifier.Unsubscribe(ch)
                return
            case msg, ok := <-ch:
                if !ok { return }
                if msg.Kind != notify.KindEnqueued { continue }
                t.schedule(msg.TenantID)
            }
        }
    }()
}

func (t *Trigger) Stop() {
    close(t.stop)
    <-t.done
    t.mu.Lock()
    for tenant, timer := range t.pending {
        timer.Stop()
        delete(t.pending, tenant)
    }
    t.mu.Unlock()
}

// schedule arms (or re-arms) the debounce timer for a tenant. Repeated
// enqueues within the window collapse into a single pass.
func (t *Trigger) schedule(tenantID string) {
    t.mu.Lock()
    defer t.mu.Unlock()
    if timer, ok := t.pending[tenantID]; ok {
        timer.Reset(t.Delay)
        return
    }
    t.pending[tenantID] = time.AfterFunc(t.Delay, func() {
        t.mu.Lock()
        delete(t.pending, tenantID)
        t.mu.Unlock()
        ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
        defer cancel()
        if _, err := t.Dispatcher.RunPass(ctx, PassOptions{TenantID: tenantID, Source: "realtime"}); err != nil {
            t.log.Warn().Err(err).Msg("realtime dispatch pass failed")
        }
    })
}
