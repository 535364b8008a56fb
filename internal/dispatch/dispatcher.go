// Package dispatch implements the webhook dispatch pass: claim a batch of
// due events, fan each one out to its tenant's active endpoints, and record
// the outcome. Passes are stateless and safe to run concurrently; the store
// claim is the only coordination point.
package dispatch

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "sync"
    "time"

    "github.com/rs/zerolog"
    "golang.org/x/time/rate"

    "bookrelay/internal/logging"
    "bookrelay/internal/metrics"
    "bookrelay/internal/model"
    "bookrelay/internal/notify"
    "bookrelay/internal/store"
)

const (
    // DefaultMaxBatch bounds how many events one pass claims.
    DefaultMaxBatch = 50
    // DefaultMaxAttempts is the dispatcher-owned retry ceiling. An event that
    // fails its DefaultMaxAttempts-th delivery becomes terminal and is only
    // re-armed by an explicit operator retry.
    DefaultMaxAttempts = 3
    // DefaultTimeout bounds each endpoint POST.
    DefaultTimeout = 5 * time.Second
    // DefaultLease is how long a claim may sit in_flight before a later pass
    // takes the event back. A claimer that dies between claim and status
    // write loses the event to the queue, not to limbo.
    DefaultLease = 5 * time.Minute
)

type Dispatcher struct {
    Store       store.Store
    HTTP        *http.Client
    Notifier    notify.Notifier
    MaxBatch    int
    MaxAttempts int
    Lease       time.Duration

    log      zerolog.Logger
    mu       sync.Mutex
    limiters map[string]*limiterEntry
}

type limiterEntry struct {
    limit   int
    limiter *rate.Limiter
}

func New(s store.Store, n notify.Notifier) *Dispatcher {
    return &Dispatcher{
        Store:       s,
        HTTP:        &http.Client{Timeout: DefaultTimeout},
        Notifier:    n,
        MaxBatch:    DefaultMaxBatch,
        MaxAttempts: DefaultMaxAttempts,
        Lease:       DefaultLease,
        log:         logging.NewLogger("dispatch"),
        limiters:    map[string]*limiterEntry{},
    }
}

// PassOptions scope one dispatch pass. TenantID is an optimization hint from
// the realtime trigger; an empty value processes the whole due queue.
type PassOptions struct {
    MaxBatch int
    TenantID string
    Source   string // trigger source, for logs/metrics only
}

type PassResult struct {
    Processed int `json:"processed"`
    Delivered int `json:"delivered"`
    Failed    int `json:"failed"`
}

// RunPass executes one claim->resolve->deliver->record cycle. One event's
// failure never aborts the batch; only a failed claim returns an error.
func (d *Dispatcher) RunPass(ctx context.Context, opts PassOptions) (PassResult, error) {
    limit := opts.MaxBatch
    if limit <= 0 { limit = d.MaxBatch }
    source := opts.Source
    if source == "" { source = "manual" }

    lease := d.Lease
    if lease <= 0 { lease = DefaultLease }
    if n, err := d.Store.ReleaseStaleEvents(ctx, time.Now().Add(-lease)); err != nil {
        d.log.Warn().Err(err).Msg("stale claim release failed")
    } else if n > 0 {
        metrics.ReclaimedEvents.Add(float64(n))
        d.log.Warn().Int("events", n).Msg("released expired in-flight claims")
    }

    events, err := d.Store.ClaimDueEvents(ctx, opts.TenantID, limit, d.MaxAttempts)
    if err != nil {
        return PassResult{}, fmt.Errorf("claim due events: %w", err)
    }
    metrics.DispatchPasses.WithLabelValues(source).Inc()
    metrics.ClaimedEvents.Add(float64(len(events)))

    var res PassResult
    for _, ev := range events {
        res.Processed++
        switch d.dispatchOne(ctx, ev) {
        case model.StatusSent:
            res.Delivered++
        case model.StatusFailed:
            res.Failed++
        }
    }
    if res.Processed > 0 {
        d.log.Info().Str("source", source).Str("tenant", opts.TenantID).
            Int("processed", res.Processed).Int("delivered", res.Delivered).Int("failed", res.Failed).
            Msg("dispatch pass")
    }
    return res, nil
}

// dispatchOne resolves, delivers, and records a single claimed event. It
// returns the resulting event status, or "" when the claim was released
// because of an infrastructure error.
func (d *Dispatcher) dispatchOne(ctx context.Context, ev model.Event) string {
    endpoints, err := d.Store.ListActiveEndpoints(ctx, ev.TenantID)
    if err != nil {
        // infrastructure error: hand the event back without burning an attempt
        d.log.Warn().Err(err).Str("event", ev.ID).Msg("endpoint resolution failed, releasing claim")
        if rerr := d.Store.ReleaseEvent(ctx, ev.ID); rerr != nil {
            d.log.Error().Err(rerr).Str("event", ev.ID).Msg("release failed")
        }
        return ""
    }

    if len(endpoints) == 0 {
        // terminal: nobody subscribed, no HTTP is attempted
        if err := d.Store.MarkEventFailed(ctx, ev.ID, model.ReasonNoEndpoints, "no active endpoints", nil); err != nil {
            d.log.Error().Err(err).Str("event", ev.ID).Msg("mark failed")
        }
        metrics.EventOutcomes.WithLabelValues(ev.EventType, model.StatusFailed).Inc()
        d.publishStatus(ev, model.StatusFailed, ev.Attempts+1)
        return model.StatusFailed
    }

    body := taggedPayload(ev, time.Now().UTC())
    attempt := ev.Attempts + 1
    results := make([]deliveryResult, len(endpoints))
    var wg sync.WaitGroup
    for i, ep := range endpoints {
        wg.Add(1)
        go func(i int, ep model.Endpoint) {
            defer wg.Done()
            results[i] = d.deliver(ctx, ev, ep, body)
        }(i, ep)
    }
    wg.Wait()

    ok := true
    var lastErr string
    for i, r := range results {
        outcome := model.OutcomeDelivered
        if !r.success {
            ok = false
            outcome = model.OutcomeFailed
            if r.errMsg != "" {
                lastErr = r.errMsg
            } else {
                lastErr = fmt.Sprintf("endpoint returned %d", r.code)
            }
        }
        rec := model.DeliveryRecord{
            EventID:      ev.ID,
            EndpointID:   endpoints[i].ID,
            TenantID:     ev.TenantID,
            Attempt:      attempt,
            Outcome:      outcome,
            ResponseCode: r.code,
            LatencyMs:    r.latencyMs,
            Error:        r.errMsg,
        }
        if err := d.Store.RecordDelivery(ctx, rec); err != nil {
            d.log.Error().Err(err).Str("event", ev.ID).Str("endpoint", endpoints[i].ID).Msg("record delivery")
        }
        metrics.Deliveries.WithLabelValues(ev.EventType, outcome).Inc()
        metrics.DeliveryLatency.WithLabelValues(ev.EventType, outcome).Observe(float64(r.latencyMs))
    }

    if ok {
        if err := d.Store.MarkEventSent(ctx, ev.ID); err != nil {
            d.log.Error().Err(err).Str("event", ev.ID).Msg("mark sent")
        }
        metrics.EventOutcomes.WithLabelValues(ev.EventType, model.StatusSent).Inc()
        d.publishStatus(ev, model.StatusSent, attempt)
        return model.StatusSent
    }

    var next *time.Time
    if attempt < d.MaxAttempts {
        t := time.Now().Add(nextBackoff(ev.Attempts))
        next = &t
    }
    if err := d.Store.MarkEventFailed(ctx, ev.ID, model.ReasonDeliveryFailed, lastErr, next); err != nil {
        d.log.Error().Err(err).Str("event", ev.ID).Msg("mark failed")
    }
    metrics.EventOutcomes.WithLabelValues(ev.EventType, model.StatusFailed).Inc()
    d.publishStatus(ev, model.StatusFailed, attempt)
    return model.StatusFailed
}

type deliveryResult struct {
    success   bool
    code      int
    latencyMs int
    errMsg    string
}

func (d *Dispatcher) deliver(ctx context.Context, ev model.Event, ep model.Endpoint, body []byte) deliveryResult {
    timeout := d.HTTP.Timeout
    if timeout <= 0 { timeout = DefaultTimeout }
    cctx, cancel := context.WithTimeout(ctx, timeout)
    defer cancel()
    if lim := d.limiterFor(ep); lim != nil {
        if err := lim.Wait(cctx); err != nil {
            return deliveryResult{errMsg: "rate limit wait: " + err.Error()}
        }
    }
    req, err := http.NewRequestWithContext(cctx, http.MethodPost, ep.URL, bytes.NewReader(body))
    if err != nil {
        return deliveryResult{errMsg: err.Error()}
    }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("User-Agent", "bookrelay")
    req.Header.Set("X-Bookrelay-Event", ev.EventType)
    if ep.Secret != "" {
        req.Header.Set("X-Bookrelay-Signature", SignHMAC(ep.Secret, body))
    }
    start := time.Now()
    resp, err := d.HTTP.Do(req)
    latency := int(time.Since(start).Milliseconds())
    if err != nil {
        // timeouts count the same as network failures for this endpoint
        return deliveryResult{latencyMs: latency, errMsg: err.Error()}
    }
    defer func() { _ = resp.Body.Close() }()
    ok := resp.StatusCode >= 200 && resp.StatusCode < 300
    return deliveryResult{success: ok, code: resp.StatusCode, latencyMs: latency}
}

func (d *Dispatcher) limiterFor(ep model.Endpoint) *rate.Limiter {
    if ep.RateLimit <= 0 { return nil }
    d.mu.Lock()
    defer d.mu.Unlock()
    entry := d.limiters[ep.ID]
    if entry == nil || entry.limit != ep.RateLimit {
        entry = &limiterEntry{limit: ep.RateLimit, limiter: rate.NewLimiter(rate.Limit(ep.RateLimit), ep.RateLimit)}
        d.limiters[ep.ID] = entry
    }
    return entry.limiter
}

// SendTest enqueues a synthetic test.ping event for the tenant and reports
// how many active endpoints will receive it. The event flows through the
// normal queue, so it also exercises claim and delivery end to end.
func (d *Dispatcher) SendTest(ctx context.Context, tenantID string) (endpointCount int, eventID string, err error) {
    endpoints, err := d.Store.ListActiveEndpoints(ctx, tenantID)
    if err != nil { return 0, "", err }
    payload, _ := json.Marshal(map[string]any{"message": "bookrelay test event", "sentAt": time.Now().UTC().Format(time.RFC3339)})
    eventID, err = d.Store.EnqueueEvent(ctx, tenantID, "test.ping", payload)
    if err != nil { return 0, "", err }
    if d.Notifier != nil {
        d.Notifier.Publish(notify.Message{Kind: notify.KindEnqueued, TenantID: tenantID, EventID: eventID, EventType: "test.ping"})
    }
    return len(endpoints), eventID, nil
}

func (d *Dispatcher) publishStatus(ev model.Event, status string, attempts int) {
    if d.Notifier == nil { return }
    d.Notifier.Publish(notify.Message{
        Kind:      notify.KindStatus,
        TenantID:  ev.TenantID,
        EventID:   ev.ID,
        EventType: ev.EventType,
        Status:    status,
        Attempts:  attempts,
    })
}

// taggedPayload augments the producer payload with the event id and delivery
// timestamp so receivers can deduplicate redelivered events.
func taggedPayload(ev model.Event, deliveredAt time.Time) []byte {
    doc := map[string]any{}
    if len(ev.Payload) > 0 {
        if err := json.Unmarshal(ev.Payload, &doc); err != nil || doc == nil {
            doc = map[string]any{"data": json.RawMessage(ev.Payload)}
        }
    }
    doc["webhook_event_id"] = ev.ID
    doc["event_type"] = ev.EventType
    doc["delivered_at"] = deliveredAt.Format(time.RFC3339)
    b, _ := json.Marshal(doc)
    return b
}

func nextBackoff(attempts int) time.Duration {
    if attempts < 0 { attempts = 0 }
    if attempts > 10 { attempts = 10 }
    base := time.Second * time.Duration(1<<attempts)
    if base > time.Hour { base = time.Hour }
    return base
}
