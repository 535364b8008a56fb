package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // DispatchPasses counts dispatch passes by trigger source
    DispatchPasses = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "dispatch_passes_total", Help: "Dispatch passes by trigger source."},
        []string{"source"},
    )
    // ClaimedEvents counts events claimed out of the queue
    ClaimedEvents = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "dispatch_claimed_events_total", Help: "Events claimed by dispatch passes."},
    )
    // ReclaimedEvents counts in-flight claims taken back after lease expiry
    ReclaimedEvents = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "dispatch_reclaimed_events_total", Help: "Expired in-flight claims returned to pending."},
    )
    // EventOutcomes counts event-level outcomes by event type and status
    EventOutcomes = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_event_outcomes_total", Help: "Event-level dispatch outcomes by event type and status."},
        []string{"event_type", "status"},
    )
    // Deliveries counts per-endpoint delivery attempts by event type and outcome
    Deliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and outcome."},
        []string{"event_type", "outcome"},
    )
    // DeliveryLatency tracks webhook delivery latencies in milliseconds
    DeliveryLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "outcome"},
    )
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
    regOnce.Do(func() {
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(DispatchPasses)
        Registry.MustRegister(ClaimedEvents)
        Registry.MustRegister(ReclaimedEvents)
        Registry.MustRegister(EventOutcomes)
        Registry.MustRegister(Deliveries)
        Registry.MustRegister(DeliveryLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
