package store

import (
    "context"
    "errors"
    "time"

    "bookrelay/internal/model"
)

// Store is the persistence interface shared by the API server and dispatcher.
// The event queue methods are the only write path for event status; the claim
// is a compare-and-set so concurrent dispatch passes never take the same row.
type Store interface {
    // Endpoints
    CreateEndpoint(ctx context.Context, req model.EndpointRequest) (model.Endpoint, error)
    ListEndpoints(ctx context.Context, tenantID, cursor string, limit int) ([]model.Endpoint, string, error)
    ListActiveEndpoints(ctx context.Context, tenantID string) ([]model.Endpoint, error)
    PatchEndpoint(ctx context.Context, tenantID, id string, patch model.EndpointPatch) (model.Endpoint, error)
    DeleteEndpoint(ctx context.Context, tenantID, id string) error

    // Event queue
    EnqueueEvent(ctx context.Context, tenantID, eventType string, payload []byte) (string, error)
    // ClaimDueEvents atomically moves up to limit due events (oldest created
    // first, attempts below maxAttempts, scoped to tenantID when non-empty)
    // from pending/failed to in_flight and returns them.
    ClaimDueEvents(ctx context.Context, tenantID string, limit, maxAttempts int) ([]model.Event, error)
    MarkEventSent(ctx context.Context, id string) error
    // MarkEventFailed records a failed attempt. A nil nextAttemptAt makes the
    // failure terminal; otherwise the event becomes claimable again at that time.
    MarkEventFailed(ctx context.Context, id, reason, lastError string, nextAttemptAt *time.Time) error
    // ReleaseEvent puts an in-flight event back to pending without touching
    // its attempt count (infrastructure errors don't burn the budget).
    ReleaseEvent(ctx context.Context, id string) error
    // ReleaseStaleEvents returns in-flight events claimed before olderThan to
    // pending. A claim is a lease, not ownership: if the claimer dies before
    // writing a terminal status, the next pass takes the event back.
    ReleaseStaleEvents(ctx context.Context, olderThan time.Time) (int, error)
    // RetryEvent re-arms a failed event to pending and resets its attempts.
    RetryEvent(ctx context.Context, tenantID, id string) error

    // Delivery records
    RecordDelivery(ctx context.Context, rec model.DeliveryRecord) error
    ListEndpointDeliveries(ctx context.Context, tenantID, endpointID string, limit int) ([]model.DeliveryRecord, error)

    // Observability reads
    GetEvent(ctx context.Context, tenantID, id string) (model.Event, error)
    ListEvents(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Event, string, error)
    CountEventsByStatus(ctx context.Context, tenantID string) (map[string]int, error)

    Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")
