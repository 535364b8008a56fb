package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"

    "bookrelay/internal/model"
)

// Memory is an in-memory store used when no DATABASE_URL is set and by tests.
// All queue transitions happen under one mutex, which makes the claim a CAS:
// two concurrent ClaimDueEvents calls can never return the same event.
type Memory struct {
    mu          sync.Mutex
    endpoints   map[string]model.Endpoint
    epByTenant  map[string][]string
    events      map[string]*model.Event
    evByTenant  map[string][]string
    claimedAt   map[string]time.Time
    deliveries  []model.DeliveryRecord
}

func NewMemory() *Memory {
    return &Memory{
        endpoints:  map[string]model.Endpoint{},
        epByTenant: map[string][]string{},
        events:     map[string]*model.Event{},
        evByTenant: map[string][]string{},
        claimedAt:  map[string]time.Time{},
    }
}

func (m *Memory) CreateEndpoint(ctx context.Context, req model.EndpointRequest) (model.Endpoint, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ep := model.Endpoint{
        ID:        uuid.New().String(),
        TenantID:  req.TenantID,
        URL:       req.URL,
        Secret:    req.Secret,
        RateLimit: req.RateLimit,
        Active:    true,
        CreatedAt: time.Now().UTC(),
    }
    m.endpoints[ep.ID] = ep
    m.epByTenant[ep.TenantID] = append(m.epByTenant[ep.TenantID], ep.ID)
    return ep, nil
}

func (m *Memory) ListEndpoints(ctx context.Context, tenantID, cursor string, limit int) ([]model.Endpoint, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.epByTenant[tenantID]
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.Endpoint{}
    var last string
    for i := start; i < len(ids) && len(out) < limit; i++ {
        out = append(out, m.endpoints[ids[i]])
        last = ids[i]
    }
    var next string
    if len(out) == limit { next = last }
    return out, next, nil
}

func (m *Memory) ListActiveEndpoints(ctx context.Context, tenantID string) ([]model.Endpoint, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Endpoint{}
    for _, id := range m.epByTenant[tenantID] {
        if ep := m.endpoints[id]; ep.Active {
            out = append(out, ep)
        }
    }
    return out, nil
}

func (m *Memory) PatchEndpoint(ctx context.Context, tenantID, id string, patch model.EndpointPatch) (model.Endpoint, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ep, ok := m.endpoints[id]
    if !ok || ep.TenantID != tenantID { return model.Endpoint{}, ErrNotFound }
    if patch.URL != nil { ep.URL = *patch.URL }
    if patch.Secret != nil { ep.Secret = *patch.Secret }
    if patch.RateLimit != nil { ep.RateLimit = *patch.RateLimit }
    if patch.Active != nil { ep.Active = *patch.Active }
    m.endpoints[id] = ep
    return ep, nil
}

func (m *Memory) DeleteEndpoint(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    ep, ok := m.endpoints[id]
    if !ok || ep.TenantID != tenantID { return ErrNotFound }
    delete(m.endpoints, id)
    ids := m.epByTenant[tenantID]
    out := make([]string, 0, len(ids))
    for _, v := range ids { if v != id { out = append(out, v) } }
    m.epByTenant[tenantID] = out
    return nil
}

func (m *Memory) EnqueueEvent(ctx context.Context, tenantID, eventType string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now().UTC()
    ev := &model.Event{
        ID:            uuid.New().String(),
        TenantID:      tenantID,
        EventType:     eventType,
        Payload:       append([]byte(nil), payload...),
        Status:        model.StatusPending,
        NextAttemptAt: &now,
        CreatedAt:     now,
    }
    m.events[ev.ID] = ev
    m.evByTenant[tenantID] = append(m.evByTenant[tenantID], ev.ID)
    return ev.ID, nil
}

func (m *Memory) ClaimDueEvents(ctx context.Context, tenantID string, limit, maxAttempts int) ([]model.Event, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 50 }
    now := time.Now()
    due := []*model.Event{}
    for _, ev := range m.events {
        if tenantID != "" && ev.TenantID != tenantID { continue }
        if ev.Status != model.StatusPending && ev.Status != model.StatusFailed { continue }
        if ev.Attempts >= maxAttempts { continue }
        if ev.NextAttemptAt == nil || ev.NextAttemptAt.After(now) { continue }
        due = append(due, ev)
    }
    sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
    if len(due) > limit { due = due[:limit] }
    out := make([]model.Event, 0, len(due))
    for _, ev := range due {
        ev.Status = model.StatusInFlight
        m.claimedAt[ev.ID] = now
        out = append(out, *ev)
    }
    return out, nil
}

func (m *Memory) MarkEventSent(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    ev, ok := m.events[id]
    if !ok { return ErrNotFound }
    now := time.Now().UTC()
    ev.Status = model.StatusSent
    ev.Attempts++
    ev.LastAttemptAt = &now
    ev.NextAttemptAt = nil
    ev.FailureReason = ""
    ev.LastError = ""
    delete(m.claimedAt, id)
    return nil
}

func (m *Memory) MarkEventFailed(ctx context.Context, id, reason, lastError string, nextAttemptAt *time.Time) error {
    m.mu.Lock(); defer m.mu.Unlock()
    ev, ok := m.events[id]
    if !ok { return ErrNotFound }
    now := time.Now().UTC()
    ev.Status = model.StatusFailed
    ev.Attempts++
    ev.LastAttemptAt = &now
    ev.FailureReason = reason
    ev.LastError = lastError
    ev.NextAttemptAt = nextAttemptAt
    delete(m.claimedAt, id)
    return nil
}

func (m *Memory) ReleaseEvent(ctx context.Context, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    ev, ok := m.events[id]
    if !ok { return ErrNotFound }
    if ev.Status == model.StatusInFlight {
        ev.Status = model.StatusPending
        now := time.Now().UTC()
        ev.NextAttemptAt = &now
        delete(m.claimedAt, id)
    }
    return nil
}

func (m *Memory) ReleaseStaleEvents(ctx context.Context, olderThan time.Time) (int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now().UTC()
    n := 0
    for id, claimed := range m.claimedAt {
        if !claimed.Before(olderThan) { continue }
        if ev, ok := m.events[id]; ok && ev.Status == model.StatusInFlight {
            ev.Status = model.StatusPending
            t := now
            ev.NextAttemptAt = &t
            n++
        }
        delete(m.claimedAt, id)
    }
    return n, nil
}

func (m *Memory) RetryEvent(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    ev, ok := m.events[id]
    if !ok || ev.TenantID != tenantID { return ErrNotFound }
    if ev.Status != model.StatusFailed { return ErrNotFound }
    now := time.Now().UTC()
    ev.Status = model.StatusPending
    ev.Attempts = 0
    ev.FailureReason = ""
    ev.LastError = ""
    ev.NextAttemptAt = &now
    return nil
}

func (m *Memory) RecordDelivery(ctx context.Context, rec model.DeliveryRecord) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if rec.ID == "" { rec.ID = uuid.New().String() }
    if rec.CreatedAt.IsZero() { rec.CreatedAt = time.Now().UTC() }
    m.deliveries = append(m.deliveries, rec)
    return nil
}

func (m *Memory) ListEndpointDeliveries(ctx context.Context, tenantID, endpointID string, limit int) ([]model.DeliveryRecord, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 50 }
    out := []model.DeliveryRecord{}
    for i := len(m.deliveries) - 1; i >= 0 && len(out) < limit; i-- {
        rec := m.deliveries[i]
        if rec.TenantID == tenantID && rec.EndpointID == endpointID {
            out = append(out, rec)
        }
    }
    return out, nil
}

func (m *Memory) GetEvent(ctx context.Context, tenantID, id string) (model.Event, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ev, ok := m.events[id]
    if !ok || ev.TenantID != tenantID { return model.Event{}, ErrNotFound }
    return *ev, nil
}

func (m *Memory) ListEvents(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Event, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 100 }
    ids := m.evByTenant[tenantID]
    // newest first for the operator view
    out := []model.Event{}
    start := len(ids) - 1
    if cursor != "" {
        for i := len(ids) - 1; i >= 0; i-- {
            if ids[i] == cursor { start = i - 1; break }
        }
    }
    var last string
    for i := start; i >= 0 && len(out) < limit; i-- {
        ev := m.events[ids[i]]
        if status != "" && ev.Status != status { continue }
        out = append(out, *ev)
        last = ev.ID
    }
    var next string
    if len(out) == limit { next = last }
    return out, next, nil
}

func (m *Memory) CountEventsByStatus(ctx context.Context, tenantID string) (map[string]int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    counts := map[string]int{}
    for _, id := range m.evByTenant[tenantID] {
        counts[m.events[id].Status]++
    }
    return counts, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
