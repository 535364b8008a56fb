//go:build postgres_integration

package store

import (
    "context"
    "os"
    "testing"
    "time"

    "bookrelay/internal/model"
)

// Run with: DATABASE_URL=postgres://... go test -tags postgres_integration ./internal/store

func newPostgres(t *testing.T) *Postgres {
    t.Helper()
    dsn := os.Getenv("DATABASE_URL")
    if dsn == "" {
        t.Skip("DATABASE_URL not set")
    }
    p, err := NewPostgres(dsn)
    if err != nil {
        t.Fatalf("connect: %v", err)
    }
    if err := p.MigrateDir("../../db/migrations"); err != nil {
        t.Fatalf("migrate: %v", err)
    }
    return p
}

func TestPostgresQueueLifecycle(t *testing.T) {
    p := newPostgres(t)
    ctx := context.Background()
    tenant := "t_itest_" + time.Now().Format("150405.000000")

    ep, err := p.CreateEndpoint(ctx, model.EndpointRequest{TenantID: tenant, URL: "https://itest.example/hook", Secret: "s"})
    if err != nil {
        t.Fatalf("create endpoint: %v", err)
    }
    defer func() { _ = p.DeleteEndpoint(ctx, tenant, ep.ID) }()

    id, err := p.EnqueueEvent(ctx, tenant, "booking.created", []byte(`{"bookingId":"b1"}`))
    if err != nil {
        t.Fatalf("enqueue: %v", err)
    }

    evs, err := p.ClaimDueEvents(ctx, tenant, 10, 3)
    if err != nil || len(evs) != 1 || evs[0].ID != id {
        t.Fatalf("claim: %+v err=%v", evs, err)
    }
    if evs[0].Status != model.StatusInFlight {
        t.Fatalf("claim did not flip status: %+v", evs[0])
    }
    // claimed row must not be claimable again
    if again, _ := p.ClaimDueEvents(ctx, tenant, 10, 3); len(again) != 0 {
        t.Fatalf("double claim: %+v", again)
    }

    past := time.Now().Add(-time.Second)
    if err := p.MarkEventFailed(ctx, id, model.ReasonDeliveryFailed, "boom", &past); err != nil {
        t.Fatalf("mark failed: %v", err)
    }
    evs, _ = p.ClaimDueEvents(ctx, tenant, 10, 3)
    if len(evs) != 1 || evs[0].Attempts != 1 {
        t.Fatalf("retryable failure not reclaimed: %+v", evs)
    }

    if err := p.MarkEventSent(ctx, id); err != nil {
        t.Fatalf("mark sent: %v", err)
    }
    ev, err := p.GetEvent(ctx, tenant, id)
    if err != nil || ev.Status != model.StatusSent || ev.Attempts != 2 {
        t.Fatalf("final state: %+v err=%v", ev, err)
    }

    rec := model.DeliveryRecord{EventID: id, EndpointID: ep.ID, TenantID: tenant, Attempt: 2, Outcome: model.OutcomeDelivered, ResponseCode: 200, LatencyMs: 12}
    if err := p.RecordDelivery(ctx, rec); err != nil {
        t.Fatalf("record delivery: %v", err)
    }
    recs, err := p.ListEndpointDeliveries(ctx, tenant, ep.ID, 10)
    if err != nil || len(recs) != 1 || recs[0].EventID != id {
        t.Fatalf("list deliveries: %+v err=%v", recs, err)
    }

    counts, err := p.CountEventsByStatus(ctx, tenant)
    if err != nil || counts[model.StatusSent] != 1 {
        t.Fatalf("counts: %+v err=%v", counts, err)
    }
}

func TestPostgresReleaseStaleEvents(t *testing.T) {
    p := newPostgres(t)
    ctx := context.Background()
    tenant := "t_itest_" + time.Now().Format("150405.000000")

    id, err := p.EnqueueEvent(ctx, tenant, "booking.created", nil)
    if err != nil {
        t.Fatalf("enqueue: %v", err)
    }
    if evs, _ := p.ClaimDueEvents(ctx, tenant, 10, 3); len(evs) != 1 {
        t.Fatal("claim failed")
    }
    if n, err := p.ReleaseStaleEvents(ctx, time.Now().Add(-time.Minute)); err != nil || n != 0 {
        t.Fatalf("fresh claim released: n=%d err=%v", n, err)
    }
    if n, err := p.ReleaseStaleEvents(ctx, time.Now().Add(time.Second)); err != nil || n < 1 {
        t.Fatalf("expired claim not released: n=%d err=%v", n, err)
    }
    ev, _ := p.GetEvent(ctx, tenant, id)
    if ev.Status != model.StatusPending || ev.Attempts != 0 {
        t.Fatalf("release changed more than status: %+v", ev)
    }
}

func TestPostgresRetryRequiresFailedStatus(t *testing.T) {
    p := newPostgres(t)
    ctx := context.Background()
    tenant := "t_itest_" + time.Now().Format("150405.000000")

    id, err := p.EnqueueEvent(ctx, tenant, "booking.created", nil)
    if err != nil {
        t.Fatalf("enqueue: %v", err)
    }
    if err := p.RetryEvent(ctx, tenant, id); err != ErrNotFound {
        t.Fatalf("retry of pending event should be not found, got %v", err)
    }
    if _, err := p.ClaimDueEvents(ctx, tenant, 10, 3); err != nil {
        t.Fatalf("claim: %v", err)
    }
    if err := p.MarkEventFailed(ctx, id, model.ReasonNoEndpoints, "", nil); err != nil {
        t.Fatalf("mark failed: %v", err)
    }
    if err := p.RetryEvent(ctx, tenant, id); err != nil {
        t.Fatalf("retry of failed event: %v", err)
    }
    ev, _ := p.GetEvent(ctx, tenant, id)
    if ev.Status != model.StatusPending || ev.Attempts != 0 {
        t.Fatalf("retry reset wrong: %+v", ev)
    }
}
