package store

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "bookrelay/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies *.sql files from dir in lexical order. Dev helper; the
// statements are idempotent (CREATE IF NOT EXISTS).
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    names := []string{}
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
            names = append(names, e.Name())
        }
    }
    sort.Strings(names)
    for _, name := range names {
        sqlBytes, err := os.ReadFile(filepath.Join(dir, name))
        if err != nil { return err }
        if _, err := p.db.Exec(string(sqlBytes)); err != nil {
            return fmt.Errorf("migrate %s: %w", name, err)
        }
    }
    return nil
}

// Endpoints

func (p *Postgres) CreateEndpoint(ctx context.Context, req model.EndpointRequest) (model.Endpoint, error) {
    ep := model.Endpoint{
        ID:        uuid.New().String(),
        TenantID:  req.TenantID,
        URL:       req.URL,
        Secret:    req.Secret,
        RateLimit: req.RateLimit,
        Active:    true,
        CreatedAt: time.Now().UTC(),
    }
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_endpoints (id, tenant_id, url, secret, rate_limit, active, created_at)
        VALUES ($1,$2,$3,$4,$5,TRUE,$6)`, ep.ID, ep.TenantID, ep.URL, nullIfEmpty(ep.Secret), ep.RateLimit, ep.CreatedAt)
    if err != nil { return model.Endpoint{}, err }
    return ep, nil
}

func (p *Postgres) ListEndpoints(ctx context.Context, tenantID, cursor string, limit int) ([]model.Endpoint, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, tenant_id, url, COALESCE(secret,''), rate_limit, active, created_at
            FROM webhook_endpoints WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, tenant_id, url, COALESCE(secret,''), rate_limit, active, created_at
            FROM webhook_endpoints WHERE tenant_id=$1 ORDER BY id LIMIT $2`, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Endpoint{}
    var last string
    for rows.Next() {
        var ep model.Endpoint
        if err := rows.Scan(&ep.ID, &ep.TenantID, &ep.URL, &ep.Secret, &ep.RateLimit, &ep.Active, &ep.CreatedAt); err != nil {
            return nil, "", err
        }
        out = append(out, ep)
        last = ep.ID
    }
    var next string
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) ListActiveEndpoints(ctx context.Context, tenantID string) ([]model.Endpoint, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, url, COALESCE(secret,''), rate_limit, active, created_at
        FROM webhook_endpoints WHERE tenant_id=$1 AND active ORDER BY created_at`, tenantID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Endpoint{}
    for rows.Next() {
        var ep model.Endpoint
        if err := rows.Scan(&ep.ID, &ep.TenantID, &ep.URL, &ep.Secret, &ep.RateLimit, &ep.Active, &ep.CreatedAt); err != nil {
            return nil, err
        }
        out = append(out, ep)
    }
    return out, rows.Err()
}

func (p *Postgres) PatchEndpoint(ctx context.Context, tenantID, id string, patch model.EndpointPatch) (model.Endpoint, error) {
    sets := []string{"updated_at=now()"}
    args := []any{tenantID, id}
    n := 3
    if patch.URL != nil { sets = append(sets, fmt.Sprintf("url=$%d", n)); args = append(args, *patch.URL); n++ }
    if patch.Secret != nil { sets = append(sets, fmt.Sprintf("secret=$%d", n)); args = append(args, nullIfEmpty(*patch.Secret)); n++ }
    if patch.RateLimit != nil { sets = append(sets, fmt.Sprintf("rate_limit=$%d", n)); args = append(args, *patch.RateLimit); n++ }
    if patch.Active != nil { sets = append(sets, fmt.Sprintf("active=$%d", n)); args = append(args, *patch.Active); n++ }
    q := `UPDATE webhook_endpoints SET ` + strings.Join(sets, ", ") + ` WHERE tenant_id=$1 AND id=$2
        RETURNING id::text, tenant_id, url, COALESCE(secret,''), rate_limit, active, created_at`
    var ep model.Endpoint
    err := p.db.QueryRowContext(ctx, q, args...).Scan(&ep.ID, &ep.TenantID, &ep.URL, &ep.Secret, &ep.RateLimit, &ep.Active, &ep.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) { return model.Endpoint{}, ErrNotFound }
    if err != nil { return model.Endpoint{}, err }
    return ep, nil
}

func (p *Postgres) DeleteEndpoint(ctx context.Context, tenantID, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_endpoints WHERE tenant_id=$1 AND id=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Event queue

func (p *Postgres) EnqueueEvent(ctx context.Context, tenantID, eventType string, payload []byte) (string, error) {
    id := uuid.New().String()
    if len(payload) == 0 { payload = []byte(`{}`) }
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_events (id, tenant_id, event_type, payload, status, attempts, next_attempt_at)
        VALUES ($1,$2,$3,$4,'pending',0,now())`, id, tenantID, eventType, payload)
    if err != nil { return "", err }
    return id, nil
}

// ClaimDueEvents is the one concurrency-critical statement: the subselect
// locks due rows with SKIP LOCKED and the UPDATE flips them to in_flight in
// the same statement, so overlapping passes partition the queue between them.
func (p *Postgres) ClaimDueEvents(ctx context.Context, tenantID string, limit, maxAttempts int) ([]model.Event, error) {
    if limit <= 0 { limit = 50 }
    where := `status IN ('pending','failed') AND attempts < $1 AND next_attempt_at IS NOT NULL AND next_attempt_at <= now()`
    args := []any{maxAttempts, limit}
    if tenantID != "" {
        where += ` AND tenant_id = $3`
        args = append(args, tenantID)
    }
    q := `UPDATE webhook_events SET status='in_flight', updated_at=now()
        WHERE id IN (
            SELECT id FROM webhook_events
            WHERE ` + where + `
            ORDER BY created_at ASC
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id::text, tenant_id, event_type, payload, status, attempts, COALESCE(failure_reason,''), COALESCE(last_error,''), last_attempt_at, next_attempt_at, created_at`
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Event{}
    for rows.Next() {
        var ev model.Event
        var lastAt, nextAt sql.NullTime
        if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.EventType, &ev.Payload, &ev.Status, &ev.Attempts,
            &ev.FailureReason, &ev.LastError, &lastAt, &nextAt, &ev.CreatedAt); err != nil {
            return nil, err
        }
        if lastAt.Valid { t := lastAt.Time; ev.LastAttemptAt = &t }
        if nextAt.Valid { t := nextAt.Time; ev.NextAttemptAt = &t }
        out = append(out, ev)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkEventSent(ctx context.Context, id string) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_events
        SET status='sent', attempts=attempts+1, last_attempt_at=now(), next_attempt_at=NULL,
            failure_reason=NULL, last_error=NULL, updated_at=now()
        WHERE id=$1`, id)
    return err
}

func (p *Postgres) MarkEventFailed(ctx context.Context, id, reason, lastError string, nextAttemptAt *time.Time) error {
    var next any
    if nextAttemptAt != nil { next = *nextAttemptAt }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_events
        SET status='failed', attempts=attempts+1, last_attempt_at=now(), next_attempt_at=$2,
            failure_reason=$3, last_error=$4, updated_at=now()
        WHERE id=$1`, id, next, reason, nullIfEmpty(lastError))
    return err
}

func (p *Postgres) ReleaseEvent(ctx context.Context, id string) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_events
        SET status='pending', next_attempt_at=now(), updated_at=now()
        WHERE id=$1 AND status='in_flight'`, id)
    return err
}

func (p *Postgres) ReleaseStaleEvents(ctx context.Context, olderThan time.Time) (int, error) {
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_events
        SET status='pending', next_attempt_at=now(), updated_at=now()
        WHERE status='in_flight' AND updated_at < $1`, olderThan)
    if err != nil { return 0, err }
    n, _ := res.RowsAffected()
    return int(n), nil
}

func (p *Postgres) RetryEvent(ctx context.Context, tenantID, id string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_events
        SET status='pending', attempts=0, failure_reason=NULL, last_error=NULL, next_attempt_at=now(), updated_at=now()
        WHERE tenant_id=$1 AND id=$2 AND status='failed'`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Delivery records

func (p *Postgres) RecordDelivery(ctx context.Context, rec model.DeliveryRecord) error {
    if rec.ID == "" { rec.ID = uuid.New().String() }
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, event_id, endpoint_id, tenant_id, attempt, outcome, response_code, latency_ms, error)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
        rec.ID, rec.EventID, rec.EndpointID, rec.TenantID, rec.Attempt, rec.Outcome, rec.ResponseCode, rec.LatencyMs, nullIfEmpty(rec.Error))
    return err
}

func (p *Postgres) ListEndpointDeliveries(ctx context.Context, tenantID, endpointID string, limit int) ([]model.DeliveryRecord, error) {
    if limit <= 0 || limit > 500 { limit = 50 }
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, event_id::text, endpoint_id::text, tenant_id, attempt, outcome, response_code, latency_ms, COALESCE(error,''), created_at
        FROM webhook_deliveries WHERE tenant_id=$1 AND endpoint_id=$2 ORDER BY created_at DESC LIMIT $3`, tenantID, endpointID, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.DeliveryRecord{}
    for rows.Next() {
        var rec model.DeliveryRecord
        if err := rows.Scan(&rec.ID, &rec.EventID, &rec.EndpointID, &rec.TenantID, &rec.Attempt, &rec.Outcome,
            &rec.ResponseCode, &rec.LatencyMs, &rec.Error, &rec.CreatedAt); err != nil {
            return nil, err
        }
        out = append(out, rec)
    }
    return out, rows.Err()
}

// Observability reads

func (p *Postgres) GetEvent(ctx context.Context, tenantID, id string) (model.Event, error) {
    var ev model.Event
    var lastAt, nextAt sql.NullTime
    err := p.db.QueryRowContext(ctx, `SELECT id::text, tenant_id, event_type, payload, status, attempts, COALESCE(failure_reason,''), COALESCE(last_error,''), last_attempt_at, next_attempt_at, created_at
        FROM webhook_events WHERE tenant_id=$1 AND id=$2`, tenantID, id).
        Scan(&ev.ID, &ev.TenantID, &ev.EventType, &ev.Payload, &ev.Status, &ev.Attempts,
            &ev.FailureReason, &ev.LastError, &lastAt, &nextAt, &ev.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) { return model.Event{}, ErrNotFound }
    if err != nil { return model.Event{}, err }
    if lastAt.Valid { t := lastAt.Time; ev.LastAttemptAt = &t }
    if nextAt.Valid { t := nextAt.Time; ev.NextAttemptAt = &t }
    return ev, nil
}

func (p *Postgres) ListEvents(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Event, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, tenant_id, event_type, status, attempts, COALESCE(failure_reason,''), COALESCE(last_error,''), last_attempt_at, next_attempt_at, created_at
        FROM webhook_events WHERE tenant_id=$1`
    args := []any{tenantID}
    n := 2
    if status != "" {
        q += fmt.Sprintf(" AND status=$%d", n)
        args = append(args, status)
        n++
    }
    if cursor != "" {
        q += fmt.Sprintf(" AND id::text < $%d", n)
        args = append(args, cursor)
        n++
    }
    q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", n)
    args = append(args, limit)
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Event{}
    var last string
    for rows.Next() {
        var ev model.Event
        var lastAt, nextAt sql.NullTime
        if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.EventType, &ev.Status, &ev.Attempts,
            &ev.FailureReason, &ev.LastError, &lastAt, &nextAt, &ev.CreatedAt); err != nil {
            return nil, "", err
        }
        if lastAt.Valid { t := lastAt.Time; ev.LastAttemptAt = &t }
        if nextAt.Valid { t := nextAt.Time; ev.NextAttemptAt = &t }
        out = append(out, ev)
        last = ev.ID
    }
    var next string
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) CountEventsByStatus(ctx context.Context, tenantID string) (map[string]int, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM webhook_events WHERE tenant_id=$1 GROUP BY status`, tenantID)
    if err != nil { return nil, err }
    defer rows.Close()
    counts := map[string]int{}
    for rows.Next() {
        var s string
        var c int
        if err := rows.Scan(&s, &c); err != nil { return nil, err }
        counts[s] = c
    }
    return counts, rows.Err()
}

func nullIfEmpty(s string) any {
    if s == "" { return nil }
    return s
}
