package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "os"
    "strings"
    "time"

    "bookrelay/internal/buildinfo"
    "bookrelay/internal/dispatch"
    "bookrelay/internal/model"
    "bookrelay/internal/notify"
    "bookrelay/internal/store"
)

// EventsHandler handles POST /v1/events — the producer-facing enqueue path.
// Every insert lands as status=pending and nudges the realtime trigger.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req model.EnqueueRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if req.TenantID == "" { req.TenantID = s.getPrincipal(r).Tenant }
    if req.Type == "" {
        writeProblem(w, http.StatusBadRequest, "Missing event type", "", r.URL.Path)
        return
    }
    id, err := s.Store.EnqueueEvent(r.Context(), req.TenantID, req.Type, req.Payload)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Enqueue failed", err.Error(), r.URL.Path)
        return
    }
    s.Notifier.Publish(notify.Message{Kind: notify.KindEnqueued, TenantID: req.TenantID, EventID: id, EventType: req.Type})
    writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// EndpointsHandler handles POST/GET /v1/endpoints
func (s *Server) EndpointsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodPost:
        var req model.EndpointRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.TenantID == "" { req.TenantID = p.Tenant }
        if err := validateEndpointURL(req.URL); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid endpoint", err.Error(), r.URL.Path)
            return
        }
        ep, err := s.Store.CreateEndpoint(r.Context(), req)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create endpoint failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, ep)
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListEndpoints(r.Context(), p.Tenant, cursor, limit)
        if err != nil { writeProblem(w, 500, "List endpoints failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// EndpointByIDHandler handles /v1/endpoints/{id} (PATCH/DELETE) and
// /v1/endpoints/{id}/deliveries (GET recent delivery outcomes).
func (s *Server) EndpointByIDHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    rest := strings.TrimPrefix(r.URL.Path, "/v1/endpoints/")
    if rest == "" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }

    if id, ok := strings.CutSuffix(rest, "/deliveries"); ok {
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        limit := 50
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, err := s.Store.ListEndpointDeliveries(r.Context(), p.Tenant, id, limit)
        if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items})
        return
    }

    id := rest
    switch r.Method {
    case http.MethodPatch:
        var patch model.EndpointPatch
        if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if patch.URL != nil {
            if err := validateEndpointURL(*patch.URL); err != nil {
                writeProblem(w, http.StatusBadRequest, "Invalid endpoint", err.Error(), r.URL.Path)
                return
            }
        }
        ep, err := s.Store.PatchEndpoint(r.Context(), p.Tenant, id, patch)
        if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
        if err != nil { writeProblem(w, 500, "Patch endpoint failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, ep)
    case http.MethodDelete:
        err := s.Store.DeleteEndpoint(r.Context(), p.Tenant, id)
        if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
        if err != nil { writeProblem(w, 500, "Delete endpoint failed", err.Error(), r.URL.Path); return }
        w.WriteHeader(http.StatusNoContent)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// DispatchRunHandler handles POST /v1/dispatch/run — the manual trigger.
// The optional tenantId narrows the pass; the default drains the whole queue.
func (s *Server) DispatchRunHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    var req struct {
        MaxBatch int    `json:"maxBatch"`
        TenantID string `json:"tenantId"`
    }
    if r.Body != nil {
        _ = json.NewDecoder(r.Body).Decode(&req)
    }
    res, err := s.Dispatcher.RunPass(r.Context(), dispatch.PassOptions{MaxBatch: req.MaxBatch, TenantID: req.TenantID, Source: "manual"})
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Dispatch pass failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, 200, res)
}

// WebhookTestHandler handles POST /v1/webhook-test — the diagnostic trigger.
func (s *Server) WebhookTestHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    var req struct {
        TenantID string `json:"tenantId"`
    }
    if r.Body != nil {
        _ = json.NewDecoder(r.Body).Decode(&req)
    }
    if req.TenantID == "" { req.TenantID = p.Tenant }
    count, eventID, err := s.Dispatcher.SendTest(r.Context(), req.TenantID)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Test event failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, 200, map[string]any{"eventId": eventID, "activeEndpoints": count})
}

// WebhookEventsHandler handles GET /v1/admin/webhook-events
func (s *Server) WebhookEventsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/webhook-events" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(405); return }
    status := r.URL.Query().Get("status")
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListEvents(r.Context(), p.Tenant, status, cursor, limit)
    if err != nil { writeProblem(w, 500, "List events failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// WebhookEventRetryHandler handles POST /v1/admin/webhook-events/{id}/retry —
// the operator re-arm: failed -> pending with a fresh attempt budget.
func (s *Server) WebhookEventRetryHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-events/") || !strings.HasSuffix(r.URL.Path, "/retry") {
        writeProblem(w, 404, "Not Found", "", r.URL.Path)
        return
    }
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-events/"), "/retry")
    err := s.Store.RetryEvent(r.Context(), p.Tenant, id)
    if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Not Found", "no failed event with that id", r.URL.Path); return }
    if err != nil { writeProblem(w, 500, "Retry failed", err.Error(), r.URL.Path); return }
    s.Notifier.Publish(notify.Message{Kind: notify.KindEnqueued, TenantID: p.Tenant, EventID: id})
    writeJSON(w, 202, map[string]int{"accepted": 1})
}

// WebhookStatsHandler handles GET /v1/admin/webhook-stats
func (s *Server) WebhookStatsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/webhook-stats" || r.Method != http.MethodGet {
        writeProblem(w, 404, "Not Found", "", r.URL.Path)
        return
    }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    counts, err := s.Store.CountEventsByStatus(r.Context(), p.Tenant)
    if err != nil { writeProblem(w, 500, "Stats failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"counts": counts})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
    defer cancel()
    if err := s.Store.Ping(ctx); err != nil {
        writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}

func (s *Server) DebugHandler(w http.ResponseWriter, r *http.Request) {
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "port":            s.Cfg.Port,
            "maxBatch":        s.Cfg.Dispatch.MaxBatch,
            "maxAttempts":     s.Cfg.Dispatch.MaxAttempts,
            "debounceMs":      s.Cfg.Dispatch.DebounceMs,
            "sweepIntervalS":  s.Cfg.Dispatch.SweepInterval,
            "leaseSec":        s.Cfg.Dispatch.LeaseSec,
            "authMode":        os.Getenv("AUTH_MODE"),
            "hasDatabaseUrl":  s.Cfg.DatabaseURL != "",
            "hasRedisUrl":     s.Cfg.RedisURL != "",
        },
    }
    writeJSON(w, 200, info)
}

func validateEndpointURL(raw string) error {
    if raw == "" {
        return errors.New("url required")
    }
    if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
        return errors.New("url must be http or https")
    }
    return nil
}
