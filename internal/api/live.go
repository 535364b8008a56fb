package api

import (
    "net/http"
    "time"

    "github.com/gorilla/websocket"
)

var liveUpgrader = websocket.Upgrader{
    ReadBufferSize:  1024,
    WriteBufferSize: 1024,
    CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveEventsHandler handles GET /v1/admin/events/live — a WebSocket feed of
// enqueue and status-transition messages for the principal's tenant, consumed
// by the operator dashboard. Read-only; it never touches event state.
func (s *Server) LiveEventsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    conn, err := liveUpgrader.Upgrade(w, r, nil)
    if err != nil {
        return
    }
    defer func() { _ = conn.Close() }()

    ch := s.Notifier.Subscribe()
    defer s.Notifier.Unsubscribe(ch)

    // reader goroutine: drain control frames and detect close
    closed := make(chan struct{})
    go func() {
        defer close(closed)
        for {
            if _, _, err := conn.ReadMessage(); err != nil {
                return
            }
        }
    }()

    ping := time.NewTicker(30 * time.Second)
    defer ping.Stop()
    for {
        select {
        case <-closed:
            return
        case <-r.Context().Done():
            return
        case <-ping.C:
            if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
                return
            }
        case msg, ok := <-ch:
            if !ok {
                return
            }
            if msg.TenantID != p.Tenant {
                continue
            }
            if err := conn.WriteJSON(msg); err != nil {
                return
            }
        }
    }
}
