package api

import (
    "bufio"
    "errors"
    "net"
    "net/http"
    "strconv"
    "time"

    "bookrelay/internal/logging"
    "bookrelay/internal/metrics"
)

type statusWriter struct {
    http.ResponseWriter
    status int
}

func (w *statusWriter) WriteHeader(code int) {
    w.status = code
    w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade work through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    hj, ok := w.ResponseWriter.(http.Hijacker)
    if !ok {
        return nil, nil, errors.New("response writer does not support hijacking")
    }
    return hj.Hijack()
}

// LogMiddleware emits one structured log line per request and feeds the
// Prometheus HTTP counters.
func LogMiddleware(next http.Handler) http.Handler {
    log := logging.NewLogger("http")
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
        start := time.Now()
        next.ServeHTTP(sw, r)
        dur := time.Since(start)

        status := strconv.Itoa(sw.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())

        evt := log.Info()
        if sw.status >= 500 {
            evt = log.Error()
        } else if sw.status >= 400 {
            evt = log.Warn()
        }
        evt.Str("method", r.Method).
            Str("path", r.URL.Path).
            Int("status", sw.status).
            Dur("latency", dur).
            Str("remote", r.RemoteAddr).
            Msg("http request")
    })
}
