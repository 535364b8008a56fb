package main

import (
    "net/http"
    "time"

    "github.com/joho/godotenv"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "bookrelay/internal/api"
    "bookrelay/internal/config"
    "bookrelay/internal/logging"
    "bookrelay/internal/metrics"
)

func main() {
    _ = godotenv.Load()

    cfg, err := config.Load("")
    if err != nil {
        logging.Setup("info", "json")
        lg := logging.NewLogger("main")
        lg.Fatal().Err(err).Msg("failed to load config")
    }
    logging.Setup(cfg.Log.Level, cfg.Log.Format)
    log := logging.NewLogger("main")

    metrics.RegisterDefault()

    srv, err := api.NewServer(cfg)
    if err != nil {
        log.Fatal().Err(err).Msg("failed to init server")
    }

    mux := http.NewServeMux()

    // Producer enqueue
    mux.HandleFunc("/v1/events", srv.EventsHandler)

    // Endpoint registry
    mux.HandleFunc("/v1/endpoints", srv.EndpointsHandler)
    mux.HandleFunc("/v1/endpoints/", srv.EndpointByIDHandler)

    // Triggers
    mux.HandleFunc("/v1/dispatch/run", srv.DispatchRunHandler)
    mux.HandleFunc("/v1/webhook-test", srv.WebhookTestHandler)

    // Operator / observability
    mux.HandleFunc("/v1/admin/webhook-events", srv.WebhookEventsHandler)
    mux.HandleFunc("/v1/admin/webhook-events/", srv.WebhookEventRetryHandler)
    mux.HandleFunc("/v1/admin/webhook-stats", srv.WebhookStatsHandler)
    mux.HandleFunc("/v1/admin/events/live", srv.LiveEventsHandler)

    // Health and debug
    mux.HandleFunc("/healthz", srv.HealthHandler)
    mux.HandleFunc("/readyz", srv.ReadyHandler)
    mux.HandleFunc("/debugz", srv.DebugHandler)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    // Background trigger surface: realtime debounce + periodic sweep
    trigger := srv.NewTrigger()
    trigger.Start()
    sweeper := srv.NewSweeper()
    sweeper.Start()

    server := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           api.LogMiddleware(mux),
        ReadHeaderTimeout: 5 * time.Second,
    }

    log.Info().Str("addr", server.Addr).Msg("bookrelay API listening")
    if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatal().Err(err).Msg("server error")
    }
}
