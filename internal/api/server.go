// Package api implements the HTTP surface for the bookrelay service.
package api

import (
    "github.com/rs/zerolog"

    "bookrelay/internal/auth"
    "bookrelay/internal/config"
    "bookrelay/internal/dispatch"
    "bookrelay/internal/logging"
    "bookrelay/internal/notify"
    "bookrelay/internal/store"
)

type Server struct {
    Store      store.Store
    Dispatcher *dispatch.Dispatcher
    Notifier   notify.Notifier
    Auth       *auth.Verifier
    Cfg        *config.Config

    log zerolog.Logger
}

// NewServer wires store, notifier, and dispatcher from config. With no
// database URL the in-memory store is used (dev and tests).
func NewServer(cfg *config.Config) (*Server, error) {
    var s store.Store
    if cfg.DatabaseURL == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        if cfg.Migrate {
            if err := sp.MigrateDir("db/migrations"); err != nil {
                lg := logging.NewLogger("api")
                lg.Warn().Err(err).Msg("migrations failed")
            }
        }
        s = sp
    }

    var n notify.Notifier
    if cfg.RedisURL != "" {
        if rn, err := notify.NewRedisNotifier(cfg.RedisURL); err == nil {
            n = rn
        } else {
            lg := logging.NewLogger("api")
            lg.Warn().Err(err).Msg("redis notifier unavailable, using in-memory broker")
            n = notify.NewBroker()
        }
    } else {
        n = notify.NewBroker()
    }

    d := dispatch.New(s, n)
    if cfg.Dispatch.MaxBatch > 0 { d.MaxBatch = cfg.Dispatch.MaxBatch }
    if cfg.Dispatch.MaxAttempts > 0 { d.MaxAttempts = cfg.Dispatch.MaxAttempts }
    if cfg.Dispatch.TimeoutMs > 0 { d.HTTP.Timeout = cfg.Dispatch.Timeout() }
    if cfg.Dispatch.LeaseSec > 0 { d.Lease = cfg.Dispatch.Lease() }

    return &Server{
        Store:      s,
        Dispatcher: d,
        Notifier:   n,
        Auth:       auth.NewVerifierFromEnv(),
        Cfg:        cfg,
        log:        logging.NewLogger("api"),
    }, nil
}

// NewTrigger creates the debounced realtime trigger bound to this server's
// dispatcher and notifier.
func (s *Server) NewTrigger() *dispatch.Trigger {
    return dispatch.NewTrigger(s.Dispatcher, s.Notifier, s.Cfg.Dispatch.Debounce())
}

// NewSweeper creates the periodic sweep worker.
func (s *Server) NewSweeper() *dispatch.Sweeper {
    return dispatch.NewSweeper(s.Dispatcher, s.Cfg.Dispatch.Sweep())
}
