package dispatch

import (
    "context"
    "time"

    "bookrelay/internal/logging"
)

// Sweeper periodically runs an unscoped dispatch pass so backoff-due and
// missed events drain even when no realtime trigger fires.
type Sweeper struct {
    Dispatcher *Dispatcher
    Interval   time.Duration
    Stop       chan struct{}
}

func NewSweeper(d *Dispatcher, interval time.Duration) *Sweeper {
    if interval <= 0 { interval = 30 * time.Second }
    return &Sweeper{Dispatcher: d, Interval: interval, Stop: make(chan struct{})}
}

func (s *Sweeper) Start() {
    go func() {
        log := logging.NewLogger("sweeper")
        ticker := time.NewTicker(s.Interval)
        defer ticker.Stop()
        for {
            select {
            case <-s.Stop:
                return
            case <-ticker.C:
                ctx, cancel := context.WithTimeout(context.Background(), s.Interval)
                if _, err := s.Dispatcher.RunPass(ctx, PassOptions{Source: "sweep"}); err != nil {
                    log.Warn().Err(err).Msg("sweep pass failed")
                }
                cancel()
            }
        }
    }()
}
