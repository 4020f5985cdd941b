package dedup

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically drops expired ids from a Deduplicator.
type Sweeper struct {
	dedup    Deduplicator
	interval time.Duration
	log      *slog.Logger

	// OnSweep, if set, is called after every successful sweep.
	OnSweep func(removed int)
}

func NewSweeper(d Deduplicator, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{dedup: d, interval: interval, log: log}
}

// Serve runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Serve(ctx context.Context) error {
	s.log.Info("dedup sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.dedup.Sweep(ctx)
	if err != nil {
		s.log.Error("dedup sweep", "error", err)
		return
	}
	if n > 0 {
		s.log.Debug("dedup sweep", "removed", n)
	}
	if s.OnSweep != nil {
		s.OnSweep(n)
	}
}

func (s *Sweeper) String() string { return "dedup-sweeper" }
