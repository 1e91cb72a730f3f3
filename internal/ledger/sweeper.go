package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper periodically opens missing credits and persists the overdue label.
type Sweeper struct {
	Ledger    Service
	Interval  time.Duration
	BatchSize int
}

// Run ticks until ctx is cancelled. The first pass runs immediately.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	batch := s.BatchSize
	if batch <= 0 {
		batch = 100
	}
	tctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	created, err := s.Ledger.ReconcileMissing(tctx, batch)
	if err != nil {
		log.Error().Err(err).Msg("reconcile missing credits")
	} else if created > 0 {
		log.Info().Int("created", created).Msg("reconciled missing credits")
	}

	n, err := s.Ledger.SweepOverdue(tctx)
	if err != nil {
		log.Error().Err(err).Msg("sweep overdue credits")
		return
	}
	if n > 0 {
		log.Info().Int64("marked", n).Msg("credits marked overdue")
	}
}
