package outbox

import (
	"context"
	"log/slog"
	"time"
)

// Run sweeps due jobs every PollInterval, and immediately when woken, until
// ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("outbox worker started", slog.Duration("poll", s.cfg.PollInterval))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		s.drain(ctx)

		select {
		case <-ctx.Done():
			s.log.Info("outbox worker stopped")
			return nil
		case <-ticker.C:
		case code := <-s.wake:
			if err := s.Dispatch(ctx, code); err != nil {
				s.log.Warn("outbox dispatch failed", slog.String("ticket_code", code), slog.Any("err", err))
			}
		}
	}
}

// drain claims and processes batches until no job is due.
func (s *Service) drain(ctx context.Context) {
	for ctx.Err() == nil {
		jobs, err := s.store.Outbox().Claim(ctx, s.cfg.BatchSize, s.cfg.Lease)
		if err != nil {
			s.log.Error("outbox claim failed", slog.Any("err", err))
			return
		}
		if len(jobs) == 0 {
			return
		}

		for _, job := range jobs {
			// Failures are logged and rescheduled by process.
			_ = s.process(ctx, job)
		}
	}
}
