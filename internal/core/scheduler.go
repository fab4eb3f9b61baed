package core

// scheduler.go runs the prompt expiry sweeper.
//
// A prompt left unanswered past its expiry pauses its session; the prompted
// item stays PENDING and is asked again after resume. Late responses apply
// the same policy eagerly, so the sweeper only has to catch prompts nobody
// answers. It logs failures and keeps running until ctx is cancelled.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired prompts are checked.
const DefaultSweepInterval = time.Minute

// StartPromptSweeper blocks, pausing sessions with expired prompts every
// interval. It runs once immediately.
func (s *Service) StartPromptSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	slog.Info("prompt sweeper started", "interval", interval.String())

	s.sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("prompt sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	start := time.Now()
	n, err := s.ExpirePrompts(ctx)
	if err != nil {
		slog.Error("prompt sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("paused sessions with expired prompts",
			"sessions", n,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
