package server

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// runLoop triggers a full pass every PassInterval until ctx is done. A tick
// that finds a pass already running is skipped. Failures are logged; the
// loop keeps going since the next pass retries whatever was left.
func (s *Server) runLoop(ctx context.Context) {
	if s.cfg.PassInterval <= 0 {
		return
	}
	s.log.Info("server: periodic passes enabled", slog.Duration("interval", s.cfg.PassInterval))

	ticker := time.NewTicker(s.cfg.PassInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sum, err := s.runPass(ctx, "timer", s.cfg.Threshold, nil)
			switch {
			case errors.Is(err, errPassRunning):
				s.log.Info("server: periodic pass skipped, another pass is running")
			case err != nil:
				s.log.Error("server: periodic pass failed", slog.Any("error", err))
			default:
				s.log.Debug("server: periodic pass done",
					slog.Int("processed", sum.Processed),
					slog.Int("new_clusters", sum.NewClusters),
				)
			}
		}
	}
}
