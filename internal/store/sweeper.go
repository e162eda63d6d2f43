package store

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

const DefaultSweepCron = "@hourly"

// StartSweeper purges expired session tokens on the given cron schedule
// until ctx is cancelled. The returned channel closes once the loop exits.
func (s *Store) StartSweeper(ctx context.Context, cronExpr string) (<-chan struct{}, error) {
	if cronExpr == "" {
		cronExpr = DefaultSweepCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid token sweep cron expression: %q", cronExpr)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.log.Info("token_sweeper_started", zap.String("cron", cronExpr))
		for {
			next, err := gronx.NextTickAfter(cronExpr, time.Now().UTC(), false)
			if err != nil {
				s.log.Error("token_sweeper_nexttick_failed", zap.String("cron", cronExpr), zap.Error(err))
				next = time.Now().Add(time.Minute)
			}

			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				s.log.Info("token_sweeper_stopping")
				return
			case <-timer.C:
			}

			n, err := s.PurgeExpiredTokens(s.now())
			if err != nil {
				s.log.Error("token_sweep_failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("token_sweep_done", zap.Int("purged", n))
			}
		}
	}()
	return done, nil
}
