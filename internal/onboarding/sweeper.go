package onboarding

import (
	"context"
	"time"

	"github.com/tax-connect/pos-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically removes sessions past their expiry. Abandoned flows
// must not linger holding partial credentials.
type Sweeper struct {
	store    SessionStore
	interval time.Duration
	nowFunc  func() time.Time
}

func NewSweeper(store SessionStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		nowFunc:  time.Now,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) {
	removed, err := s.store.Sweep(ctx, s.nowFunc())
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err}).Error("Session sweep failed")
		return
	}

	if removed > 0 {
		metrics.sessionSweptCounter.Add(float64(removed))
		logger.Log.WithFields(logrus.Fields{"removed": removed}).Info("Swept expired onboarding sessions")
	}
}
