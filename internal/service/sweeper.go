package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dimonss/AccountingForRepairsBackend/internal/metrics"
)

// TokenPurger deletes expired and revoked refresh tokens.
type TokenPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically removes dead refresh token rows.  A failed cycle is
// logged and retried on the next tick.
type Sweeper struct {
	tokens   TokenPurger
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewSweeper returns a sweeper running every interval.
func NewSweeper(tokens TokenPurger, interval time.Duration, log *zap.Logger, now func() time.Time) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{tokens: tokens, interval: interval, timeout: time.Minute, now: now, log: log.Named("sweeper")}
}

// Run sweeps on every tick until ctx is cancelled.  The ticker is stopped
// before Run returns.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	s.log.Info("started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopped")
			return
		case <-t.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single cleanup cycle and returns the number of deleted
// rows.  It never panics.
func (s *Sweeper) SweepOnce(ctx context.Context) (n int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweeper panic: %v", r)
		}
		if err != nil {
			metrics.SweepErrors.Inc()
			s.log.Error("cleanup failed", zap.Error(err))
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err = s.tokens.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	metrics.SweptTokens.Add(float64(n))
	if n > 0 {
		s.log.Info("cleaned up refresh tokens", zap.Int64("deleted", n))
	}
	return n, nil
}
