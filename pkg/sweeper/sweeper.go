// Package sweeper flags withdrawals that waited too long for a chain hash.
//
// Flagged withdrawals stay pending with their funds reserved until an
// operator decides; nothing is cancelled here.
package sweeper

import (
	"context"
	"time"

	"ccwallet/pkg/metrics"
	"ccwallet/pkg/model"
	"ccwallet/pkg/xlog"
)

var logger = xlog.GetLogger()

const pageSize = 100

type Ledger interface {
	Overdue(ctx context.Context, d time.Duration, limit int) ([]model.Transaction, error)
	FlagForReview(ctx context.Context, id string) (model.Transaction, bool, error)
}

// Locker keeps two processes from sweeping at the same time.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}

type Sweeper struct {
	l        Ledger
	lock     Locker // optional
	after    time.Duration
	interval time.Duration
}

func New(l Ledger, lock Locker, after, interval time.Duration) *Sweeper {
	return &Sweeper{l: l, lock: lock, after: after, interval: interval}
}

// SweepOnce flags every overdue withdrawal. It does nothing when another
// process holds the lock.
func (s *Sweeper) SweepOnce(ctx context.Context) (flagged int, err error) {
	if s.lock != nil {
		unlock, ok, err := s.lock.TryLock(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			logger.Debugf("sweeper lock is held elsewhere, skip")
			return 0, nil
		}
		defer unlock()
	}

	for {
		list, err := s.l.Overdue(ctx, s.after, pageSize)
		if err != nil {
			return flagged, err
		}

		n := 0
		for _, t := range list {
			_, ok, err := s.l.FlagForReview(ctx, t.ID)
			if err != nil {
				logger.Errorf("flag %s failed with err:%s", t.ID, err)
				continue
			}
			if ok {
				n++
				metrics.Flagged.Inc()
			}
		}
		flagged += n
		// a short page is the last one; a page without progress would repeat
		if len(list) < pageSize || n == 0 {
			return flagged, nil
		}
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	logger.Infof("sweeper starts, review after %s, every %s", s.after, s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for round := 1; ; round++ {
		n, err := s.SweepOnce(ctx)
		if err != nil {
			logger.Errorf("sweep round:%d failed with err:%s", round, err)
		} else if n > 0 {
			logger.Warningf("sweep round:%d flagged %d withdrawals for review", round, n)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			logger.Infof("sweeper stops after round %d", round)
			return
		}
	}
}
