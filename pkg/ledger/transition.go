package ledger

import (
	"context"
	"errors"
	"time"

	"ccwallet/pkg/metrics"
	"ccwallet/pkg/model"
	"ccwallet/pkg/store"
	"ccwallet/pkg/werr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// ReportConfirmation is the entry point of chain observers. Confirmations
// never decrease; once they reach the required count the transaction is
// confirmed and its balance effect applied. A hash, once recorded, cannot
// change. Reporting again on a confirmed transaction is a no-op.
func (l *Ledger) ReportConfirmation(ctx context.Context, id string, confirmations int, hash string) (model.Transaction, error) {
	return l.transition(ctx, "report", id, func(t model.Transaction) (plan, error) {
		return planReport(t, confirmations, hash)
	})
}

// Confirm finalizes a transaction on an operator's or the hot wallet's
// word. A withdrawal needs its chain hash, recorded before or given here.
func (l *Ledger) Confirm(ctx context.Context, id, hash string) (model.Transaction, error) {
	return l.transition(ctx, "confirm", id, func(t model.Transaction) (plan, error) {
		return planConfirm(t, hash)
	})
}

// Fail ends a transaction the chain rejected. A withdrawal gets its
// reservation back.
func (l *Ledger) Fail(ctx context.Context, id, reason string) (model.Transaction, error) {
	return l.transition(ctx, "fail", id, func(t model.Transaction) (plan, error) {
		return planFail(t, reason)
	})
}

// Cancel withdraws a withdrawal that has not been broadcast. A non-zero
// owner must own the transaction; zero is an operator.
func (l *Ledger) Cancel(ctx context.Context, id string, owner int64, reason string) (model.Transaction, error) {
	return l.transition(ctx, "cancel", id, func(t model.Transaction) (plan, error) {
		if owner != 0 && t.Owner != owner {
			return plan{}, werr.WithDetails(werr.ErrNotFound, map[string]string{"id": id})
		}
		return planCancel(t, reason)
	})
}

// MarkBroadcast records the chain hash of a withdrawal the hot wallet sent.
// From then on it can no longer be cancelled.
func (l *Ledger) MarkBroadcast(ctx context.Context, id, hash string) (model.Transaction, error) {
	return l.transition(ctx, "broadcast", id, func(t model.Transaction) (plan, error) {
		return planBroadcast(t, hash)
	})
}

// FlagForReview marks a pending withdrawal that still has no hash. It is
// never cancelled automatically. flagged is false when the transaction had
// moved on or was flagged before.
func (l *Ledger) FlagForReview(ctx context.Context, id string) (t model.Transaction, flagged bool, err error) {
	t, err = l.transition(ctx, "flag", id, func(t model.Transaction) (plan, error) {
		p := planFlag(t, l.now())
		flagged = !p.noop
		return p, nil
	})
	if err != nil {
		return t, false, err
	}
	if flagged {
		logger.Warningf("withdraw %s of owner:%d has no chain hash since %s, flagged for review",
			t.ID, t.Owner, t.CreatedAt.Format(time.RFC3339))
	}
	return t, flagged, nil
}

// transition runs decide against the current row and applies its plan in
// one unit of work. A lost compare-and-set retries once on fresh data.
func (l *Ledger) transition(ctx context.Context, op, id string, decide func(t model.Transaction) (plan, error)) (out model.Transaction, err error) {
	timer := prometheus.NewTimer(metrics.OpLatency.WithLabelValues(op))
	defer timer.ObserveDuration()
	defer func() {
		if err != nil {
			reject(op, err)
			logger.Warningf("%s of %s failed with err:%s", op, id, err)
		}
	}()

	var (
		ev    model.TransactionEvent
		moved bool
		noop  bool
	)
	for round := 1; round <= 2; round++ {
		err = l.st.Atomic(ctx, func(r store.Repo) error {
			cur, err := r.GetTransaction(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return werr.WithDetails(werr.ErrNotFound, map[string]string{"id": id})
			}
			if err != nil {
				return err
			}

			p, err := decide(cur)
			if err != nil {
				return err
			}
			if noop = p.noop; noop {
				out = cur
				return nil
			}
			out, ev, moved, err = l.apply(ctx, r, cur, p)
			return err
		})
		if round == 1 && errors.Is(err, werr.ErrConcurrentModification) {
			logger.Infof("%s of %s raced, retrying", op, id)
			continue
		}
		break
	}
	if err != nil {
		return model.Transaction{}, err
	}

	if noop {
		logger.Debugf("%s of %s is a no-op, status:%s", op, id, out.Status)
		return out, nil
	}
	logger.Infof("%s: %s %s of owner:%d is %s, confirmations:%d/%d", op, out.Type, out.ID, out.Owner, out.Status,
		out.Confirmations, out.RequiredConfirmations)
	l.committed(ctx, out, ev, moved)
	return out, nil
}

// apply writes the balance effect, the new row and the audit event through r.
func (l *Ledger) apply(ctx context.Context, r store.Repo, cur model.Transaction, p plan) (model.Transaction, model.TransactionEvent, bool, error) {
	next := p.next
	next.SetDepositKey()
	next.Version = cur.Version + 1
	next.UpdatedAt = l.now()

	ev := l.newEvent(next, p.kind, cur.Status)

	moved := false
	if next.Status != cur.Status {
		effect, amount := effectOf(next, next.Status)
		if effect != "" {
			free, freeze, err := l.move(ctx, r, next, effect, amount)
			if err != nil {
				return cur, ev, false, err
			}
			ev.FreeChange, ev.FreezeChange = free, freeze
			ev.EffectKey = model.EffectKey(next.ID, next.Status)
			moved = true
		}
	}

	if err := r.SwapTransaction(ctx, &next, cur.Version, cur.Status); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return cur, ev, false, werr.Wrap(werr.ErrConcurrentModification, err)
		}
		if errors.Is(err, store.ErrDuplicate) {
			return cur, ev, false, werr.WithDetails(werr.ErrDuplicateDeposit, map[string]string{"id": next.ID, "txHash": next.TxHash})
		}
		return cur, ev, false, err
	}
	if err := r.InsertEvent(ctx, &ev); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			logger.Warningf("effect %s of %s already recorded", next.Status, next.ID)
			return cur, ev, false, werr.Wrap(werr.ErrConcurrentModification, err)
		}
		return cur, ev, false, err
	}
	return next, ev, moved, nil
}

// move applies a balance effect and returns the free and freeze deltas.
func (l *Ledger) move(ctx context.Context, r store.Repo, t model.Transaction, effect string, amount decimal.Decimal) (free, freeze decimal.Decimal, err error) {
	teller := l.bank.Teller(r)
	switch effect {
	case effectCredit:
		_, err = teller.Credit(ctx, t.Owner, t.Coin, amount)
		return amount, decimal.Zero, err
	case effectSettle:
		_, err = teller.Settle(ctx, t.Owner, t.Coin, amount)
		return decimal.Zero, amount.Neg(), err
	case effectRelease:
		_, err = teller.Release(ctx, t.Owner, t.Coin, amount)
		return amount, amount.Neg(), err
	}
	return decimal.Zero, decimal.Zero, werr.Newf(werr.ErrInternal, "unknown balance effect %s", effect)
}
