// Package ledger records wallet transactions and moves them through their
// life cycle.
//
// A transaction starts pending and ends confirmed, failed or cancelled.
// Every accepted change bumps the row version, writes an audit event and,
// when the transition table says so, changes the balance, all in one unit
// of work. Balance effects carry an effect key (<id>:<status>) so a
// transition can move money at most once.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"ccwallet/pkg/bank"
	"ccwallet/pkg/currency"
	"ccwallet/pkg/guard"
	"ccwallet/pkg/metrics"
	"ccwallet/pkg/model"
	"ccwallet/pkg/store"
	"ccwallet/pkg/werr"
	"ccwallet/pkg/xlog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

var logger = xlog.GetLogger()

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Notifier hears about every committed change, after the commit.
type Notifier interface {
	Notify(ctx context.Context, t model.Transaction, ev model.TransactionEvent)
}

type Request struct {
	Type    string
	Owner   int64
	Coin    string
	Network string
	Address string // destination of a withdrawal, receiving address of a deposit
	Amount  decimal.Decimal
	TxHash  string // deposits already seen on chain
	Note    string
}

type Ledger struct {
	st     store.Store
	reg    *currency.Registry
	bank   *bank.Bank
	guard  *guard.Guard
	notify Notifier // optional
	now    func() time.Time
}

func New(st store.Store, reg *currency.Registry, b *bank.Bank, g *guard.Guard, n Notifier) *Ledger {
	return &Ledger{st: st, reg: reg, bank: b, guard: g, notify: n, now: time.Now}
}

// SetClock replaces time.Now, for tests and tools replaying history.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Create records a new pending transaction of req.Type.
func (l *Ledger) Create(ctx context.Context, req Request) (model.Transaction, error) {
	switch req.Type {
	case model.TxTypeDeposit:
		return l.CreateDeposit(ctx, req)
	case model.TxTypeWithdraw:
		return l.CreateWithdrawal(ctx, req)
	case model.TxTypeTransfer, model.TxTypeTrade:
		return model.Transaction{}, werr.WithDetails(werr.New(werr.ErrValidation, "transaction type cannot be requested"),
			map[string]string{"type": req.Type})
	}
	return model.Transaction{}, werr.WithDetails(werr.New(werr.ErrValidation, "unknown transaction type"), map[string]string{"type": req.Type})
}

// CreateDeposit records an incoming transfer. Balances do not change until
// it is confirmed.
func (l *Ledger) CreateDeposit(ctx context.Context, req Request) (t model.Transaction, err error) {
	timer := prometheus.NewTimer(metrics.OpLatency.WithLabelValues("deposit"))
	defer timer.ObserveDuration()
	defer func() {
		if err != nil {
			reject("deposit", err)
			logger.Warningf("deposit of owner:%d %s %s rejected, err:%s", req.Owner, req.Amount, req.Coin, err)
		}
	}()

	info, err := l.reg.Get(req.Coin)
	if err != nil {
		return t, err
	}
	network := strings.ToUpper(req.Network)
	if !info.SupportsNetwork(network) {
		return t, werr.WithDetails(werr.ErrInvalidNetwork, map[string]string{"currency": info.Symbol, "network": req.Network})
	}
	if !req.Amount.IsPositive() {
		return t, werr.WithDetails(werr.New(werr.ErrInvalidAmount, "amount must be positive"), map[string]string{"amount": req.Amount.String()})
	}
	if err = info.CheckPrecision(req.Amount); err != nil {
		return t, err
	}
	if req.Amount.LessThan(info.MinDeposit) {
		return t, werr.WithDetails(werr.ErrAmountBelowMinimum, map[string]string{"min": info.MinDeposit.String()})
	}
	if req.Address != "" {
		if err = currency.ValidateAddress(network, req.Address); err != nil {
			return t, err
		}
	}

	t = l.newTransaction(model.TxTypeDeposit, req, info, network, decimal.Zero)
	ev := l.newEvent(t, model.EventCreated, "")
	var seen *model.Transaction
	for round := 1; round <= 2; round++ {
		err = l.st.Atomic(ctx, func(r store.Repo) error {
			if seen, err = l.seenDeposit(ctx, r, t); err != nil || seen != nil {
				return err
			}
			if err := r.InsertTransaction(ctx, &t); err != nil {
				return err
			}
			return r.InsertEvent(ctx, &ev)
		})
		if round == 1 && errors.Is(err, store.ErrDuplicate) && t.DepositKey != nil {
			logger.Infof("deposit %s of owner:%d raced on its key, retrying", t.TxHash, t.Owner)
			continue
		}
		break
	}
	if err != nil {
		return model.Transaction{}, err
	}
	if seen != nil {
		logger.Infof("deposit %s already recorded as %s, owner:%d", t.TxHash, seen.ID, seen.Owner)
		return *seen, nil
	}

	logger.Infof("deposit %s created, owner:%d, %s %s on %s, required:%d", t.ID, t.Owner, t.Amount, t.Coin, t.Network, t.RequiredConfirmations)
	l.committed(ctx, t, ev, false)
	return t, nil
}

// seenDeposit returns the deposit already recorded for the chain credit of
// t. A replay of the same credit gets the recorded row back, a different
// claim on it fails with ErrDuplicateDeposit.
func (l *Ledger) seenDeposit(ctx context.Context, r store.Repo, t model.Transaction) (*model.Transaction, error) {
	if t.DepositKey == nil {
		return nil, nil
	}
	prev, err := r.FindDeposit(ctx, *t.DepositKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if prev.Owner != t.Owner || prev.Coin != t.Coin || !prev.Amount.Equal(t.Amount) {
		return nil, werr.WithDetails(werr.ErrDuplicateDeposit, map[string]string{"id": prev.ID, "txHash": t.TxHash})
	}
	return &prev, nil
}

// CreateWithdrawal admits req through the guard, reserving amount + fee and
// recording the transaction together. A lost race on the balance row
// retries the whole sequence once.
func (l *Ledger) CreateWithdrawal(ctx context.Context, req Request) (t model.Transaction, err error) {
	timer := prometheus.NewTimer(metrics.OpLatency.WithLabelValues("withdraw"))
	defer timer.ObserveDuration()
	defer func() {
		if err != nil {
			reject("withdraw", err)
			logger.Warningf("withdraw of owner:%d %s %s rejected, err:%s", req.Owner, req.Amount, req.Coin, err)
		}
	}()

	greq := guard.Request{Owner: req.Owner, Coin: req.Coin, Network: req.Network, Address: req.Address, Amount: req.Amount}

	var ev model.TransactionEvent
	for round := 1; round <= 2; round++ {
		err = l.st.Atomic(ctx, func(r store.Repo) error {
			_, err := l.guard.Admit(ctx, r, greq, func(q guard.Quote) error {
				t = l.newTransaction(model.TxTypeWithdraw, req, q.Info, strings.ToUpper(req.Network), q.Fee)
				if err := r.InsertTransaction(ctx, &t); err != nil {
					return err
				}
				ev = l.newEvent(t, model.EventCreated, "")
				ev.FreeChange = t.Locked().Neg()
				ev.FreezeChange = t.Locked()
				ev.EffectKey = model.EffectKey(t.ID, model.TxStatusPending)
				return r.InsertEvent(ctx, &ev)
			})
			return err
		})
		if round == 1 && errors.Is(err, werr.ErrConcurrentModification) {
			logger.Infof("withdraw of owner:%d %s lost the balance race, retrying", req.Owner, req.Coin)
			continue
		}
		break
	}
	if err != nil {
		return model.Transaction{}, err
	}

	logger.Infof("withdraw %s created, owner:%d, %s + fee %s %s to %s on %s", t.ID, t.Owner, t.Amount, t.Fee, t.Coin, t.ToAddress, t.Network)
	l.committed(ctx, t, ev, true)
	return t, nil
}

func (l *Ledger) newTransaction(typ string, req Request, info currency.Info, network string, fee decimal.Decimal) model.Transaction {
	now := l.now()
	t := model.Transaction{
		ID:                    uuid.NewString(),
		Owner:                 req.Owner,
		Type:                  typ,
		Coin:                  info.Symbol,
		Network:               network,
		Amount:                req.Amount,
		Fee:                   fee,
		Status:                model.TxStatusPending,
		ToAddress:             req.Address,
		RequiredConfirmations: info.Confirmations,
		Note:                  req.Note,
		Version:               1,
		Model:                 model.Model{CreatedAt: now, UpdatedAt: now},
	}
	if typ == model.TxTypeDeposit {
		t.TxHash = req.TxHash
		t.SetDepositKey()
	}
	return t
}

func (l *Ledger) newEvent(t model.Transaction, kind, from string) model.TransactionEvent {
	return model.TransactionEvent{
		EventID:       uuid.NewString(),
		TxID:          t.ID,
		Owner:         t.Owner,
		Coin:          t.Coin,
		Kind:          kind,
		FromStatus:    from,
		ToStatus:      t.Status,
		Confirmations: t.Confirmations,
		TxHash:        t.TxHash,
		Reason:        t.Reason,
		CreatedAt:     l.now(),
	}
}

// committed runs after a successful commit.
func (l *Ledger) committed(ctx context.Context, t model.Transaction, ev model.TransactionEvent, moved bool) {
	if moved {
		l.bank.Invalidate(ctx, t.Owner, t.Coin)
	}
	if l.notify != nil {
		l.notify.Notify(ctx, t, ev)
	}
	metrics.Transitions.WithLabelValues(t.Type, t.Status).Inc()
}

func reject(op string, err error) {
	metrics.Rejections.WithLabelValues(op, werr.CodeOf(err)).Inc()
}

// Get returns the transaction with id.
func (l *Ledger) Get(ctx context.Context, id string) (model.Transaction, error) {
	t, err := l.st.GetTransaction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return t, werr.WithDetails(werr.ErrNotFound, map[string]string{"id": id})
	}
	return t, err
}

// History returns the audit events of a transaction, oldest first.
func (l *Ledger) History(ctx context.Context, id string) ([]model.TransactionEvent, error) {
	if _, err := l.Get(ctx, id); err != nil {
		return nil, err
	}
	return l.st.ListEvents(ctx, id)
}

// ListByUser returns the owner's transactions newest first. A zero limit
// means DefaultLimit; larger than MaxLimit is cut to MaxLimit.
func (l *Ledger) ListByUser(ctx context.Context, owner int64, f store.Filter) ([]model.Transaction, error) {
	f.Owner = owner
	if f.Coin != "" {
		info, err := l.reg.Get(f.Coin)
		if err != nil {
			return nil, err
		}
		f.Coin = info.Symbol
	}
	switch f.Type {
	case "", model.TxTypeDeposit, model.TxTypeWithdraw, model.TxTypeTransfer, model.TxTypeTrade:
	default:
		return nil, werr.WithDetails(werr.New(werr.ErrValidation, "unknown transaction type"), map[string]string{"type": f.Type})
	}
	switch f.Status {
	case "", model.TxStatusPending, model.TxStatusConfirmed, model.TxStatusFailed, model.TxStatusCancelled:
	default:
		return nil, werr.WithDetails(werr.New(werr.ErrValidation, "unknown status"), map[string]string{"status": f.Status})
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return nil, werr.New(werr.ErrValidation, "end is before start")
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, werr.New(werr.ErrValidation, "limit and offset must not be negative")
	}
	f.Limit = store.NormalizeLimit(f.Limit, DefaultLimit, MaxLimit)

	return l.st.ListTransactions(ctx, f)
}

// Overdue lists pending withdrawals that have waited longer than d for a
// chain hash and are not flagged yet, oldest first.
func (l *Ledger) Overdue(ctx context.Context, d time.Duration, limit int) ([]model.Transaction, error) {
	return l.st.ListUnbroadcast(ctx, l.now().Add(-d), store.NormalizeLimit(limit, DefaultLimit, MaxLimit))
}
