// Package bank keeps the per (user, coin) balances.
//
// Free is what the user can spend, Freeze what pending withdrawals hold. Every
// change is a compare-and-set on the balance row; a lost race surfaces as
// werr.ErrConcurrentModification and is never retried here.
package bank

import (
	"context"
	"errors"
	"time"

	"ccwallet/pkg/currency"
	"ccwallet/pkg/model"
	"ccwallet/pkg/store"
	"ccwallet/pkg/werr"
	"ccwallet/pkg/xlog"

	"github.com/shopspring/decimal"
)

var logger = xlog.GetLogger()

// Balance is the view handed to callers.
type Balance struct {
	Owner     int64           `json:"owner"`
	Coin      string          `json:"coin"`
	Available decimal.Decimal `json:"available"`
	Frozen    decimal.Decimal `json:"frozen"`
	Total     decimal.Decimal `json:"total"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func viewOf(b model.Balance) Balance {
	return Balance{
		Owner:     b.Owner,
		Coin:      b.Coin,
		Available: b.Free,
		Frozen:    b.Freeze,
		Total:     b.Total(),
		UpdatedAt: b.UpdatedAt,
	}
}

type Bank struct {
	st    store.Store
	reg   *currency.Registry
	cache *Cache // optional
}

func New(st store.Store, reg *currency.Registry, cache *Cache) *Bank {
	return &Bank{st: st, reg: reg, cache: cache}
}

// GetBalance returns the balance of (owner, coin); an account never touched
// reads as zero.
func (b *Bank) GetBalance(ctx context.Context, owner int64, coin string) (Balance, error) {
	info, err := b.reg.Get(coin)
	if err != nil {
		return Balance{}, err
	}

	if v, ok := b.cache.Get(ctx, owner, info.Symbol); ok {
		return v, nil
	}

	row, err := b.st.GetBalance(ctx, owner, info.Symbol)
	if err != nil {
		return Balance{}, err
	}
	v := viewOf(row)
	b.cache.Set(ctx, v)
	return v, nil
}

// ListBalances returns every balance row of owner, skipping currencies that
// are no longer configured.
func (b *Bank) ListBalances(ctx context.Context, owner int64) ([]Balance, error) {
	rows, err := b.st.ListBalances(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(rows))
	for _, r := range rows {
		if _, err := b.reg.Get(r.Coin); err != nil {
			continue
		}
		out = append(out, viewOf(r))
	}
	return out, nil
}

// Invalidate drops the cached balance; called once the change committed.
func (b *Bank) Invalidate(ctx context.Context, owner int64, coin string) {
	b.cache.Del(ctx, owner, coin)
}

// Teller applies balance changes through r, usually the Repo of a unit of
// work the caller runs.
func (b *Bank) Teller(r store.Repo) *Teller {
	return &Teller{r: r}
}

// Reserve, Release, Settle and Credit below each run in their own unit of
// work and invalidate the cache afterwards.

func (b *Bank) Reserve(ctx context.Context, owner int64, coin string, amount decimal.Decimal) error {
	return b.apply(ctx, owner, coin, func(t *Teller) error { _, err := t.Reserve(ctx, owner, coin, amount); return err })
}

func (b *Bank) Release(ctx context.Context, owner int64, coin string, amount decimal.Decimal) error {
	return b.apply(ctx, owner, coin, func(t *Teller) error { _, err := t.Release(ctx, owner, coin, amount); return err })
}

func (b *Bank) Settle(ctx context.Context, owner int64, coin string, amount decimal.Decimal) error {
	return b.apply(ctx, owner, coin, func(t *Teller) error { _, err := t.Settle(ctx, owner, coin, amount); return err })
}

func (b *Bank) Credit(ctx context.Context, owner int64, coin string, amount decimal.Decimal) error {
	return b.apply(ctx, owner, coin, func(t *Teller) error { _, err := t.Credit(ctx, owner, coin, amount); return err })
}

func (b *Bank) apply(ctx context.Context, owner int64, coin string, fn func(t *Teller) error) error {
	info, err := b.reg.Get(coin)
	if err != nil {
		return err
	}
	coin = info.Symbol

	err = b.st.Atomic(ctx, func(r store.Repo) error {
		return fn(b.Teller(r))
	})
	if err == nil {
		b.Invalidate(ctx, owner, coin)
	}
	return err
}

// Teller does not cache nor look at the currency registry; callers pass
// normalized symbols.
type Teller struct {
	r store.Repo
}

// Reserve moves amount from free to freeze, failing with
// ErrInsufficientFunds when free is short.
func (t *Teller) Reserve(ctx context.Context, owner int64, coin string, amount decimal.Decimal) (model.Balance, error) {
	return t.change(ctx, owner, coin, amount, "reserve", func(b model.Balance) (decimal.Decimal, decimal.Decimal, error) {
		if b.Free.LessThan(amount) {
			return b.Free, b.Freeze, werr.WithDetails(werr.ErrInsufficientFunds, map[string]string{
				"available": b.Free.String(),
				"required":  amount.String(),
			})
		}
		return b.Free.Sub(amount), b.Freeze.Add(amount), nil
	})
}

// Release moves amount from freeze back to free.
func (t *Teller) Release(ctx context.Context, owner int64, coin string, amount decimal.Decimal) (model.Balance, error) {
	return t.change(ctx, owner, coin, amount, "release", func(b model.Balance) (decimal.Decimal, decimal.Decimal, error) {
		if err := frozenCovers(b, amount, "release"); err != nil {
			return b.Free, b.Freeze, err
		}
		return b.Free.Add(amount), b.Freeze.Sub(amount), nil
	})
}

// Settle removes amount from freeze; the funds left the wallet.
func (t *Teller) Settle(ctx context.Context, owner int64, coin string, amount decimal.Decimal) (model.Balance, error) {
	return t.change(ctx, owner, coin, amount, "settle", func(b model.Balance) (decimal.Decimal, decimal.Decimal, error) {
		if err := frozenCovers(b, amount, "settle"); err != nil {
			return b.Free, b.Freeze, err
		}
		return b.Free, b.Freeze.Sub(amount), nil
	})
}

// Credit adds amount to free.
func (t *Teller) Credit(ctx context.Context, owner int64, coin string, amount decimal.Decimal) (model.Balance, error) {
	return t.change(ctx, owner, coin, amount, "credit", func(b model.Balance) (decimal.Decimal, decimal.Decimal, error) {
		return b.Free.Add(amount), b.Freeze, nil
	})
}

// frozenCovers never clamps: a short freeze means the books are already wrong.
func frozenCovers(b model.Balance, amount decimal.Decimal, op string) error {
	if b.Freeze.GreaterThanOrEqual(amount) {
		return nil
	}
	logger.Alertf("%s would underflow frozen balance, owner:%d, coin:%s, frozen:%s, amount:%s",
		op, b.Owner, b.Coin, b.Freeze, amount)
	return werr.WithDetails(werr.ErrInvariantViolation, map[string]string{
		"op":     op,
		"frozen": b.Freeze.String(),
		"amount": amount.String(),
	})
}

func (t *Teller) change(ctx context.Context, owner int64, coin string, amount decimal.Decimal, op string,
	next func(b model.Balance) (free, freeze decimal.Decimal, err error)) (nb model.Balance, err error) {
	defer func() {
		if err != nil && werr.KindOf(err) != werr.KindInsufficientFunds {
			logger.Warningf("%s %s %s for owner:%d failed with err:%s", op, amount, coin, owner, err)
		}
	}()

	if !amount.IsPositive() {
		return nb, werr.WithDetails(werr.New(werr.ErrInvalidAmount, "amount must be positive"), map[string]string{"amount": amount.String()})
	}

	cur, err := t.r.GetBalance(ctx, owner, coin)
	if err != nil {
		return nb, err
	}
	free, freeze, err := next(cur)
	if err != nil {
		return cur, err
	}
	if free.IsNegative() || freeze.IsNegative() {
		logger.Alertf("%s produced a negative balance, owner:%d, coin:%s, free:%s, freeze:%s", op, owner, coin, free, freeze)
		return cur, werr.ErrInvariantViolation
	}

	nb, err = t.r.SwapBalance(ctx, cur, free, freeze)
	if errors.Is(err, store.ErrConflict) {
		return cur, werr.Wrap(werr.ErrConcurrentModification, err)
	}
	if err != nil {
		return cur, err
	}
	logger.Debugf("%s %s %s owner:%d free:%s->%s freeze:%s->%s", op, amount, coin, owner, cur.Free, free, cur.Freeze, freeze)
	return nb, nil
}
