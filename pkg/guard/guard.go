// Package guard decides whether a withdrawal may be created.
//
// Checks run in a fixed order and the first failure is returned:
//
//  1. the currency is supported and the network belongs to it
//  2. the amount is positive, within the currency precision, and inside
//     [min withdraw, max withdraw]
//  3. the destination address is well formed for the network
//  4. the available balance covers amount + fee
//  5. the user's kyc tier allows the amount, when kyc is enabled
//
// A request that passes has amount + fee reserved before the transaction
// record is created; both happen in the caller's unit of work.
package guard

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"ccwallet/pkg/bank"
	"ccwallet/pkg/currency"
	"ccwallet/pkg/kyc"
	"ccwallet/pkg/store"
	"ccwallet/pkg/werr"
	"ccwallet/pkg/xlog"

	"github.com/shopspring/decimal"
)

var logger = xlog.GetLogger()

type Request struct {
	Owner   int64
	Coin    string
	Network string
	Address string
	Amount  decimal.Decimal
}

// Quote is what an admitted request costs.
type Quote struct {
	Info   currency.Info
	Amount decimal.Decimal
	Fee    decimal.Decimal
}

func (q Quote) Locked() decimal.Decimal {
	return q.Amount.Add(q.Fee)
}

type Guard struct {
	reg  *currency.Registry
	bank *bank.Bank
	kyc  kyc.Provider
}

// New returns a guard; a nil kyc provider disables check 5.
func New(reg *currency.Registry, b *bank.Bank, kp kyc.Provider) *Guard {
	return &Guard{reg: reg, bank: b, kyc: kp}
}

// Check runs checks 1 to 5 without changing anything.
func (g *Guard) Check(ctx context.Context, r store.Repo, req Request) (q Quote, err error) {
	// 1
	info, err := g.reg.Get(req.Coin)
	if err != nil {
		return q, err
	}
	network := strings.ToUpper(req.Network)
	if !info.SupportsNetwork(network) {
		return q, werr.WithDetails(werr.ErrInvalidNetwork, map[string]string{"currency": info.Symbol, "network": req.Network})
	}

	// 2
	if err = checkAmount(info, req.Amount); err != nil {
		return q, err
	}

	// 3
	if err = currency.ValidateAddress(network, req.Address); err != nil {
		return q, err
	}

	q = Quote{Info: info, Amount: req.Amount, Fee: info.WithdrawFee}

	// 4
	bal, err := r.GetBalance(ctx, req.Owner, info.Symbol)
	if err != nil {
		return q, err
	}
	if bal.Free.LessThan(q.Locked()) {
		return q, werr.WithDetails(werr.ErrInsufficientFunds, map[string]string{
			"available": bal.Free.String(),
			"required":  q.Locked().String(),
		})
	}

	// 5
	if g.kyc != nil {
		if err = g.checkKyc(ctx, req.Owner, info, req.Amount); err != nil {
			return q, err
		}
	}

	return q, nil
}

func checkAmount(info currency.Info, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return werr.WithDetails(werr.New(werr.ErrInvalidAmount, "amount must be positive"), map[string]string{"amount": amount.String()})
	}
	if err := info.CheckPrecision(amount); err != nil {
		return err
	}
	if amount.LessThan(info.MinWithdraw) {
		return werr.WithDetails(werr.ErrAmountBelowMinimum, map[string]string{"min": info.MinWithdraw.String()})
	}
	if info.MaxWithdraw.IsPositive() && amount.GreaterThan(info.MaxWithdraw) {
		return werr.WithDetails(werr.ErrAmountAboveMaximum, map[string]string{"max": info.MaxWithdraw.String()})
	}
	return nil
}

func (g *Guard) checkKyc(ctx context.Context, owner int64, info currency.Info, amount decimal.Decimal) error {
	tier, err := g.kyc.GetKycTier(ctx, owner)
	if err != nil {
		if errors.Is(err, werr.ErrExternalTimeout) {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return werr.Wrap(werr.ErrExternalTimeout, err)
		}
		logger.Errorf("kyc tier of owner:%d failed with err:%s", owner, err)
		return werr.Wrap(werr.ErrInternal, err)
	}
	limit, ok := info.TierLimit(tier)
	if ok && amount.GreaterThan(limit) {
		return werr.WithDetails(werr.ErrKycLimit, map[string]string{
			"tier":  strconv.Itoa(tier),
			"limit": limit.String(),
		})
	}
	return nil
}

// Admit runs Check, reserves amount + fee through r and then calls create.
// If create fails the reservation is released again before returning the
// create error.
func (g *Guard) Admit(ctx context.Context, r store.Repo, req Request, create func(q Quote) error) (q Quote, err error) {
	q, err = g.Check(ctx, r, req)
	if err != nil {
		return q, err
	}

	teller := g.bank.Teller(r)
	if _, err = teller.Reserve(ctx, req.Owner, q.Info.Symbol, q.Locked()); err != nil {
		return q, err
	}

	if err = create(q); err != nil {
		if _, rerr := teller.Release(ctx, req.Owner, q.Info.Symbol, q.Locked()); rerr != nil {
			logger.Errorf("release after failed create, owner:%d, coin:%s, amount:%s, err:%s",
				req.Owner, q.Info.Symbol, q.Locked(), rerr)
		}
		return q, err
	}
	return q, nil
}
