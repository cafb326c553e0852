package ledger

import (
	"context"
	"strconv"

	"ccwallet/pkg/model"
	"ccwallet/pkg/store"
	"ccwallet/pkg/werr"

	"github.com/shopspring/decimal"
)

// Report compares the books of one (owner, coin) with its balance row.
type Report struct {
	Owner int64  `json:"owner"`
	Coin  string `json:"coin"`

	Deposited decimal.Decimal `json:"deposited"` // confirmed deposits
	Withdrawn decimal.Decimal `json:"withdrawn"` // confirmed withdrawals, fees included
	Pending   decimal.Decimal `json:"pending"`   // amount + fee of pending withdrawals

	Total  decimal.Decimal `json:"total"`
	Frozen decimal.Decimal `json:"frozen"`
}

func (r Report) ExpectedTotal() decimal.Decimal {
	return r.Deposited.Sub(r.Withdrawn)
}

func (r Report) Balanced() bool {
	return r.ExpectedTotal().Equal(r.Total) && r.Pending.Equal(r.Frozen)
}

// Reconcile rebuilds the balance of (owner, coin) from its transactions.
// A difference is an invariant violation: it is alerted and returned
// together with the report.
func (l *Ledger) Reconcile(ctx context.Context, owner int64, coin string) (rep Report, err error) {
	info, err := l.reg.Get(coin)
	if err != nil {
		return rep, err
	}
	rep = Report{Owner: owner, Coin: info.Symbol}

	err = l.st.Atomic(ctx, func(r store.Repo) error {
		list, err := r.ListTransactions(ctx, store.Filter{Owner: owner, Coin: info.Symbol})
		if err != nil {
			return err
		}
		for _, t := range list {
			switch {
			case t.Type == model.TxTypeDeposit && t.Status == model.TxStatusConfirmed:
				rep.Deposited = rep.Deposited.Add(t.Amount)
			case t.Type == model.TxTypeWithdraw && t.Status == model.TxStatusConfirmed:
				rep.Withdrawn = rep.Withdrawn.Add(t.Locked())
			case t.Type == model.TxTypeWithdraw && t.Status == model.TxStatusPending:
				rep.Pending = rep.Pending.Add(t.Locked())
			}
		}

		bal, err := r.GetBalance(ctx, owner, info.Symbol)
		if err != nil {
			return err
		}
		rep.Total, rep.Frozen = bal.Total(), bal.Freeze
		return nil
	})
	if err != nil {
		return rep, err
	}

	if !rep.Balanced() {
		logger.Alertf("books of owner:%d %s do not reconcile, expected total:%s frozen:%s, stored total:%s frozen:%s",
			owner, rep.Coin, rep.ExpectedTotal(), rep.Pending, rep.Total, rep.Frozen)
		return rep, werr.WithDetails(werr.ErrInvariantViolation, map[string]string{
			"owner":         strconv.FormatInt(owner, 10),
			"coin":          rep.Coin,
			"expectedTotal": rep.ExpectedTotal().String(),
			"total":         rep.Total.String(),
		})
	}
	return rep, nil
}
