package ledger

import (
	"strconv"
	"time"

	"ccwallet/pkg/model"
	"ccwallet/pkg/werr"

	"github.com/shopspring/decimal"
)

// plan is the decided next version of a transaction.
type plan struct {
	next model.Transaction
	kind string // event kind
	noop bool   // already in the requested state
}

func unchanged(t model.Transaction) plan {
	return plan{next: t, noop: true}
}

// Balance effects of reaching a status.
const (
	effectCredit  = "credit"
	effectSettle  = "settle"
	effectRelease = "release"
)

// effectOf is the transition table. Anything not listed moves no balance.
func effectOf(t model.Transaction, to string) (string, decimal.Decimal) {
	switch {
	case t.Type == model.TxTypeDeposit && to == model.TxStatusConfirmed:
		return effectCredit, t.Amount
	case t.Type == model.TxTypeWithdraw && to == model.TxStatusConfirmed:
		return effectSettle, t.Locked()
	case t.Type == model.TxTypeWithdraw && (to == model.TxStatusFailed || to == model.TxStatusCancelled):
		return effectRelease, t.Locked()
	}
	return "", decimal.Zero
}

// settled handles a request against a terminal transaction: asking for the
// state it is already in is a no-op, anything else is refused.
func settled(t model.Transaction, to string) (plan, error) {
	if t.Status == to {
		return unchanged(t), nil
	}
	return plan{}, werr.WithDetails(werr.ErrInvalidTransition, map[string]string{
		"id":     t.ID,
		"status": t.Status,
		"target": to,
	})
}

// setHash records hash once. It reports whether t changed.
func setHash(t *model.Transaction, hash string) (bool, error) {
	switch {
	case hash == "" || hash == t.TxHash:
		return false, nil
	case t.TxHash != "":
		return false, werr.WithDetails(werr.ErrHashMismatch, map[string]string{"id": t.ID, "recorded": t.TxHash, "reported": hash})
	}
	t.TxHash = hash
	return true, nil
}

func planReport(t model.Transaction, confirmations int, hash string) (plan, error) {
	if confirmations < 0 {
		return plan{}, werr.WithDetails(werr.New(werr.ErrValidation, "confirmations must not be negative"),
			map[string]string{"confirmations": strconv.Itoa(confirmations)})
	}
	if model.IsTerminal(t.Status) {
		if t.Status == model.TxStatusConfirmed && hash != "" && t.TxHash != "" && hash != t.TxHash {
			return plan{}, werr.WithDetails(werr.ErrHashMismatch, map[string]string{"id": t.ID, "recorded": t.TxHash, "reported": hash})
		}
		return settled(t, model.TxStatusConfirmed)
	}
	if confirmations < t.Confirmations {
		return plan{}, werr.WithDetails(werr.ErrConfirmationsDecreased, map[string]string{
			"id":       t.ID,
			"recorded": strconv.Itoa(t.Confirmations),
			"reported": strconv.Itoa(confirmations),
		})
	}

	next := t
	hashSet, err := setHash(&next, hash)
	if err != nil {
		return plan{}, err
	}
	if t.Type == model.TxTypeWithdraw && next.TxHash == "" {
		return plan{}, werr.WithDetails(werr.New(werr.ErrValidation, "withdrawal confirmations need the chain hash"), map[string]string{"id": t.ID})
	}
	next.Confirmations = confirmations

	if confirmations >= t.RequiredConfirmations {
		next.Status = model.TxStatusConfirmed
		return plan{next: next, kind: model.EventConfirmed}, nil
	}
	if !hashSet && confirmations == t.Confirmations {
		return unchanged(t), nil
	}
	kind := model.EventConfirmations
	if hashSet && t.Type == model.TxTypeWithdraw {
		kind = model.EventBroadcast
	}
	return plan{next: next, kind: kind}, nil
}

// planConfirm finalizes regardless of the confirmation count. Withdrawals
// must have been broadcast.
func planConfirm(t model.Transaction, hash string) (plan, error) {
	if model.IsTerminal(t.Status) {
		return settled(t, model.TxStatusConfirmed)
	}

	next := t
	if _, err := setHash(&next, hash); err != nil {
		return plan{}, err
	}
	if t.Type == model.TxTypeWithdraw && next.TxHash == "" {
		return plan{}, werr.WithDetails(werr.New(werr.ErrInvalidTransition, "withdrawal has not been broadcast"), map[string]string{"id": t.ID})
	}
	if next.Confirmations < next.RequiredConfirmations {
		next.Confirmations = next.RequiredConfirmations
	}
	next.Status = model.TxStatusConfirmed
	return plan{next: next, kind: model.EventConfirmed}, nil
}

func planFail(t model.Transaction, reason string) (plan, error) {
	if model.IsTerminal(t.Status) {
		return settled(t, model.TxStatusFailed)
	}
	next := t
	next.Status = model.TxStatusFailed
	next.Reason = reason
	return plan{next: next, kind: model.EventFailed}, nil
}

func planCancel(t model.Transaction, reason string) (plan, error) {
	if model.IsTerminal(t.Status) {
		return settled(t, model.TxStatusCancelled)
	}
	if t.Type != model.TxTypeWithdraw {
		return plan{}, werr.WithDetails(werr.New(werr.ErrInvalidTransition, "only withdrawals can be cancelled"), map[string]string{"id": t.ID, "type": t.Type})
	}
	if t.TxHash != "" {
		return plan{}, werr.WithDetails(werr.ErrCancelAfterBroadcast, map[string]string{"id": t.ID, "txHash": t.TxHash})
	}
	next := t
	next.Status = model.TxStatusCancelled
	next.Reason = reason
	return plan{next: next, kind: model.EventCancelled}, nil
}

func planBroadcast(t model.Transaction, hash string) (plan, error) {
	if hash == "" {
		return plan{}, werr.New(werr.ErrValidation, "hash is required")
	}
	if t.Type != model.TxTypeWithdraw {
		return plan{}, werr.WithDetails(werr.New(werr.ErrInvalidTransition, "only withdrawals are broadcast"), map[string]string{"id": t.ID, "type": t.Type})
	}

	next := t
	changed, err := setHash(&next, hash)
	if err != nil {
		return plan{}, err
	}
	if !changed {
		return unchanged(t), nil
	}
	if model.IsTerminal(t.Status) {
		return settled(t, model.TxStatusPending)
	}
	return plan{next: next, kind: model.EventBroadcast}, nil
}

// planFlag marks a withdrawal that still waits for its hash. Anything that
// moved on in the meantime is left alone.
func planFlag(t model.Transaction, at time.Time) plan {
	if t.Type != model.TxTypeWithdraw || t.Status != model.TxStatusPending || t.TxHash != "" || t.FlaggedAt != nil {
		return unchanged(t)
	}
	next := t
	next.FlaggedAt = &at
	return plan{next: next, kind: model.EventFlagged}
}
