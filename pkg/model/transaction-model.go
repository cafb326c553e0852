package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types
const (
	TxTypeDeposit  = "deposit"
	TxTypeWithdraw = "withdraw"
	TxTypeTransfer = "transfer"
	TxTypeTrade    = "trade"
)

// Transaction statuses. Every status but pending is terminal.
const (
	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
	TxStatusFailed    = "failed"
	TxStatusCancelled = "cancelled"
)

func IsTerminal(status string) bool {
	return status != TxStatusPending
}

// Transaction model
//
// Rows are never deleted. Amount and Fee are fixed at creation; Status,
// Confirmations, TxHash, FlaggedAt and Reason change through the state
// machine only, guarded by Version.
type Transaction struct {
	ID string `json:"id" gorm:"omitempty; primaryKey; type:varchar(36);"`

	Owner   int64  `json:"owner" gorm:"omitempty; not null; default:0; index:idx_tx_owner_coin;"`
	Type    string `json:"type" gorm:"omitempty; not null; default:''; type:varchar(16);"`
	Coin    string `json:"coin" gorm:"omitempty; not null; default:''; type:varchar(16); index:idx_tx_owner_coin;"`
	Network string `json:"network" gorm:"omitempty; not null; default:''; type:varchar(16);"`

	Amount decimal.Decimal `json:"amount" gorm:"omitempty; not null; default:0; type:decimal(36,18);"`
	Fee    decimal.Decimal `json:"fee" gorm:"omitempty; not null; default:0; type:decimal(36,18);"`

	Status string `json:"status" gorm:"omitempty; not null; default:'pending'; type:varchar(16); index;"`

	FromAddress string `json:"fromAddress" gorm:"omitempty; not null; default:''; type:varchar(128);"`
	ToAddress   string `json:"toAddress" gorm:"omitempty; not null; default:''; type:varchar(128);"`
	TxHash      string `json:"txHash" gorm:"omitempty; not null; default:''; type:varchar(128); index;"`

	DepositKey *string `json:"-" gorm:"omitempty; type:varchar(300); uniqueindex;"` // set on deposits with a hash, see SetDepositKey

	Confirmations         int `json:"confirmations" gorm:"omitempty; not null; default:0;"`
	RequiredConfirmations int `json:"requiredConfirmations" gorm:"omitempty; not null; default:0;"`

	Note   string `json:"note" gorm:"omitempty; not null; default:''; type:varchar(255);"`
	Reason string `json:"reason" gorm:"omitempty; not null; default:''; type:varchar(255);"` // why it failed or was cancelled

	FlaggedAt *time.Time `json:"flaggedAt,omitempty"` // pending too long, waiting for an operator

	Version int64 `json:"version" gorm:"omitempty; not null; default:0;"`

	Model
}

// Locked is what the transaction keeps frozen while pending.
func (t Transaction) Locked() decimal.Decimal {
	if t.Type != TxTypeWithdraw {
		return decimal.Zero
	}
	return t.Amount.Add(t.Fee)
}

// SetDepositKey keys a deposit by the chain credit behind it,
// network:txHash:toAddress, so one credit can be recorded once. Withdrawals
// and deposits without a hash stay unkeyed.
func (t *Transaction) SetDepositKey() {
	if t.Type != TxTypeDeposit || t.TxHash == "" {
		t.DepositKey = nil
		return
	}
	k := t.Network + ":" + t.TxHash + ":" + t.ToAddress
	t.DepositKey = &k
}
