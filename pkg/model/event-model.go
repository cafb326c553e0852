package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event kinds
const (
	EventCreated       = "created"
	EventConfirmations = "confirmations"
	EventBroadcast     = "broadcast"
	EventConfirmed     = "confirmed"
	EventFailed        = "failed"
	EventCancelled     = "cancelled"
	EventFlagged       = "flagged"
)

// TransactionEvent model
//
// Audit trail of a transaction, one row per accepted change. Rows that moved
// a balance carry EffectKey (<txid>:<status>); the unique index makes a second
// balance effect for the same target state impossible.
type TransactionEvent struct {
	ID int64 `json:"id" gorm:"omitempty; primaryKey;"`

	EventID string `json:"eventID" gorm:"omitempty; not null; type:varchar(36); uniqueindex;"`
	TxID    string `json:"txID" gorm:"omitempty; not null; type:varchar(36); index;"`
	Owner   int64  `json:"owner" gorm:"omitempty; not null; default:0; index;"`
	Coin    string `json:"coin" gorm:"omitempty; not null; default:''; type:varchar(16);"`
	Kind    string `json:"kind" gorm:"omitempty; not null; default:''; type:varchar(16);"`

	FromStatus string `json:"fromStatus" gorm:"omitempty; not null; default:''; type:varchar(16);"`
	ToStatus   string `json:"toStatus" gorm:"omitempty; not null; default:''; type:varchar(16);"`

	FreeChange   decimal.Decimal `json:"freeChange" gorm:"omitempty; not null; default:0; type:decimal(36,18);"`
	FreezeChange decimal.Decimal `json:"freezeChange" gorm:"omitempty; not null; default:0; type:decimal(36,18);"`

	Confirmations int    `json:"confirmations" gorm:"omitempty; not null; default:0;"`
	TxHash        string `json:"txHash" gorm:"omitempty; not null; default:''; type:varchar(128);"`
	Reason        string `json:"reason" gorm:"omitempty; not null; default:''; type:varchar(255);"`

	EffectKey *string `json:"effectKey,omitempty" gorm:"type:varchar(64); uniqueindex;"`

	CreatedAt time.Time `json:"createdAt" gorm:"omitempty; not null;"`
}

func EffectKey(txID, status string) *string {
	k := txID + ":" + status
	return &k
}
