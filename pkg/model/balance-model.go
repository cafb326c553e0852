package model

import (
	"github.com/shopspring/decimal"
)

// Balance model
//
// One row per (owner, coin). Free is the available part and Freeze the part
// reserved by pending withdrawals; total is always Free + Freeze. Version is
// bumped on every write and used as the compare-and-set guard.
type Balance struct {
	ID int64 `json:"id" gorm:"omitempty; primaryKey;"`

	Owner int64  `json:"owner" gorm:"omitempty; not null; default:0; uniqueindex:idx_b_owner_coin;"`
	Coin  string `json:"coin" gorm:"omitempty; not null; default:''; type:varchar(16); uniqueindex:idx_b_owner_coin;"`

	Free   decimal.Decimal `json:"free" gorm:"omitempty; not null; default:0; type:decimal(36,18);"`
	Freeze decimal.Decimal `json:"freeze" gorm:"omitempty; not null; default:0; type:decimal(36,18);"`

	Version int64 `json:"version" gorm:"omitempty; not null; default:0;"`

	Model
}

func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Freeze)
}
