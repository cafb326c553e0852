package model

import (
	"time"
)

// Address model
//
// Deposit addresses derived from the network's extended public key. Rotated
// addresses stay with Active=false so late deposits can still be attributed.
type Address struct {
	ID int64 `json:"id" gorm:"omitempty; primaryKey;"`

	Owner   int64  `json:"owner" gorm:"omitempty; not null; default:0; index:idx_addr_owner_coin;"`
	Coin    string `json:"coin" gorm:"omitempty; not null; default:''; type:varchar(16); index:idx_addr_owner_coin;"`
	Network string `json:"network" gorm:"omitempty; not null; default:''; type:varchar(16); uniqueindex:idx_addr_network_address;"`
	Address string `json:"address" gorm:"omitempty; not null; default:''; type:varchar(128); uniqueindex:idx_addr_network_address;"`

	DeriveIndex uint32 `json:"deriveIndex" gorm:"omitempty; not null; default:0;"`

	Active    bool       `json:"active" gorm:"omitempty; not null; default:false;"`
	RetiredAt *time.Time `json:"retiredAt,omitempty"`

	Model
}
