package model

// Lastkv model
//
// Used to record progress values: the last seq of each journal the relay
// published to nats, and the next derivation index of each network.
type Lastkv struct {
	ID int64 `json:"id" gorm:"omitempty; primaryKey;"`

	App string `json:"app" gorm:"omitempty; not null; default:''; type:varchar(64); uniqueindex:idx_app_key;"` // e.g relay
	Key string `json:"key" gorm:"omitempty; not null; default:''; type:varchar(64); uniqueindex:idx_app_key;"` // e.g journal_seq_<id>
	Val int64  `json:"val" gorm:"omitempty; not null; default:0;"`

	Model
}

const (
	LASTKV_APP_RELAY   = "relay"
	LASTKV_APP_ADDRESS = "address"

	LASTKV_K_JOURNAL_SEQ = "journal_seq_" // this+journal id
	LASTKV_K_NEXT_INDEX  = "next_index_" // this+network
)
