package xnats

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// EventMsg is what the wallet publishes for every accepted transaction
// change. EventID doubles as the JetStream message id.
type EventMsg struct {
	Seq     int64  `json:"seq"`
	EventID string `json:"eventID"`
	TxID    string `json:"txID"`
	Owner   int64  `json:"owner"`
	Coin    string `json:"coin"`
	Network string `json:"network"`
	Type    string `json:"type"`   // deposit, withdraw
	Kind    string `json:"kind"`   // created, confirmations, broadcast, confirmed, failed, cancelled, flagged
	Status  string `json:"status"` // status after the change

	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee"`
	FreeChange   decimal.Decimal `json:"freeChange"`
	FreezeChange decimal.Decimal `json:"freezeChange"`

	Confirmations         int    `json:"confirmations"`
	RequiredConfirmations int    `json:"requiredConfirmations"`
	TxHash                string `json:"txHash,omitempty"`
	Reason                string `json:"reason,omitempty"`

	Time int64 `json:"time"` // unix nanoseconds
}

// Subject is <stream>.<COIN>.<kind>, e.g. WALLET.USDT.confirmed.
func Subject(stream, coin, kind string) string {
	return fmt.Sprintf("%s.%s.%s", stream, strings.ToUpper(coin), kind)
}
