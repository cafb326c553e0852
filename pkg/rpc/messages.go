package rpc

import (
	"ccwallet/pkg/bank"
	"ccwallet/pkg/ledger"
	"ccwallet/pkg/model"

	"github.com/shopspring/decimal"
)

// Amounts travel as decimal strings.

type CreateDepositReq struct {
	Owner   int64           `json:"owner" validate:"gt=0"`
	Coin    string          `json:"coin" validate:"required,max=16"`
	Network string          `json:"network" validate:"required,max=16"`
	Address string          `json:"address" validate:"max=128"`
	Amount  decimal.Decimal `json:"amount"`
	TxHash  string          `json:"txHash" validate:"max=128"`
	Note    string          `json:"note" validate:"max=255"`
}

type CreateWithdrawReq struct {
	Owner   int64           `json:"owner" validate:"gt=0"`
	Coin    string          `json:"coin" validate:"required,max=16"`
	Network string          `json:"network" validate:"required,max=16"`
	Address string          `json:"address" validate:"required,max=128"`
	Amount  decimal.Decimal `json:"amount"`
	Note    string          `json:"note" validate:"max=255"`
}

// GetTransactionReq reads one transaction. A non-zero Owner must own it.
type GetTransactionReq struct {
	ID    string `json:"id" validate:"required,max=36"`
	Owner int64  `json:"owner" validate:"gte=0"`
}

type ListTransactionsReq struct {
	Owner  int64  `json:"owner" validate:"gt=0"`
	Coin   string `json:"coin" validate:"max=16"`
	Type   string `json:"type" validate:"omitempty,oneof=deposit withdraw transfer trade"`
	Status string `json:"status" validate:"omitempty,oneof=pending confirmed failed cancelled"`
	Start  int64  `json:"start" validate:"gte=0"` // unix seconds, inclusive
	End    int64  `json:"end" validate:"gte=0"`   // unix seconds, exclusive
	Limit  int    `json:"limit" validate:"gte=0"`
	Offset int    `json:"offset" validate:"gte=0"`
}

type TransactionsResp struct {
	Transactions []model.Transaction `json:"transactions"`
}

// GetBalanceReq returns every balance of Owner when Coin is empty.
type GetBalanceReq struct {
	Owner int64  `json:"owner" validate:"gt=0"`
	Coin  string `json:"coin" validate:"max=16"`
}

type BalancesResp struct {
	Balances []bank.Balance `json:"balances"`
}

// CancelReq: Owner 0 is an operator.
type CancelReq struct {
	ID     string `json:"id" validate:"required,max=36"`
	Owner  int64  `json:"owner" validate:"gte=0"`
	Reason string `json:"reason" validate:"max=255"`
}

type ConfirmReq struct {
	ID     string `json:"id" validate:"required,max=36"`
	TxHash string `json:"txHash" validate:"max=128"`
}

type FailReq struct {
	ID     string `json:"id" validate:"required,max=36"`
	Reason string `json:"reason" validate:"required,max=255"`
}

type MarkBroadcastReq struct {
	ID     string `json:"id" validate:"required,max=36"`
	TxHash string `json:"txHash" validate:"required,max=128"`
}

type ReportConfirmationReq struct {
	ID            string `json:"id" validate:"required,max=36"`
	Confirmations int    `json:"confirmations" validate:"gte=0"`
	TxHash        string `json:"txHash" validate:"max=128"`
}

type IssueAddressReq struct {
	Owner   int64  `json:"owner" validate:"gt=0"`
	Coin    string `json:"coin" validate:"required,max=16"`
	Network string `json:"network" validate:"required,max=16"`
	Rotate  bool   `json:"rotate"`
}

type ListAddressesReq struct {
	Owner int64  `json:"owner" validate:"gt=0"`
	Coin  string `json:"coin" validate:"max=16"`
}

type AddressesResp struct {
	Addresses []model.Address `json:"addresses"`
}

type LookupAddressReq struct {
	Network string `json:"network" validate:"required,max=16"`
	Address string `json:"address" validate:"required,max=128"`
}

// HistoryReq lists the audit events of a transaction. A non-zero Owner must
// own it.
type HistoryReq struct {
	ID    string `json:"id" validate:"required,max=36"`
	Owner int64  `json:"owner" validate:"gte=0"`
}

type EventsResp struct {
	Events []model.TransactionEvent `json:"events"`
}

type ReconcileReq struct {
	Owner int64  `json:"owner" validate:"gt=0"`
	Coin  string `json:"coin" validate:"required,max=16"`
}

type ReconcileResp struct {
	Report   ledger.Report `json:"report"`
	Balanced bool          `json:"balanced"`
}
