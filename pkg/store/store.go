// Package store declares the persistence the wallet core depends on.
//
// Implementations: gormstore (mysql in production, sqlite in development)
// and memstore (tests and tooling).
package store

import (
	"context"
	"errors"
	"time"

	"ccwallet/pkg/model"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("store: record not found")
	ErrConflict  = errors.New("store: version conflict") // compare-and-set lost
	ErrDuplicate = errors.New("store: duplicate key")
)

// Filter selects transactions of one owner. Zero fields do not filter; a
// zero Limit returns every match.
type Filter struct {
	Owner  int64
	Coin   string
	Type   string
	Status string
	Start  time.Time // created at or after
	End    time.Time // created before
	Limit  int
	Offset int
}

// Repo is one view on the data, either directly on the store or inside a
// unit of work started by Store.Atomic.
type Repo interface {
	// GetBalance returns the (owner, coin) row, or a zero Balance with ID 0
	// and Version 0 when none exists yet.
	GetBalance(ctx context.Context, owner int64, coin string) (model.Balance, error)
	// SwapBalance writes free and freeze only if the row still has
	// cur.Version, and returns the new row. ErrConflict otherwise.
	SwapBalance(ctx context.Context, cur model.Balance, free, freeze decimal.Decimal) (model.Balance, error)
	ListBalances(ctx context.Context, owner int64) ([]model.Balance, error)

	// InsertTransaction fails with ErrDuplicate when the id or the deposit
	// key was already recorded.
	InsertTransaction(ctx context.Context, t *model.Transaction) error
	GetTransaction(ctx context.Context, id string) (model.Transaction, error)
	// SwapTransaction stores t if the row still has prevVersion and
	// prevStatus. t.Version must already be the new version. ErrDuplicate
	// when t.DepositKey belongs to another row.
	SwapTransaction(ctx context.Context, t *model.Transaction, prevVersion int64, prevStatus string) error
	// FindDeposit returns the deposit holding key, ErrNotFound otherwise.
	FindDeposit(ctx context.Context, key string) (model.Transaction, error)
	// ListTransactions returns matches newest first.
	ListTransactions(ctx context.Context, f Filter) ([]model.Transaction, error)
	// ListUnbroadcast returns pending withdrawals without a chain hash,
	// not yet flagged, created before the given time, oldest first.
	ListUnbroadcast(ctx context.Context, before time.Time, limit int) ([]model.Transaction, error)

	// InsertEvent fails with ErrDuplicate when the event id or its effect
	// key was already recorded.
	InsertEvent(ctx context.Context, e *model.TransactionEvent) error
	ListEvents(ctx context.Context, txID string) ([]model.TransactionEvent, error)

	InsertAddress(ctx context.Context, a *model.Address) error
	// ActiveAddress returns the newest active address of the key.
	ActiveAddress(ctx context.Context, owner int64, coin, network string) (model.Address, error)
	RetireAddress(ctx context.Context, id int64, at time.Time) error
	ListAddresses(ctx context.Context, owner int64, coin string) ([]model.Address, error)
	FindAddress(ctx context.Context, network, address string) (model.Address, error)

	// GetKv returns a zero Lastkv with ID 0 when the key is missing.
	GetKv(ctx context.Context, app, key string) (model.Lastkv, error)
	// SwapKv sets the value if it is still cur.Val. ErrConflict otherwise.
	SwapKv(ctx context.Context, cur model.Lastkv, val int64) error
}

// Store is a Repo that can also run units of work.
type Store interface {
	Repo
	// Atomic runs fn with a Repo whose writes commit together, or not at
	// all when fn returns an error. fn must only use the Repo it is given.
	Atomic(ctx context.Context, fn func(r Repo) error) error
}

// NormalizeLimit clamps the page size used by listing endpoints.
func NormalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
