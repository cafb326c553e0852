// Package gormstore implements store.Store on gorm.
package gormstore

import (
	"context"
	"errors"
	"time"

	"ccwallet/pkg/model"
	"ccwallet/pkg/store"
	"ccwallet/pkg/xlog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var logger = xlog.GetLogger()

type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// NewMemory opens a private migrated sqlite memory database, for tests and
// local tooling.
func NewMemory() (*Store, error) {
	db, err := model.NewSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		return nil, err
	}
	if err := model.Migrate(db); err != nil {
		return nil, err
	}
	return New(db), nil
}

func (s *Store) Atomic(ctx context.Context, fn func(r store.Repo) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case model.IsDuplicate(err):
		return store.ErrDuplicate
	}
	return err
}

// Balances

func (s *Store) GetBalance(ctx context.Context, owner int64, coin string) (b model.Balance, err error) {
	err = s.conn(ctx).Where("owner = ? AND coin = ?", owner, coin).Take(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Balance{Owner: owner, Coin: coin, Free: decimal.Zero, Freeze: decimal.Zero}, nil
	}
	return b, err
}

func (s *Store) SwapBalance(ctx context.Context, cur model.Balance, free, freeze decimal.Decimal) (model.Balance, error) {
	now := time.Now()

	if cur.ID == 0 {
		nb := model.Balance{
			Owner:   cur.Owner,
			Coin:    cur.Coin,
			Free:    free,
			Freeze:  freeze,
			Version: 1,
			Model:   model.Model{CreatedAt: now, UpdatedAt: now},
		}
		err := s.conn(ctx).Create(&nb).Error
		if model.IsDuplicate(err) {
			// someone created the row first
			return cur, store.ErrConflict
		}
		return nb, err
	}

	res := s.conn(ctx).Model(&model.Balance{}).
		Where("id = ? AND version = ?", cur.ID, cur.Version).
		Updates(map[string]interface{}{
			"free":       free,
			"freeze":     freeze,
			"version":    cur.Version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return cur, res.Error
	}
	if res.RowsAffected == 0 {
		return cur, store.ErrConflict
	}

	cur.Free, cur.Freeze, cur.Version, cur.UpdatedAt = free, freeze, cur.Version+1, now
	return cur, nil
}

func (s *Store) ListBalances(ctx context.Context, owner int64) (list []model.Balance, err error) {
	err = s.conn(ctx).Where("owner = ?", owner).Order("coin").Find(&list).Error
	return list, err
}

// Transactions

func (s *Store) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	return translate(s.conn(ctx).Create(t).Error)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (t model.Transaction, err error) {
	err = s.conn(ctx).Where("id = ?", id).Take(&t).Error
	return t, translate(err)
}

func (s *Store) SwapTransaction(ctx context.Context, t *model.Transaction, prevVersion int64, prevStatus string) error {
	res := s.conn(ctx).Model(&model.Transaction{}).
		Where("id = ? AND version = ? AND status = ?", t.ID, prevVersion, prevStatus).
		Updates(map[string]interface{}{
			"status":        t.Status,
			"tx_hash":       t.TxHash,
			"deposit_key":   t.DepositKey,
			"confirmations": t.Confirmations,
			"reason":        t.Reason,
			"flagged_at":    t.FlaggedAt,
			"version":       t.Version,
			"updated_at":    t.UpdatedAt,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) FindDeposit(ctx context.Context, key string) (t model.Transaction, err error) {
	err = s.conn(ctx).Where("deposit_key = ?", key).Take(&t).Error
	return t, translate(err)
}

func (s *Store) ListTransactions(ctx context.Context, f store.Filter) (list []model.Transaction, err error) {
	q := s.conn(ctx).Where("owner = ?", f.Owner)
	if f.Coin != "" {
		q = q.Where("coin = ?", f.Coin)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if !f.Start.IsZero() {
		q = q.Where("created_at >= ?", f.Start)
	}
	if !f.End.IsZero() {
		q = q.Where("created_at < ?", f.End)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	err = q.Order("created_at DESC, id DESC").Find(&list).Error
	return list, err
}

func (s *Store) ListUnbroadcast(ctx context.Context, before time.Time, limit int) (list []model.Transaction, err error) {
	q := s.conn(ctx).
		Where("type = ? AND status = ? AND tx_hash = ? AND flagged_at IS NULL AND created_at < ?",
			model.TxTypeWithdraw, model.TxStatusPending, "", before).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err = q.Find(&list).Error
	return list, err
}

// Events

func (s *Store) InsertEvent(ctx context.Context, e *model.TransactionEvent) error {
	return translate(s.conn(ctx).Create(e).Error)
}

func (s *Store) ListEvents(ctx context.Context, txID string) (list []model.TransactionEvent, err error) {
	err = s.conn(ctx).Where("tx_id = ?", txID).Order("id").Find(&list).Error
	return list, err
}

// Addresses

func (s *Store) InsertAddress(ctx context.Context, a *model.Address) error {
	return translate(s.conn(ctx).Create(a).Error)
}

func (s *Store) ActiveAddress(ctx context.Context, owner int64, coin, network string) (a model.Address, err error) {
	err = s.conn(ctx).
		Where("owner = ? AND coin = ? AND network = ? AND active = ?", owner, coin, network, true).
		Order("id DESC").Take(&a).Error
	return a, translate(err)
}

func (s *Store) RetireAddress(ctx context.Context, id int64, at time.Time) error {
	res := s.conn(ctx).Model(&model.Address{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]interface{}{"active": false, "retired_at": at, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) ListAddresses(ctx context.Context, owner int64, coin string) (list []model.Address, err error) {
	q := s.conn(ctx).Where("owner = ?", owner)
	if coin != "" {
		q = q.Where("coin = ?", coin)
	}
	err = q.Order("id DESC").Find(&list).Error
	return list, err
}

func (s *Store) FindAddress(ctx context.Context, network, address string) (a model.Address, err error) {
	err = s.conn(ctx).Where("network = ? AND address = ?", network, address).Take(&a).Error
	return a, translate(err)
}

// Lastkv

func (s *Store) GetKv(ctx context.Context, app, key string) (kv model.Lastkv, err error) {
	err = s.conn(ctx).Where("app = ? AND `key` = ?", app, key).Take(&kv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Lastkv{App: app, Key: key}, nil
	}
	return kv, err
}

func (s *Store) SwapKv(ctx context.Context, cur model.Lastkv, val int64) error {
	now := time.Now()
	if cur.ID == 0 {
		kv := model.Lastkv{App: cur.App, Key: cur.Key, Val: val, Model: model.Model{CreatedAt: now, UpdatedAt: now}}
		err := s.conn(ctx).Create(&kv).Error
		if model.IsDuplicate(err) {
			return store.ErrConflict
		}
		return err
	}

	res := s.conn(ctx).Model(&model.Lastkv{}).
		Where("id = ? AND val = ?", cur.ID, cur.Val).
		Updates(map[string]interface{}{"val": val, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		logger.Debugf("lastkv %s/%s moved from %d", cur.App, cur.Key, cur.Val)
		return store.ErrConflict
	}
	return nil
}
