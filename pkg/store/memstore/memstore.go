// Package memstore is an in-memory store.Store.
//
// Atomic holds one mutex for the whole unit of work and restores a snapshot
// when fn fails, so it is serializable but not concurrent. Transactions are
// kept in a btree ordered newest first.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"ccwallet/pkg/model"
	"ccwallet/pkg/store"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

type balanceKey struct {
	owner int64
	coin  string
}

type kvKey struct {
	app, key string
}

type txItem struct {
	createdAt time.Time
	id        string
}

func newer(a, b txItem) bool {
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.After(b.createdAt)
	}
	return a.id > b.id
}

type state struct {
	balances map[balanceKey]model.Balance
	txs      map[string]model.Transaction
	deposits map[string]string // deposit key -> id
	byTime   *btree.BTreeG[txItem]
	events   []model.TransactionEvent
	eventIDs map[string]bool
	effects  map[string]bool
	addrs    []model.Address
	kvs      map[kvKey]model.Lastkv
	seq      int64
}

func newState() *state {
	return &state{
		balances: map[balanceKey]model.Balance{},
		txs:      map[string]model.Transaction{},
		deposits: map[string]string{},
		byTime:   btree.NewG[txItem](16, newer),
		eventIDs: map[string]bool{},
		effects:  map[string]bool{},
		kvs:      map[kvKey]model.Lastkv{},
	}
}

func (s *state) clone() *state {
	c := &state{
		balances: make(map[balanceKey]model.Balance, len(s.balances)),
		txs:      make(map[string]model.Transaction, len(s.txs)),
		deposits: make(map[string]string, len(s.deposits)),
		byTime:   s.byTime.Clone(),
		events:   append([]model.TransactionEvent(nil), s.events...),
		eventIDs: make(map[string]bool, len(s.eventIDs)),
		effects:  make(map[string]bool, len(s.effects)),
		addrs:    append([]model.Address(nil), s.addrs...),
		kvs:      make(map[kvKey]model.Lastkv, len(s.kvs)),
		seq:      s.seq,
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.txs {
		c.txs[k] = v
	}
	for k, v := range s.deposits {
		c.deposits[k] = v
	}
	for k, v := range s.eventIDs {
		c.eventIDs[k] = v
	}
	for k, v := range s.effects {
		c.effects[k] = v
	}
	for k, v := range s.kvs {
		c.kvs[k] = v
	}
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Store is safe for concurrent use.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Atomic(ctx context.Context, fn func(r store.Repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.st.clone()
	if err := fn(&view{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) do(fn func(v *view) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&view{st: s.st})
}

func (s *Store) GetBalance(ctx context.Context, owner int64, coin string) (b model.Balance, err error) {
	err = s.do(func(v *view) error { b, err = v.GetBalance(ctx, owner, coin); return err })
	return b, err
}

func (s *Store) SwapBalance(ctx context.Context, cur model.Balance, free, freeze decimal.Decimal) (b model.Balance, err error) {
	err = s.do(func(v *view) error { b, err = v.SwapBalance(ctx, cur, free, freeze); return err })
	return b, err
}

func (s *Store) ListBalances(ctx context.Context, owner int64) (list []model.Balance, err error) {
	err = s.do(func(v *view) error { list, err = v.ListBalances(ctx, owner); return err })
	return list, err
}

func (s *Store) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	return s.do(func(v *view) error { return v.InsertTransaction(ctx, t) })
}

func (s *Store) GetTransaction(ctx context.Context, id string) (t model.Transaction, err error) {
	err = s.do(func(v *view) error { t, err = v.GetTransaction(ctx, id); return err })
	return t, err
}

func (s *Store) SwapTransaction(ctx context.Context, t *model.Transaction, prevVersion int64, prevStatus string) error {
	return s.do(func(v *view) error { return v.SwapTransaction(ctx, t, prevVersion, prevStatus) })
}

func (s *Store) FindDeposit(ctx context.Context, key string) (t model.Transaction, err error) {
	err = s.do(func(v *view) error { t, err = v.FindDeposit(ctx, key); return err })
	return t, err
}

func (s *Store) ListTransactions(ctx context.Context, f store.Filter) (list []model.Transaction, err error) {
	err = s.do(func(v *view) error { list, err = v.ListTransactions(ctx, f); return err })
	return list, err
}

func (s *Store) ListUnbroadcast(ctx context.Context, before time.Time, limit int) (list []model.Transaction, err error) {
	err = s.do(func(v *view) error { list, err = v.ListUnbroadcast(ctx, before, limit); return err })
	return list, err
}

func (s *Store) InsertEvent(ctx context.Context, e *model.TransactionEvent) error {
	return s.do(func(v *view) error { return v.InsertEvent(ctx, e) })
}

func (s *Store) ListEvents(ctx context.Context, txID string) (list []model.TransactionEvent, err error) {
	err = s.do(func(v *view) error { list, err = v.ListEvents(ctx, txID); return err })
	return list, err
}

func (s *Store) InsertAddress(ctx context.Context, a *model.Address) error {
	return s.do(func(v *view) error { return v.InsertAddress(ctx, a) })
}

func (s *Store) ActiveAddress(ctx context.Context, owner int64, coin, network string) (a model.Address, err error) {
	err = s.do(func(v *view) error { a, err = v.ActiveAddress(ctx, owner, coin, network); return err })
	return a, err
}

func (s *Store) RetireAddress(ctx context.Context, id int64, at time.Time) error {
	return s.do(func(v *view) error { return v.RetireAddress(ctx, id, at) })
}

func (s *Store) ListAddresses(ctx context.Context, owner int64, coin string) (list []model.Address, err error) {
	err = s.do(func(v *view) error { list, err = v.ListAddresses(ctx, owner, coin); return err })
	return list, err
}

func (s *Store) FindAddress(ctx context.Context, network, address string) (a model.Address, err error) {
	err = s.do(func(v *view) error { a, err = v.FindAddress(ctx, network, address); return err })
	return a, err
}

func (s *Store) GetKv(ctx context.Context, app, key string) (kv model.Lastkv, err error) {
	err = s.do(func(v *view) error { kv, err = v.GetKv(ctx, app, key); return err })
	return kv, err
}

func (s *Store) SwapKv(ctx context.Context, cur model.Lastkv, val int64) error {
	return s.do(func(v *view) error { return v.SwapKv(ctx, cur, val) })
}

// view runs the queries on a state the caller has locked.
type view struct {
	st *state
}

func (v *view) GetBalance(_ context.Context, owner int64, coin string) (model.Balance, error) {
	b, ok := v.st.balances[balanceKey{owner, coin}]
	if !ok {
		return model.Balance{Owner: owner, Coin: coin, Free: decimal.Zero, Freeze: decimal.Zero}, nil
	}
	return b, nil
}

func (v *view) SwapBalance(_ context.Context, cur model.Balance, free, freeze decimal.Decimal) (model.Balance, error) {
	k := balanceKey{cur.Owner, cur.Coin}
	stored, ok := v.st.balances[k]
	now := time.Now()

	switch {
	case cur.ID == 0 && ok:
		return cur, store.ErrConflict
	case cur.ID == 0:
		stored = model.Balance{ID: v.st.nextID(), Owner: cur.Owner, Coin: cur.Coin, Model: model.Model{CreatedAt: now}}
	case !ok || stored.Version != cur.Version:
		return cur, store.ErrConflict
	}

	stored.Free, stored.Freeze = free, freeze
	stored.Version++
	stored.UpdatedAt = now
	v.st.balances[k] = stored
	return stored, nil
}

func (v *view) ListBalances(_ context.Context, owner int64) ([]model.Balance, error) {
	var list []model.Balance
	for k, b := range v.st.balances {
		if k.owner == owner {
			list = append(list, b)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Coin < list[j].Coin })
	return list, nil
}

func (v *view) InsertTransaction(_ context.Context, t *model.Transaction) error {
	if _, ok := v.st.txs[t.ID]; ok {
		return store.ErrDuplicate
	}
	if t.DepositKey != nil {
		if _, ok := v.st.deposits[*t.DepositKey]; ok {
			return store.ErrDuplicate
		}
		v.st.deposits[*t.DepositKey] = t.ID
	}
	v.st.txs[t.ID] = *t
	v.st.byTime.ReplaceOrInsert(txItem{t.CreatedAt, t.ID})
	return nil
}

func (v *view) GetTransaction(_ context.Context, id string) (model.Transaction, error) {
	t, ok := v.st.txs[id]
	if !ok {
		return t, store.ErrNotFound
	}
	return t, nil
}

func (v *view) SwapTransaction(_ context.Context, t *model.Transaction, prevVersion int64, prevStatus string) error {
	stored, ok := v.st.txs[t.ID]
	if !ok || stored.Version != prevVersion || stored.Status != prevStatus {
		return store.ErrConflict
	}
	if t.DepositKey != nil {
		if id, ok := v.st.deposits[*t.DepositKey]; ok && id != t.ID {
			return store.ErrDuplicate
		}
	}
	if stored.DepositKey != nil {
		delete(v.st.deposits, *stored.DepositKey)
	}
	if t.DepositKey != nil {
		v.st.deposits[*t.DepositKey] = t.ID
	}
	stored.Status = t.Status
	stored.TxHash = t.TxHash
	stored.DepositKey = t.DepositKey
	stored.Confirmations = t.Confirmations
	stored.Reason = t.Reason
	stored.FlaggedAt = t.FlaggedAt
	stored.Version = t.Version
	stored.UpdatedAt = t.UpdatedAt
	v.st.txs[t.ID] = stored
	return nil
}

func (v *view) FindDeposit(_ context.Context, key string) (model.Transaction, error) {
	id, ok := v.st.deposits[key]
	if !ok {
		return model.Transaction{}, store.ErrNotFound
	}
	return v.st.txs[id], nil
}

func (v *view) ListTransactions(_ context.Context, f store.Filter) ([]model.Transaction, error) {
	var (
		list    []model.Transaction
		skipped int
	)
	v.st.byTime.Ascend(func(it txItem) bool {
		t := v.st.txs[it.id]
		if !match(t, f) {
			return true
		}
		if skipped < f.Offset {
			skipped++
			return true
		}
		list = append(list, t)
		return f.Limit <= 0 || len(list) < f.Limit
	})
	return list, nil
}

func match(t model.Transaction, f store.Filter) bool {
	switch {
	case t.Owner != f.Owner:
		return false
	case f.Coin != "" && t.Coin != f.Coin:
		return false
	case f.Type != "" && t.Type != f.Type:
		return false
	case f.Status != "" && t.Status != f.Status:
		return false
	case !f.Start.IsZero() && t.CreatedAt.Before(f.Start):
		return false
	case !f.End.IsZero() && !t.CreatedAt.Before(f.End):
		return false
	}
	return true
}

func (v *view) ListUnbroadcast(_ context.Context, before time.Time, limit int) ([]model.Transaction, error) {
	var list []model.Transaction
	v.st.byTime.Descend(func(it txItem) bool {
		t := v.st.txs[it.id]
		if t.Type == model.TxTypeWithdraw && t.Status == model.TxStatusPending &&
			t.TxHash == "" && t.FlaggedAt == nil && t.CreatedAt.Before(before) {
			list = append(list, t)
		}
		return limit <= 0 || len(list) < limit
	})
	return list, nil
}

func (v *view) InsertEvent(_ context.Context, e *model.TransactionEvent) error {
	if v.st.eventIDs[e.EventID] {
		return store.ErrDuplicate
	}
	if e.EffectKey != nil && v.st.effects[*e.EffectKey] {
		return store.ErrDuplicate
	}
	e.ID = v.st.nextID()
	v.st.eventIDs[e.EventID] = true
	if e.EffectKey != nil {
		v.st.effects[*e.EffectKey] = true
	}
	v.st.events = append(v.st.events, *e)
	return nil
}

func (v *view) ListEvents(_ context.Context, txID string) ([]model.TransactionEvent, error) {
	var list []model.TransactionEvent
	for _, e := range v.st.events {
		if e.TxID == txID {
			list = append(list, e)
		}
	}
	return list, nil
}

func (v *view) InsertAddress(_ context.Context, a *model.Address) error {
	for _, x := range v.st.addrs {
		if x.Network == a.Network && x.Address == a.Address {
			return store.ErrDuplicate
		}
	}
	a.ID = v.st.nextID()
	v.st.addrs = append(v.st.addrs, *a)
	return nil
}

func (v *view) ActiveAddress(_ context.Context, owner int64, coin, network string) (model.Address, error) {
	for i := len(v.st.addrs) - 1; i >= 0; i-- {
		a := v.st.addrs[i]
		if a.Owner == owner && a.Coin == coin && a.Network == network && a.Active {
			return a, nil
		}
	}
	return model.Address{}, store.ErrNotFound
}

func (v *view) RetireAddress(_ context.Context, id int64, at time.Time) error {
	for i := range v.st.addrs {
		a := &v.st.addrs[i]
		if a.ID != id {
			continue
		}
		if !a.Active {
			return store.ErrConflict
		}
		a.Active = false
		a.RetiredAt = &at
		a.UpdatedAt = at
		return nil
	}
	return store.ErrConflict
}

func (v *view) ListAddresses(_ context.Context, owner int64, coin string) ([]model.Address, error) {
	var list []model.Address
	for i := len(v.st.addrs) - 1; i >= 0; i-- {
		a := v.st.addrs[i]
		if a.Owner == owner && (coin == "" || a.Coin == coin) {
			list = append(list, a)
		}
	}
	return list, nil
}

func (v *view) FindAddress(_ context.Context, network, address string) (model.Address, error) {
	for _, a := range v.st.addrs {
		if a.Network == network && a.Address == address {
			return a, nil
		}
	}
	return model.Address{}, store.ErrNotFound
}

func (v *view) GetKv(_ context.Context, app, key string) (model.Lastkv, error) {
	kv, ok := v.st.kvs[kvKey{app, key}]
	if !ok {
		return model.Lastkv{App: app, Key: key}, nil
	}
	return kv, nil
}

func (v *view) SwapKv(_ context.Context, cur model.Lastkv, val int64) error {
	k := kvKey{cur.App, cur.Key}
	stored, ok := v.st.kvs[k]
	now := time.Now()

	switch {
	case cur.ID == 0 && ok:
		return store.ErrConflict
	case cur.ID == 0:
		stored = model.Lastkv{ID: v.st.nextID(), App: cur.App, Key: cur.Key, Model: model.Model{CreatedAt: now}}
	case !ok || stored.Val != cur.Val:
		return store.ErrConflict
	}
	stored.Val = val
	stored.UpdatedAt = now
	v.st.kvs[k] = stored
	return nil
}
