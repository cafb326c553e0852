// Package storetest is the behaviour every store.Store must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"ccwallet/pkg/model"
	"ccwallet/pkg/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Run executes the suite; newStore must return an empty, migrated store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("BalanceCAS", func(t *testing.T) { testBalanceCAS(t, newStore(t)) })
	t.Run("AtomicRollback", func(t *testing.T) { testAtomicRollback(t, newStore(t)) })
	t.Run("TransactionCAS", func(t *testing.T) { testTransactionCAS(t, newStore(t)) })
	t.Run("ListTransactions", func(t *testing.T) { testListTransactions(t, newStore(t)) })
	t.Run("ListUnbroadcast", func(t *testing.T) { testListUnbroadcast(t, newStore(t)) })
	t.Run("DepositKey", func(t *testing.T) { testDepositKey(t, newStore(t)) })
	t.Run("EventEffectKey", func(t *testing.T) { testEventEffectKey(t, newStore(t)) })
	t.Run("Addresses", func(t *testing.T) { testAddresses(t, newStore(t)) })
	t.Run("Lastkv", func(t *testing.T) { testLastkv(t, newStore(t)) })
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testBalanceCAS(t *testing.T, s store.Store) {
	ctx := context.Background()

	b, err := s.GetBalance(ctx, 1, "USDT")
	require.NoError(t, err)
	require.Zero(t, b.ID)
	require.True(t, b.Free.IsZero())
	require.True(t, b.Freeze.IsZero())

	b1, err := s.SwapBalance(ctx, b, d("100"), decimal.Zero)
	require.NoError(t, err)
	require.EqualValues(t, 1, b1.Version)

	// a second creation from the same zero view loses
	_, err = s.SwapBalance(ctx, b, d("5"), decimal.Zero)
	require.True(t, errors.Is(err, store.ErrConflict))

	got, err := s.GetBalance(ctx, 1, "USDT")
	require.NoError(t, err)
	require.True(t, got.Free.Equal(d("100")))

	b2, err := s.SwapBalance(ctx, got, d("59"), d("41"))
	require.NoError(t, err)
	require.EqualValues(t, 2, b2.Version)

	// stale version
	_, err = s.SwapBalance(ctx, got, d("0"), d("0"))
	require.True(t, errors.Is(err, store.ErrConflict))

	got, err = s.GetBalance(ctx, 1, "USDT")
	require.NoError(t, err)
	require.True(t, got.Free.Equal(d("59")))
	require.True(t, got.Freeze.Equal(d("41")))

	_, err = s.SwapBalance(ctx, model.Balance{Owner: 1, Coin: "BTC"}, d("0.5"), decimal.Zero)
	require.NoError(t, err)
	list, err := s.ListBalances(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "BTC", list[0].Coin)
}

func testAtomicRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(r store.Repo) error {
		b, err := r.GetBalance(ctx, 2, "USDT")
		if err != nil {
			return err
		}
		if _, err := r.SwapBalance(ctx, b, d("10"), decimal.Zero); err != nil {
			return err
		}
		if err := r.InsertTransaction(ctx, newTx(2, model.TxTypeDeposit, time.Now())); err != nil {
			return err
		}
		return boom
	})
	require.True(t, errors.Is(err, boom))

	b, err := s.GetBalance(ctx, 2, "USDT")
	require.NoError(t, err)
	require.Zero(t, b.ID)
	list, err := s.ListTransactions(ctx, store.Filter{Owner: 2})
	require.NoError(t, err)
	require.Empty(t, list)

	err = s.Atomic(ctx, func(r store.Repo) error {
		b, err := r.GetBalance(ctx, 2, "USDT")
		if err != nil {
			return err
		}
		_, err = r.SwapBalance(ctx, b, d("10"), decimal.Zero)
		return err
	})
	require.NoError(t, err)
	b, err = s.GetBalance(ctx, 2, "USDT")
	require.NoError(t, err)
	require.True(t, b.Free.Equal(d("10")))
}

func newTx(owner int64, typ string, at time.Time) *model.Transaction {
	return &model.Transaction{
		ID:      uuid.NewString(),
		Owner:   owner,
		Type:    typ,
		Coin:    "USDT",
		Network: "ERC20",
		Amount:  d("40"),
		Fee:     d("1"),
		Status:  model.TxStatusPending,
		Version: 1,
		Model:   model.Model{CreatedAt: at, UpdatedAt: at},
	}
}

func testTransactionCAS(t *testing.T, s store.Store) {
	ctx := context.Background()

	tx := newTx(3, model.TxTypeWithdraw, time.Now())
	require.NoError(t, s.InsertTransaction(ctx, tx))
	require.True(t, errors.Is(s.InsertTransaction(ctx, tx), store.ErrDuplicate))

	_, err := s.GetTransaction(ctx, uuid.NewString())
	require.True(t, errors.Is(err, store.ErrNotFound))

	upd := *tx
	upd.Status = model.TxStatusConfirmed
	upd.TxHash = "0xabc"
	upd.Confirmations = 12
	upd.Version = 2
	upd.UpdatedAt = time.Now()
	require.NoError(t, s.SwapTransaction(ctx, &upd, 1, model.TxStatusPending))

	// same expectation again: already moved
	require.True(t, errors.Is(s.SwapTransaction(ctx, &upd, 1, model.TxStatusPending), store.ErrConflict))

	got, err := s.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, model.TxStatusConfirmed, got.Status)
	require.Equal(t, "0xabc", got.TxHash)
	require.Equal(t, 12, got.Confirmations)
	require.EqualValues(t, 2, got.Version)
	require.True(t, got.Amount.Equal(d("40")))
}

func testListTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 6; i++ {
		typ := model.TxTypeDeposit
		if i%2 == 1 {
			typ = model.TxTypeWithdraw
		}
		tx := newTx(4, typ, base.Add(time.Duration(i)*time.Minute))
		if i == 5 {
			tx.Coin = "BTC"
		}
		require.NoError(t, s.InsertTransaction(ctx, tx))
		ids = append(ids, tx.ID)
	}
	require.NoError(t, s.InsertTransaction(ctx, newTx(5, model.TxTypeDeposit, base)))

	all, err := s.ListTransactions(ctx, store.Filter{Owner: 4})
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i := range all {
		require.Equal(t, ids[5-i], all[i].ID, "newest first")
	}

	page, err := s.ListTransactions(ctx, store.Filter{Owner: 4, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[4], page[0].ID)
	require.Equal(t, ids[3], page[1].ID)

	wd, err := s.ListTransactions(ctx, store.Filter{Owner: 4, Type: model.TxTypeWithdraw, Coin: "USDT"})
	require.NoError(t, err)
	require.Len(t, wd, 2)

	window, err := s.ListTransactions(ctx, store.Filter{Owner: 4, Start: base.Add(time.Minute), End: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, window, 2)
	require.Equal(t, ids[2], window[0].ID)
	require.Equal(t, ids[1], window[1].ID)

	none, err := s.ListTransactions(ctx, store.Filter{Owner: 4, Status: model.TxStatusFailed})
	require.NoError(t, err)
	require.Empty(t, none)
}

func testListUnbroadcast(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now()

	old := newTx(6, model.TxTypeWithdraw, now.Add(-2*time.Hour))
	older := newTx(6, model.TxTypeWithdraw, now.Add(-3*time.Hour))
	fresh := newTx(6, model.TxTypeWithdraw, now)
	hashed := newTx(6, model.TxTypeWithdraw, now.Add(-2*time.Hour))
	hashed.TxHash = "0xdef"
	deposit := newTx(6, model.TxTypeDeposit, now.Add(-2*time.Hour))
	for _, tx := range []*model.Transaction{old, older, fresh, hashed, deposit} {
		require.NoError(t, s.InsertTransaction(ctx, tx))
	}

	list, err := s.ListUnbroadcast(ctx, now.Add(-time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, older.ID, list[0].ID)
	require.Equal(t, old.ID, list[1].ID)

	flagged := *older
	at := now
	flagged.FlaggedAt = &at
	flagged.Version = 2
	require.NoError(t, s.SwapTransaction(ctx, &flagged, 1, model.TxStatusPending))

	list, err = s.ListUnbroadcast(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, old.ID, list[0].ID)
}

func testDepositKey(t *testing.T, s store.Store) {
	ctx := context.Background()

	first := newTx(4, model.TxTypeDeposit, time.Now())
	first.TxHash = "0xfeed"
	first.ToAddress = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	first.SetDepositKey()
	require.NotNil(t, first.DepositKey)
	require.NoError(t, s.InsertTransaction(ctx, first))

	got, err := s.FindDeposit(ctx, *first.DepositKey)
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)

	again := newTx(4, model.TxTypeDeposit, time.Now())
	again.TxHash = first.TxHash
	again.ToAddress = first.ToAddress
	again.SetDepositKey()
	require.True(t, errors.Is(s.InsertTransaction(ctx, again), store.ErrDuplicate))

	// withdrawals sharing a batch hash are not keyed
	for i := 0; i < 2; i++ {
		w := newTx(4, model.TxTypeWithdraw, time.Now())
		w.TxHash = first.TxHash
		w.SetDepositKey()
		require.Nil(t, w.DepositKey)
		require.NoError(t, s.InsertTransaction(ctx, w))
	}

	// a hash learned later may not take a key already held
	late := newTx(4, model.TxTypeDeposit, time.Now())
	late.ToAddress = first.ToAddress
	require.NoError(t, s.InsertTransaction(ctx, late))
	upd := *late
	upd.TxHash = first.TxHash
	upd.SetDepositKey()
	upd.Version = 2
	require.True(t, errors.Is(s.SwapTransaction(ctx, &upd, 1, model.TxStatusPending), store.ErrDuplicate))

	upd.TxHash = "0xbeef"
	upd.SetDepositKey()
	require.NoError(t, s.SwapTransaction(ctx, &upd, 1, model.TxStatusPending))
	got, err = s.FindDeposit(ctx, *upd.DepositKey)
	require.NoError(t, err)
	require.Equal(t, late.ID, got.ID)

	_, err = s.FindDeposit(ctx, "ERC20:0xnone:")
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func testEventEffectKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	txID := uuid.NewString()

	ev := func(key *string) *model.TransactionEvent {
		return &model.TransactionEvent{EventID: uuid.NewString(), TxID: txID, Kind: model.EventConfirmed, EffectKey: key, CreatedAt: time.Now()}
	}

	require.NoError(t, s.InsertEvent(ctx, ev(nil)))
	require.NoError(t, s.InsertEvent(ctx, ev(nil)))
	require.NoError(t, s.InsertEvent(ctx, ev(model.EffectKey(txID, model.TxStatusConfirmed))))
	err := s.InsertEvent(ctx, ev(model.EffectKey(txID, model.TxStatusConfirmed)))
	require.True(t, errors.Is(err, store.ErrDuplicate))

	list, err := s.ListEvents(ctx, txID)
	require.NoError(t, err)
	require.Len(t, list, 3)
}

func testAddresses(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now()

	_, err := s.ActiveAddress(ctx, 7, "USDT", "ERC20")
	require.True(t, errors.Is(err, store.ErrNotFound))

	a1 := &model.Address{Owner: 7, Coin: "USDT", Network: "ERC20", Address: "0x01", DeriveIndex: 0, Active: true, Model: model.Model{CreatedAt: now, UpdatedAt: now}}
	require.NoError(t, s.InsertAddress(ctx, a1))
	require.NotZero(t, a1.ID)

	dup := *a1
	dup.ID = 0
	require.True(t, errors.Is(s.InsertAddress(ctx, &dup), store.ErrDuplicate))

	require.NoError(t, s.RetireAddress(ctx, a1.ID, now))
	require.True(t, errors.Is(s.RetireAddress(ctx, a1.ID, now), store.ErrConflict))

	a2 := &model.Address{Owner: 7, Coin: "USDT", Network: "ERC20", Address: "0x02", DeriveIndex: 1, Active: true, Model: model.Model{CreatedAt: now, UpdatedAt: now}}
	require.NoError(t, s.InsertAddress(ctx, a2))

	active, err := s.ActiveAddress(ctx, 7, "USDT", "ERC20")
	require.NoError(t, err)
	require.Equal(t, "0x02", active.Address)

	list, err := s.ListAddresses(ctx, 7, "USDT")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "0x02", list[0].Address)
	require.False(t, list[1].Active)
	require.NotNil(t, list[1].RetiredAt)

	found, err := s.FindAddress(ctx, "ERC20", "0x01")
	require.NoError(t, err)
	require.EqualValues(t, 7, found.Owner)
	_, err = s.FindAddress(ctx, "TRC20", "0x01")
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func testLastkv(t *testing.T, s store.Store) {
	ctx := context.Background()

	kv, err := s.GetKv(ctx, model.LASTKV_APP_RELAY, model.LASTKV_K_JOURNAL_SEQ)
	require.NoError(t, err)
	require.Zero(t, kv.ID)
	require.Zero(t, kv.Val)

	require.NoError(t, s.SwapKv(ctx, kv, 10))
	require.True(t, errors.Is(s.SwapKv(ctx, kv, 11), store.ErrConflict))

	kv, err = s.GetKv(ctx, model.LASTKV_APP_RELAY, model.LASTKV_K_JOURNAL_SEQ)
	require.NoError(t, err)
	require.EqualValues(t, 10, kv.Val)

	require.NoError(t, s.SwapKv(ctx, kv, 12))
	require.True(t, errors.Is(s.SwapKv(ctx, kv, 13), store.ErrConflict))
}
