package ledger_test

import (
	"context"
	"sync"
	"testing"

	"ccwallet/pkg/ledger"
	"ccwallet/pkg/model"
	"ccwallet/pkg/store"
	"ccwallet/pkg/werr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// racyStore makes the next swaps inside a unit of work lose their
// compare-and-set, as if another writer got there first.
type racyStore struct {
	store.Store

	mu       sync.Mutex
	balances int
	txs      int
}

func (s *racyStore) Atomic(ctx context.Context, fn func(r store.Repo) error) error {
	return s.Store.Atomic(ctx, func(r store.Repo) error {
		return fn(&racyRepo{Repo: r, s: s})
	})
}

func (s *racyStore) lose(n *int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *n == 0 {
		return false
	}
	*n--
	return true
}

func (s *racyStore) set(balances, txs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances, s.txs = balances, txs
}

type racyRepo struct {
	store.Repo
	s *racyStore
}

func (r *racyRepo) SwapBalance(ctx context.Context, cur model.Balance, free, freeze decimal.Decimal) (model.Balance, error) {
	if r.s.lose(&r.s.balances) {
		return cur, store.ErrConflict
	}
	return r.Repo.SwapBalance(ctx, cur, free, freeze)
}

func (r *racyRepo) SwapTransaction(ctx context.Context, t *model.Transaction, prevVersion int64, prevStatus string) error {
	if r.s.lose(&r.s.txs) {
		return store.ErrConflict
	}
	return r.Repo.SwapTransaction(ctx, t, prevVersion, prevStatus)
}

func TestWithdrawRetriesLostBalanceRace(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			racy := &racyStore{Store: st}
			f := newFixture(t, racy)
			f.fund(t, 1, "USDT", "ERC20", "100")

			racy.set(1, 0)
			w, err := f.withdraw(1, "40")
			require.NoError(t, err)
			require.Equal(t, model.TxStatusPending, w.Status)
			f.requireBalance(t, 1, "USDT", "59", "41", "100")

			racy.set(2, 0)
			_, err = f.withdraw(1, "40")
			require.ErrorIs(t, err, werr.ErrConcurrentModification)
			require.Equal(t, "CONCURRENT_MODIFICATION", werr.CodeOf(err))
			f.requireBalance(t, 1, "USDT", "59", "41", "100")

			list, err := f.l.ListByUser(context.Background(), 1, store.Filter{Type: model.TxTypeWithdraw})
			require.NoError(t, err)
			require.Len(t, list, 1)
			f.requireReconciled(t, 1, "USDT")
		})
	}
}

func TestTransitionRetriesLostRowRace(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			racy := &racyStore{Store: st}
			f := newFixture(t, racy)

			dep, err := f.l.CreateDeposit(ctx, ledger.Request{Owner: 2, Coin: "BTC", Network: "BTC", Amount: d("0.5")})
			require.NoError(t, err)

			racy.set(0, 2)
			_, err = f.l.ReportConfirmation(ctx, dep.ID, 6, "0xrow")
			require.ErrorIs(t, err, werr.ErrConcurrentModification)
			f.requireBalance(t, 2, "BTC", "0", "0", "0")
			got, err := f.l.Get(ctx, dep.ID)
			require.NoError(t, err)
			require.Equal(t, model.TxStatusPending, got.Status)
			require.EqualValues(t, 1, got.Version)

			racy.set(0, 1)
			got, err = f.l.ReportConfirmation(ctx, dep.ID, 6, "0xrow")
			require.NoError(t, err)
			require.Equal(t, model.TxStatusConfirmed, got.Status)
			f.requireBalance(t, 2, "BTC", "0.5", "0", "0.5")

			events, err := f.l.History(ctx, dep.ID)
			require.NoError(t, err)
			require.Len(t, events, 2)
		})
	}
}

func TestSettleRetriesLostBalanceRace(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			racy := &racyStore{Store: st}
			f := newFixture(t, racy)
			f.fund(t, 1, "USDT", "ERC20", "100")

			w, err := f.withdraw(1, "40")
			require.NoError(t, err)

			racy.set(2, 0)
			_, err = f.l.Confirm(ctx, w.ID, "0xsettle")
			require.ErrorIs(t, err, werr.ErrConcurrentModification)
			f.requireBalance(t, 1, "USDT", "59", "41", "100")

			racy.set(1, 0)
			w, err = f.l.Confirm(ctx, w.ID, "0xsettle")
			require.NoError(t, err)
			require.Equal(t, model.TxStatusConfirmed, w.Status)
			f.requireBalance(t, 1, "USDT", "59", "0", "59")
			f.requireReconciled(t, 1, "USDT")
		})
	}
}
