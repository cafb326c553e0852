package bank_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ccwallet/pkg/bank"
	"ccwallet/pkg/currency"
	"ccwallet/pkg/store"
	"ccwallet/pkg/store/gormstore"
	"ccwallet/pkg/store/memstore"
	"ccwallet/pkg/werr"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func registry(t *testing.T) *currency.Registry {
	reg, err := currency.NewRegistry(
		currency.Info{Symbol: "USDT", Decimals: 6, Networks: []string{"ERC20"}},
		currency.Info{Symbol: "BTC", Decimals: 8, Networks: []string{"BTC"}},
	)
	require.NoError(t, err)
	return reg
}

func requireBalance(t *testing.T, b *bank.Bank, owner int64, coin, avail, frozen string) {
	t.Helper()
	v, err := b.GetBalance(context.Background(), owner, coin)
	require.NoError(t, err)
	require.True(t, v.Available.Equal(d(avail)), "available %s, want %s", v.Available, avail)
	require.True(t, v.Frozen.Equal(d(frozen)), "frozen %s, want %s", v.Frozen, frozen)
	require.True(t, v.Total.Equal(v.Available.Add(v.Frozen)))
}

func TestGetBalance(t *testing.T) {
	b := bank.New(memstore.New(), registry(t), nil)

	requireBalance(t, b, 1, "usdt", "0", "0")

	_, err := b.GetBalance(context.Background(), 1, "DOGE")
	require.True(t, errors.Is(err, werr.ErrUnsupportedCurrency))
}

func TestLifecycle(t *testing.T) {
	for name, st := range map[string]func() store.Store{
		"mem":  func() store.Store { return memstore.New() },
		"gorm": func() store.Store { s, err := gormstore.NewMemory(); require.NoError(t, err); return s },
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := bank.New(st(), registry(t), nil)

			require.NoError(t, b.Credit(ctx, 1, "USDT", d("100")))
			requireBalance(t, b, 1, "USDT", "100", "0")

			require.NoError(t, b.Reserve(ctx, 1, "USDT", d("41")))
			requireBalance(t, b, 1, "USDT", "59", "41")

			require.NoError(t, b.Settle(ctx, 1, "USDT", d("41")))
			requireBalance(t, b, 1, "USDT", "59", "0")

			require.NoError(t, b.Reserve(ctx, 1, "USDT", d("9")))
			require.NoError(t, b.Release(ctx, 1, "USDT", d("9")))
			requireBalance(t, b, 1, "USDT", "59", "0")

			list, err := b.ListBalances(ctx, 1)
			require.NoError(t, err)
			require.Len(t, list, 1)
			require.Equal(t, "USDT", list[0].Coin)
		})
	}
}

func TestReserveInsufficient(t *testing.T) {
	ctx := context.Background()
	b := bank.New(memstore.New(), registry(t), nil)
	require.NoError(t, b.Credit(ctx, 1, "USDT", d("100")))

	err := b.Reserve(ctx, 1, "USDT", d("151"))
	require.True(t, errors.Is(err, werr.ErrInsufficientFunds))
	require.Equal(t, werr.KindInsufficientFunds, werr.KindOf(err))
	requireBalance(t, b, 1, "USDT", "100", "0")

	// never touched account
	err = b.Reserve(ctx, 2, "USDT", d("1"))
	require.True(t, errors.Is(err, werr.ErrInsufficientFunds))
}

func TestFrozenUnderflowIsInvariantViolation(t *testing.T) {
	ctx := context.Background()
	b := bank.New(memstore.New(), registry(t), nil)
	require.NoError(t, b.Credit(ctx, 1, "USDT", d("100")))
	require.NoError(t, b.Reserve(ctx, 1, "USDT", d("10")))

	err := b.Release(ctx, 1, "USDT", d("11"))
	require.True(t, errors.Is(err, werr.ErrInvariantViolation))
	err = b.Settle(ctx, 1, "USDT", d("10.5"))
	require.True(t, errors.Is(err, werr.ErrInvariantViolation))

	// nothing was clamped
	requireBalance(t, b, 1, "USDT", "90", "10")

	require.Equal(t, "INTERNAL", werr.Public(err).Code)
}

func TestNonPositiveAmount(t *testing.T) {
	ctx := context.Background()
	b := bank.New(memstore.New(), registry(t), nil)

	for _, amt := range []string{"0", "-1"} {
		require.True(t, errors.Is(b.Credit(ctx, 1, "USDT", d(amt)), werr.ErrInvalidAmount))
		require.True(t, errors.Is(b.Reserve(ctx, 1, "USDT", d(amt)), werr.ErrInvalidAmount))
	}
}

func TestConcurrentReserveNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	b := bank.New(memstore.New(), registry(t), nil)
	require.NoError(t, b.Credit(ctx, 1, "BTC", d("1")))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Reserve(ctx, 1, "BTC", d("0.25"))
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			require.True(t, errors.Is(err, werr.ErrInsufficientFunds), "%v", err)
		}()
	}
	wg.Wait()

	require.Equal(t, 4, ok)
	requireBalance(t, b, 1, "BTC", "0", "1")
}

func TestStaleTellerLosesRace(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	b := bank.New(st, registry(t), nil)
	require.NoError(t, b.Credit(ctx, 1, "USDT", d("100")))

	// a teller straight on the store sees a row that changes under it
	err := st.Atomic(ctx, func(r store.Repo) error {
		cur, err := r.GetBalance(ctx, 1, "USDT")
		require.NoError(t, err)
		_, err = r.SwapBalance(ctx, cur, cur.Free.Sub(d("1")), cur.Freeze)
		require.NoError(t, err)
		_, err = r.SwapBalance(ctx, cur, cur.Free.Sub(d("2")), cur.Freeze)
		return err
	})
	require.True(t, errors.Is(err, store.ErrConflict))
	requireBalance(t, b, 1, "USDT", "100", "0")
}

type fakeRedis struct {
	mu   sync.Mutex
	m    map[string]string
	gets int
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	v, ok := f.m[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.m[k]; ok {
			delete(f.m, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	rds := &fakeRedis{m: map[string]string{}}
	st := memstore.New()
	b := bank.New(st, registry(t), bank.NewCache(rds, time.Minute))

	require.NoError(t, b.Credit(ctx, 1, "USDT", d("100")))
	requireBalance(t, b, 1, "USDT", "100", "0")
	require.Contains(t, rds.m, bank.CacheKey(1, "USDT"))

	// a write that bypasses the bank is not seen until invalidation
	cur, err := st.GetBalance(ctx, 1, "USDT")
	require.NoError(t, err)
	_, err = st.SwapBalance(ctx, cur, d("1"), decimal.Zero)
	require.NoError(t, err)
	requireBalance(t, b, 1, "USDT", "100", "0")

	b.Invalidate(ctx, 1, "USDT")
	requireBalance(t, b, 1, "USDT", "1", "0")

	// changes through the bank invalidate on their own
	require.NoError(t, b.Credit(ctx, 1, "USDT", d("2")))
	requireBalance(t, b, 1, "USDT", "3", "0")

	require.Nil(t, bank.NewCache(nil, time.Minute))
	require.Nil(t, bank.NewCache(rds, 0))
}
