package kyc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ccwallet/pkg/config"
	"ccwallet/pkg/kyc"
	"ccwallet/pkg/werr"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

type fakeGetter map[string]string

func (f fakeGetter) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := f[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

type slowProvider struct{}

func (slowProvider) GetKycTier(ctx context.Context, owner int64) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestStatic(t *testing.T) {
	p := &kyc.Static{Tiers: map[int64]int{1: 2}, DefaultTier: 0}

	tier, err := p.GetKycTier(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 2, tier)

	tier, err = p.GetKycTier(context.Background(), 9)
	require.NoError(t, err)
	require.Equal(t, 0, tier)
}

func TestRedis(t *testing.T) {
	p := kyc.NewRedis(fakeGetter{kyc.TierKey(1): "3", kyc.TierKey(2): "gold"}, 1)
	ctx := context.Background()

	tier, err := p.GetKycTier(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 3, tier)

	tier, err = p.GetKycTier(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 1, tier)

	_, err = p.GetKycTier(ctx, 2)
	require.Error(t, err)
}

func TestTimeout(t *testing.T) {
	p := kyc.WithTimeout(slowProvider{}, 20*time.Millisecond)

	_, err := p.GetKycTier(context.Background(), 1)
	require.True(t, errors.Is(err, werr.ErrExternalTimeout))
	require.True(t, werr.IsRetryable(err))
}

func TestFromConfig(t *testing.T) {
	p, err := kyc.FromConfig(config.Kyc{Source: "static", Static: map[int64]int{4: 1}}, nil)
	require.NoError(t, err)
	tier, err := p.GetKycTier(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, 1, tier)

	_, err = kyc.FromConfig(config.Kyc{Source: "redis"}, nil)
	require.Error(t, err)

	_, err = kyc.FromConfig(config.Kyc{Source: "ldap"}, nil)
	require.Error(t, err)
}
