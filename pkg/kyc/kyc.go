// Package kyc answers which verification tier a user has reached.
package kyc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ccwallet/pkg/config"
	"ccwallet/pkg/werr"
	"ccwallet/pkg/xlog"

	"github.com/go-redis/redis/v8"
)

var logger = xlog.GetLogger()

type Provider interface {
	GetKycTier(ctx context.Context, owner int64) (int, error)
}

// Static serves tiers from configuration.
type Static struct {
	Tiers       map[int64]int
	DefaultTier int
}

func (s *Static) GetKycTier(_ context.Context, owner int64) (int, error) {
	if tier, ok := s.Tiers[owner]; ok {
		return tier, nil
	}
	return s.DefaultTier, nil
}

// Getter is the part of *redis.Client the redis source uses.
type Getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Redis reads the tier the verification service writes to kyc:tier:<uid>.
type Redis struct {
	rds         Getter
	defaultTier int
}

func NewRedis(rds Getter, defaultTier int) *Redis {
	return &Redis{rds: rds, defaultTier: defaultTier}
}

func TierKey(owner int64) string {
	return fmt.Sprintf("kyc:tier:%d", owner)
}

func (r *Redis) GetKycTier(ctx context.Context, owner int64) (int, error) {
	s, err := r.rds.Get(ctx, TierKey(owner)).Result()
	if errors.Is(err, redis.Nil) {
		return r.defaultTier, nil
	}
	if err != nil {
		return 0, err
	}
	tier, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad tier %q for owner %d: %w", s, owner, err)
	}
	return tier, nil
}

// WithTimeout bounds every lookup of p. A lookup that does not finish in
// time fails with werr.ErrExternalTimeout.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{p: p, d: d}
}

type timeoutProvider struct {
	p Provider
	d time.Duration
}

func (t *timeoutProvider) GetKycTier(ctx context.Context, owner int64) (tier int, err error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	type result struct {
		tier int
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		tier, err := t.p.GetKycTier(ctx, owner)
		ch <- result{tier, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return 0, werr.Wrap(werr.ErrExternalTimeout, r.err)
		}
		return r.tier, r.err
	case <-ctx.Done():
		logger.Warningf("kyc tier lookup for owner:%d timed out after %s", owner, t.d)
		return 0, werr.Wrap(werr.ErrExternalTimeout, ctx.Err())
	}
}

// FromConfig picks the configured source. rds may be nil unless the source
// is redis.
func FromConfig(cfg config.Kyc, rds Getter) (Provider, error) {
	var p Provider
	switch cfg.Source {
	case "", "static":
		p = &Static{Tiers: cfg.Static, DefaultTier: cfg.DefaultTier}
	case "redis":
		if rds == nil {
			return nil, errors.New("kyc source redis needs redis enabled")
		}
		p = NewRedis(rds, cfg.DefaultTier)
	default:
		return nil, fmt.Errorf("unknown kyc source %q", cfg.Source)
	}
	return WithTimeout(p, cfg.Timeout), nil
}
