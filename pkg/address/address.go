// Package address issues deposit addresses per (owner, currency, network).
//
// At most one address per key is active; rotated addresses are kept so that
// late deposits to them can still be attributed.
package address

import (
	"context"
	"errors"
	"strings"
	"time"

	"ccwallet/pkg/currency"
	"ccwallet/pkg/model"
	"ccwallet/pkg/store"
	"ccwallet/pkg/werr"
	"ccwallet/pkg/xlog"

	"github.com/ethereum/go-ethereum/common"
)

var logger = xlog.GetLogger()

const maxAttempts = 5

type Allocator struct {
	st  store.Store
	reg *currency.Registry
	der Deriver
}

func New(st store.Store, reg *currency.Registry, der Deriver) *Allocator {
	return &Allocator{st: st, reg: reg, der: der}
}

// Issue returns the active address of the key, deriving a new one when
// there is none.
func (a *Allocator) Issue(ctx context.Context, owner int64, coin, network string) (model.Address, error) {
	return a.allocate(ctx, owner, coin, network, false)
}

// Rotate retires the active address of the key, if any, and issues a new
// one.
func (a *Allocator) Rotate(ctx context.Context, owner int64, coin, network string) (model.Address, error) {
	return a.allocate(ctx, owner, coin, network, true)
}

func (a *Allocator) allocate(ctx context.Context, owner int64, coin, network string, rotate bool) (out model.Address, err error) {
	info, err := a.reg.Get(coin)
	if err != nil {
		return out, err
	}
	network = strings.ToUpper(network)
	if !info.SupportsNetwork(network) {
		return out, werr.WithDetails(werr.ErrInvalidNetwork, map[string]string{"currency": info.Symbol, "network": network})
	}

	for round := 1; round <= maxAttempts; round++ {
		err = a.st.Atomic(ctx, func(r store.Repo) error {
			cur, err := r.ActiveAddress(ctx, owner, info.Symbol, network)
			switch {
			case err == nil && !rotate:
				out = cur
				return nil
			case err == nil:
				if err = r.RetireAddress(ctx, cur.ID, time.Now()); err != nil {
					return err
				}
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
			out, err = a.create(ctx, r, owner, info.Symbol, network)
			return err
		})
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrDuplicate) {
			logger.Debugf("address of owner:%d %s/%s raced, round:%d", owner, info.Symbol, network, round)
			continue
		}
		if err != nil {
			logger.Errorf("allocate address of owner:%d %s/%s failed with err:%s", owner, info.Symbol, network, err)
		}
		return out, err
	}
	return out, werr.Wrap(werr.ErrConcurrentModification, err)
}

func (a *Allocator) create(ctx context.Context, r store.Repo, owner int64, coin, network string) (model.Address, error) {
	space, err := a.der.Keyspace(network)
	if err != nil {
		return model.Address{}, err
	}
	kv, err := r.GetKv(ctx, model.LASTKV_APP_ADDRESS, model.LASTKV_K_NEXT_INDEX+space)
	if err != nil {
		return model.Address{}, err
	}

	index := uint32(kv.Val)
	addr, err := a.der.Derive(network, index)
	if err != nil {
		return model.Address{}, err
	}
	if err = r.SwapKv(ctx, kv, kv.Val+1); err != nil {
		return model.Address{}, err
	}

	now := time.Now()
	m := model.Address{
		Owner:       owner,
		Coin:        coin,
		Network:     network,
		Address:     addr,
		DeriveIndex: index,
		Active:      true,
		Model:       model.Model{CreatedAt: now, UpdatedAt: now},
	}
	if err = r.InsertAddress(ctx, &m); err != nil {
		return model.Address{}, err
	}
	logger.Infof("issued address %s (%s #%d) to owner:%d for %s", addr, space, index, owner, coin)
	return m, nil
}

// Lookup maps an address seen on chain back to its record, active or not.
func (a *Allocator) Lookup(ctx context.Context, network, addr string) (model.Address, error) {
	network = strings.ToUpper(network)
	family, err := currency.FamilyOf(network)
	if err != nil {
		return model.Address{}, werr.WithDetails(werr.ErrInvalidNetwork, map[string]string{"network": network})
	}
	if family == currency.FamilyEVM && common.IsHexAddress(addr) {
		addr = common.HexToAddress(addr).Hex()
	}

	m, err := a.st.FindAddress(ctx, network, addr)
	if errors.Is(err, store.ErrNotFound) {
		return m, werr.WithDetails(werr.ErrNotFound, map[string]string{"address": addr})
	}
	return m, err
}

// List returns every address of owner, newest first. An empty coin lists
// all currencies.
func (a *Allocator) List(ctx context.Context, owner int64, coin string) ([]model.Address, error) {
	if coin != "" {
		info, err := a.reg.Get(coin)
		if err != nil {
			return nil, err
		}
		coin = info.Symbol
	}
	return a.st.ListAddresses(ctx, owner, coin)
}
