// Package currency holds the static per-currency policy: precision, limits,
// fees, required confirmations and supported networks.
package currency

import (
	"fmt"
	"sort"
	"strings"

	"ccwallet/pkg/config"
	"ccwallet/pkg/werr"

	"github.com/shopspring/decimal"
)

// Info is the policy of one currency. It is never modified after start.
type Info struct {
	Symbol        string
	Name          string
	Decimals      int32
	MinDeposit    decimal.Decimal
	MinWithdraw   decimal.Decimal
	MaxWithdraw   decimal.Decimal // zero means unlimited
	WithdrawFee   decimal.Decimal
	Confirmations int
	Networks      []string

	// TierLimits caps a single withdrawal per kyc tier. A tier without an
	// entry falls back to the highest configured tier below it.
	TierLimits map[int]decimal.Decimal
}

func (i Info) SupportsNetwork(network string) bool {
	for _, n := range i.Networks {
		if strings.EqualFold(n, network) {
			return true
		}
	}
	return false
}

// CheckPrecision rejects amounts with more fractional digits than the
// currency carries.
func (i Info) CheckPrecision(amount decimal.Decimal) error {
	if !amount.Equal(amount.Truncate(i.Decimals)) {
		return werr.WithDetails(werr.Newf(werr.ErrInvalidAmount, "%s supports at most %d decimals", i.Symbol, i.Decimals),
			map[string]string{"amount": amount.String()})
	}
	return nil
}

// TierLimit returns the single-withdrawal cap for tier, and false when no
// limit applies.
func (i Info) TierLimit(tier int) (decimal.Decimal, bool) {
	if len(i.TierLimits) == 0 {
		return decimal.Zero, false
	}
	best, found := -1, false
	for t := range i.TierLimits {
		if t <= tier && t > best {
			best, found = t, true
		}
	}
	if !found {
		// below every configured tier: nothing may be withdrawn
		return decimal.Zero, true
	}
	return i.TierLimits[best], true
}

// Registry is the read-only set of supported currencies.
type Registry struct {
	coins map[string]Info
}

// NewRegistry checks every entry and indexes it by upper-case symbol.
func NewRegistry(infos ...Info) (*Registry, error) {
	r := &Registry{coins: make(map[string]Info, len(infos))}
	for _, info := range infos {
		info.Symbol = strings.ToUpper(info.Symbol)
		if err := info.check(); err != nil {
			return nil, err
		}
		if _, ok := r.coins[info.Symbol]; ok {
			return nil, fmt.Errorf("currency %s registered twice", info.Symbol)
		}
		nets := make([]string, len(info.Networks))
		for k, n := range info.Networks {
			nets[k] = strings.ToUpper(n)
		}
		info.Networks = nets
		r.coins[info.Symbol] = info
	}
	return r, nil
}

func (i Info) check() error {
	switch {
	case i.Symbol == "":
		return fmt.Errorf("currency without symbol")
	case i.Decimals < 0 || i.Decimals > 18:
		return fmt.Errorf("%s: decimals %d out of range", i.Symbol, i.Decimals)
	case len(i.Networks) == 0:
		return fmt.Errorf("%s: no network", i.Symbol)
	case i.MinWithdraw.IsNegative() || i.MinDeposit.IsNegative() || i.WithdrawFee.IsNegative():
		return fmt.Errorf("%s: negative limit or fee", i.Symbol)
	case i.MaxWithdraw.IsPositive() && i.MaxWithdraw.LessThan(i.MinWithdraw):
		return fmt.Errorf("%s: max withdraw below min withdraw", i.Symbol)
	}
	for _, n := range i.Networks {
		if _, err := FamilyOf(n); err != nil {
			return fmt.Errorf("%s: %w", i.Symbol, err)
		}
	}
	return nil
}

// FromConfig builds the registry from the wallet.currencies section.
func FromConfig(list []config.Currency) (*Registry, error) {
	infos := make([]Info, 0, len(list))
	for _, c := range list {
		info := Info{
			Symbol:        c.Symbol,
			Name:          c.Name,
			Decimals:      c.Decimals,
			Confirmations: c.Confirmations,
			Networks:      c.Networks,
			TierLimits:    map[int]decimal.Decimal{},
		}

		var err error
		parse := func(field, s string) decimal.Decimal {
			if s == "" || err != nil {
				return decimal.Zero
			}
			d, e := decimal.NewFromString(s)
			if e != nil {
				err = fmt.Errorf("%s.%s: %w", c.Symbol, field, e)
			}
			return d
		}
		info.MinDeposit = parse("min_deposit", c.MinDeposit)
		info.MinWithdraw = parse("min_withdraw", c.MinWithdraw)
		info.MaxWithdraw = parse("max_withdraw", c.MaxWithdraw)
		info.WithdrawFee = parse("withdraw_fee", c.WithdrawFee)
		for tier, limit := range c.TierLimits {
			info.TierLimits[tier] = parse(fmt.Sprintf("tier_limits.%d", tier), limit)
		}
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return NewRegistry(infos...)
}

// Get returns the policy of symbol, case-insensitively.
func (r *Registry) Get(symbol string) (Info, error) {
	info, ok := r.coins[strings.ToUpper(symbol)]
	if !ok {
		return Info{}, werr.WithDetails(werr.ErrUnsupportedCurrency, map[string]string{"currency": symbol})
	}
	return info, nil
}

func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.coins))
	for s := range r.coins {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
