package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sample = `
is_debug: true
data_dir: /tmp/ccwallet
nats:
  url: nats://127.0.0.1:4222
wallet:
  review_after: 45m
  currencies:
    - symbol: usdt
      decimals: 6
      min_withdraw: "10"
      max_withdraw: "100000"
      withdraw_fee: "1"
      confirmations: 12
      networks: [ERC20, TRC20]
      tier_limits:
        0: "1000"
        1: "50000"
  kyc:
    enabled: true
    static:
      1: 2
`

func TestInit(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(fpath, []byte(sample), 0644))

	Init(fpath)

	require.True(t, Shared.IsDebug)
	require.Equal(t, 45*time.Minute, Shared.Wallet.ReviewAfter)
	require.Equal(t, time.Minute, Shared.Wallet.SweepInterval)
	require.Equal(t, "WALLET", Shared.Nats.Stream)
	require.Equal(t, "/tmp/ccwallet/journal/wallet.log", Shared.Wallet.JournalFile)
	require.Equal(t, "static", Shared.Wallet.Kyc.Source)
	require.Equal(t, 2, Shared.Wallet.Kyc.Static[1])

	require.Len(t, Shared.Wallet.Currencies, 1)
	usdt := Shared.Wallet.Currencies[0]
	require.Equal(t, int32(6), usdt.Decimals)
	require.Equal(t, "50000", usdt.TierLimits[1])
	require.Equal(t, []string{"ERC20", "TRC20"}, usdt.Networks)
}

func TestValidate(t *testing.T) {
	c := &Config{Wallet: Wallet{Currencies: []Currency{
		{Symbol: "BTC", Decimals: 8, Networks: []string{"BTC"}},
		{Symbol: "btc", Decimals: 8, Networks: []string{"BTC"}},
		{Symbol: "ETH", Decimals: 30, Networks: []string{"ERC20"}},
		{Symbol: "", Decimals: 2},
		{Symbol: "SOL", Decimals: 9},
	}}}

	err := c.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicated symbol BTC")
	require.Contains(t, err.Error(), "ETH: decimals 30")
	require.Contains(t, err.Error(), "empty symbol")
	require.Contains(t, err.Error(), "SOL: no network")

	c.Wallet.Currencies = c.Wallet.Currencies[:1]
	require.NoError(t, c.Validate())

	c.Wallet.Kyc.Source = "ldap"
	require.Error(t, c.Validate())
}
