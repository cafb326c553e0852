package xetcd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "wallet_service_wallet", KeyWalletService("Wallet"))
	assert.Equal(t, "nats_wallet_wallet", KeyNatsService("WALLET"))
	assert.Equal(t, "/ccwallet/locks/sweeper", KeySweeperLock())
	assert.Equal(t, "/ccwallet/schema_release", KeySchemaRelease())
	assert.NotEqual(t, KeyWalletService("relay"), KeyWalletService("wallet"))
}
