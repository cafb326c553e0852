package currency

import (
	"fmt"
	"strings"

	"ccwallet/pkg/werr"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	tronaddr "github.com/fbsobreira/gotron-sdk/pkg/address"
)

// Family groups networks that share an address format.
type Family int

const (
	FamilyEVM Family = iota + 1
	FamilyBitcoin
	FamilyTron
)

func (f Family) String() string {
	switch f {
	case FamilyEVM:
		return "evm"
	case FamilyBitcoin:
		return "bitcoin"
	case FamilyTron:
		return "tron"
	}
	return "unknown"
}

var networks = map[string]Family{
	"ETH":         FamilyEVM,
	"ERC20":       FamilyEVM,
	"BSC":         FamilyEVM,
	"BEP20":       FamilyEVM,
	"POLYGON":     FamilyEVM,
	"ARBITRUM":    FamilyEVM,
	"BTC":         FamilyBitcoin,
	"BTC_TESTNET": FamilyBitcoin,
	"TRON":        FamilyTron,
	"TRC20":       FamilyTron,
}

const tronPrefix = 0x41

func FamilyOf(network string) (Family, error) {
	f, ok := networks[strings.ToUpper(network)]
	if !ok {
		return 0, fmt.Errorf("unknown network %q", network)
	}
	return f, nil
}

// BitcoinParams returns the chain parameters of a bitcoin-family network.
func BitcoinParams(network string) *chaincfg.Params {
	if strings.EqualFold(network, "BTC_TESTNET") {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

// ValidateAddress checks that addr is well formed for network. It says
// nothing about whether the address exists on chain.
func ValidateAddress(network, addr string) error {
	family, err := FamilyOf(network)
	if err != nil {
		return werr.WithDetails(werr.ErrInvalidNetwork, map[string]string{"network": network})
	}

	switch family {
	case FamilyEVM:
		err = validateEVM(addr)
	case FamilyBitcoin:
		err = validateBitcoin(addr, BitcoinParams(network))
	case FamilyTron:
		err = validateTron(addr)
	}
	if err != nil {
		return werr.WithDetails(werr.Wrap(werr.ErrInvalidAddress, err), map[string]string{"network": strings.ToUpper(network)})
	}
	return nil
}

func validateEVM(addr string) error {
	if !common.IsHexAddress(addr) || !strings.HasPrefix(addr, "0x") {
		return fmt.Errorf("not a 0x-prefixed 20 byte hex address")
	}
	// mixed case means EIP-55, which must match
	body := addr[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if common.HexToAddress(addr).Hex() != addr {
			return fmt.Errorf("bad checksum")
		}
	}
	return nil
}

func validateBitcoin(addr string, params *chaincfg.Params) error {
	a, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return err
	}
	if !a.IsForNet(params) {
		return fmt.Errorf("address is not for %s", params.Name)
	}
	return nil
}

func validateTron(addr string) error {
	if !strings.HasPrefix(addr, "T") || len(addr) != 34 {
		return fmt.Errorf("must start with T and be 34 characters")
	}
	a, err := tronaddr.Base58ToAddress(addr)
	if err != nil {
		return err
	}
	if len(a) != 21 || a[0] != tronPrefix {
		return fmt.Errorf("unexpected address payload")
	}
	return nil
}
