package address

import (
	"fmt"
	"sort"
	"strings"

	"ccwallet/pkg/currency"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/crypto"
	tronaddr "github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/tyler-smith/go-bip32"
)

// Deriver turns an index into a deposit address of a network.
type Deriver interface {
	// Keyspace names the index counter of network. Networks that derive
	// from the same key share one, so no two users get the same address.
	Keyspace(network string) (string, error)
	Derive(network string, index uint32) (string, error)
}

// HD derives non-hardened children of an account level extended public
// key, one key per network.
type HD struct {
	keys   map[string]*bip32.Key
	spaces map[string]string
}

// NewHD parses xpubs (network => xpub). Private keys are refused.
func NewHD(xpubs map[string]string) (*HD, error) {
	h := &HD{keys: map[string]*bip32.Key{}, spaces: map[string]string{}}

	networks := make([]string, 0, len(xpubs))
	for n := range xpubs {
		networks = append(networks, n)
	}
	sort.Strings(networks)

	owner := map[string]string{} // xpub => first network using it
	for _, n := range networks {
		network := strings.ToUpper(n)
		if _, err := currency.FamilyOf(network); err != nil {
			return nil, err
		}
		key, err := bip32.B58Deserialize(xpubs[n])
		if err != nil {
			return nil, fmt.Errorf("xpub of %s: %w", network, err)
		}
		if key.IsPrivate {
			return nil, fmt.Errorf("xpub of %s is a private key", network)
		}
		h.keys[network] = key

		if first, ok := owner[xpubs[n]]; ok {
			h.spaces[network] = first
		} else {
			owner[xpubs[n]] = network
			h.spaces[network] = network
		}
	}
	return h, nil
}

func (h *HD) Keyspace(network string) (string, error) {
	s, ok := h.spaces[strings.ToUpper(network)]
	if !ok {
		return "", fmt.Errorf("no xpub configured for %s", network)
	}
	return s, nil
}

func (h *HD) Derive(network string, index uint32) (string, error) {
	network = strings.ToUpper(network)
	key, ok := h.keys[network]
	if !ok {
		return "", fmt.Errorf("no xpub configured for %s", network)
	}
	if index >= bip32.FirstHardenedChild {
		return "", fmt.Errorf("index %d exhausted the non-hardened range", index)
	}

	child, err := key.NewChildKey(index)
	if err != nil {
		return "", err
	}
	return Encode(network, child.Key)
}

// Encode renders a compressed secp256k1 public key as an address of
// network.
func Encode(network string, pub []byte) (string, error) {
	family, err := currency.FamilyOf(network)
	if err != nil {
		return "", err
	}

	switch family {
	case currency.FamilyEVM:
		pk, err := crypto.DecompressPubkey(pub)
		if err != nil {
			return "", err
		}
		return crypto.PubkeyToAddress(*pk).Hex(), nil
	case currency.FamilyBitcoin:
		a, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub), currency.BitcoinParams(network))
		if err != nil {
			return "", err
		}
		return a.EncodeAddress(), nil
	case currency.FamilyTron:
		pk, err := crypto.DecompressPubkey(pub)
		if err != nil {
			return "", err
		}
		return tronaddr.PubkeyToAddress(*pk).String(), nil
	}
	return "", fmt.Errorf("no encoder for %s", network)
}
