package wallet

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip32"
)

// Deterministic secret derivation path constants.
// Full path: m/129372'/0'/keyset'/counter'/{0,1}
const (
	// purposeEcash is the hardened purpose field reserved for ecash
	// secret derivation.
	purposeEcash = bip32.FirstHardenedChild + 129372

	// coinTypeSat is the hardened coin type (unit) index.
	coinTypeSat = bip32.FirstHardenedChild + 0

	// leafSecret and leafBlinding select the two leaves under each
	// counter: the proof secret and its blinding factor.
	leafSecret   = 0
	leafBlinding = 1
)

// DeriveMasterKey creates the BIP-32 master key for secret derivation
// from a 64-byte seed.
func DeriveMasterKey(seed []byte) (*bip32.Key, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return master, nil
}

// keysetPathIndex maps a hex keyset id onto a hardened derivation
// index: the id bytes read as a big-endian integer, reduced modulo
// 2^31 - 1.
func keysetPathIndex(keysetID string) (uint32, error) {
	raw, err := hex.DecodeString(keysetID)
	if err != nil {
		return 0, fmt.Errorf("keyset id %q is not hex: %w", keysetID, err)
	}
	n := new(big.Int).SetBytes(raw)
	n.Mod(n, big.NewInt((1<<31)-1))
	return uint32(n.Uint64()), nil
}

// deriveLeaf walks m/129372'/0'/keyset'/counter'/leaf.
func deriveLeaf(master *bip32.Key, keysetID string, counter uint32, leaf uint32) (*bip32.Key, error) {
	keysetIdx, err := keysetPathIndex(keysetID)
	if err != nil {
		return nil, err
	}
	key := master
	for _, idx := range []uint32{
		purposeEcash,
		coinTypeSat,
		bip32.FirstHardenedChild + keysetIdx,
		bip32.FirstHardenedChild + counter,
		leaf,
	} {
		key, err = key.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
	}
	return key, nil
}

// privateKeyBytes returns the raw 32-byte scalar of a derived key.
// bip32 private keys carry a leading 0x00 pad byte.
func privateKeyBytes(k *bip32.Key) []byte {
	raw := k.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// DeriveSecret returns the deterministic proof secret for
// (keyset, counter): the hex encoding of the derived scalar, as a
// UTF-8 string. Re-derivable from the seed alone, which is what makes
// seed-only recovery possible.
func DeriveSecret(master *bip32.Key, keysetID string, counter uint32) ([]byte, error) {
	key, err := deriveLeaf(master, keysetID, counter, leafSecret)
	if err != nil {
		return nil, err
	}
	return []byte(hex.EncodeToString(privateKeyBytes(key))), nil
}

// DeriveBlindingFactor returns the deterministic blinding factor for
// (keyset, counter).
func DeriveBlindingFactor(master *bip32.Key, keysetID string, counter uint32) (*secp256k1.PrivateKey, error) {
	key, err := deriveLeaf(master, keysetID, counter, leafBlinding)
	if err != nil {
		return nil, err
	}
	return secp256k1.PrivKeyFromBytes(privateKeyBytes(key)), nil
}
