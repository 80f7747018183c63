// Package address implements deterministic, registry-free account addressing.
// Any party holding the same ordered seeds derives the same 32-byte address,
// so clients, the node, and the read-side mirror can all locate an account
// without a lookup table.
package address

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/deedmarket/deedmarketd/internal/domain"
)

// MaxSeedLength is the maximum length of a single derivation seed in bytes.
const MaxSeedLength = 32

// namespace scopes every derivation to this protocol so addresses can never
// collide with hashes produced by other systems sharing the hash function.
var namespace = []byte("deedmarket/v1")

// Address is a 32-byte derived account address.
type Address [32]byte

// Zero is the all-zero address, used as the "unset" sentinel.
var Zero Address

// Hex returns the 0x-prefixed lowercase hex encoding of the address.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// IsZero reports whether the address is the zero sentinel.
func (a Address) IsZero() bool { return a == Zero }

// FromHex parses a 0x-prefixed or bare 64-character hex string.
func FromHex(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return Zero, domain.ErrNotFound
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// Derive computes the address for an ordered seed list together with its bump,
// the disambiguation byte mixed into the hash. The bump scan starts at 255 and
// walks down until the candidate address is non-degenerate (leading byte not
// zero), so in practice the first candidate is accepted. Derivation fails with
// ErrSeedTooLong when any seed exceeds MaxSeedLength.
func Derive(seeds ...[]byte) (Address, uint8, error) {
	for _, s := range seeds {
		if len(s) > MaxSeedLength {
			return Zero, 0, domain.ErrSeedTooLong
		}
	}

	for bump := 255; bump >= 0; bump-- {
		addr := hashSeeds(seeds, uint8(bump))
		if addr[0] != 0 {
			return addr, uint8(bump), nil
		}
	}

	// Statistically unreachable: 256 consecutive candidates with a zero
	// leading byte.
	return Zero, 0, domain.ErrSeedTooLong
}

// hashSeeds computes keccak256 over the length-prefixed seed list, the bump,
// and the protocol namespace. Length prefixes make the encoding injective:
// ["ab","c"] and ["a","bc"] hash differently.
func hashSeeds(seeds [][]byte, bump uint8) Address {
	var buf []byte
	var lenPrefix [4]byte
	for _, s := range seeds {
		binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(s)))
		buf = append(buf, lenPrefix[:]...)
		buf = append(buf, s...)
	}
	buf = append(buf, bump)
	buf = append(buf, namespace...)

	var a Address
	copy(a[:], ethcrypto.Keccak256(buf))
	return a
}

// ---------------------------------------------------------------------------
// Seed templates. These are the only compositions the protocol uses; every
// party derives the same account addresses from them.
// ---------------------------------------------------------------------------

// Marketplace derives the singleton marketplace account for an authority.
func Marketplace(authority common.Address) (Address, uint8, error) {
	return Derive([]byte("marketplace"), authority.Bytes())
}

// FeeVault derives the protocol-owned fee collection account of a marketplace.
func FeeVault(marketplace Address) (Address, uint8, error) {
	return Derive([]byte("fee_vault"), marketplace[:])
}

// Property derives the property account for a caller-chosen id.
func Property(marketplace Address, propertyID string) (Address, uint8, error) {
	return Derive([]byte("property"), marketplace[:], []byte(propertyID))
}

// Offer derives the offer account for a (property, buyer) pair.
func Offer(property Address, buyer common.Address) (Address, uint8, error) {
	return Derive([]byte("offer"), property[:], buyer.Bytes())
}

// EscrowAccount derives the fund-holding escrow account for a
// (property, buyer) pair.
func EscrowAccount(property Address, buyer common.Address) (Address, uint8, error) {
	return Derive([]byte("escrow"), property[:], buyer.Bytes())
}

// Transaction derives the append-only sale record account for a property and
// sequence index.
func Transaction(property Address, index uint64) (Address, uint8, error) {
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], index)
	return Derive([]byte("transaction"), property[:], idx[:])
}

// AssetCustody derives the custody account holding one identity's balance of
// one asset mint.
func AssetCustody(mint Address, holder common.Address) (Address, uint8, error) {
	return Derive([]byte("custody"), mint[:], holder.Bytes())
}
