package address

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedmarket/deedmarketd/internal/domain"
)

func TestDeriveDeterministic(t *testing.T) {
	a1, bump1, err := Derive([]byte("marketplace"), []byte("authority"))
	require.NoError(t, err)
	a2, bump2, err := Derive([]byte("marketplace"), []byte("authority"))
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.Equal(t, bump1, bump2)
	assert.NotZero(t, a1[0], "bump scan must land on a non-degenerate address")
}

func TestDeriveDistinctSeeds(t *testing.T) {
	a1, _, err := Derive([]byte("marketplace"), []byte("alice"))
	require.NoError(t, err)
	a2, _, err := Derive([]byte("marketplace"), []byte("bob"))
	require.NoError(t, err)
	a3, _, err := Derive([]byte("property"), []byte("alice"))
	require.NoError(t, err)

	assert.NotEqual(t, a1, a2)
	assert.NotEqual(t, a1, a3)
	assert.NotEqual(t, a2, a3)
}

func TestDeriveLengthPrefixInjective(t *testing.T) {
	// Without length prefixes these two seed lists would concatenate to the
	// same byte string.
	a1, _, err := Derive([]byte("ab"), []byte("c"))
	require.NoError(t, err)
	a2, _, err := Derive([]byte("a"), []byte("bc"))
	require.NoError(t, err)

	assert.NotEqual(t, a1, a2)
}

func TestDeriveSeedTooLong(t *testing.T) {
	ok := bytes.Repeat([]byte{0x01}, MaxSeedLength)
	_, _, err := Derive(ok)
	require.NoError(t, err)

	long := bytes.Repeat([]byte{0x01}, MaxSeedLength+1)
	_, _, err = Derive(long)
	require.ErrorIs(t, err, domain.ErrSeedTooLong)

	_, _, err = Derive([]byte("fine"), long)
	require.ErrorIs(t, err, domain.ErrSeedTooLong)
}

func TestHexRoundTrip(t *testing.T) {
	a, _, err := Derive([]byte("offer"), []byte("round-trip"))
	require.NoError(t, err)

	parsed, err := FromHex(a.Hex())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	// Bare hex without the 0x prefix parses too.
	parsed, err = FromHex(a.Hex()[2:])
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestFromHexRejectsMalformed(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short", "0xabcd"},
		{"not hex", "0x" + string(bytes.Repeat([]byte("zz"), 32))},
		{"too long", "0x" + string(bytes.Repeat([]byte("ab"), 33))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromHex(tc.input)
			require.Error(t, err)
		})
	}
}

func TestZeroSentinel(t *testing.T) {
	assert.True(t, Zero.IsZero())

	a, _, err := Derive([]byte("anything"))
	require.NoError(t, err)
	assert.False(t, a.IsZero())
	assert.Equal(t, "0x", a.Hex()[:2])
	assert.Len(t, a.Hex(), 66)
}

func TestSeedTemplatesDistinct(t *testing.T) {
	authority := common.BytesToAddress([]byte{0xa1})
	buyer := common.BytesToAddress([]byte{0xb2})

	market, _, err := Marketplace(authority)
	require.NoError(t, err)
	vault, _, err := FeeVault(market)
	require.NoError(t, err)
	prop, _, err := Property(market, "prop-001")
	require.NoError(t, err)
	offer, _, err := Offer(prop, buyer)
	require.NoError(t, err)
	escrow, _, err := EscrowAccount(prop, buyer)
	require.NoError(t, err)
	tx, _, err := Transaction(prop, 0)
	require.NoError(t, err)

	seen := map[Address]string{}
	for name, a := range map[string]Address{
		"marketplace": market,
		"fee_vault":   vault,
		"property":    prop,
		"offer":       offer,
		"escrow":      escrow,
		"transaction": tx,
	} {
		prev, dup := seen[a]
		require.False(t, dup, "%s collides with %s", name, prev)
		seen[a] = name
	}

	// Same (property, buyer) pair, different template: the offer account and
	// its escrow account must never coincide.
	assert.NotEqual(t, offer, escrow)
}

func TestTransactionIndexedDerivation(t *testing.T) {
	prop, _, err := Derive([]byte("property"), []byte("indexed"))
	require.NoError(t, err)

	tx0, _, err := Transaction(prop, 0)
	require.NoError(t, err)
	tx1, _, err := Transaction(prop, 1)
	require.NoError(t, err)

	assert.NotEqual(t, tx0, tx1)
}

func TestAssetCustodyPerHolder(t *testing.T) {
	mint, _, err := Derive([]byte("mint"), []byte("custody-test"))
	require.NoError(t, err)
	alice := common.BytesToAddress([]byte{0x01})
	bob := common.BytesToAddress([]byte{0x02})

	ca, _, err := AssetCustody(mint, alice)
	require.NoError(t, err)
	cb, _, err := AssetCustody(mint, bob)
	require.NoError(t, err)

	assert.NotEqual(t, ca, cb)
}
