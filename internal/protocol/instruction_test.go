package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedmarket/deedmarketd/internal/address"
	"github.com/deedmarket/deedmarketd/internal/domain"
)

func testAddr(tag byte) address.Address {
	var a address.Address
	a[0] = 0x5a
	a[31] = tag
	return a
}

func ptr[T any](v T) *T { return &v }

func TestInstructionRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		ix   Instruction
	}{
		{"initialize_marketplace", InitializeMarketplace{FeePercentage: 250}},
		{"list_property", ListProperty{
			Marketplace: testAddr(1),
			PropertyID:  "prop-001",
			Price:       900_000,
			MetadataURI: "ipfs://QmExample",
			Location:    "221B Baker Street",
			SquareFeet:  1450,
			Bedrooms:    3,
			Bathrooms:   2,
			AssetMint:   testAddr(2),
		}},
		{"update_property all fields", UpdateProperty{
			Property:    testAddr(3),
			Price:       ptr(uint64(750_000)),
			MetadataURI: ptr("ipfs://QmUpdated"),
			IsActive:    ptr(false),
		}},
		{"update_property no fields", UpdateProperty{
			Property: testAddr(3),
		}},
		{"update_property price only", UpdateProperty{
			Property: testAddr(3),
			Price:    ptr(uint64(1)),
		}},
		{"make_offer", MakeOffer{
			Property:       testAddr(4),
			Amount:         850_000,
			ExpirationTime: 1_767_225_600,
		}},
		{"respond_to_offer accept", RespondToOffer{Offer: testAddr(5), Accept: true}},
		{"respond_to_offer reject", RespondToOffer{Offer: testAddr(5), Accept: false}},
		{"reclaim_expired_offer", ReclaimExpiredOffer{Offer: testAddr(6)}},
		{"withdraw_fees", WithdrawFees{Marketplace: testAddr(1), Amount: 9000}},
		{"deposit", Deposit{Amount: 1_000_000}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc := tc.ix.Encode()
			d := Discriminator(tc.ix.Name())
			require.GreaterOrEqual(t, len(enc), 8)
			assert.Equal(t, d[:], enc[:8], "encoding must start with the operation discriminator")

			decoded, err := Decode(enc)
			require.NoError(t, err)
			assert.Equal(t, tc.ix, decoded)
		})
	}
}

func TestDiscriminatorsDistinct(t *testing.T) {
	names := []string{
		"initialize_marketplace",
		"list_property",
		"update_property",
		"make_offer",
		"respond_to_offer",
		"reclaim_expired_offer",
		"withdraw_fees",
		"deposit",
	}
	seen := map[[8]byte]string{}
	for _, name := range names {
		d := Discriminator(name)
		prev, dup := seen[d]
		require.False(t, dup, "%s collides with %s", name, prev)
		seen[d] = name

		// Deterministic across calls.
		assert.Equal(t, d, Discriminator(name))
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	enc := Deposit{Amount: 42}.Encode()
	_, err := Decode(append(enc, 0x00))
	require.ErrorIs(t, err, domain.ErrBadEncode)
}

func TestDecodeRejectsTruncation(t *testing.T) {
	enc := MakeOffer{Property: testAddr(7), Amount: 10, ExpirationTime: 99}.Encode()
	for _, n := range []int{0, 4, 8, len(enc) - 1} {
		_, err := Decode(enc[:n])
		require.ErrorIs(t, err, domain.ErrBadEncode, "prefix of %d bytes", n)
	}
}

func TestDecodeRejectsUnknownDiscriminator(t *testing.T) {
	_, err := Decode(make([]byte, 16))
	require.ErrorIs(t, err, domain.ErrBadEncode)
}

func TestDecodeRejectsInvalidBool(t *testing.T) {
	enc := RespondToOffer{Offer: testAddr(8), Accept: true}.Encode()
	enc[len(enc)-1] = 2
	_, err := Decode(enc)
	require.ErrorIs(t, err, domain.ErrBadEncode)
}

func TestDecodeRejectsInvalidUTF8(t *testing.T) {
	ix := ListProperty{
		Marketplace: testAddr(9),
		PropertyID:  "ab",
		Price:       1,
		AssetMint:   testAddr(10),
	}
	enc := ix.Encode()

	// PropertyID bytes sit after the discriminator (8), the marketplace
	// address (32) and the string length prefix (4).
	const idOffset = 8 + 32 + 4
	enc[idOffset] = 0xff
	enc[idOffset+1] = 0xff

	_, err := Decode(enc)
	require.ErrorIs(t, err, domain.ErrBadEncode)
}

func TestOptionalPresenceBytes(t *testing.T) {
	with := UpdateProperty{Property: testAddr(11), Price: ptr(uint64(5))}.Encode()
	without := UpdateProperty{Property: testAddr(11)}.Encode()

	// A present optional carries a 1 marker plus its payload; an absent one
	// is a single 0 byte.
	assert.Equal(t, len(without)+8, len(with))
}
