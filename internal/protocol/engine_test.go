package protocol

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedmarket/deedmarketd/internal/address"
	"github.com/deedmarket/deedmarketd/internal/domain"
)

var (
	authority = common.BytesToAddress([]byte{0xa1})
	seller    = common.BytesToAddress([]byte{0xb2})
	buyer     = common.BytesToAddress([]byte{0xc3})
	stranger  = common.BytesToAddress([]byte{0xd4})
)

// newTestEngine returns an engine with a controllable clock. Mutating the
// returned time moves the engine's notion of now.
func newTestEngine(t *testing.T) (*Engine, *time.Time) {
	t.Helper()
	e := NewEngine()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.SetClock(func() time.Time { return now })
	return e, &now
}

func setupMarketplace(t *testing.T, e *Engine, feePct uint16) address.Address {
	t.Helper()
	rcpt, err := e.Apply(authority, InitializeMarketplace{FeePercentage: feePct})
	require.NoError(t, err)
	require.NotNil(t, rcpt.Marketplace)

	market, err := address.FromHex(rcpt.Marketplace.Address)
	require.NoError(t, err)
	return market
}

func listTestProperty(t *testing.T, e *Engine, market address.Address, id string, price uint64) (address.Address, address.Address) {
	t.Helper()
	var mint address.Address
	mint[0] = 0x5a
	copy(mint[1:], id)

	rcpt, err := e.Apply(seller, ListProperty{
		Marketplace: market,
		PropertyID:  id,
		Price:       price,
		MetadataURI: "ipfs://Qm" + id,
		Location:    "1 Test Lane",
		SquareFeet:  1200,
		Bedrooms:    2,
		Bathrooms:   1,
		AssetMint:   mint,
	})
	require.NoError(t, err)
	require.NotNil(t, rcpt.Property)

	prop, err := address.FromHex(rcpt.Property.Address)
	require.NoError(t, err)
	return prop, mint
}

func placeOffer(t *testing.T, e *Engine, now time.Time, prop address.Address, amount uint64) address.Address {
	t.Helper()
	_, err := e.Apply(buyer, Deposit{Amount: amount})
	require.NoError(t, err)

	rcpt, err := e.Apply(buyer, MakeOffer{
		Property:       prop,
		Amount:         amount,
		ExpirationTime: now.Add(24 * time.Hour).Unix(),
	})
	require.NoError(t, err)
	require.NotNil(t, rcpt.Offer)

	offer, err := address.FromHex(rcpt.Offer.Address)
	require.NoError(t, err)
	return offer
}

func TestInitializeMarketplace(t *testing.T) {
	e, _ := newTestEngine(t)

	rcpt, err := e.Apply(authority, InitializeMarketplace{FeePercentage: 250})
	require.NoError(t, err)
	require.NotNil(t, rcpt.Marketplace)
	assert.Equal(t, authority.Hex(), rcpt.Marketplace.Authority)
	assert.Equal(t, uint16(250), rcpt.Marketplace.FeePercentage)
	assert.NotEmpty(t, rcpt.Marketplace.FeeVault)
	require.Len(t, rcpt.Events, 1)
	assert.Equal(t, domain.EventMarketplaceInitialized, rcpt.Events[0].Type)

	market, err := address.FromHex(rcpt.Marketplace.Address)
	require.NoError(t, err)
	resolved, err := e.MarketplaceByAuthority(authority)
	require.NoError(t, err)
	assert.Equal(t, market, resolved)

	// The marketplace account is derived from the authority, so a second
	// initialize by the same signer hits the same address.
	_, err = e.Apply(authority, InitializeMarketplace{FeePercentage: 100})
	require.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	// A different authority gets its own singleton.
	_, err = e.Apply(stranger, InitializeMarketplace{FeePercentage: 0})
	require.NoError(t, err)
}

func TestInitializeMarketplaceFeeBounds(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Apply(authority, InitializeMarketplace{FeePercentage: 10001})
	require.ErrorIs(t, err, domain.ErrInvalidFeePercentage)

	_, err = e.Apply(authority, InitializeMarketplace{FeePercentage: 10000})
	require.NoError(t, err)
}

func TestListProperty(t *testing.T) {
	e, _ := newTestEngine(t)
	market := setupMarketplace(t, e, 100)

	prop, mint := listTestProperty(t, e, market, "prop-001", 900_000)

	// The freshly minted single unit sits with the lister.
	bal, err := e.AssetBalance(mint, seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bal)
	bal, err = e.AssetBalance(mint, buyer)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bal)

	// Same id again is a conflict regardless of signer.
	_, err = e.Apply(stranger, ListProperty{
		Marketplace: market,
		PropertyID:  "prop-001",
		Price:       1,
		AssetMint:   testAddr(0xee),
	})
	require.ErrorIs(t, err, domain.ErrDuplicateProperty)

	// A mint already bound to a property cannot back a second one.
	_, err = e.Apply(seller, ListProperty{
		Marketplace: market,
		PropertyID:  "prop-002",
		Price:       1,
		AssetMint:   mint,
	})
	require.ErrorIs(t, err, domain.ErrInvalidAssetMint)

	// The property address is the deterministic derivation all parties share.
	derived, _, err := address.Property(market, "prop-001")
	require.NoError(t, err)
	assert.Equal(t, derived, prop)
}

func TestListPropertyValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	market := setupMarketplace(t, e, 100)

	cases := []struct {
		name string
		ix   ListProperty
		want error
	}{
		{"unknown marketplace", ListProperty{
			Marketplace: testAddr(0x99), PropertyID: "x", Price: 1, AssetMint: testAddr(1),
		}, domain.ErrNotFound},
		{"id too long", ListProperty{
			Marketplace: market,
			PropertyID:  "0123456789012345678901234567890123456789",
			Price:       1,
			AssetMint:   testAddr(2),
		}, domain.ErrPropertyIDTooLong},
		{"location too long", ListProperty{
			Marketplace: market,
			PropertyID:  "loc",
			Price:       1,
			Location:    strings.Repeat("a", 256),
			AssetMint:   testAddr(4),
		}, domain.ErrLocationTooLong},
		{"zero price", ListProperty{
			Marketplace: market, PropertyID: "zero", Price: 0, AssetMint: testAddr(3),
		}, domain.ErrInvalidPrice},
		{"zero mint", ListProperty{
			Marketplace: market, PropertyID: "nomint", Price: 1,
		}, domain.ErrInvalidAssetMint},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Apply(seller, tc.ix)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestUpdateProperty(t *testing.T) {
	e, _ := newTestEngine(t)
	market := setupMarketplace(t, e, 100)
	prop, _ := listTestProperty(t, e, market, "prop-001", 900_000)

	rcpt, err := e.Apply(seller, UpdateProperty{
		Property:    prop,
		Price:       ptr(uint64(850_000)),
		MetadataURI: ptr("ipfs://QmNew"),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(850_000), rcpt.Property.Price)
	assert.Equal(t, "ipfs://QmNew", rcpt.Property.MetadataURI)
	assert.True(t, rcpt.Property.IsActive, "untouched fields keep their value")

	_, err = e.Apply(stranger, UpdateProperty{Property: prop, Price: ptr(uint64(1))})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.Apply(seller, UpdateProperty{Property: prop, Price: ptr(uint64(0))})
	require.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, err = e.Apply(seller, UpdateProperty{Property: testAddr(0x42), Price: ptr(uint64(1))})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMakeOfferLocksEscrow(t *testing.T) {
	e, now := newTestEngine(t)
	market := setupMarketplace(t, e, 100)
	prop, _ := listTestProperty(t, e, market, "prop-001", 900_000)

	_, err := e.Apply(buyer, Deposit{Amount: 1_000_000})
	require.NoError(t, err)

	rcpt, err := e.Apply(buyer, MakeOffer{
		Property:       prop,
		Amount:         900_000,
		ExpirationTime: now.Add(24 * time.Hour).Unix(),
	})
	require.NoError(t, err)
	require.NotNil(t, rcpt.Offer)
	require.NotNil(t, rcpt.Escrow)

	assert.Equal(t, domain.OfferStatusPending, rcpt.Offer.Status)
	assert.Equal(t, uint64(900_000), rcpt.Escrow.Amount)
	assert.True(t, rcpt.Escrow.IsActive)
	assert.Equal(t, uint64(100_000), e.SpendableBalance(buyer),
		"the offer amount moves out of the spendable balance")

	// A second active offer on the same property by the same buyer conflicts.
	_, err = e.Apply(buyer, MakeOffer{
		Property:       prop,
		Amount:         50_000,
		ExpirationTime: now.Add(24 * time.Hour).Unix(),
	})
	require.ErrorIs(t, err, domain.ErrDuplicateActiveOffer)
}

func TestMakeOfferValidation(t *testing.T) {
	e, now := newTestEngine(t)
	market := setupMarketplace(t, e, 100)
	prop, _ := listTestProperty(t, e, market, "prop-001", 900_000)
	future := now.Add(time.Hour).Unix()

	_, err := e.Apply(buyer, MakeOffer{Property: testAddr(0x77), Amount: 1, ExpirationTime: future})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.Apply(buyer, MakeOffer{Property: prop, Amount: 0, ExpirationTime: future})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = e.Apply(buyer, MakeOffer{Property: prop, Amount: 1, ExpirationTime: now.Unix()})
	require.ErrorIs(t, err, domain.ErrInvalidExpiration)

	// No deposit: the lock must fail before any state changes.
	_, err = e.Apply(buyer, MakeOffer{Property: prop, Amount: 1, ExpirationTime: future})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Deactivated listings take no offers.
	_, err = e.Apply(seller, UpdateProperty{Property: prop, IsActive: ptr(false)})
	require.NoError(t, err)
	_, err = e.Apply(buyer, Deposit{Amount: 10})
	require.NoError(t, err)
	_, err = e.Apply(buyer, MakeOffer{Property: prop, Amount: 1, ExpirationTime: future})
	require.ErrorIs(t, err, domain.ErrPropertyInactive)
}

func TestAcceptOfferSettlesAtomically(t *testing.T) {
	e, now := newTestEngine(t)
	market := setupMarketplace(t, e, 100) // 1%
	prop, mint := listTestProperty(t, e, market, "prop-001", 900_000)
	offer := placeOffer(t, e, *now, prop, 900_000)

	rcpt, err := e.Apply(seller, RespondToOffer{Offer: offer, Accept: true})
	require.NoError(t, err)

	// 900000 * 100 / 10000 = 9000 fee, 891000 to the seller.
	assert.Equal(t, uint64(891_000), e.SpendableBalance(seller))
	vault, err := e.VaultBalance(market)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_000), vault)
	assert.Equal(t, uint64(0), e.SpendableBalance(buyer))

	// The asset unit changed hands.
	bal, err := e.AssetBalance(mint, buyer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bal)
	bal, err = e.AssetBalance(mint, seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bal)

	// Post-commit record state.
	require.NotNil(t, rcpt.Property)
	assert.Equal(t, buyer.Hex(), rcpt.Property.Owner)
	assert.False(t, rcpt.Property.IsActive)
	assert.Equal(t, uint64(1), rcpt.Property.TransactionCount)
	assert.Equal(t, domain.OfferStatusCompleted, rcpt.Offer.Status)
	assert.False(t, rcpt.Escrow.IsActive)

	require.NotNil(t, rcpt.Transaction)
	assert.Equal(t, uint64(900_000), rcpt.Transaction.Price)
	assert.Equal(t, uint64(9_000), rcpt.Transaction.Fee)
	assert.Equal(t, uint64(0), rcpt.Transaction.Index)
	assert.Equal(t, buyer.Hex(), rcpt.Transaction.Buyer)
	assert.Equal(t, seller.Hex(), rcpt.Transaction.Seller)

	require.Len(t, rcpt.Events, 1)
	assert.Equal(t, domain.EventSaleCompleted, rcpt.Events[0].Type)

	// A second respond on the settled offer is a state conflict.
	_, err = e.Apply(buyer, RespondToOffer{Offer: offer, Accept: true})
	require.ErrorIs(t, err, domain.ErrOfferNotPending)
}

func TestAcceptTinyAmountTruncatesFeeToZero(t *testing.T) {
	e, now := newTestEngine(t)
	market := setupMarketplace(t, e, 100) // 1%
	prop, _ := listTestProperty(t, e, market, "prop-001", 99)
	offer := placeOffer(t, e, *now, prop, 99)

	_, err := e.Apply(seller, RespondToOffer{Offer: offer, Accept: true})
	require.NoError(t, err)

	// 99 * 100 / 10000 truncates to 0: the whole amount goes to the seller.
	assert.Equal(t, uint64(99), e.SpendableBalance(seller))
	vault, err := e.VaultBalance(market)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), vault)
}

func TestAcceptLargeAmountFeeDoesNotWrap(t *testing.T) {
	// The fee product amount * feePct exceeds 64 bits for large valid
	// amounts; the settlement must still accrue the exact truncated fee.
	e, now := newTestEngine(t)
	market := setupMarketplace(t, e, 100) // 1%
	prop, _ := listTestProperty(t, e, market, "prop-001", 1<<63)
	offer := placeOffer(t, e, *now, prop, 1<<63)

	_, err := e.Apply(seller, RespondToOffer{Offer: offer, Accept: true})
	require.NoError(t, err)

	// (1<<63) * 100 / 10000 = 92233720368547758.
	const wantFee = uint64(92_233_720_368_547_758)
	vault, err := e.VaultBalance(market)
	require.NoError(t, err)
	assert.Equal(t, wantFee, vault)
	assert.Equal(t, uint64(1<<63)-wantFee, e.SpendableBalance(seller))
}

func TestAcceptMaxAmountFullFee(t *testing.T) {
	e, now := newTestEngine(t)
	market := setupMarketplace(t, e, 10000) // 100%
	prop, _ := listTestProperty(t, e, market, "prop-001", math.MaxUint64)
	offer := placeOffer(t, e, *now, prop, math.MaxUint64)

	_, err := e.Apply(seller, RespondToOffer{Offer: offer, Accept: true})
	require.NoError(t, err)

	// The entire amount is fee; nothing reaches the seller.
	vault, err := e.VaultBalance(market)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), vault)
	assert.Equal(t, uint64(0), e.SpendableBalance(seller))
}

func TestAcceptRequiresOwnerAndActiveProperty(t *testing.T) {
	e, now := newTestEngine(t)
	market := setupMarketplace(t, e, 100)
	prop, _ := listTestProperty(t, e, market, "prop-001", 900_000)
	offer := placeOffer(t, e, *now, prop, 900_000)

	_, err := e.Apply(stranger, RespondToOffer{Offer: offer, Accept: true})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.Apply(seller, UpdateProperty{Property: prop, IsActive: ptr(false)})
	require.NoError(t, err)
	_, err = e.Apply(seller, RespondToOffer{Offer: offer, Accept: true})
	require.ErrorIs(t, err, domain.ErrPropertyInactive)

	// The failed accept moved nothing: the escrow still holds the funds and
	// the offer is still pending, so relisting lets it settle.
	assert.Equal(t, uint64(0), e.SpendableBalance(buyer))
	_, err = e.Apply(seller, UpdateProperty{Property: prop, IsActive: ptr(true)})
	require.NoError(t, err)
	_, err = e.Apply(seller, RespondToOffer{Offer: offer, Accept: true})
	require.NoError(t, err)
}

func TestAcceptAbortsOnBrokenCustody(t *testing.T) {
	e, now := newTestEngine(t)
	market := setupMarketplace(t, e, 100)
	prop, mint := listTestProperty(t, e, market, "prop-001", 900_000)
	offer := placeOffer(t, e, *now, prop, 900_000)

	// Corrupt the custody precondition: the seller no longer holds the unit.
	acct, _, err := address.AssetCustody(mint, seller)
	require.NoError(t, err)
	e.assets.custody[acct] = 0

	_, err = e.Apply(seller, RespondToOffer{Offer: offer, Accept: true})
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	// All-or-nothing: no funds moved, the offer is untouched.
	assert.Equal(t, uint64(0), e.SpendableBalance(seller))
	assert.Equal(t, uint64(900_000), e.funds.heldBy(e.offers[offer].escrow))
	assert.Equal(t, domain.OfferStatusPending, e.offers[offer].status)
	assert.True(t, e.properties[prop].isActive)
	vault, err := e.VaultBalance(market)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), vault)
}

func TestRejectOfferRefundsBuyer(t *testing.T) {
	e, now := newTestEngine(t)
	market := setupMarketplace(t, e, 100)
	prop, mint := listTestProperty(t, e, market, "prop-001", 900_000)
	offer := placeOffer(t, e, *now, prop, 900_000)

	rcpt, err := e.Apply(seller, RespondToOffer{Offer: offer, Accept: false})
	require.NoError(t, err)

	assert.Equal(t, uint64(900_000), e.SpendableBalance(buyer))
	assert.Equal(t, domain.OfferStatusRejected, rcpt.Offer.Status)
	assert.False(t, rcpt.Escrow.IsActive)
	require.Len(t, rcpt.Events, 1)
	assert.Equal(t, domain.EventOfferRejected, rcpt.Events[0].Type)

	// The asset and the listing are untouched.
	bal, err := e.AssetBalance(mint, seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bal)

	// The buyer can come back with a fresh offer on the same property.
	_, err = e.Apply(buyer, MakeOffer{
		Property:       prop,
		Amount:         800_000,
		ExpirationTime: now.Add(24 * time.Hour).Unix(),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), e.SpendableBalance(buyer))
}

func TestRespondToExpiredOffer(t *testing.T) {
	e, now := newTestEngine(t)
	market := setupMarketplace(t, e, 100)
	prop, _ := listTestProperty(t, e, market, "prop-001", 900_000)
	offer := placeOffer(t, e, *now, prop, 900_000)

	*now = now.Add(25 * time.Hour)

	_, err := e.Apply(seller, RespondToOffer{Offer: offer, Accept: true})
	require.ErrorIs(t, err, domain.ErrOfferExpired)
	_, err = e.Apply(seller, RespondToOffer{Offer: offer, Accept: false})
	require.ErrorIs(t, err, domain.ErrOfferExpired)
}

func TestReclaimExpiredOffer(t *testing.T) {
	e, now := newTestEngine(t)
	market := setupMarketplace(t, e, 100)
	prop, _ := listTestProperty(t, e, market, "prop-001", 900_000)
	offer := placeOffer(t, e, *now, prop, 900_000)

	// Not yet expired.
	_, err := e.Apply(buyer, ReclaimExpiredOffer{Offer: offer})
	require.ErrorIs(t, err, domain.ErrOfferNotExpired)

	*now = now.Add(25 * time.Hour)

	// Only the buyer may reclaim.
	_, err = e.Apply(stranger, ReclaimExpiredOffer{Offer: offer})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	rcpt, err := e.Apply(buyer, ReclaimExpiredOffer{Offer: offer})
	require.NoError(t, err)
	assert.Equal(t, uint64(900_000), e.SpendableBalance(buyer))
	assert.Equal(t, domain.OfferStatusExpired, rcpt.Offer.Status)
	assert.False(t, rcpt.Escrow.IsActive)
	require.Len(t, rcpt.Events, 1)
	assert.Equal(t, domain.EventOfferExpired, rcpt.Events[0].Type)

	// Single-shot: the escrow is drained and deactivated.
	_, err = e.Apply(buyer, ReclaimExpiredOffer{Offer: offer})
	require.ErrorIs(t, err, domain.ErrOfferNotPending)
	assert.Equal(t, uint64(900_000), e.SpendableBalance(buyer))
}

func TestWithdrawFees(t *testing.T) {
	e, now := newTestEngine(t)
	market := setupMarketplace(t, e, 500) // 5%
	prop, _ := listTestProperty(t, e, market, "prop-001", 100_000)
	offer := placeOffer(t, e, *now, prop, 100_000)

	_, err := e.Apply(seller, RespondToOffer{Offer: offer, Accept: true})
	require.NoError(t, err)
	vault, err := e.VaultBalance(market)
	require.NoError(t, err)
	require.Equal(t, uint64(5_000), vault)

	_, err = e.Apply(stranger, WithdrawFees{Marketplace: market, Amount: 1})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.Apply(authority, WithdrawFees{Marketplace: market, Amount: 0})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = e.Apply(authority, WithdrawFees{Marketplace: market, Amount: 5_001})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = e.Apply(authority, WithdrawFees{Marketplace: market, Amount: 3_000})
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000), e.SpendableBalance(authority))
	vault, err = e.VaultBalance(market)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000), vault)
}

func TestDeposit(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Apply(buyer, Deposit{Amount: 0})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = e.Apply(buyer, Deposit{Amount: 40})
	require.NoError(t, err)
	_, err = e.Apply(buyer, Deposit{Amount: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), e.SpendableBalance(buyer))
}

func TestDepositOverflowRejected(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Apply(buyer, Deposit{Amount: math.MaxUint64})
	require.NoError(t, err)

	// A credit past the uint64 range is rejected, leaving the balance intact.
	_, err = e.Apply(buyer, Deposit{Amount: 1})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, uint64(math.MaxUint64), e.SpendableBalance(buyer))
}

func TestVaultBalanceUnknownMarketplace(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.VaultBalance(testAddr(0x31))
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.MarketplaceByAuthority(stranger)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
