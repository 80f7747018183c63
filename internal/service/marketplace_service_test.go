package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deedmarket/deedmarketd/internal/address"
	"github.com/deedmarket/deedmarketd/internal/crypto"
	"github.com/deedmarket/deedmarketd/internal/domain"
	"github.com/deedmarket/deedmarketd/internal/protocol"
)

// memStores collects every mirrored record and published payload so tests can
// assert on the fan-out without postgres or redis.
type memStores struct {
	marketplaces []domain.Marketplace
	properties   []domain.Property
	offers       []domain.Offer
	transactions []domain.TransactionRecord
	invalidated  []string
	published    map[string][][]byte
	streamed     [][]byte
}

func newMemStores() *memStores {
	return &memStores{published: make(map[string][][]byte)}
}

type memMarketplaceStore struct{ s *memStores }

func (m memMarketplaceStore) Upsert(_ context.Context, mp domain.Marketplace) error {
	m.s.marketplaces = append(m.s.marketplaces, mp)
	return nil
}
func (memMarketplaceStore) GetByAddress(context.Context, string) (domain.Marketplace, error) {
	return domain.Marketplace{}, domain.ErrNotFound
}
func (memMarketplaceStore) GetByAuthority(context.Context, string) (domain.Marketplace, error) {
	return domain.Marketplace{}, domain.ErrNotFound
}
func (memMarketplaceStore) List(context.Context) ([]domain.Marketplace, error) { return nil, nil }

type memPropertyStore struct{ s *memStores }

func (m memPropertyStore) Upsert(_ context.Context, p domain.Property) error {
	m.s.properties = append(m.s.properties, p)
	return nil
}
func (memPropertyStore) GetByAddress(context.Context, string) (domain.Property, error) {
	return domain.Property{}, domain.ErrNotFound
}
func (memPropertyStore) GetByID(context.Context, string, string) (domain.Property, error) {
	return domain.Property{}, domain.ErrNotFound
}
func (memPropertyStore) ListActive(context.Context, string, domain.ListOpts) ([]domain.Property, error) {
	return nil, nil
}
func (memPropertyStore) ListByOwner(context.Context, string, domain.ListOpts) ([]domain.Property, error) {
	return nil, nil
}
func (memPropertyStore) Count(context.Context, string) (int64, error) { return 0, nil }

type memOfferStore struct{ s *memStores }

func (m memOfferStore) Upsert(_ context.Context, o domain.Offer) error {
	m.s.offers = append(m.s.offers, o)
	return nil
}
func (memOfferStore) GetByAddress(context.Context, string) (domain.Offer, error) {
	return domain.Offer{}, domain.ErrNotFound
}
func (memOfferStore) ListByProperty(context.Context, string, domain.ListOpts) ([]domain.Offer, error) {
	return nil, nil
}
func (memOfferStore) ListByBuyer(context.Context, string, domain.ListOpts) ([]domain.Offer, error) {
	return nil, nil
}
func (memOfferStore) ListResolvedBefore(context.Context, time.Time) ([]domain.Offer, error) {
	return nil, nil
}

type memTransactionStore struct{ s *memStores }

func (m memTransactionStore) Insert(_ context.Context, tx domain.TransactionRecord) error {
	m.s.transactions = append(m.s.transactions, tx)
	return nil
}
func (memTransactionStore) ListByProperty(context.Context, string, domain.ListOpts) ([]domain.TransactionRecord, error) {
	return nil, nil
}
func (memTransactionStore) ListRecent(context.Context, int) ([]domain.TransactionRecord, error) {
	return nil, nil
}
func (memTransactionStore) ListBefore(context.Context, time.Time) ([]domain.TransactionRecord, error) {
	return nil, nil
}

type memPropertyCache struct{ s *memStores }

func (memPropertyCache) Get(context.Context, string) (domain.Property, error) {
	return domain.Property{}, domain.ErrNotFound
}
func (memPropertyCache) Set(context.Context, domain.Property) error { return nil }
func (m memPropertyCache) Invalidate(_ context.Context, address string) error {
	m.s.invalidated = append(m.s.invalidated, address)
	return nil
}

type memSignalBus struct{ s *memStores }

func (m memSignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	m.s.published[channel] = append(m.s.published[channel], payload)
	return nil
}
func (memSignalBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (m memSignalBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	m.s.streamed = append(m.s.streamed, payload)
	return nil
}
func (memSignalBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func newTestService(t *testing.T) (*MarketplaceService, *memStores) {
	t.Helper()
	stores := newMemStores()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewMarketplaceService(
		protocol.NewEngine(),
		memMarketplaceStore{stores},
		memPropertyStore{stores},
		memOfferStore{stores},
		memTransactionStore{stores},
		memPropertyCache{stores},
		memSignalBus{stores},
		nil,
		logger,
	)
	return svc, stores
}

func signedSubmit(t *testing.T, svc *MarketplaceService, signer *crypto.Signer, ix protocol.Instruction) (*protocol.Receipt, error) {
	t.Helper()
	enc := ix.Encode()
	sig, err := signer.Sign(enc)
	require.NoError(t, err)
	return svc.Submit(context.Background(), enc, sig)
}

func TestSubmitBindsAuthorizationToSigner(t *testing.T) {
	svc, stores := newTestService(t)

	signer, err := crypto.GenerateSigner()
	require.NoError(t, err)

	rcpt, err := signedSubmit(t, svc, signer, protocol.InitializeMarketplace{FeePercentage: 250})
	require.NoError(t, err)
	require.NotNil(t, rcpt.Marketplace)
	assert.Equal(t, signer.Address().Hex(), rcpt.Marketplace.Authority)

	// The committed marketplace was mirrored.
	require.Len(t, stores.marketplaces, 1)
	assert.Equal(t, rcpt.Marketplace.Address, stores.marketplaces[0].Address)
}

func TestSubmitRejectsBadSignature(t *testing.T) {
	svc, stores := newTestService(t)

	signer, err := crypto.GenerateSigner()
	require.NoError(t, err)

	enc := protocol.InitializeMarketplace{FeePercentage: 100}.Encode()
	sig, err := signer.Sign(enc)
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), enc, sig[:64])
	require.ErrorIs(t, err, domain.ErrBadSig)

	// A signature over different bytes recovers a different identity, so the
	// instruction commits under that identity, never the original signer's.
	other := protocol.InitializeMarketplace{FeePercentage: 200}.Encode()
	rcpt, err := svc.Submit(context.Background(), other, sig)
	if err == nil {
		assert.NotEqual(t, signer.Address().Hex(), rcpt.Marketplace.Authority)
	}

	assert.Empty(t, stores.transactions)
}

func TestSubmitRejectsMalformedInstruction(t *testing.T) {
	svc, _ := newTestService(t)

	signer, err := crypto.GenerateSigner()
	require.NoError(t, err)

	garbage := []byte{0x01, 0x02, 0x03}
	sig, err := signer.Sign(garbage)
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), garbage, sig)
	require.ErrorIs(t, err, domain.ErrBadEncode)
}

func TestSubmitFansOutFullSaleFlow(t *testing.T) {
	svc, stores := newTestService(t)

	sellerKey, err := crypto.GenerateSigner()
	require.NoError(t, err)
	buyerKey, err := crypto.GenerateSigner()
	require.NoError(t, err)

	rcpt, err := signedSubmit(t, svc, sellerKey, protocol.InitializeMarketplace{FeePercentage: 100})
	require.NoError(t, err)
	market := rcpt.Marketplace.Address

	var mint address.Address
	mint[0] = 0x5a
	marketAddr := mustAddr(t, market)

	rcpt, err = signedSubmit(t, svc, sellerKey, protocol.ListProperty{
		Marketplace: marketAddr,
		PropertyID:  "prop-001",
		Price:       500_000,
		MetadataURI: "ipfs://QmFlow",
		Location:    "5 Flow Road",
		SquareFeet:  900,
		Bedrooms:    2,
		Bathrooms:   1,
		AssetMint:   mint,
	})
	require.NoError(t, err)
	propAddr := mustAddr(t, rcpt.Property.Address)

	_, err = signedSubmit(t, svc, buyerKey, protocol.Deposit{Amount: 500_000})
	require.NoError(t, err)

	rcpt, err = signedSubmit(t, svc, buyerKey, protocol.MakeOffer{
		Property:       propAddr,
		Amount:         500_000,
		ExpirationTime: time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	offerAddr := mustAddr(t, rcpt.Offer.Address)

	rcpt, err = signedSubmit(t, svc, sellerKey, protocol.RespondToOffer{Offer: offerAddr, Accept: true})
	require.NoError(t, err)
	require.NotNil(t, rcpt.Transaction)
	assert.Equal(t, uint64(5_000), rcpt.Transaction.Fee)

	// Mirrors saw the whole flow.
	require.Len(t, stores.transactions, 1)
	assert.Equal(t, buyerKey.Address().Hex(), stores.transactions[0].Buyer)
	assert.NotEmpty(t, stores.properties)
	assert.NotEmpty(t, stores.offers)
	assert.Contains(t, stores.invalidated, rcpt.Property.Address)

	// Events landed on their channels and the durable stream, each with an id.
	require.NotEmpty(t, stores.published["sales"])
	var evt domain.Event
	require.NoError(t, json.Unmarshal(stores.published["sales"][0], &evt))
	assert.Equal(t, domain.EventSaleCompleted, evt.Type)
	assert.NotEmpty(t, evt.ID)
	// Four event-bearing operations; deposit emits no event.
	assert.Len(t, stores.streamed, 4)
}

func mustAddr(t *testing.T, hex string) address.Address {
	t.Helper()
	a, err := address.FromHex(hex)
	require.NoError(t, err)
	return a
}
