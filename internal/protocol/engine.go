package protocol

import (
	"fmt"
	"math"
	"math/bits"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/deedmarket/deedmarketd/internal/address"
	"github.com/deedmarket/deedmarketd/internal/domain"
)

// MaxPropertyIDLength is the maximum length of a caller-chosen property id.
const MaxPropertyIDLength = 32

// MaxLocationLength is the maximum length of a property's location string.
const MaxLocationLength = 255

// feeDenominator is the unit base of Marketplace.FeePercentage (100 = 1%).
const feeDenominator = 10000

// marketplaceState is the singleton ledger account for one authority.
type marketplaceState struct {
	addr            address.Address
	authority       common.Address
	feePercentage   uint16
	propertiesCount uint64
	feeVault        address.Address
	createdAt       time.Time
	updatedAt       time.Time
}

// propertyState is one listed asset.
type propertyState struct {
	addr             address.Address
	marketplace      address.Address
	id               string
	owner            common.Address
	price            uint64
	isActive         bool
	metadataURI      string
	assetMint        address.Address
	location         string
	squareFeet       uint64
	bedrooms         uint8
	bathrooms        uint8
	offersCount      uint64
	transactionCount uint64
	createdAt        time.Time
	updatedAt        time.Time
}

// offerState is one buyer's bid on one property.
type offerState struct {
	addr           address.Address
	property       address.Address
	buyer          common.Address
	amount         uint64
	status         domain.OfferStatus
	expirationTime time.Time
	escrow         address.Address
	createdAt      time.Time
	updatedAt      time.Time
}

// escrowState is the protocol-owned holding slot for one offer's funds. It is
// deactivated exactly once; after that the funds are gone and the slot only
// records history.
type escrowState struct {
	addr     address.Address
	property address.Address
	buyer    common.Address
	amount   uint64
	isActive bool
}

// Receipt describes the committed effects of one operation: the records it
// touched (post-commit snapshots) and the events to publish. A Receipt is
// only produced after the whole operation has committed.
type Receipt struct {
	Operation   string
	Marketplace *domain.Marketplace
	Property    *domain.Property
	Offer       *domain.Offer
	Escrow      *domain.Escrow
	Transaction *domain.TransactionRecord
	Events      []domain.Event
}

// Engine holds all protocol account state and executes instructions against
// it. A single mutex serializes every operation, so two concurrent accepts on
// one property are sequenced and the loser observes is_active == false rather
// than double-spending the asset. Each operation validates all preconditions,
// including fund and custody balances, before mutating anything; a failure at
// any point leaves no partial state.
type Engine struct {
	mu sync.Mutex

	marketplaces map[address.Address]*marketplaceState
	byAuthority  map[common.Address]address.Address
	properties   map[address.Address]*propertyState
	offers       map[address.Address]*offerState
	escrows      map[address.Address]*escrowState
	transactions []domain.TransactionRecord
	funds        *fundsLedger
	assets       *assetLedger

	// now is injectable for tests; defaults to time.Now UTC.
	now func() time.Time
}

// NewEngine creates an empty Engine.
func NewEngine() *Engine {
	return &Engine{
		marketplaces: make(map[address.Address]*marketplaceState),
		byAuthority:  make(map[common.Address]address.Address),
		properties:   make(map[address.Address]*propertyState),
		offers:       make(map[address.Address]*offerState),
		escrows:      make(map[address.Address]*escrowState),
		funds:        newFundsLedger(),
		assets:       newAssetLedger(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Apply executes a decoded instruction on behalf of a verified caller
// identity. The caller MUST be the recovered signer of the instruction bytes;
// authorization inside each operation binds to it, never to fields a client
// supplied. Dispatch is exhaustive over the closed instruction set.
func (e *Engine) Apply(caller common.Address, ix Instruction) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch op := ix.(type) {
	case InitializeMarketplace:
		return e.initializeMarketplace(caller, op)
	case ListProperty:
		return e.listProperty(caller, op)
	case UpdateProperty:
		return e.updateProperty(caller, op)
	case MakeOffer:
		return e.makeOffer(caller, op)
	case RespondToOffer:
		return e.respondToOffer(caller, op)
	case ReclaimExpiredOffer:
		return e.reclaimExpiredOffer(caller, op)
	case WithdrawFees:
		return e.withdrawFees(caller, op)
	case Deposit:
		return e.deposit(caller, op)
	default:
		return nil, fmt.Errorf("protocol: unhandled instruction %T: %w", ix, domain.ErrBadEncode)
	}
}

// ---------------------------------------------------------------------------
// Operations. Each runs under the engine mutex and follows the same shape:
// resolve accounts, validate every precondition, then commit mutations.
// ---------------------------------------------------------------------------

func (e *Engine) initializeMarketplace(caller common.Address, op InitializeMarketplace) (*Receipt, error) {
	if op.FeePercentage > feeDenominator {
		return nil, fmt.Errorf("protocol: fee percentage %d: %w", op.FeePercentage, domain.ErrInvalidFeePercentage)
	}

	addr, _, err := address.Marketplace(caller)
	if err != nil {
		return nil, err
	}
	if _, exists := e.marketplaces[addr]; exists {
		return nil, fmt.Errorf("protocol: marketplace %s: %w", addr, domain.ErrAlreadyInitialized)
	}
	vault, _, err := address.FeeVault(addr)
	if err != nil {
		return nil, err
	}

	now := e.now()
	m := &marketplaceState{
		addr:          addr,
		authority:     caller,
		feePercentage: op.FeePercentage,
		feeVault:      vault,
		createdAt:     now,
		updatedAt:     now,
	}
	e.marketplaces[addr] = m
	e.byAuthority[caller] = addr

	snap := m.snapshot()
	return &Receipt{
		Operation:   op.Name(),
		Marketplace: &snap,
		Events: []domain.Event{{
			Type:        domain.EventMarketplaceInitialized,
			Marketplace: addr.Hex(),
			Payload: map[string]any{
				"authority":      caller.Hex(),
				"fee_percentage": op.FeePercentage,
			},
			CommittedAt: now,
		}},
	}, nil
}

func (e *Engine) listProperty(caller common.Address, op ListProperty) (*Receipt, error) {
	m, ok := e.marketplaces[op.Marketplace]
	if !ok {
		return nil, fmt.Errorf("protocol: marketplace %s: %w", op.Marketplace, domain.ErrNotFound)
	}
	if len(op.PropertyID) > MaxPropertyIDLength {
		return nil, fmt.Errorf("protocol: property id %q: %w", op.PropertyID, domain.ErrPropertyIDTooLong)
	}
	if len(op.Location) > MaxLocationLength {
		return nil, fmt.Errorf("protocol: location: %w", domain.ErrLocationTooLong)
	}
	if op.Price == 0 {
		return nil, fmt.Errorf("protocol: price: %w", domain.ErrInvalidPrice)
	}

	propAddr, _, err := address.Property(m.addr, op.PropertyID)
	if err != nil {
		return nil, err
	}
	if _, exists := e.properties[propAddr]; exists {
		return nil, fmt.Errorf("protocol: property id %q: %w", op.PropertyID, domain.ErrDuplicateProperty)
	}
	if op.AssetMint.IsZero() || e.assets.mintExists(op.AssetMint) {
		return nil, fmt.Errorf("protocol: asset mint %s: %w", op.AssetMint, domain.ErrInvalidAssetMint)
	}

	// All preconditions hold; commit. Mint exactly one indivisible unit of
	// the fresh asset into the caller's custody account.
	if err := e.assets.mintOne(op.AssetMint, caller); err != nil {
		return nil, fmt.Errorf("protocol: mint asset: %w", err)
	}

	now := e.now()
	p := &propertyState{
		addr:        propAddr,
		marketplace: m.addr,
		id:          op.PropertyID,
		owner:       caller,
		price:       op.Price,
		isActive:    true,
		metadataURI: op.MetadataURI,
		assetMint:   op.AssetMint,
		location:    op.Location,
		squareFeet:  op.SquareFeet,
		bedrooms:    op.Bedrooms,
		bathrooms:   op.Bathrooms,
		createdAt:   now,
		updatedAt:   now,
	}
	e.properties[propAddr] = p
	m.propertiesCount++
	m.updatedAt = now

	mSnap := m.snapshot()
	pSnap := p.snapshot()
	return &Receipt{
		Operation:   op.Name(),
		Marketplace: &mSnap,
		Property:    &pSnap,
		Events: []domain.Event{{
			Type:        domain.EventPropertyListed,
			Marketplace: m.addr.Hex(),
			Property:    propAddr.Hex(),
			Payload: map[string]any{
				"id":    op.PropertyID,
				"owner": caller.Hex(),
				"price": op.Price,
			},
			CommittedAt: now,
		}},
	}, nil
}

func (e *Engine) updateProperty(caller common.Address, op UpdateProperty) (*Receipt, error) {
	p, ok := e.properties[op.Property]
	if !ok {
		return nil, fmt.Errorf("protocol: property %s: %w", op.Property, domain.ErrNotFound)
	}
	if p.owner != caller {
		return nil, fmt.Errorf("protocol: update property %s: %w", op.Property, domain.ErrUnauthorized)
	}
	if op.Price != nil && *op.Price == 0 {
		return nil, fmt.Errorf("protocol: price: %w", domain.ErrInvalidPrice)
	}

	now := e.now()
	if op.Price != nil {
		p.price = *op.Price
	}
	if op.MetadataURI != nil {
		p.metadataURI = *op.MetadataURI
	}
	if op.IsActive != nil {
		p.isActive = *op.IsActive
	}
	p.updatedAt = now

	pSnap := p.snapshot()
	return &Receipt{
		Operation: op.Name(),
		Property:  &pSnap,
		Events: []domain.Event{{
			Type:        domain.EventPropertyUpdated,
			Marketplace: p.marketplace.Hex(),
			Property:    p.addr.Hex(),
			Payload: map[string]any{
				"price":     p.price,
				"is_active": p.isActive,
			},
			CommittedAt: now,
		}},
	}, nil
}

func (e *Engine) makeOffer(caller common.Address, op MakeOffer) (*Receipt, error) {
	p, ok := e.properties[op.Property]
	if !ok {
		return nil, fmt.Errorf("protocol: property %s: %w", op.Property, domain.ErrNotFound)
	}
	if !p.isActive {
		return nil, fmt.Errorf("protocol: property %s: %w", op.Property, domain.ErrPropertyInactive)
	}
	if op.Amount == 0 {
		return nil, fmt.Errorf("protocol: offer amount: %w", domain.ErrInvalidAmount)
	}
	now := e.now()
	expiration := time.Unix(op.ExpirationTime, 0).UTC()
	if !expiration.After(now) {
		return nil, fmt.Errorf("protocol: expiration %s: %w", expiration, domain.ErrInvalidExpiration)
	}

	escrowAddr, _, err := address.EscrowAccount(p.addr, caller)
	if err != nil {
		return nil, err
	}
	offerAddr, _, err := address.Offer(p.addr, caller)
	if err != nil {
		return nil, err
	}
	if esc, exists := e.escrows[escrowAddr]; exists && esc.isActive {
		return nil, fmt.Errorf("protocol: escrow %s: %w", escrowAddr, domain.ErrDuplicateActiveOffer)
	}
	if e.funds.spendableOf(caller) < op.Amount {
		return nil, fmt.Errorf("protocol: buyer %s: %w", caller.Hex(), domain.ErrInsufficientFunds)
	}

	// Commit: lock funds, (re)activate the escrow slot, create the offer.
	if err := e.funds.lock(caller, escrowAddr, op.Amount); err != nil {
		return nil, fmt.Errorf("protocol: lock funds: %w", err)
	}
	esc := &escrowState{
		addr:     escrowAddr,
		property: p.addr,
		buyer:    caller,
		amount:   op.Amount,
		isActive: true,
	}
	e.escrows[escrowAddr] = esc

	o := &offerState{
		addr:           offerAddr,
		property:       p.addr,
		buyer:          caller,
		amount:         op.Amount,
		status:         domain.OfferStatusPending,
		expirationTime: expiration,
		escrow:         escrowAddr,
		createdAt:      now,
		updatedAt:      now,
	}
	e.offers[offerAddr] = o
	p.offersCount++
	p.updatedAt = now

	pSnap := p.snapshot()
	oSnap := o.snapshot()
	eSnap := esc.snapshot()
	return &Receipt{
		Operation: op.Name(),
		Property:  &pSnap,
		Offer:     &oSnap,
		Escrow:    &eSnap,
		Events: []domain.Event{{
			Type:        domain.EventOfferMade,
			Marketplace: p.marketplace.Hex(),
			Property:    p.addr.Hex(),
			Offer:       offerAddr.Hex(),
			Payload: map[string]any{
				"buyer":      caller.Hex(),
				"amount":     op.Amount,
				"expiration": expiration.Unix(),
			},
			CommittedAt: now,
		}},
	}, nil
}

func (e *Engine) respondToOffer(caller common.Address, op RespondToOffer) (*Receipt, error) {
	o, ok := e.offers[op.Offer]
	if !ok {
		return nil, fmt.Errorf("protocol: offer %s: %w", op.Offer, domain.ErrNotFound)
	}
	p, ok := e.properties[o.property]
	if !ok {
		return nil, fmt.Errorf("protocol: property %s: %w", o.property, domain.ErrNotFound)
	}
	esc, ok := e.escrows[o.escrow]
	if !ok {
		return nil, fmt.Errorf("protocol: escrow %s: %w", o.escrow, domain.ErrNotFound)
	}

	if p.owner != caller {
		return nil, fmt.Errorf("protocol: respond to offer %s: %w", op.Offer, domain.ErrUnauthorized)
	}
	if o.status != domain.OfferStatusPending {
		return nil, fmt.Errorf("protocol: offer %s is %s: %w", op.Offer, o.status, domain.ErrOfferNotPending)
	}
	if !esc.isActive {
		return nil, fmt.Errorf("protocol: escrow %s: %w", o.escrow, domain.ErrOfferNotPending)
	}
	now := e.now()
	if !now.Before(o.expirationTime) {
		return nil, fmt.Errorf("protocol: offer %s: %w", op.Offer, domain.ErrOfferExpired)
	}

	if !op.Accept {
		return e.rejectOffer(p, o, esc, now)
	}
	return e.acceptOffer(p, o, esc, now)
}

// acceptOffer performs the atomic swap: asset to buyer, funds minus fee to
// seller, fee to the vault. Every custody and balance precondition is checked
// before the first mutation, so a failure can never leave partial state.
func (e *Engine) acceptOffer(p *propertyState, o *offerState, esc *escrowState, now time.Time) (*Receipt, error) {
	m, ok := e.marketplaces[p.marketplace]
	if !ok {
		return nil, fmt.Errorf("protocol: marketplace %s: %w", p.marketplace, domain.ErrNotFound)
	}
	// Acceptance requires an active property and clears the flag in the same
	// critical section, which makes a second accept on this property
	// structurally impossible.
	if !p.isActive {
		return nil, fmt.Errorf("protocol: property %s: %w", p.addr, domain.ErrPropertyInactive)
	}

	seller := p.owner
	buyer := o.buyer

	// Integrity preconditions: the single asset unit must sit with the
	// seller and the escrow must hold exactly the offer amount.
	if err := e.assets.canTransferOne(p.assetMint, seller, buyer); err != nil {
		return nil, fmt.Errorf("protocol: accept offer %s: %w", o.addr, err)
	}
	if e.funds.heldBy(esc.addr) != o.amount {
		return nil, fmt.Errorf("protocol: escrow %s balance mismatch: %w", esc.addr, domain.ErrTransferFailed)
	}

	fee := computeFee(o.amount, m.feePercentage)
	net := o.amount - fee
	if e.funds.spendableOf(seller) > math.MaxUint64-net {
		return nil, fmt.Errorf("protocol: seller balance would overflow: %w", domain.ErrTransferFailed)
	}
	if fee > 0 && e.funds.heldBy(m.feeVault) > math.MaxUint64-fee {
		return nil, fmt.Errorf("protocol: fee vault would overflow: %w", domain.ErrTransferFailed)
	}

	// Commit.
	if err := e.assets.transferOne(p.assetMint, seller, buyer); err != nil {
		return nil, fmt.Errorf("protocol: asset transfer: %w", err)
	}
	if err := e.funds.release(esc.addr, seller, net); err != nil {
		return nil, fmt.Errorf("protocol: pay seller: %w", err)
	}
	if fee > 0 {
		if err := e.funds.moveHeld(esc.addr, m.feeVault, fee); err != nil {
			return nil, fmt.Errorf("protocol: accrue fee: %w", err)
		}
	}

	esc.isActive = false
	o.status = domain.OfferStatusCompleted
	o.updatedAt = now

	txAddr, _, err := address.Transaction(p.addr, p.transactionCount)
	if err != nil {
		return nil, err
	}
	tx := domain.TransactionRecord{
		Address:   txAddr.Hex(),
		Property:  p.addr.Hex(),
		Buyer:     buyer.Hex(),
		Seller:    seller.Hex(),
		Price:     o.amount,
		Fee:       fee,
		Index:     p.transactionCount,
		CreatedAt: now,
	}
	e.transactions = append(e.transactions, tx)

	p.owner = buyer
	p.isActive = false
	p.transactionCount++
	p.updatedAt = now

	pSnap := p.snapshot()
	oSnap := o.snapshot()
	eSnap := esc.snapshot()
	return &Receipt{
		Operation:   "respond_to_offer",
		Property:    &pSnap,
		Offer:       &oSnap,
		Escrow:      &eSnap,
		Transaction: &tx,
		Events: []domain.Event{{
			Type:        domain.EventSaleCompleted,
			Marketplace: p.marketplace.Hex(),
			Property:    p.addr.Hex(),
			Offer:       o.addr.Hex(),
			Payload: map[string]any{
				"buyer":  buyer.Hex(),
				"seller": seller.Hex(),
				"price":  o.amount,
				"fee":    fee,
			},
			CommittedAt: now,
		}},
	}, nil
}

// rejectOffer returns the full escrowed amount to the buyer. The asset and
// the property record are untouched.
func (e *Engine) rejectOffer(p *propertyState, o *offerState, esc *escrowState, now time.Time) (*Receipt, error) {
	if err := e.funds.release(esc.addr, o.buyer, o.amount); err != nil {
		return nil, fmt.Errorf("protocol: refund buyer: %w", err)
	}
	esc.isActive = false
	o.status = domain.OfferStatusRejected
	o.updatedAt = now

	oSnap := o.snapshot()
	eSnap := esc.snapshot()
	return &Receipt{
		Operation: "respond_to_offer",
		Offer:     &oSnap,
		Escrow:    &eSnap,
		Events: []domain.Event{{
			Type:        domain.EventOfferRejected,
			Marketplace: p.marketplace.Hex(),
			Property:    p.addr.Hex(),
			Offer:       o.addr.Hex(),
			Payload: map[string]any{
				"buyer":  o.buyer.Hex(),
				"amount": o.amount,
			},
			CommittedAt: now,
		}},
	}, nil
}

func (e *Engine) reclaimExpiredOffer(caller common.Address, op ReclaimExpiredOffer) (*Receipt, error) {
	o, ok := e.offers[op.Offer]
	if !ok {
		return nil, fmt.Errorf("protocol: offer %s: %w", op.Offer, domain.ErrNotFound)
	}
	esc, ok := e.escrows[o.escrow]
	if !ok {
		return nil, fmt.Errorf("protocol: escrow %s: %w", o.escrow, domain.ErrNotFound)
	}
	p, ok := e.properties[o.property]
	if !ok {
		return nil, fmt.Errorf("protocol: property %s: %w", o.property, domain.ErrNotFound)
	}

	if o.buyer != caller {
		return nil, fmt.Errorf("protocol: reclaim offer %s: %w", op.Offer, domain.ErrUnauthorized)
	}
	if o.status != domain.OfferStatusPending {
		return nil, fmt.Errorf("protocol: offer %s is %s: %w", op.Offer, o.status, domain.ErrOfferNotPending)
	}
	if !esc.isActive {
		return nil, fmt.Errorf("protocol: escrow %s: %w", o.escrow, domain.ErrOfferNotPending)
	}
	now := e.now()
	if now.Before(o.expirationTime) {
		return nil, fmt.Errorf("protocol: offer %s expires %s: %w", op.Offer, o.expirationTime, domain.ErrOfferNotExpired)
	}

	if err := e.funds.release(esc.addr, o.buyer, o.amount); err != nil {
		return nil, fmt.Errorf("protocol: refund buyer: %w", err)
	}
	esc.isActive = false
	o.status = domain.OfferStatusExpired
	o.updatedAt = now

	oSnap := o.snapshot()
	eSnap := esc.snapshot()
	return &Receipt{
		Operation: op.Name(),
		Offer:     &oSnap,
		Escrow:    &eSnap,
		Events: []domain.Event{{
			Type:        domain.EventOfferExpired,
			Marketplace: p.marketplace.Hex(),
			Property:    p.addr.Hex(),
			Offer:       o.addr.Hex(),
			Payload: map[string]any{
				"buyer":  o.buyer.Hex(),
				"amount": o.amount,
			},
			CommittedAt: now,
		}},
	}, nil
}

func (e *Engine) withdrawFees(caller common.Address, op WithdrawFees) (*Receipt, error) {
	m, ok := e.marketplaces[op.Marketplace]
	if !ok {
		return nil, fmt.Errorf("protocol: marketplace %s: %w", op.Marketplace, domain.ErrNotFound)
	}
	if m.authority != caller {
		return nil, fmt.Errorf("protocol: withdraw fees: %w", domain.ErrUnauthorized)
	}
	if op.Amount == 0 {
		return nil, fmt.Errorf("protocol: withdraw amount: %w", domain.ErrInvalidAmount)
	}
	if e.funds.heldBy(m.feeVault) < op.Amount {
		return nil, fmt.Errorf("protocol: fee vault %s: %w", m.feeVault, domain.ErrInsufficientFunds)
	}

	if err := e.funds.release(m.feeVault, caller, op.Amount); err != nil {
		return nil, fmt.Errorf("protocol: release fees: %w", err)
	}
	now := e.now()
	m.updatedAt = now

	mSnap := m.snapshot()
	return &Receipt{
		Operation:   op.Name(),
		Marketplace: &mSnap,
		Events: []domain.Event{{
			Type:        domain.EventFeesWithdrawn,
			Marketplace: m.addr.Hex(),
			Payload: map[string]any{
				"authority": caller.Hex(),
				"amount":    op.Amount,
			},
			CommittedAt: now,
		}},
	}, nil
}

func (e *Engine) deposit(caller common.Address, op Deposit) (*Receipt, error) {
	if op.Amount == 0 {
		return nil, fmt.Errorf("protocol: deposit amount: %w", domain.ErrInvalidAmount)
	}
	if err := e.funds.deposit(caller, op.Amount); err != nil {
		return nil, fmt.Errorf("protocol: deposit: %w", err)
	}
	return &Receipt{Operation: op.Name()}, nil
}

// computeFee returns amount * feePct / feeDenominator with a 128-bit
// intermediate product, so the multiplication cannot wrap for any uint64
// amount. feePct never exceeds feeDenominator, which bounds the quotient to
// the uint64 range.
func computeFee(amount uint64, feePct uint16) uint64 {
	hi, lo := bits.Mul64(amount, uint64(feePct))
	fee, _ := bits.Div64(hi, lo, feeDenominator)
	return fee
}

// ---------------------------------------------------------------------------
// Read accessors. These serve integration surfaces (balance queries, health)
// directly from engine state; bulk reads go through the postgres mirror.
// ---------------------------------------------------------------------------

// SpendableBalance returns an identity's spendable balance.
func (e *Engine) SpendableBalance(id common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.funds.spendableOf(id)
}

// VaultBalance returns the accrued fee balance of a marketplace's vault.
func (e *Engine) VaultBalance(marketplace address.Address) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.marketplaces[marketplace]
	if !ok {
		return 0, fmt.Errorf("protocol: marketplace %s: %w", marketplace, domain.ErrNotFound)
	}
	return e.funds.heldBy(m.feeVault), nil
}

// AssetBalance returns holder's custody balance for a mint (0 or 1).
func (e *Engine) AssetBalance(mint address.Address, holder common.Address) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.assets.balanceOf(mint, holder)
}

// MarketplaceByAuthority resolves the marketplace address for an authority.
func (e *Engine) MarketplaceByAuthority(authority common.Address) (address.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	addr, ok := e.byAuthority[authority]
	if !ok {
		return address.Zero, fmt.Errorf("protocol: authority %s: %w", authority.Hex(), domain.ErrNotFound)
	}
	return addr, nil
}

// SetClock overrides the engine's time source. Tests use it to drive
// expiration transitions deterministically.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// ---------------------------------------------------------------------------
// Snapshots: internal state -> domain records.
// ---------------------------------------------------------------------------

func (m *marketplaceState) snapshot() domain.Marketplace {
	return domain.Marketplace{
		Address:         m.addr.Hex(),
		Authority:       m.authority.Hex(),
		FeePercentage:   m.feePercentage,
		PropertiesCount: m.propertiesCount,
		FeeVault:        m.feeVault.Hex(),
		CreatedAt:       m.createdAt,
		UpdatedAt:       m.updatedAt,
	}
}

func (p *propertyState) snapshot() domain.Property {
	return domain.Property{
		Address:          p.addr.Hex(),
		Marketplace:      p.marketplace.Hex(),
		ID:               p.id,
		Owner:            p.owner.Hex(),
		Price:            p.price,
		IsActive:         p.isActive,
		MetadataURI:      p.metadataURI,
		AssetMint:        p.assetMint.Hex(),
		Location:         p.location,
		SquareFeet:       p.squareFeet,
		Bedrooms:         p.bedrooms,
		Bathrooms:        p.bathrooms,
		OffersCount:      p.offersCount,
		TransactionCount: p.transactionCount,
		CreatedAt:        p.createdAt,
		UpdatedAt:        p.updatedAt,
	}
}

func (o *offerState) snapshot() domain.Offer {
	return domain.Offer{
		Address:        o.addr.Hex(),
		Property:       o.property.Hex(),
		Buyer:          o.buyer.Hex(),
		Amount:         o.amount,
		Status:         o.status,
		ExpirationTime: o.expirationTime,
		Escrow:         o.escrow.Hex(),
		CreatedAt:      o.createdAt,
		UpdatedAt:      o.updatedAt,
	}
}

func (s *escrowState) snapshot() domain.Escrow {
	return domain.Escrow{
		Address:  s.addr.Hex(),
		Property: s.property.Hex(),
		Buyer:    s.buyer.Hex(),
		Amount:   s.amount,
		IsActive: s.isActive,
	}
}
