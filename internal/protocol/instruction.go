// Package protocol implements the on-ledger marketplace core: the account
// model, the instruction set and its wire codec, the fund/asset custody
// ledgers, and the state machine governing listing, offering, accepting and
// rejecting. Every operation is atomic: either all of its account mutations
// and fund/asset movements commit, or none do.
package protocol

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/deedmarket/deedmarketd/internal/address"
	"github.com/deedmarket/deedmarketd/internal/domain"
)

// Instruction is the closed set of protocol operations. The concrete types
// below are the only implementations; dispatch is an exhaustive type switch,
// so adding an operation is a compile-time change, not a runtime lookup.
type Instruction interface {
	// Name is the canonical operation name used to derive the wire
	// discriminator.
	Name() string
	// Encode serializes the instruction to its canonical wire form:
	// 8-byte discriminator, then little-endian fixed-width integers and
	// uint32-LE length-prefixed UTF-8 strings in declared field order.
	Encode() []byte
}

// InitializeMarketplace creates the singleton marketplace for the signing
// authority. FeePercentage is in 1/10000 units.
type InitializeMarketplace struct {
	FeePercentage uint16
}

// ListProperty mints a fresh single-unit asset and creates a property record
// owned by the signer.
type ListProperty struct {
	Marketplace address.Address
	PropertyID  string
	Price       uint64
	MetadataURI string
	Location    string
	SquareFeet  uint64
	Bedrooms    uint8
	Bathrooms   uint8
	AssetMint   address.Address
}

// UpdateProperty overwrites the optional fields that are present. Only the
// current owner may update.
type UpdateProperty struct {
	Property    address.Address
	Price       *uint64
	MetadataURI *string
	IsActive    *bool
}

// MakeOffer locks Amount from the signer's spendable balance into a fresh
// escrow and creates a pending offer.
type MakeOffer struct {
	Property       address.Address
	Amount         uint64
	ExpirationTime int64 // unix seconds
}

// RespondToOffer accepts or rejects a pending offer. Only the property owner
// may respond.
type RespondToOffer struct {
	Offer  address.Address
	Accept bool
}

// ReclaimExpiredOffer returns escrowed funds to the buyer once the offer's
// expiration time has passed. Only the offer's buyer may reclaim.
type ReclaimExpiredOffer struct {
	Offer address.Address
}

// WithdrawFees moves accrued marketplace fees from the fee vault to the
// authority's spendable balance.
type WithdrawFees struct {
	Marketplace address.Address
	Amount      uint64
}

// Deposit credits the signer's spendable balance. It models the external
// fund-movement collaborator that tops up buyer accounts.
type Deposit struct {
	Amount uint64
}

func (InitializeMarketplace) Name() string { return "initialize_marketplace" }
func (ListProperty) Name() string          { return "list_property" }
func (UpdateProperty) Name() string        { return "update_property" }
func (MakeOffer) Name() string             { return "make_offer" }
func (RespondToOffer) Name() string        { return "respond_to_offer" }
func (ReclaimExpiredOffer) Name() string   { return "reclaim_expired_offer" }
func (WithdrawFees) Name() string          { return "withdraw_fees" }
func (Deposit) Name() string               { return "deposit" }

// Discriminator returns the 8-byte operation tag: the first 8 bytes of
// sha256("global:" + name).
func Discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

type encoder struct {
	buf []byte
}

func newEncoder(name string) *encoder {
	d := Discriminator(name)
	return &encoder{buf: append([]byte{}, d[:]...)}
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) boolean(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) i64(v int64) { e.u64(uint64(v)) }

func (e *encoder) str(s string) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(s)))
	e.buf = append(e.buf, b[:]...)
	e.buf = append(e.buf, s...)
}

func (e *encoder) addr(a address.Address) { e.buf = append(e.buf, a[:]...) }

func (e *encoder) optU64(v *uint64) {
	if v == nil {
		e.u8(0)
		return
	}
	e.u8(1)
	e.u64(*v)
}

func (e *encoder) optStr(v *string) {
	if v == nil {
		e.u8(0)
		return
	}
	e.u8(1)
	e.str(*v)
}

func (e *encoder) optBool(v *bool) {
	if v == nil {
		e.u8(0)
		return
	}
	e.u8(1)
	e.boolean(*v)
}

func (ix InitializeMarketplace) Encode() []byte {
	e := newEncoder(ix.Name())
	e.u16(ix.FeePercentage)
	return e.buf
}

func (ix ListProperty) Encode() []byte {
	e := newEncoder(ix.Name())
	e.addr(ix.Marketplace)
	e.str(ix.PropertyID)
	e.u64(ix.Price)
	e.str(ix.MetadataURI)
	e.str(ix.Location)
	e.u64(ix.SquareFeet)
	e.u8(ix.Bedrooms)
	e.u8(ix.Bathrooms)
	e.addr(ix.AssetMint)
	return e.buf
}

func (ix UpdateProperty) Encode() []byte {
	e := newEncoder(ix.Name())
	e.addr(ix.Property)
	e.optU64(ix.Price)
	e.optStr(ix.MetadataURI)
	e.optBool(ix.IsActive)
	return e.buf
}

func (ix MakeOffer) Encode() []byte {
	e := newEncoder(ix.Name())
	e.addr(ix.Property)
	e.u64(ix.Amount)
	e.i64(ix.ExpirationTime)
	return e.buf
}

func (ix RespondToOffer) Encode() []byte {
	e := newEncoder(ix.Name())
	e.addr(ix.Offer)
	e.boolean(ix.Accept)
	return e.buf
}

func (ix ReclaimExpiredOffer) Encode() []byte {
	e := newEncoder(ix.Name())
	e.addr(ix.Offer)
	return e.buf
}

func (ix WithdrawFees) Encode() []byte {
	e := newEncoder(ix.Name())
	e.addr(ix.Marketplace)
	e.u64(ix.Amount)
	return e.buf
}

func (ix Deposit) Encode() []byte {
	e := newEncoder(ix.Name())
	e.u64(ix.Amount)
	return e.buf
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = domain.ErrBadEncode
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil || d.off+n > len(d.buf) {
		d.fail()
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) boolean() bool {
	switch d.u8() {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail()
		return false
	}
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

func (d *decoder) str() string {
	n := d.take(4)
	if n == nil {
		return ""
	}
	b := d.take(int(binary.LittleEndian.Uint32(n)))
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		d.fail()
		return ""
	}
	return string(b)
}

func (d *decoder) addr() address.Address {
	var a address.Address
	b := d.take(len(a))
	if b != nil {
		copy(a[:], b)
	}
	return a
}

func (d *decoder) optU64() *uint64 {
	if !d.boolean() {
		return nil
	}
	v := d.u64()
	return &v
}

func (d *decoder) optStr() *string {
	if !d.boolean() {
		return nil
	}
	v := d.str()
	return &v
}

func (d *decoder) optBool() *bool {
	if !d.boolean() {
		return nil
	}
	v := d.boolean()
	return &v
}

// done returns the accumulated decode error, rejecting trailing bytes.
func (d *decoder) done() error {
	if d.err == nil && d.off != len(d.buf) {
		d.fail()
	}
	return d.err
}

// Decode parses canonical wire bytes into an Instruction. Unknown
// discriminators, truncated fields, invalid UTF-8 strings and trailing bytes
// all fail with domain.ErrBadEncode.
func Decode(data []byte) (Instruction, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("protocol: instruction shorter than discriminator: %w", domain.ErrBadEncode)
	}

	var disc [8]byte
	copy(disc[:], data[:8])
	d := &decoder{buf: data, off: 8}

	var ix Instruction
	switch disc {
	case Discriminator(InitializeMarketplace{}.Name()):
		ix = InitializeMarketplace{FeePercentage: d.u16()}
	case Discriminator(ListProperty{}.Name()):
		ix = ListProperty{
			Marketplace: d.addr(),
			PropertyID:  d.str(),
			Price:       d.u64(),
			MetadataURI: d.str(),
			Location:    d.str(),
			SquareFeet:  d.u64(),
			Bedrooms:    d.u8(),
			Bathrooms:   d.u8(),
			AssetMint:   d.addr(),
		}
	case Discriminator(UpdateProperty{}.Name()):
		ix = UpdateProperty{
			Property:    d.addr(),
			Price:       d.optU64(),
			MetadataURI: d.optStr(),
			IsActive:    d.optBool(),
		}
	case Discriminator(MakeOffer{}.Name()):
		ix = MakeOffer{
			Property:       d.addr(),
			Amount:         d.u64(),
			ExpirationTime: d.i64(),
		}
	case Discriminator(RespondToOffer{}.Name()):
		ix = RespondToOffer{
			Offer:  d.addr(),
			Accept: d.boolean(),
		}
	case Discriminator(ReclaimExpiredOffer{}.Name()):
		ix = ReclaimExpiredOffer{Offer: d.addr()}
	case Discriminator(WithdrawFees{}.Name()):
		ix = WithdrawFees{
			Marketplace: d.addr(),
			Amount:      d.u64(),
		}
	case Discriminator(Deposit{}.Name()):
		ix = Deposit{Amount: d.u64()}
	default:
		return nil, fmt.Errorf("protocol: unknown instruction discriminator: %w", domain.ErrBadEncode)
	}

	if err := d.done(); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", ix.Name(), err)
	}
	return ix, nil
}
