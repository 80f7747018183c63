package protocol

import (
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/deedmarket/deedmarketd/internal/address"
	"github.com/deedmarket/deedmarketd/internal/domain"
)

// fundsLedger is the fund-movement primitive. Spendable balances are keyed by
// signer identity; held balances (escrows, the fee vault) are keyed by derived
// protocol account. Held funds are owned exclusively by the protocol: they
// only move through the engine's accept/reject/expire/withdraw transitions.
// The ledger itself is not goroutine-safe; the engine's mutex serializes all
// access.
type fundsLedger struct {
	spendable map[common.Address]uint64
	held      map[address.Address]uint64
}

func newFundsLedger() *fundsLedger {
	return &fundsLedger{
		spendable: make(map[common.Address]uint64),
		held:      make(map[address.Address]uint64),
	}
}

// deposit credits an identity's spendable balance. A credit that would wrap
// the balance past the uint64 range is rejected without mutating anything.
func (l *fundsLedger) deposit(id common.Address, amount uint64) error {
	if l.spendable[id] > math.MaxUint64-amount {
		return domain.ErrInvalidAmount
	}
	l.spendable[id] += amount
	return nil
}

// spendableOf returns an identity's spendable balance.
func (l *fundsLedger) spendableOf(id common.Address) uint64 {
	return l.spendable[id]
}

// heldBy returns the balance held in a protocol account.
func (l *fundsLedger) heldBy(acct address.Address) uint64 {
	return l.held[acct]
}

// lock moves amount from an identity's spendable balance into a protocol
// account. An insufficient source balance or a destination that would wrap
// fails without mutating anything.
func (l *fundsLedger) lock(from common.Address, to address.Address, amount uint64) error {
	if l.spendable[from] < amount {
		return domain.ErrInsufficientFunds
	}
	if l.held[to] > math.MaxUint64-amount {
		return domain.ErrTransferFailed
	}
	l.spendable[from] -= amount
	l.held[to] += amount
	return nil
}

// release moves amount from a protocol account back to an identity's
// spendable balance.
func (l *fundsLedger) release(from address.Address, to common.Address, amount uint64) error {
	if l.held[from] < amount {
		return domain.ErrInsufficientFunds
	}
	if l.spendable[to] > math.MaxUint64-amount {
		return domain.ErrTransferFailed
	}
	l.held[from] -= amount
	l.spendable[to] += amount
	return nil
}

// moveHeld moves amount between two protocol accounts (escrow -> fee vault).
func (l *fundsLedger) moveHeld(from, to address.Address, amount uint64) error {
	if l.held[from] < amount {
		return domain.ErrInsufficientFunds
	}
	if l.held[to] > math.MaxUint64-amount {
		return domain.ErrTransferFailed
	}
	l.held[from] -= amount
	l.held[to] += amount
	return nil
}

// assetLedger is the asset-custody primitive: unique, indivisible single-unit
// tokens. Each mint has a total supply of exactly one; custody accounts are
// derived per (mint, holder) and hold either zero or one unit.
type assetLedger struct {
	mints   map[address.Address]bool   // mint -> exists
	custody map[address.Address]uint64 // custody account -> balance (0 or 1)
}

func newAssetLedger() *assetLedger {
	return &assetLedger{
		mints:   make(map[address.Address]bool),
		custody: make(map[address.Address]uint64),
	}
}

// mintExists reports whether a mint identity is already in use.
func (l *assetLedger) mintExists(mint address.Address) bool {
	return l.mints[mint]
}

// mintOne registers a fresh mint and issues its single unit into the holder's
// custody account. The custody account is created before the unit is minted;
// a reused or zero mint fails with ErrInvalidAssetMint.
func (l *assetLedger) mintOne(mint address.Address, holder common.Address) error {
	if mint.IsZero() || l.mints[mint] {
		return domain.ErrInvalidAssetMint
	}
	acct, _, err := address.AssetCustody(mint, holder)
	if err != nil {
		return err
	}

	l.mints[mint] = true
	l.custody[acct] = 1
	return nil
}

// balanceOf returns the holder's balance of the given mint.
func (l *assetLedger) balanceOf(mint address.Address, holder common.Address) (uint64, error) {
	if !l.mints[mint] {
		return 0, domain.ErrInvalidAssetMint
	}
	acct, _, err := address.AssetCustody(mint, holder)
	if err != nil {
		return 0, err
	}
	return l.custody[acct], nil
}

// canTransferOne verifies the 1 -> 0, 0 -> 1 transfer precondition without
// mutating custody. The engine calls this during validation so a doomed
// accept aborts before any funds move.
func (l *assetLedger) canTransferOne(mint address.Address, from, to common.Address) error {
	fromBal, err := l.balanceOf(mint, from)
	if err != nil {
		return err
	}
	toBal, err := l.balanceOf(mint, to)
	if err != nil {
		return err
	}
	if fromBal != 1 || toBal != 0 {
		return domain.ErrTransferFailed
	}
	return nil
}

// transferOne moves the single unit between custody accounts. Callers must
// have validated with canTransferOne first; the precondition is re-checked so
// a violation can never corrupt custody.
func (l *assetLedger) transferOne(mint address.Address, from, to common.Address) error {
	if err := l.canTransferOne(mint, from, to); err != nil {
		return err
	}
	fromAcct, _, err := address.AssetCustody(mint, from)
	if err != nil {
		return err
	}
	toAcct, _, err := address.AssetCustody(mint, to)
	if err != nil {
		return err
	}

	l.custody[fromAcct] = 0
	l.custody[toAcct] = 1
	return nil
}
