package domain

import "time"

// Marketplace is the singleton ledger state for one marketplace authority.
// FeePercentage is expressed in 1/10000 units (100 = 1%).
type Marketplace struct {
	Address         string
	Authority       string
	FeePercentage   uint16
	PropertiesCount uint64
	FeeVault        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FeeFor computes the marketplace fee for a sale amount using truncating
// integer division, matching the on-ledger arithmetic exactly.
func (m Marketplace) FeeFor(amount uint64) uint64 {
	return amount * uint64(m.FeePercentage) / 10000
}
