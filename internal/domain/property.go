package domain

import "time"

// Property is one listed asset under a marketplace. The record is never
// deleted; a sold or delisted property is soft-retired via IsActive=false.
type Property struct {
	Address          string
	Marketplace      string
	ID               string // caller-chosen, unique per marketplace, <= 32 bytes
	Owner            string
	Price            uint64 // smallest currency unit
	IsActive         bool
	MetadataURI      string
	AssetMint        string
	Location         string
	SquareFeet       uint64
	Bedrooms         uint8
	Bathrooms        uint8
	OffersCount      uint64
	TransactionCount uint64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PropertyUpdate carries the optional fields of an update_property operation.
// Each non-nil field overwrites the stored value.
type PropertyUpdate struct {
	Price       *uint64
	MetadataURI *string
	IsActive    *bool
}
