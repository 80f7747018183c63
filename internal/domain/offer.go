package domain

import "time"

// OfferStatus is the lifecycle state of an offer. Transitions are one-way:
// Pending -> {Accepted, Rejected, Expired}; Accepted -> Completed.
type OfferStatus string

const (
	OfferStatusPending   OfferStatus = "pending"
	OfferStatusAccepted  OfferStatus = "accepted"
	OfferStatusRejected  OfferStatus = "rejected"
	OfferStatusCompleted OfferStatus = "completed"
	OfferStatusExpired   OfferStatus = "expired"
)

// Terminal reports whether no further transitions are allowed from s.
func (s OfferStatus) Terminal() bool {
	switch s {
	case OfferStatusCompleted, OfferStatusRejected, OfferStatusExpired:
		return true
	default:
		return false
	}
}

// Offer is a buyer's funded bid on one property.
type Offer struct {
	Address        string
	Property       string
	Buyer          string
	Amount         uint64
	Status         OfferStatus
	ExpirationTime time.Time
	Escrow         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Escrow holds the buyer's funds for the lifetime of exactly one offer. It is
// deactivated exactly once, releasing the funds either to the seller (accept)
// or back to the buyer (reject / expiration reclaim).
type Escrow struct {
	Address  string
	Property string
	Buyer    string
	Amount   uint64
	IsActive bool
}
