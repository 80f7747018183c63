package domain

import "time"

// TransactionRecord is one entry in the append-only log of completed sales.
// Index is the per-property sequence number at the time of the sale.
type TransactionRecord struct {
	Address   string
	Property  string
	Buyer     string
	Seller    string
	Price     uint64
	Fee       uint64
	Index     uint64
	CreatedAt time.Time
}
