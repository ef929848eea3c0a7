package domain

import "time"

// ListingStatus transitions only out of Active: Active → Cancelled | Sold.
type ListingStatus string

const (
	ListingActive    ListingStatus = "ACTIVE"
	ListingCancelled ListingStatus = "CANCELLED"
	ListingSold      ListingStatus = "SOLD"
)

// Listing is a fixed-price offer for a claim token. While Active the token is
// held in escrow by the engine.
type Listing struct {
	ID         uint64
	TicketID   uint64
	ActivityID uint64
	Seller     Identity
	Price      Amount
	Status     ListingStatus
	Buyer      Identity // set when Sold
	ListedAt   time.Time
	ClosedAt   *time.Time
}

// IsActive reports whether the listing still accepts cancel or buy.
func (l Listing) IsActive() bool {
	return l.Status == ListingActive
}
