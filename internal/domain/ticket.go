package domain

import "time"

// Ticket is the immutable record of a stake. Its id is also the id of the
// claim token bound to it; the current owner is not stored here and must be
// resolved through the claim registry.
type Ticket struct {
	ID          uint64
	ActivityID  uint64
	OptionIndex int
	Amount      Amount
	OnSale      bool // true iff an Active listing references this ticket
	PurchasedAt time.Time
}

// OwnedTicket is a ticket paired with the claim holder at query time.
type OwnedTicket struct {
	Ticket
	Holder Identity
}
