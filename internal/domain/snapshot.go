package domain

import (
	"fmt"
	"time"
)

// BalanceEntry is one row of the balance ledger.
type BalanceEntry struct {
	Holder Identity
	Amount Amount
}

// ClaimEntry binds a claim token to its current holder.
type ClaimEntry struct {
	TokenID uint64
	Holder  Identity
}

// Event is one committed operation in the audit journal.
type Event struct {
	ID     string
	Op     string
	Caller Identity
	Detail map[string]any
	At     time.Time
}

// Snapshot is the complete persisted state of an engine and its collaborators.
type Snapshot struct {
	Activities []Activity
	Tickets    []Ticket
	Listings   []Listing
	Balances   []BalanceEntry
	Claims     []ClaimEntry
	Grants     []Identity
}

// Changeset holds every row touched by a single committed operation.
// Storage must apply it all-or-nothing. New* rows were created by the
// operation and must not exist yet; Activities, Tickets and Listings are
// updates of existing rows.
type Changeset struct {
	NewActivities []Activity
	NewTickets    []Ticket
	NewListings   []Listing

	Activities []Activity
	Tickets    []Ticket
	Listings   []Listing
	Balances   []BalanceEntry
	Claims     []ClaimEntry
	Grants     []Identity
	Event      Event
}

// Empty reports whether the changeset carries no state rows.
func (c Changeset) Empty() bool {
	return len(c.NewActivities) == 0 && len(c.NewTickets) == 0 && len(c.NewListings) == 0 &&
		len(c.Activities) == 0 && len(c.Tickets) == 0 && len(c.Listings) == 0 &&
		len(c.Balances) == 0 && len(c.Claims) == 0 && len(c.Grants) == 0
}

// CheckInvariants verifies the structural invariants of a snapshot, given the
// escrow identity of the engine that produced it:
//   - ids of activities, tickets and listings are dense from 0
//   - totalAmount == baseAmount + Σ ticket amounts of the activity
//   - ticket.OnSale iff exactly one Active listing references it
//   - the claim of a ticket is in escrow iff the ticket is on sale
func CheckInvariants(s Snapshot, escrow Identity) error {
	for i, a := range s.Activities {
		if a.ID != uint64(i) {
			return fmt.Errorf("activity at position %d has id %d", i, a.ID)
		}
	}
	staked := make(map[uint64]Amount, len(s.Activities))
	for i, t := range s.Tickets {
		if t.ID != uint64(i) {
			return fmt.Errorf("ticket at position %d has id %d", i, t.ID)
		}
		if t.ActivityID >= uint64(len(s.Activities)) {
			return fmt.Errorf("ticket %d references unknown activity %d", t.ID, t.ActivityID)
		}
		staked[t.ActivityID] += t.Amount
	}
	for _, a := range s.Activities {
		if a.TotalAmount != a.BaseAmount+staked[a.ID] {
			return fmt.Errorf("activity %d: total %d != base %d + staked %d",
				a.ID, a.TotalAmount, a.BaseAmount, staked[a.ID])
		}
	}

	activeListings := make(map[uint64]int)
	for i, l := range s.Listings {
		if l.ID != uint64(i) {
			return fmt.Errorf("listing at position %d has id %d", i, l.ID)
		}
		if l.Status == ListingActive {
			activeListings[l.TicketID]++
		}
	}

	holders := make(map[uint64]Identity, len(s.Claims))
	for _, c := range s.Claims {
		holders[c.TokenID] = c.Holder
	}
	for _, t := range s.Tickets {
		n := activeListings[t.ID]
		if t.OnSale != (n == 1) || n > 1 {
			return fmt.Errorf("ticket %d: onSale=%v with %d active listings", t.ID, t.OnSale, n)
		}
		holder, ok := holders[t.ID]
		if !ok {
			return fmt.Errorf("ticket %d has no claim token", t.ID)
		}
		if (holder == escrow) != t.OnSale {
			return fmt.Errorf("ticket %d: onSale=%v but claim held by %s", t.ID, t.OnSale, holder)
		}
	}
	return nil
}
