package market

import (
	"sort"

	"github.com/alejandrodnm/polybet/internal/domain"
)

// unit records the local writes of one operation so they can be reverted,
// and which rows must be persisted when it commits.
type unit struct {
	e    *Engine
	undo []func()

	// touched rows; true when the row was created by this unit
	activities map[uint64]bool
	tickets    map[uint64]bool
	listings   map[uint64]bool

	detail map[string]any
}

func newUnit(e *Engine) *unit {
	return &unit{
		e:          e,
		activities: make(map[uint64]bool),
		tickets:    make(map[uint64]bool),
		listings:   make(map[uint64]bool),
		detail:     make(map[string]any),
	}
}

func (u *unit) set(key string, value any) { u.detail[key] = value }

func (u *unit) addActivity(a domain.Activity) {
	e := u.e
	n := len(e.activities)
	e.activities = append(e.activities, a)
	u.undo = append(u.undo, func() { e.activities = e.activities[:n] })
	u.activities[a.ID] = true
}

// editActivity returns a pointer to activity id after saving its current value.
func (u *unit) editActivity(id uint64) *domain.Activity {
	e := u.e
	if _, touched := u.activities[id]; !touched {
		prev := e.activities[id].Clone()
		u.undo = append(u.undo, func() { e.activities[id] = prev })
		u.activities[id] = false
	}
	return &e.activities[id]
}

func (u *unit) addTicket(t domain.Ticket) {
	e := u.e
	n := len(e.tickets)
	e.tickets = append(e.tickets, t)
	u.undo = append(u.undo, func() { e.tickets = e.tickets[:n] })
	u.tickets[t.ID] = true
}

func (u *unit) editTicket(id uint64) *domain.Ticket {
	e := u.e
	if _, touched := u.tickets[id]; !touched {
		prev := e.tickets[id]
		u.undo = append(u.undo, func() { e.tickets[id] = prev })
		u.tickets[id] = false
	}
	return &e.tickets[id]
}

func (u *unit) addListing(l domain.Listing) {
	e := u.e
	n := len(e.listings)
	e.listings = append(e.listings, l)
	u.undo = append(u.undo, func() { e.listings = e.listings[:n] })
	u.listings[l.ID] = true
}

func (u *unit) editListing(id uint64) *domain.Listing {
	e := u.e
	if _, touched := u.listings[id]; !touched {
		prev := e.listings[id]
		u.undo = append(u.undo, func() { e.listings[id] = prev })
		u.listings[id] = false
	}
	return &e.listings[id]
}

// revert undoes local writes in reverse order.
func (u *unit) revert() {
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.undo = nil
}

// changeset collects the final value of every touched row. Must run before
// the collaborators commit, while their Pending views are still open.
func (u *unit) changeset(ev domain.Event) domain.Changeset {
	e := u.e
	cs := domain.Changeset{Event: ev}
	for _, id := range sortedIDs(u.activities) {
		a := e.activities[id].Clone()
		if u.activities[id] {
			cs.NewActivities = append(cs.NewActivities, a)
		} else {
			cs.Activities = append(cs.Activities, a)
		}
	}
	for _, id := range sortedIDs(u.tickets) {
		if u.tickets[id] {
			cs.NewTickets = append(cs.NewTickets, e.tickets[id])
		} else {
			cs.Tickets = append(cs.Tickets, e.tickets[id])
		}
	}
	for _, id := range sortedIDs(u.listings) {
		if u.listings[id] {
			cs.NewListings = append(cs.NewListings, e.listings[id])
		} else {
			cs.Listings = append(cs.Listings, e.listings[id])
		}
	}
	cs.Balances, cs.Grants = e.ledger.Pending()
	cs.Claims = e.claims.Pending()
	return cs
}

func sortedIDs(m map[uint64]bool) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
