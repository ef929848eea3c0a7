package market

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polybet/internal/domain"
)

// ListTicket offers the caller's ticket at a fixed price. The claim token
// moves into escrow until the listing is cancelled or sold.
func (e *Engine) ListTicket(ctx context.Context, caller domain.Identity, ticketID uint64, price domain.Amount) (uint64, error) {
	var id uint64
	err := e.atomically(ctx, "list_ticket", caller, func(u *unit) error {
		t, err := e.ticket(ticketID)
		if err != nil {
			return err
		}
		holder, err := e.claims.OwnerOf(ticketID)
		if err != nil {
			return err
		}
		if holder != caller {
			return fmt.Errorf("%w: caller is not the owner of ticket %d", domain.ErrAccessDenied, ticketID)
		}
		if price == 0 {
			return fmt.Errorf("%w: price must be greater than 0", domain.ErrInvalidArgument)
		}

		if err := e.claims.Transfer(caller, e.escrow, ticketID); err != nil {
			return err
		}

		id = uint64(len(e.listings))
		u.addListing(domain.Listing{
			ID:         id,
			TicketID:   ticketID,
			ActivityID: t.ActivityID,
			Seller:     caller,
			Price:      price,
			Status:     domain.ListingActive,
			ListedAt:   e.now().UTC(),
		})
		u.editTicket(ticketID).OnSale = true

		u.set("listing_id", id)
		u.set("ticket_id", ticketID)
		u.set("price", price)
		return nil
	})
	return id, err
}

// CancelListing withdraws an active listing and returns the claim token to
// the seller. Seller only.
func (e *Engine) CancelListing(ctx context.Context, caller domain.Identity, listingID uint64) error {
	return e.atomically(ctx, "cancel_listing", caller, func(u *unit) error {
		l, err := e.listing(listingID)
		if err != nil {
			return err
		}
		if !l.IsActive() {
			return fmt.Errorf("%w: listing %d is not active", domain.ErrPreconditionFailed, listingID)
		}
		if caller != l.Seller {
			return fmt.Errorf("%w: caller is not the seller of listing %d", domain.ErrAccessDenied, listingID)
		}

		if err := e.claims.Transfer(e.escrow, l.Seller, l.TicketID); err != nil {
			return err
		}

		now := e.now().UTC()
		lp := u.editListing(listingID)
		lp.Status = domain.ListingCancelled
		lp.ClosedAt = &now
		u.editTicket(l.TicketID).OnSale = false

		u.set("listing_id", listingID)
		u.set("ticket_id", l.TicketID)
		return nil
	})
}

// BuyListing pays the seller the listing price and hands the claim token to
// the caller. The ticket itself is untouched: the buyer inherits the bet.
func (e *Engine) BuyListing(ctx context.Context, caller domain.Identity, listingID uint64) error {
	return e.atomically(ctx, "buy_listing", caller, func(u *unit) error {
		l, err := e.listing(listingID)
		if err != nil {
			return err
		}
		if !l.IsActive() {
			return fmt.Errorf("%w: listing %d is not active", domain.ErrPreconditionFailed, listingID)
		}
		if caller == l.Seller {
			return fmt.Errorf("%w: cannot buy own listing", domain.ErrInvalidArgument)
		}

		if err := e.ledger.Transfer(caller, l.Seller, l.Price); err != nil {
			return err
		}
		if err := e.claims.Transfer(e.escrow, caller, l.TicketID); err != nil {
			return err
		}

		now := e.now().UTC()
		lp := u.editListing(listingID)
		lp.Status = domain.ListingSold
		lp.Buyer = caller
		lp.ClosedAt = &now
		u.editTicket(l.TicketID).OnSale = false

		u.set("listing_id", listingID)
		u.set("ticket_id", l.TicketID)
		u.set("seller", l.Seller)
		u.set("price", l.Price)
		return nil
	})
}

// GetListing returns listing id.
func (e *Engine) GetListing(id uint64) (domain.Listing, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.listing(id)
}

// ListingCount returns how many listings were ever created.
func (e *Engine) ListingCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return uint64(len(e.listings))
}

// ListingsByActivity returns every listing of an activity, any status, in
// creation order.
func (e *Engine) ListingsByActivity(activityID uint64) []domain.Listing {
	return e.filterListings(func(l domain.Listing) bool { return l.ActivityID == activityID })
}

// ListingsBySeller returns every listing created by seller, any status, in
// creation order.
func (e *Engine) ListingsBySeller(seller domain.Identity) []domain.Listing {
	return e.filterListings(func(l domain.Listing) bool { return l.Seller == seller })
}

func (e *Engine) filterListings(keep func(domain.Listing) bool) []domain.Listing {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []domain.Listing
	for _, l := range e.listings {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}
