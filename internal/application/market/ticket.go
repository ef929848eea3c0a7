package market

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polybet/internal/domain"
)

// BuyTicket stakes amount on one option of an active activity. The caller
// pays into escrow and receives a claim token whose id equals the ticket id.
func (e *Engine) BuyTicket(
	ctx context.Context,
	caller domain.Identity,
	activityID uint64,
	optionIndex int,
	amount domain.Amount,
) (uint64, error) {
	var id uint64
	err := e.atomically(ctx, "buy_ticket", caller, func(u *unit) error {
		a, err := e.activity(activityID)
		if err != nil {
			return err
		}
		if !a.IsActive() {
			return fmt.Errorf("%w: activity %d is not active", domain.ErrPreconditionFailed, activityID)
		}
		if !a.HasOption(optionIndex) {
			return fmt.Errorf("%w: invalid option index %d", domain.ErrInvalidArgument, optionIndex)
		}
		if amount == 0 {
			return fmt.Errorf("%w: amount must be greater than 0", domain.ErrInvalidArgument)
		}

		if err := addToPot(u.editActivity(activityID), amount); err != nil {
			return err
		}
		if err := e.ledger.Transfer(caller, e.escrow, amount); err != nil {
			return err
		}

		id = uint64(len(e.tickets))
		if err := e.claims.Mint(caller, id); err != nil {
			return err
		}
		u.addTicket(domain.Ticket{
			ID:          id,
			ActivityID:  activityID,
			OptionIndex: optionIndex,
			Amount:      amount,
			PurchasedAt: e.now().UTC(),
		})

		u.set("activity_id", activityID)
		u.set("ticket_id", id)
		u.set("option", optionIndex)
		u.set("amount", amount)
		return nil
	})
	return id, err
}

// GetTicket returns ticket id.
func (e *Engine) GetTicket(id uint64) (domain.Ticket, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ticket(id)
}

// TicketHolder returns the current holder of the claim bound to ticket id.
// While the ticket is on sale this is the escrow account.
func (e *Engine) TicketHolder(id uint64) (domain.Identity, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, err := e.ticket(id); err != nil {
		return "", err
	}
	return e.claims.OwnerOf(id)
}

// ListTicketsByOwner returns the tickets whose claim token is currently held
// by owner, in id order. It resolves the holder of every ticket through the
// claim registry: O(tickets) per query.
func (e *Engine) ListTicketsByOwner(owner domain.Identity) ([]domain.Ticket, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []domain.Ticket
	for _, t := range e.tickets {
		holder, err := e.claims.OwnerOf(t.ID)
		if err != nil {
			return nil, fmt.Errorf("market.ListTicketsByOwner: ticket %d: %w", t.ID, err)
		}
		if holder == owner {
			out = append(out, t)
		}
	}
	return out, nil
}
