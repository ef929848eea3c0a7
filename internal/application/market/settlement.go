package market

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polybet/internal/domain"
)

// Resolve fixes the winning option of a closed activity and pays the pot to
// the current holders of winning claims, proportionally to each stake.
// A claim listed for sale is held by escrow, so its share stays in escrow.
// Floor rounding leaves a remainder (dust) in escrow. Operator only.
func (e *Engine) Resolve(ctx context.Context, caller domain.Identity, activityID uint64, winningOption int) (domain.Settlement, error) {
	var settlement domain.Settlement
	err := e.atomically(ctx, "resolve", caller, func(u *unit) error {
		if caller != e.operator {
			return fmt.Errorf("%w: only the operator can resolve activities", domain.ErrAccessDenied)
		}
		a, err := e.activity(activityID)
		if err != nil {
			return err
		}
		if !a.IsActive() {
			return fmt.Errorf("%w: activity %d is not active", domain.ErrPreconditionFailed, activityID)
		}
		now := e.now()
		if !a.Closed(now) {
			return fmt.Errorf("%w: activity %d has not ended yet", domain.ErrPreconditionFailed, activityID)
		}
		if !a.HasOption(winningOption) {
			return fmt.Errorf("%w: invalid option index %d", domain.ErrInvalidArgument, winningOption)
		}

		var winners []domain.Ticket
		for _, t := range e.tickets {
			if t.ActivityID == activityID && t.OptionIndex == winningOption {
				winners = append(winners, t)
			}
		}

		s, err := domain.ComputePayouts(a.TotalAmount, winners)
		if err != nil {
			return err
		}
		s.ActivityID = activityID
		s.WinningOption = winningOption

		for i := range s.Payouts {
			p := &s.Payouts[i]
			holder, err := e.claims.OwnerOf(p.TicketID)
			if err != nil {
				return fmt.Errorf("market.Resolve: holder of ticket %d: %w", p.TicketID, err)
			}
			p.Holder = holder
			if err := e.ledger.Transfer(e.escrow, holder, p.Amount); err != nil {
				return fmt.Errorf("market.Resolve: pay ticket %d: %w", p.TicketID, err)
			}
		}

		resolvedAt := now.UTC()
		ap := u.editActivity(activityID)
		ap.Status = domain.ActivityResolved
		ap.WinningOption = winningOption
		ap.ResolvedAt = &resolvedAt

		u.set("activity_id", activityID)
		u.set("winning_option", winningOption)
		u.set("pot", s.Pot)
		u.set("winners", len(s.Payouts))
		u.set("dust", s.Dust)
		settlement = s
		return nil
	})
	return settlement, err
}
