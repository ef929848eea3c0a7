package domain

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Payout is the amount owed to the holder of one winning ticket.
type Payout struct {
	TicketID uint64
	Holder   Identity
	Amount   Amount
}

// Settlement is the result of resolving an activity.
type Settlement struct {
	ActivityID    uint64
	WinningOption int
	Pot           Amount
	TotalWinning  Amount
	Payouts       []Payout
	Dust          Amount // pot minus the sum of payouts; stays in escrow
}

// Distributed returns the sum of all payouts.
func (s Settlement) Distributed() Amount {
	var sum Amount
	for _, p := range s.Payouts {
		sum += p.Amount
	}
	return sum
}

// ComputePayouts splits pot among winners proportionally to their stake:
//
//	payout(t) = floor(pot * t.Amount / Σ winners.Amount)
//
// The product is taken in 256 bits so the only rounding is the final floor.
// Holder is left empty; the caller resolves it through the claim registry.
func ComputePayouts(pot Amount, winners []Ticket) (Settlement, error) {
	if len(winners) == 0 {
		return Settlement{}, fmt.Errorf("%w: no winning tickets", ErrPreconditionFailed)
	}

	total := new(uint256.Int)
	for _, t := range winners {
		if _, overflow := total.AddOverflow(total, uint256.NewInt(t.Amount)); overflow {
			return Settlement{}, fmt.Errorf("%w: winning stakes overflow", ErrInvalidArgument)
		}
	}
	if !total.IsUint64() || total.IsZero() {
		return Settlement{}, fmt.Errorf("%w: winning stake total out of range", ErrInvalidArgument)
	}

	s := Settlement{
		Pot:          pot,
		TotalWinning: total.Uint64(),
		Payouts:      make([]Payout, 0, len(winners)),
	}

	potInt := uint256.NewInt(pot)
	for _, t := range winners {
		share, overflow := new(uint256.Int).MulDivOverflow(potInt, uint256.NewInt(t.Amount), total)
		// share <= pot because t.Amount <= total; overflow would be a bug.
		if overflow || !share.IsUint64() {
			return Settlement{}, fmt.Errorf("domain.ComputePayouts: ticket %d: share overflow", t.ID)
		}
		s.Payouts = append(s.Payouts, Payout{TicketID: t.ID, Amount: share.Uint64()})
	}

	s.Dust = pot - s.Distributed()
	return s, nil
}
