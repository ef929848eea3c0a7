package market

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/polybet/internal/domain"
)

// CreateActivity opens a new betting market seeded with baseAmount, which is
// minted into escrow. Operator only.
func (e *Engine) CreateActivity(
	ctx context.Context,
	caller domain.Identity,
	name string,
	options []string,
	closeTime time.Time,
	baseAmount domain.Amount,
) (uint64, error) {
	var id uint64
	err := e.atomically(ctx, "create_activity", caller, func(u *unit) error {
		if caller != e.operator {
			return fmt.Errorf("%w: only the operator can create activities", domain.ErrAccessDenied)
		}
		if len(options) < domain.MinOptions {
			return fmt.Errorf("%w: at least %d options required", domain.ErrInvalidArgument, domain.MinOptions)
		}
		now := e.now()
		if !closeTime.After(now) {
			return fmt.Errorf("%w: close time must be in the future", domain.ErrInvalidArgument)
		}

		if err := e.ledger.Mint(e.escrow, baseAmount); err != nil {
			return err
		}

		id = uint64(len(e.activities))
		u.addActivity(domain.Activity{
			ID:          id,
			Name:        name,
			Options:     append([]string(nil), options...),
			CloseTime:   closeTime.UTC(),
			BaseAmount:  baseAmount,
			TotalAmount: baseAmount,
			Status:      domain.ActivityActive,
			CreatedAt:   now.UTC(),
		})

		u.set("activity_id", id)
		u.set("options", len(options))
		u.set("base_amount", baseAmount)
		return nil
	})
	return id, err
}

// GetActivity returns a copy of activity id.
func (e *Engine) GetActivity(id uint64) (domain.Activity, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	a, err := e.activity(id)
	if err != nil {
		return domain.Activity{}, err
	}
	return a.Clone(), nil
}

// ListActivities returns every activity in creation order.
func (e *Engine) ListActivities() []domain.Activity {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.Activity, len(e.activities))
	for i, a := range e.activities {
		out[i] = a.Clone()
	}
	return out
}

// ActivityCount returns how many activities were ever created; the next
// activity gets this id.
func (e *Engine) ActivityCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return uint64(len(e.activities))
}

// addToPot grows the accumulator, refusing to wrap around.
func addToPot(a *domain.Activity, amount domain.Amount) error {
	if a.TotalAmount > math.MaxUint64-amount {
		return fmt.Errorf("%w: stake would overflow the pot of activity %d", domain.ErrInvalidArgument, a.ID)
	}
	a.TotalAmount += amount
	return nil
}
