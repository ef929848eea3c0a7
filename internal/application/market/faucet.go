package market

import (
	"context"

	"github.com/alejandrodnm/polybet/internal/domain"
)

// Grant credits the caller's one-time faucet amount.
func (e *Engine) Grant(ctx context.Context, caller domain.Identity) (domain.Amount, error) {
	var granted domain.Amount
	err := e.atomically(ctx, "grant", caller, func(u *unit) error {
		amt, err := e.ledger.Grant(caller)
		if err != nil {
			return err
		}
		granted = amt
		u.set("amount", amt)
		return nil
	})
	return granted, err
}

// BalanceOf returns the ledger balance of id.
func (e *Engine) BalanceOf(id domain.Identity) domain.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.BalanceOf(id)
}
