package ports

import "github.com/alejandrodnm/polybet/internal/domain"

// Journal is implemented by collaborators whose writes the engine must be
// able to undo. The engine is the only writer: it calls Begin before an
// operation and exactly one of Commit or Rollback after it.
type Journal interface {
	Begin()
	Commit()
	Rollback()
}

// BalanceLedger holds fungible balances per identity.
type BalanceLedger interface {
	Journal

	BalanceOf(id domain.Identity) domain.Amount

	// Transfer moves amount from one identity to another. Fails with
	// domain.ErrInsufficientBalance when from holds less than amount.
	Transfer(from, to domain.Identity, amount domain.Amount) error

	// Mint credits amount out of thin air. Only the engine seeds pots this way.
	Mint(to domain.Identity, amount domain.Amount) error

	// Grant credits the one-time faucet amount. A second grant to the same
	// identity fails with domain.ErrAlreadyClaimed.
	Grant(id domain.Identity) (domain.Amount, error)

	// Pending returns the balances and grants written since Begin.
	Pending() ([]domain.BalanceEntry, []domain.Identity)
}
