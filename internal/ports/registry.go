package ports

import "github.com/alejandrodnm/polybet/internal/domain"

// OwnerLookup resolves the current holder of a claim token. Tickets never
// store their owner; every payout and ownership check goes through here.
type OwnerLookup interface {
	OwnerOf(tokenID uint64) (domain.Identity, error)
}

// ClaimRegistry holds unique, sequentially numbered claim tokens.
type ClaimRegistry interface {
	Journal
	OwnerLookup

	// Mint creates tokenID owned by to. Ids are assigned by the engine.
	Mint(to domain.Identity, tokenID uint64) error

	// Transfer moves tokenID from its current holder to another identity.
	// Fails with domain.ErrAccessDenied when from is not the holder.
	Transfer(from, to domain.Identity, tokenID uint64) error

	// Pending returns the claims written since Begin.
	Pending() []domain.ClaimEntry
}
