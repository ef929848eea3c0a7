package registry

import (
	"fmt"
	"sort"

	"github.com/alejandrodnm/polybet/internal/domain"
	"github.com/alejandrodnm/polybet/internal/ports"
)

type undo struct {
	tokenID uint64
	prev    domain.Identity
	existed bool
}

// Memory implements ports.ClaimRegistry in memory. Like the ledger it has a
// single writer, the engine, which serializes access.
type Memory struct {
	owners map[uint64]domain.Identity

	open    bool
	undo    []undo
	touched map[uint64]bool
}

var _ ports.ClaimRegistry = (*Memory)(nil)

// NewMemory creates an empty registry.
func NewMemory() *Memory {
	return &Memory{owners: make(map[uint64]domain.Identity)}
}

// Load restores persisted claims.
func (m *Memory) Load(claims []domain.ClaimEntry) {
	for _, c := range claims {
		m.owners[c.TokenID] = c.Holder
	}
}

// OwnerOf returns the current holder of tokenID.
func (m *Memory) OwnerOf(tokenID uint64) (domain.Identity, error) {
	owner, ok := m.owners[tokenID]
	if !ok {
		return "", fmt.Errorf("%w: claim token %d", domain.ErrNotFound, tokenID)
	}
	return owner, nil
}

// Mint creates tokenID owned by to.
func (m *Memory) Mint(to domain.Identity, tokenID uint64) error {
	if _, ok := m.owners[tokenID]; ok {
		return fmt.Errorf("%w: claim token %d already minted", domain.ErrInvalidArgument, tokenID)
	}
	m.set(tokenID, to)
	return nil
}

// Transfer moves tokenID from its holder to another identity.
func (m *Memory) Transfer(from, to domain.Identity, tokenID uint64) error {
	owner, err := m.OwnerOf(tokenID)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("%w: claim token %d is not held by %s", domain.ErrAccessDenied, tokenID, from)
	}
	m.set(tokenID, to)
	return nil
}

// Begin starts recording undo entries.
func (m *Memory) Begin() {
	m.open = true
	m.undo = m.undo[:0]
	m.touched = make(map[uint64]bool)
}

// Commit keeps every write since Begin.
func (m *Memory) Commit() {
	m.open = false
	m.undo = m.undo[:0]
	m.touched = nil
}

// Rollback restores every claim written since Begin.
func (m *Memory) Rollback() {
	for i := len(m.undo) - 1; i >= 0; i-- {
		u := m.undo[i]
		if u.existed {
			m.owners[u.tokenID] = u.prev
		} else {
			delete(m.owners, u.tokenID)
		}
	}
	m.Commit()
}

// Pending returns the claims written since Begin, sorted by token id.
func (m *Memory) Pending() []domain.ClaimEntry {
	entries := make([]domain.ClaimEntry, 0, len(m.touched))
	for id := range m.touched {
		entries = append(entries, domain.ClaimEntry{TokenID: id, Holder: m.owners[id]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TokenID < entries[j].TokenID })
	return entries
}

// Count returns the number of minted tokens.
func (m *Memory) Count() int { return len(m.owners) }

func (m *Memory) set(tokenID uint64, holder domain.Identity) {
	if m.open && !m.touched[tokenID] {
		prev, existed := m.owners[tokenID]
		m.undo = append(m.undo, undo{tokenID: tokenID, prev: prev, existed: existed})
		m.touched[tokenID] = true
	}
	m.owners[tokenID] = holder
}
