package ledger

import (
	"fmt"
	"math"
	"sort"

	"github.com/alejandrodnm/polybet/internal/domain"
	"github.com/alejandrodnm/polybet/internal/ports"
)

// DefaultGrant is the one-time faucet amount per identity.
const DefaultGrant domain.Amount = 10000

// undo captures a key's value before the first write inside a journal.
type undo struct {
	holder  domain.Identity
	prev    domain.Amount
	existed bool
}

// Memory implementa ports.BalanceLedger en memoria.
// No es thread-safe: el engine es el único escritor y serializa el acceso.
type Memory struct {
	grant    domain.Amount
	balances map[domain.Identity]domain.Amount
	granted  map[domain.Identity]bool

	open      bool
	undo      []undo
	touched   map[domain.Identity]bool
	newGrants []domain.Identity
}

var _ ports.BalanceLedger = (*Memory)(nil)

// NewMemory crea un ledger vacío. grant == 0 usa DefaultGrant.
func NewMemory(grant domain.Amount) *Memory {
	if grant == 0 {
		grant = DefaultGrant
	}
	return &Memory{
		grant:    grant,
		balances: make(map[domain.Identity]domain.Amount),
		granted:  make(map[domain.Identity]bool),
	}
}

// Load restaura balances y grants persistidos. Debe llamarse antes de usarlo.
func (m *Memory) Load(balances []domain.BalanceEntry, grants []domain.Identity) {
	for _, b := range balances {
		m.balances[b.Holder] = b.Amount
	}
	for _, id := range grants {
		m.granted[id] = true
	}
}

// GrantAmount returns the faucet amount.
func (m *Memory) GrantAmount() domain.Amount { return m.grant }

// BalanceOf returns 0 for unknown identities.
func (m *Memory) BalanceOf(id domain.Identity) domain.Amount {
	return m.balances[id]
}

// Transfer debits from and credits to. from == to is a no-op once the
// balance check passes.
func (m *Memory) Transfer(from, to domain.Identity, amount domain.Amount) error {
	have := m.balances[from]
	if have < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", domain.ErrInsufficientBalance, from, have, amount)
	}
	if from == to || amount == 0 {
		return nil
	}
	if m.balances[to] > math.MaxUint64-amount {
		return fmt.Errorf("%w: balance of %s would overflow", domain.ErrInvalidArgument, to)
	}
	m.set(from, have-amount)
	m.set(to, m.balances[to]+amount)
	return nil
}

// Mint credits amount to the given identity.
func (m *Memory) Mint(to domain.Identity, amount domain.Amount) error {
	if m.balances[to] > math.MaxUint64-amount {
		return fmt.Errorf("%w: balance of %s would overflow", domain.ErrInvalidArgument, to)
	}
	m.set(to, m.balances[to]+amount)
	return nil
}

// Grant credits the faucet amount once per identity.
func (m *Memory) Grant(id domain.Identity) (domain.Amount, error) {
	if m.granted[id] {
		return 0, fmt.Errorf("%w: %s has claimed its grant already", domain.ErrAlreadyClaimed, id)
	}
	if err := m.Mint(id, m.grant); err != nil {
		return 0, err
	}
	m.granted[id] = true
	if m.open {
		m.newGrants = append(m.newGrants, id)
	}
	return m.grant, nil
}

// Begin starts recording undo entries.
func (m *Memory) Begin() {
	m.open = true
	m.undo = m.undo[:0]
	m.touched = make(map[domain.Identity]bool)
	m.newGrants = nil
}

// Commit keeps every write since Begin.
func (m *Memory) Commit() {
	m.open = false
	m.undo = m.undo[:0]
	m.touched = nil
	m.newGrants = nil
}

// Rollback restores every balance and grant written since Begin.
func (m *Memory) Rollback() {
	for i := len(m.undo) - 1; i >= 0; i-- {
		u := m.undo[i]
		if u.existed {
			m.balances[u.holder] = u.prev
		} else {
			delete(m.balances, u.holder)
		}
	}
	for _, id := range m.newGrants {
		delete(m.granted, id)
	}
	m.Commit()
}

// Pending returns the current value of every balance written since Begin,
// sorted by holder, and the identities granted since Begin.
func (m *Memory) Pending() ([]domain.BalanceEntry, []domain.Identity) {
	entries := make([]domain.BalanceEntry, 0, len(m.touched))
	for id := range m.touched {
		entries = append(entries, domain.BalanceEntry{Holder: id, Amount: m.balances[id]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Holder < entries[j].Holder })
	return entries, append([]domain.Identity(nil), m.newGrants...)
}

// Balances returns every balance sorted by holder.
func (m *Memory) Balances() []domain.BalanceEntry {
	entries := make([]domain.BalanceEntry, 0, len(m.balances))
	for id, amt := range m.balances {
		entries = append(entries, domain.BalanceEntry{Holder: id, Amount: amt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Holder < entries[j].Holder })
	return entries
}

func (m *Memory) set(id domain.Identity, amount domain.Amount) {
	if m.open && !m.touched[id] {
		prev, existed := m.balances[id]
		m.undo = append(m.undo, undo{holder: id, prev: prev, existed: existed})
		m.touched[id] = true
	}
	m.balances[id] = amount
}
