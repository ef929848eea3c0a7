package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/polybet/internal/domain"
	"github.com/alejandrodnm/polybet/internal/ports"
	"github.com/google/uuid"
)

// Config holds engine-level settings.
type Config struct {
	// Operator is the only identity allowed to create and resolve activities.
	Operator domain.Identity
}

// Engine is the activity/ticket/listing state machine and its settlement.
//
// It is a single writer: one lock guards the engine's own state and both
// collaborators, and every mutating operation runs as one unit of work that
// either commits everywhere (memory, ledger, registry, storage) or nowhere.
// Queries take the read lock and return copies.
type Engine struct {
	mu sync.RWMutex

	operator domain.Identity
	escrow   domain.Identity

	ledger   ports.BalanceLedger
	claims   ports.ClaimRegistry
	store    ports.MarketStorage
	clock    ports.Clock
	notifier ports.Notifier

	activities []domain.Activity
	tickets    []domain.Ticket
	listings   []domain.Listing
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithStorage persists every committed operation.
func WithStorage(s ports.MarketStorage) Option {
	return func(e *Engine) { e.store = s }
}

// WithClock overrides the wall clock.
func WithClock(c ports.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithNotifier receives every committed event.
func WithNotifier(n ports.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// New creates an empty engine. Ledger and claims must already hold any
// persisted state; the engine's own state is loaded with Restore.
func New(cfg Config, ledger ports.BalanceLedger, claims ports.ClaimRegistry, opts ...Option) (*Engine, error) {
	if cfg.Operator == "" {
		return nil, fmt.Errorf("market.New: operator is required")
	}
	if ledger == nil || claims == nil {
		return nil, fmt.Errorf("market.New: ledger and claim registry are required")
	}
	e := &Engine{
		operator: cfg.Operator,
		escrow:   domain.EscrowFor(cfg.Operator),
		ledger:   ledger,
		claims:   claims,
		clock:    SystemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Operator returns the privileged identity.
func (e *Engine) Operator() domain.Identity { return e.operator }

// Escrow returns the engine's own balance and custody account.
func (e *Engine) Escrow() domain.Identity { return e.escrow }

// Restore replaces the engine state with s after checking its invariants.
func (e *Engine) Restore(s domain.Snapshot) error {
	if err := domain.CheckInvariants(s, e.escrow); err != nil {
		return fmt.Errorf("market.Restore: corrupted state: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.activities = make([]domain.Activity, len(s.Activities))
	for i, a := range s.Activities {
		e.activities[i] = a.Clone()
	}
	e.tickets = append([]domain.Ticket(nil), s.Tickets...)
	e.listings = append([]domain.Listing(nil), s.Listings...)

	slog.Debug("market: state restored",
		"activities", len(e.activities),
		"tickets", len(e.tickets),
		"listings", len(e.listings),
	)
	return nil
}

// Snapshot returns a consistent copy of activities, tickets, listings and
// claim holders. Balances live in the ledger and are not included.
func (e *Engine) Snapshot() (domain.Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := domain.Snapshot{
		Activities: make([]domain.Activity, len(e.activities)),
		Tickets:    append([]domain.Ticket(nil), e.tickets...),
		Listings:   append([]domain.Listing(nil), e.listings...),
		Claims:     make([]domain.ClaimEntry, 0, len(e.tickets)),
	}
	for i, a := range e.activities {
		s.Activities[i] = a.Clone()
	}
	for _, t := range e.tickets {
		holder, err := e.claims.OwnerOf(t.ID)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("market.Snapshot: claim of ticket %d: %w", t.ID, err)
		}
		s.Claims = append(s.Claims, domain.ClaimEntry{TokenID: t.ID, Holder: holder})
	}
	return s, nil
}

// atomically runs fn as one indivisible operation.
func (e *Engine) atomically(ctx context.Context, op string, caller domain.Identity, fn func(u *unit) error) error {
	if caller == "" {
		return fmt.Errorf("%w: %s: caller identity is required", domain.ErrInvalidArgument, op)
	}
	if caller == e.escrow {
		return fmt.Errorf("%w: %s: the escrow account cannot act", domain.ErrAccessDenied, op)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	u := newUnit(e)
	e.ledger.Begin()
	e.claims.Begin()

	if err := fn(u); err != nil {
		e.abort(u)
		slog.Debug("market: operation rejected", "op", op, "caller", caller, "err", err)
		return err
	}

	cs := u.changeset(domain.Event{
		ID:     uuid.New().String(),
		Op:     op,
		Caller: caller,
		Detail: u.detail,
		At:     e.clock.Now().UTC(),
	})

	if e.store != nil {
		if err := e.store.Commit(ctx, cs); err != nil {
			e.abort(u)
			slog.Error("market: persist failed, operation rolled back", "op", op, "caller", caller, "err", err)
			return fmt.Errorf("market.%s: persist: %w", op, err)
		}
	}

	e.ledger.Commit()
	e.claims.Commit()

	slog.Info("market: "+op, append([]any{"caller", caller}, flatten(u.detail)...)...)

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, cs.Event); err != nil {
			slog.Warn("market: notifier error", "op", op, "err", err)
		}
	}
	return nil
}

func (e *Engine) abort(u *unit) {
	u.revert()
	e.claims.Rollback()
	e.ledger.Rollback()
}

// now reads the shared clock.
func (e *Engine) now() time.Time { return e.clock.Now() }

func (e *Engine) activity(id uint64) (domain.Activity, error) {
	if id >= uint64(len(e.activities)) {
		return domain.Activity{}, fmt.Errorf("%w: activity %d does not exist", domain.ErrNotFound, id)
	}
	return e.activities[id], nil
}

func (e *Engine) ticket(id uint64) (domain.Ticket, error) {
	if id >= uint64(len(e.tickets)) {
		return domain.Ticket{}, fmt.Errorf("%w: ticket %d does not exist", domain.ErrNotFound, id)
	}
	return e.tickets[id], nil
}

func (e *Engine) listing(id uint64) (domain.Listing, error) {
	if id >= uint64(len(e.listings)) {
		return domain.Listing{}, fmt.Errorf("%w: listing %d does not exist", domain.ErrNotFound, id)
	}
	return e.listings[id], nil
}

func flatten(m map[string]any) []any {
	out := make([]any, 0, len(m)*2)
	for _, k := range sortedKeys(m) {
		out = append(out, k, m[k])
	}
	return out
}
