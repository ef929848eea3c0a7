package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/polybet/internal/adapters/ledger"
	"github.com/alejandrodnm/polybet/internal/adapters/registry"
	"github.com/alejandrodnm/polybet/internal/adapters/storage"
	"github.com/alejandrodnm/polybet/internal/application/market"
	"github.com/alejandrodnm/polybet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	operator = domain.MustIdentity("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	alice    = domain.MustIdentity("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	bob      = domain.MustIdentity("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStorage_EmptyLoad(t *testing.T) {
	db := newStore(t)

	snap, err := db.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Activities)
	assert.Empty(t, snap.Tickets)
	assert.Empty(t, snap.Balances)
}

func TestSQLiteStorage_CommitAndLoad(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	resolved := t0.Add(2 * time.Hour)
	cs := domain.Changeset{
		NewActivities: []domain.Activity{{
			ID: 0, Name: "final", Options: []string{"home", "away"},
			CloseTime: t0.Add(time.Hour), BaseAmount: 1000, TotalAmount: 1300,
			Status: domain.ActivityResolved, WinningOption: 1,
			CreatedAt: t0, ResolvedAt: &resolved,
		}},
		NewTickets: []domain.Ticket{
			{ID: 0, ActivityID: 0, OptionIndex: 0, Amount: 100, PurchasedAt: t0},
			{ID: 1, ActivityID: 0, OptionIndex: 1, Amount: 200, OnSale: true, PurchasedAt: t0},
		},
		NewListings: []domain.Listing{
			{ID: 0, TicketID: 1, ActivityID: 0, Seller: alice, Price: 50, Status: domain.ListingActive, ListedAt: t0},
		},
		Balances: []domain.BalanceEntry{
			{Holder: alice, Amount: 9800},
			{Holder: bob, Amount: ^uint64(0)},
		},
		Claims: []domain.ClaimEntry{{TokenID: 0, Holder: bob}, {TokenID: 1, Holder: operator}},
		Grants: []domain.Identity{alice},
		Event: domain.Event{
			ID: "ev-1", Op: "buy_ticket", Caller: alice,
			Detail: map[string]any{"ticket_id": uint64(1)}, At: t0,
		},
	}
	require.NoError(t, db.Commit(ctx, cs))

	snap, err := db.Load(ctx)
	require.NoError(t, err)

	require.Len(t, snap.Activities, 1)
	a := snap.Activities[0]
	assert.Equal(t, []string{"home", "away"}, a.Options)
	assert.Equal(t, domain.Amount(1300), a.TotalAmount)
	assert.Equal(t, domain.ActivityResolved, a.Status)
	assert.Equal(t, 1, a.WinningOption)
	assert.True(t, a.CloseTime.Equal(t0.Add(time.Hour)))
	require.NotNil(t, a.ResolvedAt)
	assert.True(t, a.ResolvedAt.Equal(resolved))

	require.Len(t, snap.Tickets, 2)
	assert.False(t, snap.Tickets[0].OnSale)
	assert.True(t, snap.Tickets[1].OnSale)

	require.Len(t, snap.Listings, 1)
	assert.Equal(t, alice, snap.Listings[0].Seller)
	assert.Empty(t, snap.Listings[0].Buyer)
	assert.Nil(t, snap.Listings[0].ClosedAt)

	// uint64 máximo sobrevive al round-trip
	assert.Contains(t, snap.Balances, domain.BalanceEntry{Holder: bob, Amount: ^uint64(0)})
	assert.Equal(t, []domain.ClaimEntry{{TokenID: 0, Holder: bob}, {TokenID: 1, Holder: operator}}, snap.Claims)
	assert.Equal(t, []domain.Identity{alice}, snap.Grants)
}

func seedListing(t *testing.T, db *storage.SQLiteStorage) domain.Listing {
	t.Helper()
	l := domain.Listing{ID: 0, TicketID: 0, ActivityID: 0, Seller: alice, Price: 50, Status: domain.ListingActive, ListedAt: t0}
	require.NoError(t, db.Commit(context.Background(), domain.Changeset{
		NewActivities: []domain.Activity{{ID: 0, Name: "x", Options: []string{"a", "b"}, CloseTime: t0, Status: domain.ActivityActive, CreatedAt: t0}},
		NewTickets:    []domain.Ticket{{ID: 0, ActivityID: 0, Amount: 10, OnSale: true, PurchasedAt: t0}},
		NewListings:   []domain.Listing{l},
	}))
	return l
}

func TestSQLiteStorage_UpdatesMutableColumns(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	l := seedListing(t, db)

	closed := t0.Add(time.Minute)
	l.Status, l.Buyer, l.ClosedAt = domain.ListingSold, bob, &closed
	require.NoError(t, db.Commit(ctx, domain.Changeset{
		Tickets:  []domain.Ticket{{ID: 0, ActivityID: 0, Amount: 10, OnSale: false, PurchasedAt: t0}},
		Listings: []domain.Listing{l},
		Claims:   []domain.ClaimEntry{{TokenID: 0, Holder: bob}},
	}))

	snap, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Listings, 1)
	assert.Equal(t, domain.ListingSold, snap.Listings[0].Status)
	assert.Equal(t, bob, snap.Listings[0].Buyer)
	require.NotNil(t, snap.Listings[0].ClosedAt)
	assert.False(t, snap.Tickets[0].OnSale)
}

func TestSQLiteStorage_DuplicateNewRowFails(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	seedListing(t, db)

	// un id ya asignado no se fusiona: aborta todo el changeset
	err := db.Commit(ctx, domain.Changeset{
		Activities: []domain.Activity{{ID: 0, TotalAmount: 999, Status: domain.ActivityActive}},
		NewTickets: []domain.Ticket{{ID: 0, ActivityID: 0, Amount: 300, PurchasedAt: t0}},
	})
	require.Error(t, err)

	snap, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Tickets, 1)
	assert.Equal(t, domain.Amount(10), snap.Tickets[0].Amount)
	assert.Equal(t, domain.Amount(0), snap.Activities[0].TotalAmount)
}

func TestSQLiteStorage_UpdateOfMissingRowFails(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	err := db.Commit(ctx, domain.Changeset{
		Tickets: []domain.Ticket{{ID: 7, OnSale: true}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticket 7")
}

func TestSQLiteStorage_CommitIsAtomic(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	// el ticket referencia una actividad inexistente → FK falla, nada se persiste
	err := db.Commit(ctx, domain.Changeset{
		Balances:   []domain.BalanceEntry{{Holder: alice, Amount: 10}},
		NewTickets: []domain.Ticket{{ID: 0, ActivityID: 9, Amount: 10, PurchasedAt: t0}},
		Event:      domain.Event{ID: "ev-x", Op: "buy_ticket", Caller: alice, At: t0},
	})
	require.Error(t, err)

	snap, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Balances)
	assert.Empty(t, snap.Tickets)

	events, err := db.Events(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLiteStorage_GrantTwiceFails(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	require.NoError(t, db.Commit(ctx, domain.Changeset{Grants: []domain.Identity{alice}, Event: domain.Event{At: t0}}))
	assert.Error(t, db.Commit(ctx, domain.Changeset{Grants: []domain.Identity{alice}, Event: domain.Event{At: t0}}))
}

func TestSQLiteStorage_EventsNewestFirst(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	for i, op := range []string{"grant", "create_activity", "buy_ticket"} {
		require.NoError(t, db.Commit(ctx, domain.Changeset{Event: domain.Event{
			ID: op, Op: op, Caller: alice,
			Detail: map[string]any{"n": i}, At: t0.Add(time.Duration(i) * time.Second),
		}}))
	}

	events, err := db.Events(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "buy_ticket", events[0].Op)
	assert.Equal(t, "create_activity", events[1].Op)
	assert.Equal(t, alice, events[0].Caller)
	assert.InDelta(t, 2, events[0].Detail["n"], 0)

	all, err := db.Events(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// loadEngine reconstruye un engine desde disco, como hace el CLI.
func loadEngine(ctx context.Context, db *storage.SQLiteStorage, clock *fixedClock) (*market.Engine, error) {
	snap, err := db.Load(ctx)
	if err != nil {
		return nil, err
	}
	led := ledger.NewMemory(0)
	led.Load(snap.Balances, snap.Grants)
	claims := registry.NewMemory()
	claims.Load(snap.Claims)

	eng, err := market.New(market.Config{Operator: operator}, led, claims,
		market.WithStorage(db), market.WithClock(clock))
	if err != nil {
		return nil, err
	}
	return eng, eng.Restore(snap)
}

func openFile(t *testing.T, path string) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedFootball deja en disco una actividad con base 1000 y alice/bob con grant.
func seedFootball(t *testing.T, path string, clock *fixedClock) {
	t.Helper()
	ctx := context.Background()
	db := openFile(t, path)
	require.NoError(t, db.Exclusive(ctx, func(ctx context.Context) error {
		eng, err := loadEngine(ctx, db, clock)
		if err != nil {
			return err
		}
		if _, err := eng.Grant(ctx, alice); err != nil {
			return err
		}
		if _, err := eng.Grant(ctx, bob); err != nil {
			return err
		}
		_, err = eng.CreateActivity(ctx, operator, "final", []string{"home", "away"}, t0.Add(time.Hour), 1000)
		return err
	}))
}

// Un engine con storage SQLite debe poder reconstruirse desde disco con el
// mismo estado observable.
func TestSQLiteStorage_EngineRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "polybet.db")
	clock := &fixedClock{now: t0}

	db, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)

	eng, err := market.New(market.Config{Operator: operator}, ledger.NewMemory(0), registry.NewMemory(),
		market.WithStorage(db), market.WithClock(clock))
	require.NoError(t, err)

	_, err = eng.Grant(ctx, alice)
	require.NoError(t, err)
	_, err = eng.Grant(ctx, bob)
	require.NoError(t, err)
	_, err = eng.CreateActivity(ctx, operator, "final", []string{"home", "away"}, t0.Add(time.Hour), 1000)
	require.NoError(t, err)
	_, err = eng.BuyTicket(ctx, alice, 0, 0, 100)
	require.NoError(t, err)
	_, err = eng.BuyTicket(ctx, bob, 0, 1, 200)
	require.NoError(t, err)
	_, err = eng.ListTicket(ctx, alice, 0, 40)
	require.NoError(t, err)

	before, err := eng.Snapshot()
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db = openFile(t, path)
	restored, err := loadEngine(ctx, db, clock)
	require.NoError(t, err)

	after, err := restored.Snapshot()
	require.NoError(t, err)
	assert.Len(t, after.Activities, len(before.Activities))
	assert.Len(t, after.Tickets, len(before.Tickets))
	assert.Len(t, after.Listings, len(before.Listings))
	assert.Equal(t, before.Claims, after.Claims)
	assert.Equal(t, domain.Amount(9900), restored.BalanceOf(alice))
	assert.Equal(t, domain.Amount(1300), restored.BalanceOf(restored.Escrow()))

	// el escrow vuelve a operar tras el reinicio
	require.NoError(t, restored.BuyListing(ctx, bob, 0))
	holder, err := restored.TicketHolder(0)
	require.NoError(t, err)
	assert.Equal(t, bob, holder)

	_, err = restored.Grant(ctx, alice)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

// Dos engines cargados del mismo archivo fuera de Exclusive: el segundo
// commit reutiliza el ticket id 0 y debe abortar sin tocar el disco.
func TestSQLiteStorage_StaleEngineCannotMergeRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "polybet.db")
	clock := &fixedClock{now: t0}
	seedFootball(t, path, clock)

	first, second := openFile(t, path), openFile(t, path)
	engA, err := loadEngine(ctx, first, clock)
	require.NoError(t, err)
	engB, err := loadEngine(ctx, second, clock)
	require.NoError(t, err)

	_, err = engA.BuyTicket(ctx, alice, 0, 0, 100)
	require.NoError(t, err)
	_, err = engB.BuyTicket(ctx, bob, 0, 1, 300)
	require.Error(t, err)
	assert.Equal(t, "Internal", domain.KindOf(err))

	snap, err := first.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Tickets, 1)
	assert.Equal(t, domain.Amount(1100), snap.Activities[0].TotalAmount)
	require.NoError(t, domain.CheckInvariants(snap, domain.EscrowFor(operator)))
}

// Dos "procesos" (conexiones independientes al mismo archivo) corren
// load → operar → commit en paralelo: Exclusive los serializa y el segundo
// ve lo que confirmó el primero.
func TestSQLiteStorage_ExclusiveSerializesEngines(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "polybet.db")
	clock := &fixedClock{now: t0}
	seedFootball(t, path, clock)

	first, second := openFile(t, path), openFile(t, path)
	loaded := make(chan struct{})
	errs := make(chan error, 2)

	go func() {
		errs <- first.Exclusive(ctx, func(ctx context.Context) error {
			eng, err := loadEngine(ctx, first, clock)
			close(loaded)
			if err != nil {
				return err
			}
			time.Sleep(150 * time.Millisecond)
			_, err = eng.BuyTicket(ctx, alice, 0, 0, 100)
			return err
		})
	}()

	select {
	case <-loaded:
	case err := <-errs:
		t.Fatalf("first session failed before loading: %v", err)
	}

	go func() {
		errs <- second.Exclusive(ctx, func(ctx context.Context) error {
			eng, err := loadEngine(ctx, second, clock)
			if err != nil {
				return err
			}
			_, err = eng.BuyTicket(ctx, bob, 0, 1, 300)
			return err
		})
	}()

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	snap, err := first.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Tickets, 2)
	assert.Equal(t, alice, snap.Claims[0].Holder)
	assert.Equal(t, bob, snap.Claims[1].Holder)
	assert.Equal(t, domain.Amount(1400), snap.Activities[0].TotalAmount)
	require.NoError(t, domain.CheckInvariants(snap, domain.EscrowFor(operator)))
}

func TestSQLiteStorage_ExclusiveRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := newStore(t)

	err := db.Exclusive(ctx, func(ctx context.Context) error {
		require.NoError(t, db.Commit(ctx, domain.Changeset{Grants: []domain.Identity{alice}, Event: domain.Event{At: t0}}))
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")

	snap, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Grants)
}

func TestSQLiteStorage_FailedCommitInsideExclusive(t *testing.T) {
	ctx := context.Background()
	db := newStore(t)

	require.NoError(t, db.Exclusive(ctx, func(ctx context.Context) error {
		require.NoError(t, db.Commit(ctx, domain.Changeset{Grants: []domain.Identity{alice}, Event: domain.Event{At: t0}}))
		// el savepoint descarta solo este changeset
		require.Error(t, db.Commit(ctx, domain.Changeset{
			Balances: []domain.BalanceEntry{{Holder: bob, Amount: 5}},
			Grants:   []domain.Identity{alice},
			Event:    domain.Event{At: t0},
		}))

		err := db.Exclusive(ctx, func(context.Context) error { return nil })
		assert.ErrorIs(t, err, storage.ErrSessionActive)
		return nil
	}))

	snap, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Identity{alice}, snap.Grants)
	assert.Empty(t, snap.Balances)
}
