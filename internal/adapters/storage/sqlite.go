package storage

// sqlite.go: persistencia del engine de apuestas.
//
// Estrategia:
//   - Una tabla por entidad (activities, tickets, listings) + las de los
//     colaboradores (balances, grants, claims). Ids densos desde 0 → PK.
//   - Cada operación confirmada llega como un domain.Changeset y se aplica
//     en UNA transacción. Si algo falla, rollback y el
//     engine revierte también su estado en memoria.
//   - `events`: journal append-only de auditoría, una fila por operación.
//   - Filas nuevas con INSERT plano: un id duplicado aborta el commit.
//     Las existentes con UPDATE estricto (exactamente una fila).
//   - Entre procesos se serializa con Exclusive (ver session.go).

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/polybet/internal/domain"
	"github.com/alejandrodnm/polybet/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS activities (
    id             INTEGER PRIMARY KEY,
    name           TEXT    NOT NULL,
    options        TEXT    NOT NULL, -- JSON array
    close_time     DATETIME NOT NULL,
    base_amount    TEXT    NOT NULL,
    total_amount   TEXT    NOT NULL,
    status         TEXT    NOT NULL,
    winning_option INTEGER NOT NULL DEFAULT 0,
    created_at     DATETIME NOT NULL,
    resolved_at    DATETIME
);

CREATE TABLE IF NOT EXISTS tickets (
    id           INTEGER PRIMARY KEY,
    activity_id  INTEGER NOT NULL REFERENCES activities(id),
    option_index INTEGER NOT NULL,
    amount       TEXT    NOT NULL,
    on_sale      INTEGER NOT NULL DEFAULT 0,
    purchased_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS listings (
    id          INTEGER PRIMARY KEY,
    ticket_id   INTEGER NOT NULL REFERENCES tickets(id),
    activity_id INTEGER NOT NULL,
    seller      TEXT    NOT NULL,
    price       TEXT    NOT NULL,
    status      TEXT    NOT NULL,
    buyer       TEXT,
    listed_at   DATETIME NOT NULL,
    closed_at   DATETIME
);

CREATE TABLE IF NOT EXISTS balances (
    holder TEXT PRIMARY KEY,
    amount TEXT NOT NULL -- uint64 decimal; INTEGER is signed
);

CREATE TABLE IF NOT EXISTS grants (
    holder     TEXT PRIMARY KEY,
    granted_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS claims (
    token_id INTEGER PRIMARY KEY,
    holder   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT NOT NULL UNIQUE,
    op         TEXT NOT NULL,
    caller     TEXT NOT NULL,
    detail     TEXT NOT NULL, -- JSON object
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tickets_activity  ON tickets(activity_id);
CREATE INDEX IF NOT EXISTS idx_listings_activity ON listings(activity_id);
CREATE INDEX IF NOT EXISTS idx_listings_seller   ON listings(seller);
CREATE INDEX IF NOT EXISTS idx_claims_holder     ON claims(holder);
`

// SQLiteStorage implementa ports.MarketStorage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB

	mu     sync.Mutex
	active bool      // Exclusive en curso
	conn   *sql.Conn // != nil dentro de Exclusive
}

var _ ports.MarketStorage = (*SQLiteStorage)(nil)

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: enable foreign keys: %w", err)
	}
	// otro proceso con el write lock: esperar en vez de fallar con SQLITE_BUSY
	if _, err := db.Exec(fmt.Sprintf(`PRAGMA busy_timeout = %d`, busyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Commit aplica el changeset completo en una sola transacción. Dentro de
// Exclusive usa un savepoint de la transacción abierta.
func (s *SQLiteStorage) Commit(ctx context.Context, cs domain.Changeset) error {
	if conn := s.session(); conn != nil {
		return commitInSession(ctx, conn, cs)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Commit: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := applyChangeset(ctx, tx, cs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Commit: commit: %w", err)
	}
	return nil
}

func applyChangeset(ctx context.Context, q querier, cs domain.Changeset) error {
	for _, a := range cs.NewActivities {
		if err := insertActivity(ctx, q, a); err != nil {
			return err
		}
	}
	for _, a := range cs.Activities {
		if err := updateActivity(ctx, q, a); err != nil {
			return err
		}
	}
	for _, t := range cs.NewTickets {
		if err := insertTicket(ctx, q, t); err != nil {
			return err
		}
	}
	for _, t := range cs.Tickets {
		if err := updateTicket(ctx, q, t); err != nil {
			return err
		}
	}
	for _, l := range cs.NewListings {
		if err := insertListing(ctx, q, l); err != nil {
			return err
		}
	}
	for _, l := range cs.Listings {
		if err := updateListing(ctx, q, l); err != nil {
			return err
		}
	}
	for _, b := range cs.Balances {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO balances (holder, amount) VALUES (?, ?)
			ON CONFLICT(holder) DO UPDATE SET amount = excluded.amount`,
			string(b.Holder), formatAmount(b.Amount),
		); err != nil {
			return fmt.Errorf("storage.Commit: upsert balance %s: %w", b.Holder, err)
		}
	}
	for _, id := range cs.Grants {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO grants (holder, granted_at) VALUES (?, ?)`,
			string(id), cs.Event.At.UTC(),
		); err != nil {
			return fmt.Errorf("storage.Commit: insert grant %s: %w", id, err)
		}
	}
	for _, c := range cs.Claims {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO claims (token_id, holder) VALUES (?, ?)
			ON CONFLICT(token_id) DO UPDATE SET holder = excluded.holder`,
			int64(c.TokenID), string(c.Holder),
		); err != nil {
			return fmt.Errorf("storage.Commit: upsert claim %d: %w", c.TokenID, err)
		}
	}

	if cs.Event.ID != "" {
		if err := insertEvent(ctx, q, cs.Event); err != nil {
			return err
		}
	}
	return nil
}

// Load devuelve el estado completo ordenado por id.
func (s *SQLiteStorage) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	var err error

	if snap.Activities, err = s.loadActivities(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Tickets, err = s.loadTickets(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Listings, err = s.loadListings(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Balances, err = s.loadBalances(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Claims, err = s.loadClaims(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Grants, err = s.loadGrants(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- escrituras ---

func insertActivity(ctx context.Context, q querier, a domain.Activity) error {
	options, err := json.Marshal(a.Options)
	if err != nil {
		return fmt.Errorf("storage.Commit: marshal options of activity %d: %w", a.ID, err)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO activities
			(id, name, options, close_time, base_amount, total_amount,
			 status, winning_option, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(a.ID), a.Name, string(options), a.CloseTime.UTC(),
		formatAmount(a.BaseAmount), formatAmount(a.TotalAmount),
		string(a.Status), a.WinningOption, a.CreatedAt.UTC(), utcPtr(a.ResolvedAt),
	); err != nil {
		return fmt.Errorf("storage.Commit: insert activity %d: %w", a.ID, err)
	}
	return nil
}

func updateActivity(ctx context.Context, q querier, a domain.Activity) error {
	res, err := q.ExecContext(ctx, `
		UPDATE activities SET
			total_amount   = ?,
			status         = ?,
			winning_option = ?,
			resolved_at    = ?
		WHERE id = ?`,
		formatAmount(a.TotalAmount), string(a.Status), a.WinningOption, utcPtr(a.ResolvedAt), int64(a.ID),
	)
	return checkUpdated(res, err, "activity", a.ID)
}

func insertTicket(ctx context.Context, q querier, t domain.Ticket) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO tickets (id, activity_id, option_index, amount, on_sale, purchased_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		int64(t.ID), int64(t.ActivityID), t.OptionIndex, formatAmount(t.Amount),
		boolInt(t.OnSale), t.PurchasedAt.UTC(),
	); err != nil {
		return fmt.Errorf("storage.Commit: insert ticket %d: %w", t.ID, err)
	}
	return nil
}

func updateTicket(ctx context.Context, q querier, t domain.Ticket) error {
	res, err := q.ExecContext(ctx,
		`UPDATE tickets SET on_sale = ? WHERE id = ?`,
		boolInt(t.OnSale), int64(t.ID),
	)
	return checkUpdated(res, err, "ticket", t.ID)
}

func insertListing(ctx context.Context, q querier, l domain.Listing) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO listings
			(id, ticket_id, activity_id, seller, price, status, buyer, listed_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(l.ID), int64(l.TicketID), int64(l.ActivityID), string(l.Seller),
		formatAmount(l.Price), string(l.Status), nullString(string(l.Buyer)),
		l.ListedAt.UTC(), utcPtr(l.ClosedAt),
	); err != nil {
		return fmt.Errorf("storage.Commit: insert listing %d: %w", l.ID, err)
	}
	return nil
}

func updateListing(ctx context.Context, q querier, l domain.Listing) error {
	res, err := q.ExecContext(ctx, `
		UPDATE listings SET
			status    = ?,
			buyer     = ?,
			closed_at = ?
		WHERE id = ?`,
		string(l.Status), nullString(string(l.Buyer)), utcPtr(l.ClosedAt), int64(l.ID),
	)
	return checkUpdated(res, err, "listing", l.ID)
}

// checkUpdated exige que el UPDATE haya tocado exactamente una fila.
func checkUpdated(res sql.Result, err error, what string, id uint64) error {
	if err != nil {
		return fmt.Errorf("storage.Commit: update %s %d: %w", what, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage.Commit: update %s %d: rows affected: %w", what, id, err)
	}
	if n != 1 {
		return fmt.Errorf("storage.Commit: update %s %d: %d rows affected, want 1", what, id, n)
	}
	return nil
}

// --- lecturas ---

func (s *SQLiteStorage) loadActivities(ctx context.Context) ([]domain.Activity, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, name, options, close_time, base_amount, total_amount,
		       status, winning_option, created_at, resolved_at
		FROM activities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage.Load: query activities: %w", err)
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var options, base, total, status string
		var resolvedAt sql.NullTime
		if err := rows.Scan(
			&a.ID, &a.Name, &options, &a.CloseTime, &base, &total,
			&status, &a.WinningOption, &a.CreatedAt, &resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.Load: scan activity: %w", err)
		}
		if err := json.Unmarshal([]byte(options), &a.Options); err != nil {
			return nil, fmt.Errorf("storage.Load: options of activity %d: %w", a.ID, err)
		}
		if a.BaseAmount, err = parseAmount(base); err != nil {
			return nil, fmt.Errorf("storage.Load: activity %d: %w", a.ID, err)
		}
		if a.TotalAmount, err = parseAmount(total); err != nil {
			return nil, fmt.Errorf("storage.Load: activity %d: %w", a.ID, err)
		}
		a.Status = domain.ActivityStatus(status)
		a.CloseTime = a.CloseTime.UTC()
		a.CreatedAt = a.CreatedAt.UTC()
		a.ResolvedAt = timePtr(resolvedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) loadTickets(ctx context.Context) ([]domain.Ticket, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, activity_id, option_index, amount, on_sale, purchased_at
		FROM tickets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage.Load: query tickets: %w", err)
	}
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		var amount string
		var onSale int
		if err := rows.Scan(&t.ID, &t.ActivityID, &t.OptionIndex, &amount, &onSale, &t.PurchasedAt); err != nil {
			return nil, fmt.Errorf("storage.Load: scan ticket: %w", err)
		}
		if t.Amount, err = parseAmount(amount); err != nil {
			return nil, fmt.Errorf("storage.Load: ticket %d: %w", t.ID, err)
		}
		t.OnSale = onSale == 1
		t.PurchasedAt = t.PurchasedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) loadListings(ctx context.Context) ([]domain.Listing, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, ticket_id, activity_id, seller, price, status, buyer, listed_at, closed_at
		FROM listings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage.Load: query listings: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		var l domain.Listing
		var seller, price, status string
		var buyer sql.NullString
		var closedAt sql.NullTime
		if err := rows.Scan(
			&l.ID, &l.TicketID, &l.ActivityID, &seller, &price, &status, &buyer, &l.ListedAt, &closedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.Load: scan listing: %w", err)
		}
		if l.Price, err = parseAmount(price); err != nil {
			return nil, fmt.Errorf("storage.Load: listing %d: %w", l.ID, err)
		}
		l.Seller = domain.Identity(seller)
		l.Status = domain.ListingStatus(status)
		l.Buyer = domain.Identity(buyer.String)
		l.ListedAt = l.ListedAt.UTC()
		l.ClosedAt = timePtr(closedAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) loadBalances(ctx context.Context) ([]domain.BalanceEntry, error) {
	rows, err := s.q().QueryContext(ctx, `SELECT holder, amount FROM balances ORDER BY holder`)
	if err != nil {
		return nil, fmt.Errorf("storage.Load: query balances: %w", err)
	}
	defer rows.Close()

	var out []domain.BalanceEntry
	for rows.Next() {
		var holder, amount string
		if err := rows.Scan(&holder, &amount); err != nil {
			return nil, fmt.Errorf("storage.Load: scan balance: %w", err)
		}
		amt, err := parseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("storage.Load: balance of %s: %w", holder, err)
		}
		out = append(out, domain.BalanceEntry{Holder: domain.Identity(holder), Amount: amt})
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) loadClaims(ctx context.Context) ([]domain.ClaimEntry, error) {
	rows, err := s.q().QueryContext(ctx, `SELECT token_id, holder FROM claims ORDER BY token_id`)
	if err != nil {
		return nil, fmt.Errorf("storage.Load: query claims: %w", err)
	}
	defer rows.Close()

	var out []domain.ClaimEntry
	for rows.Next() {
		var c domain.ClaimEntry
		var holder string
		if err := rows.Scan(&c.TokenID, &holder); err != nil {
			return nil, fmt.Errorf("storage.Load: scan claim: %w", err)
		}
		c.Holder = domain.Identity(holder)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) loadGrants(ctx context.Context) ([]domain.Identity, error) {
	rows, err := s.q().QueryContext(ctx, `SELECT holder FROM grants ORDER BY holder`)
	if err != nil {
		return nil, fmt.Errorf("storage.Load: query grants: %w", err)
	}
	defer rows.Close()

	var out []domain.Identity
	for rows.Next() {
		var holder string
		if err := rows.Scan(&holder); err != nil {
			return nil, fmt.Errorf("storage.Load: scan grant: %w", err)
		}
		out = append(out, domain.Identity(holder))
	}
	return out, rows.Err()
}

// --- helpers internos ---

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
