package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/alejandrodnm/polybet/internal/domain"
)

// defaultEventLimit acota Events cuando limit <= 0.
const defaultEventLimit = 50

func insertEvent(ctx context.Context, q querier, ev domain.Event) error {
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		return fmt.Errorf("storage.Commit: marshal event %s: %w", ev.ID, err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO events (id, op, caller, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.Op, string(ev.Caller), string(detail), ev.At.UTC(),
	); err != nil {
		return fmt.Errorf("storage.Commit: insert event %s: %w", ev.ID, err)
	}
	return nil
}

// Events devuelve el journal de auditoría, los más recientes primero.
func (s *SQLiteStorage) Events(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, op, caller, detail, created_at
		FROM events
		ORDER BY seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Events: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		var caller, detail string
		if err := rows.Scan(&ev.ID, &ev.Op, &caller, &detail, &ev.At); err != nil {
			return nil, fmt.Errorf("storage.Events: scan row: %w", err)
		}
		ev.Caller = domain.Identity(caller)
		ev.At = ev.At.UTC()
		if err := json.Unmarshal([]byte(detail), &ev.Detail); err != nil {
			return nil, fmt.Errorf("storage.Events: detail of %s: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Los montos son uint64; INTEGER de SQLite es int64 con signo, así que se
// guardan como texto decimal.
func formatAmount(a domain.Amount) string {
	return strconv.FormatUint(a, 10)
}

func parseAmount(s string) (domain.Amount, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}
