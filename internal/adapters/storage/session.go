package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/polybet/internal/domain"
)

// busyTimeout es cuánto espera un proceso por el write lock de otro.
const busyTimeout = 30 * time.Second

// ErrSessionActive se devuelve al anidar Exclusive.
var ErrSessionActive = errors.New("storage: exclusive session already active")

// querier es lo común a *sql.DB, *sql.Tx y *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStorage) session() *sql.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *SQLiteStorage) q() querier {
	if conn := s.session(); conn != nil {
		return conn
	}
	return s.db
}

// Exclusive ejecuta fn con el write lock de la base tomado (BEGIN IMMEDIATE)
// desde el primer Load hasta el último Commit. Otro proceso sobre el mismo
// archivo espera hasta busyTimeout a que termine. Cada Commit dentro de fn
// es un savepoint: si falla, solo se descarta ese changeset. Si fn devuelve
// error, se descarta toda la sesión.
func (s *SQLiteStorage) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.active = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	// el pool tiene una sola conexión: la sesión la retiene entera
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("storage.Exclusive: get conn: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return fmt.Errorf("storage.Exclusive: begin immediate: %w", err)
	}

	if err := fn(ctx); err != nil {
		// contexto propio: el del caller puede estar cancelado
		if _, rbErr := conn.ExecContext(context.Background(), `ROLLBACK`); rbErr != nil {
			return errors.Join(err, fmt.Errorf("storage.Exclusive: rollback: %w", rbErr))
		}
		return err
	}

	if _, err := conn.ExecContext(context.Background(), `COMMIT`); err != nil {
		_, _ = conn.ExecContext(context.Background(), `ROLLBACK`)
		return fmt.Errorf("storage.Exclusive: commit: %w", err)
	}
	return nil
}

func commitInSession(ctx context.Context, conn *sql.Conn, cs domain.Changeset) error {
	if _, err := conn.ExecContext(ctx, `SAVEPOINT changeset`); err != nil {
		return fmt.Errorf("storage.Commit: savepoint: %w", err)
	}
	if err := applyChangeset(ctx, conn, cs); err != nil {
		if _, rbErr := conn.ExecContext(context.Background(), `ROLLBACK TO changeset`); rbErr != nil {
			return errors.Join(err, fmt.Errorf("storage.Commit: rollback to savepoint: %w", rbErr))
		}
		if _, rbErr := conn.ExecContext(context.Background(), `RELEASE changeset`); rbErr != nil {
			return errors.Join(err, fmt.Errorf("storage.Commit: release savepoint: %w", rbErr))
		}
		return err
	}
	if _, err := conn.ExecContext(ctx, `RELEASE changeset`); err != nil {
		return fmt.Errorf("storage.Commit: release savepoint: %w", err)
	}
	return nil
}
