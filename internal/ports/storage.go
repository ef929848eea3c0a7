package ports

import (
	"context"

	"github.com/alejandrodnm/polybet/internal/domain"
)

// MarketStorage persiste el estado del engine y sus colaboradores.
type MarketStorage interface {
	// Load devuelve el estado completo, ordenado por id.
	Load(ctx context.Context) (domain.Snapshot, error)

	// Commit aplica un changeset de forma atómica: o todas las filas o ninguna.
	Commit(ctx context.Context, cs domain.Changeset) error

	// Events devuelve el journal de auditoría, los más recientes primero.
	Events(ctx context.Context, limit int) ([]domain.Event, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
