package ports

import (
	"context"

	"github.com/alejandrodnm/polybet/internal/domain"
)

// Notifier recibe cada operación ya confirmada.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event) error
}
