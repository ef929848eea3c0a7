package ports

import (
	"context"
	"time"
)

// Locker serializes whole commands across processes sharing one database.
type Locker interface {
	// Acquire takes the lock for key, held for at most ttl. The returned
	// unlock function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Clock is the shared notion of "now" compared against close times.
type Clock interface {
	Now() time.Time
}
