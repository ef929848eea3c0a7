// Package lock serializes polybet commands through Redis when processes on
// several hosts share one deployment. On a single host the SQLite write lock
// already serializes them.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/polybet/internal/ports"
)

// ErrLockHeld is returned by Acquire when another holder owns the key.
var ErrLockHeld = errors.New("lock: held by another holder")

// retryEvery is the polling interval of Wait.
const retryEvery = 50 * time.Millisecond

// Wait retries Acquire until the lock is obtained or ctx is done.
func Wait(ctx context.Context, l ports.Locker, key string, ttl time.Duration) (func(), error) {
	ticker := time.NewTicker(retryEvery)
	defer ticker.Stop()

	for {
		unlock, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock.Wait: %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}
