// Package ownerlock answers spec.md's open question about running more than
// one gateway process against the same bus namespace: only the holder of a
// TTL'd Redis lock named after the namespace actively owns the bus
// connection, so a rolling deploy with two processes briefly alive can never
// cause duplicate SUBSCRIBE/UNSUBSCRIBE storms against the bus.
package ownerlock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/busgate/internal/domain"
)

const (
	ttl    = 30 * time.Second
	renew  = 10 * time.Second
	prefix = "busgate:owner:"
)

// Lock holds the acquired Redis lock for a namespace and renews it on a
// ticker until Release.
type Lock struct {
	handle domain.LockHandle
	cancel context.CancelFunc
	done   chan struct{}
}

// Acquire obtains ownership of namespace and starts a background renewal
// loop. Returns domain.ErrLockHeld if another process already owns it.
func Acquire(ctx context.Context, lm domain.LockManager, namespace string, log *slog.Logger) (*Lock, error) {
	key := prefix + namespace
	if namespace == "" {
		key = prefix + "default"
	}

	handle, err := lm.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("ownerlock: acquire %s: %w", key, err)
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	l := &Lock{handle: handle, cancel: cancel, done: make(chan struct{})}

	go l.renewLoop(renewCtx, key, log)
	return l, nil
}

func (l *Lock) renewLoop(ctx context.Context, key string, log *slog.Logger) {
	defer close(l.done)
	ticker := time.NewTicker(renew)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.handle.Renew(ctx, ttl); err != nil {
				log.Error("ownerlock: renewal failed, another process may now own the bus", "key", key, "error", err)
			}
		}
	}
}

// Release stops renewal and releases the lock.
func (l *Lock) Release() {
	l.cancel()
	<-l.done
	l.handle.Release()
}
