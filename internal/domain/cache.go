package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting. Used here to throttle the
// admin introspection endpoints, not the bus fan-out path.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockHandle is a held distributed lock. Renew extends its TTL only if this
// handle still holds the lock (its token has not been evicted by TTL
// expiry and reacquired by another holder); Release gives it up.
type LockHandle interface {
	Renew(ctx context.Context, ttl time.Duration) error
	Release()
}

// LockManager provides distributed locking, used to guarantee that only one
// gateway process owns a given bus namespace at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// AuditBus is the durable side-channel used to record subscription lifecycle
// transitions (NOT event payloads). It is deliberately narrower than a full
// pub/sub bus: this gateway's actual message bus connection is a raw duplex
// byte pipe (see internal/busconn), not this interface.
type AuditBus interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
