package domain

import "context"

// HealthChecker is implemented by any backing dependency the gateway wants
// surfaced on its health endpoint (the audit database and the blob archive;
// the bus connection does not implement it).
// Health returns nil when the dependency is reachable and usable.
type HealthChecker interface {
	Health(ctx context.Context) error
}
