// Package auditlog records subscription lifecycle transitions (a bus
// SUBSCRIBE/UNSUBSCRIBE command, or a ping-sweep reap) to a durable
// side-channel. It is deliberately fire-and-forget and never on the
// event-delivery path: dropping an audit write never affects fan-out
// correctness.
package auditlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/busgate/internal/domain"
)

const stream = "busgate:audit"

// entry is the wire shape appended to the Redis stream: domain.AuditEntry
// minus the store-assigned ID, plus the timeline the transition concerns.
type entry struct {
	Event     string         `json:"event"`
	Timeline  string         `json:"timeline,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Log appends a lifecycle transition to bus. Errors are logged, never
// returned, per the fire-and-forget contract described above.
func Log(ctx context.Context, bus domain.AuditBus, log *slog.Logger, event, timeline string, detail map[string]any) {
	e := entry{Event: event, Timeline: timeline, Detail: detail, CreatedAt: time.Now().UTC()}
	payload, err := json.Marshal(e)
	if err != nil {
		log.Warn("auditlog: marshal failed", "event", event, "error", err)
		return
	}
	if err := bus.StreamAppend(ctx, stream, payload); err != nil {
		log.Warn("auditlog: append failed", "event", event, "error", err)
	}
}
