package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/busgate/internal/domain"
)

// SnapshotSource supplies the admin introspection reports that get archived.
// Implemented by internal/manager.Manager.
type SnapshotSource interface {
	Count() int
	Backpressure() int
	List() string
}

// ArchiveImpl implements domain.Archiver by periodically capturing the
// Manager's admin introspection reports and uploading them to S3 as a single
// JSON document. It never touches Event payloads; only the lifecycle
// counters already exposed by the admin surface.
type ArchiveImpl struct {
	writer domain.BlobWriter
	source SnapshotSource
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, source SnapshotSource, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, source: source, audit: audit}
}

type snapshotDoc struct {
	At           time.Time `json:"at"`
	Count        int       `json:"count"`
	Backpressure int       `json:"backpressure_kib"`
	List         string    `json:"list"`
}

// ArchiveSnapshot captures the Manager's current introspection reports and
// uploads them to S3 at snapshots/YYYY-MM-DD/HHMMSS.json. The archival event
// is recorded in the audit log.
func (a *ArchiveImpl) ArchiveSnapshot(ctx context.Context, at time.Time) (string, error) {
	doc := snapshotDoc{
		At:           at,
		Count:        a.source.Count(),
		Backpressure: a.source.Backpressure(),
		List:         a.source.List(),
	}

	buf, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal snapshot: %w", err)
	}

	path := snapshotPath(at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: upload snapshot: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.snapshot", map[string]any{
		"path": path,
		"at":   at.Format(time.RFC3339),
	}); err != nil {
		return path, fmt.Errorf("s3blob: snapshot audit log: %w", err)
	}

	return path, nil
}

// snapshotPath builds the S3 key for a snapshot file, partitioned by day.
//
//	snapshots/2026-07-29/143022.json
func snapshotPath(at time.Time) string {
	return fmt.Sprintf("snapshots/%s/%s.json", at.Format("2006-01-02"), at.Format("150405"))
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
