package domain

import (
	"context"
	"fmt"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// SnapshotKey identifies one raw listing snapshot in object storage.
type SnapshotKey struct {
	Entity    Entity
	FetchDate time.Time
	RunID     string
}

// Path returns the object key, e.g. raw/market/2024-06-01/<run_id>.jsonl.
func (k SnapshotKey) Path() string {
	return fmt.Sprintf("raw/%s/%s/%s.jsonl", k.Entity, k.FetchDate.Format("2006-01-02"), k.RunID)
}
