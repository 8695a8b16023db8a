package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/polyhistory/internal/domain"
	"github.com/alanyoungcy/polyhistory/internal/platform/polymarket"
)

const jsonlContentType = "application/x-ndjson"

// multipartThreshold is the payload size above which snapshots are uploaded
// in parts.
const multipartThreshold = 8 * 1024 * 1024

// SnapshotArchiver writes the raw listing of each run as a JSONL object at
// domain.SnapshotKey.Path().
type SnapshotArchiver struct {
	writer domain.BlobWriter
}

// NewSnapshotArchiver creates a new SnapshotArchiver.
func NewSnapshotArchiver(writer domain.BlobWriter) *SnapshotArchiver {
	return &SnapshotArchiver{writer: writer}
}

// ArchiveEvents uploads the raw events fetched by one run.
func (a *SnapshotArchiver) ArchiveEvents(ctx context.Context, key domain.SnapshotKey, events []polymarket.APIEvent) error {
	return archive(ctx, a.writer, key, events)
}

// ArchiveMarkets uploads the raw markets fetched by one run.
func (a *SnapshotArchiver) ArchiveMarkets(ctx context.Context, key domain.SnapshotKey, markets []polymarket.APIMarket) error {
	return archive(ctx, a.writer, key, markets)
}

func archive[T any](ctx context.Context, w domain.BlobWriter, key domain.SnapshotKey, records []T) error {
	if len(records) == 0 {
		return nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", key.Entity, err)
	}

	path := key.Path()
	if len(buf) > multipartThreshold {
		err = w.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = w.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", key.Entity, err)
	}
	return nil
}

// marshalJSONL encodes records as newline-delimited JSON, one record per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
