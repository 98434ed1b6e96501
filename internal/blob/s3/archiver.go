package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

// multipartThreshold switches archive uploads to the multipart manager.
const multipartThreshold = 8 << 20

// Archiver implements domain.PositionArchiver. Each batch of terminal
// positions becomes one JSONL object under
// archive/positions/YYYY-MM-DD/<first-position-id>.jsonl, keyed by the close
// date of the first position.
type Archiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, audit: audit}
}

// ArchivePositions uploads positions as JSONL and records the upload in the
// audit log. An audit failure is reported but the upload stands.
func (a *Archiver) ArchivePositions(ctx context.Context, positions []domain.Position) error {
	if len(positions) == 0 {
		return nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath(positions[0])
	if err := a.upload(ctx, path, buf); err != nil {
		return fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	if a.audit == nil {
		return nil
	}
	ids := make([]string, len(positions))
	for i, p := range positions {
		ids[i] = p.ID
	}
	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"path":         path,
		"count":        len(positions),
		"position_ids": ids,
	}); err != nil {
		return fmt.Errorf("s3blob: archive positions audit log: %w", err)
	}
	return nil
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	var body io.Reader = bytes.NewReader(buf)
	if len(buf) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, body, multipartThreshold)
	}
	return a.writer.Put(ctx, path, body, "application/x-ndjson")
}

// archive/positions/2025-01-31/6f1c....jsonl
func archivePath(first domain.Position) string {
	day := first.UpdatedAt
	if first.ClosedAt != nil {
		day = *first.ClosedAt
	}
	return fmt.Sprintf("archive/positions/%s/%s.jsonl", day.UTC().Format(time.DateOnly), first.ID)
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.PositionArchiver = (*Archiver)(nil)
