package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// PositionArchiver ships terminal positions to cold storage before they are
// dropped from memory.
type PositionArchiver interface {
	ArchivePositions(ctx context.Context, positions []Position) error
}
