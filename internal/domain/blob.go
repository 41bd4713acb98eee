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

// Archiver exports the in-memory bar series and the trade reports to cold
// storage and returns the object paths it wrote.
type Archiver interface {
	Archive(ctx context.Context, bars []Bar, reports []TradeReport) ([]string, error)
}
