package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads objects to long-term blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves and enumerates stored objects.
type BlobReader interface {
	// Get returns the object body; the caller closes it. ErrNotFound if
	// the object does not exist.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver snapshots settled sale history and resolved offers to long-term
// blob storage.
type Archiver interface {
	Run(ctx context.Context, before time.Time) (ArchiveReport, error)
}

// ArchiveReport summarizes one archive run.
type ArchiveReport struct {
	TransactionsArchived int64
	OffersArchived       int64
	Paths                []string
}
