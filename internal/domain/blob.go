package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	// Get returns the object body; the caller closes it. ErrNotFound when
	// the object does not exist.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// List returns metadata for every object under the prefix.
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobDeleter removes objects from storage. Deleting a missing object is not
// an error.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// Archiver moves settled auction history from the database to cold storage.
type Archiver interface {
	// ArchiveAuction writes the full bid log and settlement of one ended
	// auction and returns the number of records written.
	ArchiveAuction(ctx context.Context, auctionID string) (int64, error)
	// ArchiveEndedBefore archives every auction settled strictly before the
	// cutoff and returns the number of auctions archived.
	ArchiveEndedBefore(ctx context.Context, before time.Time) (int64, error)
}
