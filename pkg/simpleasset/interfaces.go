package simpleasset

import (
	"context"
	"io"
	"time"
)

// ObjectStore is the contract every storage backend implements.
//
// Paths are storage keys relative to the bucket root. Uploads with
// Upsert set overwrite silently, so concurrent writers to the same path
// resolve to last write wins.
type ObjectStore interface {
	// Upload writes the reader's content to path
	Upload(ctx context.Context, path string, reader io.Reader, opts UploadOptions) error

	// Download opens the object at path for reading
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// List returns the objects stored below prefix
	List(ctx context.Context, prefix string, opts ListOptions) ([]ObjectEntry, error)

	// Remove deletes the given paths. Missing paths are ignored. Backends
	// that can tell which paths failed return a *RemoveError.
	Remove(ctx context.Context, paths []string) error

	// PublicURL returns the public URL an object is served from
	PublicURL(path string) string
}

// UploadOptions contains parameters for uploading an object
type UploadOptions struct {
	ContentType  string
	CacheControl string
	Upsert       bool
}

// SortField selects the ordering of List results.
type SortField string

const (
	SortByName      SortField = "name"
	SortByUpdatedAt SortField = "updated_at"
)

// ListOptions contains parameters for listing objects. A zero Limit
// returns every object below the prefix.
type ListOptions struct {
	Limit  int
	SortBy SortField
}

// ObjectEntry describes a stored object
type ObjectEntry struct {
	Path        string
	Name        string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
}

// ServerSideCopier is implemented by stores that can copy an object
// without the bytes passing through the caller. Implementations return
// errors.ErrUnsupported when the copy cannot be done server-side.
type ServerSideCopier interface {
	CopyObject(ctx context.Context, srcPath, dstPath string) error
}
