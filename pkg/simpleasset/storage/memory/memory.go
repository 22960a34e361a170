package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/storage"
)

const backendName = "memory"

type object struct {
	data         []byte
	contentType  string
	cacheControl string
	updatedAt    time.Time
}

// Backend is an in-memory implementation of the simpleasset.ObjectStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
	baseURL string
	now     func() time.Time
}

// Option configures the in-memory backend
type Option func(*Backend)

// WithPublicBaseURL sets the prefix PublicURL builds object URLs from
func WithPublicBaseURL(baseURL string) Option {
	return func(b *Backend) {
		b.baseURL = baseURL
	}
}

// WithClock overrides the time source used for UpdatedAt
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a new in-memory storage backend
func New(options ...Option) *Backend {
	b := &Backend{
		objects: make(map[string]object),
		baseURL: "memory://objects",
		now:     time.Now,
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// Upload stores the reader's content under path
func (b *Backend) Upload(ctx context.Context, path string, reader io.Reader, opts simpleasset.UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return &simpleasset.StorageError{Backend: backendName, Key: path, Op: "upload", Err: err}
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return &simpleasset.StorageError{Backend: backendName, Key: path, Op: "upload", Err: err}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[path]; exists && !opts.Upsert {
		return &simpleasset.StorageError{Backend: backendName, Key: path, Op: "upload", Err: simpleasset.ErrObjectExists}
	}
	b.objects[path] = object{
		data:         data,
		contentType:  contentType,
		cacheControl: opts.CacheControl,
		updatedAt:    b.now(),
	}
	return nil
}

// Download returns the content stored under path
func (b *Backend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, &simpleasset.StorageError{Backend: backendName, Key: path, Op: "download", Err: err}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[path]
	if !exists {
		return nil, &simpleasset.StorageError{Backend: backendName, Key: path, Op: "download", Err: simpleasset.ErrObjectNotFound}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// List returns every object at or below prefix
func (b *Backend) List(ctx context.Context, prefix string, opts simpleasset.ListOptions) ([]simpleasset.ObjectEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &simpleasset.StorageError{Backend: backendName, Key: prefix, Op: "list", Err: err}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := make([]simpleasset.ObjectEntry, 0)
	for path, obj := range b.objects {
		if !storage.UnderPrefix(path, prefix) {
			continue
		}
		entries = append(entries, simpleasset.ObjectEntry{
			Path:        path,
			Name:        storage.NameOf(path),
			Size:        int64(len(obj.data)),
			ContentType: obj.contentType,
			UpdatedAt:   obj.updatedAt,
		})
	}
	return storage.ApplyListOptions(entries, opts), nil
}

// Remove deletes the given paths. Missing paths are ignored.
func (b *Backend) Remove(ctx context.Context, paths []string) error {
	if err := ctx.Err(); err != nil {
		return &simpleasset.StorageError{Backend: backendName, Op: "remove", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, path := range paths {
		delete(b.objects, path)
	}
	return nil
}

// PublicURL returns the URL path is served from
func (b *Backend) PublicURL(path string) string {
	return storage.PublicURL(b.baseURL, path)
}

// Has reports whether an object is stored under path
func (b *Backend) Has(path string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[path]
	return ok
}

// Paths returns every stored path in sorted order
func (b *Backend) Paths() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	paths := make([]string, 0, len(b.objects))
	for path := range b.objects {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Meta returns the content type and cache control stored with path
func (b *Backend) Meta(path string) (contentType, cacheControl string, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[path]
	return obj.contentType, obj.cacheControl, ok
}
