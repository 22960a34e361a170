package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/storage"
)

const (
	backendName   = "fs"
	tempPrefix    = ".upload-"
	defaultPublic = "file://"
)

// Backend is a filesystem implementation of the simpleasset.ObjectStore interface
type Backend struct {
	baseDir string
	baseURL string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir       string // Base directory for storing files
	PublicBaseURL string // Optional URL prefix objects are served from
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	baseDir, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	baseURL := config.PublicBaseURL
	if baseURL == "" {
		baseURL = defaultPublic + filepath.ToSlash(baseDir)
	}

	return &Backend{
		baseDir: baseDir,
		baseURL: baseURL,
	}, nil
}

// resolve maps an object key to a file path inside baseDir
func (b *Backend) resolve(op, key string) (string, error) {
	filePath := filepath.Join(b.baseDir, filepath.FromSlash(key))
	if filePath != b.baseDir && !strings.HasPrefix(filePath, b.baseDir+string(filepath.Separator)) {
		return "", &simpleasset.StorageError{Backend: backendName, Key: key, Op: op, Err: simpleasset.ErrSecurityViolation}
	}
	return filePath, nil
}

// Upload writes content to a temporary file and renames it into place so
// readers never observe a partial object.
func (b *Backend) Upload(ctx context.Context, path string, reader io.Reader, opts simpleasset.UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return &simpleasset.StorageError{Backend: backendName, Key: path, Op: "upload", Err: err}
	}
	filePath, err := b.resolve("upload", path)
	if err != nil {
		return err
	}

	if !opts.Upsert {
		if _, err := os.Stat(filePath); err == nil {
			return &simpleasset.StorageError{Backend: backendName, Key: path, Op: "upload", Err: simpleasset.ErrObjectExists}
		}
	}

	// Create directory structure if it doesn't exist
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &simpleasset.StorageError{Backend: backendName, Key: path, Op: "upload", Err: fmt.Errorf("failed to create directory: %w", err)}
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return &simpleasset.StorageError{Backend: backendName, Key: path, Op: "upload", Err: fmt.Errorf("failed to create file: %w", err)}
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return &simpleasset.StorageError{Backend: backendName, Key: path, Op: "upload", Err: fmt.Errorf("failed to write file: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		return &simpleasset.StorageError{Backend: backendName, Key: path, Op: "upload", Err: fmt.Errorf("failed to write file: %w", err)}
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return &simpleasset.StorageError{Backend: backendName, Key: path, Op: "upload", Err: err}
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return &simpleasset.StorageError{Backend: backendName, Key: path, Op: "upload", Err: fmt.Errorf("failed to move file into place: %w", err)}
	}
	return nil
}

// Download opens the file stored under path
func (b *Backend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, &simpleasset.StorageError{Backend: backendName, Key: path, Op: "download", Err: err}
	}
	filePath, err := b.resolve("download", path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, &simpleasset.StorageError{Backend: backendName, Key: path, Op: "download", Err: simpleasset.ErrObjectNotFound}
	} else if err != nil {
		return nil, &simpleasset.StorageError{Backend: backendName, Key: path, Op: "download", Err: fmt.Errorf("failed to open file: %w", err)}
	}
	return file, nil
}

// List walks the directory tree below prefix
func (b *Backend) List(ctx context.Context, prefix string, opts simpleasset.ListOptions) ([]simpleasset.ObjectEntry, error) {
	root, err := b.resolve("list", strings.Trim(prefix, "/"))
	if err != nil {
		return nil, err
	}

	entries := make([]simpleasset.ObjectEntry, 0)
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(b.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		entries = append(entries, simpleasset.ObjectEntry{
			Path:        key,
			Name:        d.Name(),
			Size:        info.Size(),
			ContentType: storage.ContentTypeFor(key),
			UpdatedAt:   info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, &simpleasset.StorageError{Backend: backendName, Key: prefix, Op: "list", Err: err}
	}
	return storage.ApplyListOptions(entries, opts), nil
}

// Remove deletes files and prunes directories left empty. Missing paths
// are ignored. Every path is attempted; the ones that could not be deleted
// are reported in a *simpleasset.RemoveError.
func (b *Backend) Remove(ctx context.Context, paths []string) error {
	failed := simpleasset.NewRemoveError(backendName)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			failed.Add(path, &simpleasset.StorageError{Backend: backendName, Key: path, Op: "remove", Err: err})
			continue
		}
		filePath, err := b.resolve("remove", path)
		if err != nil {
			failed.Add(path, err)
			continue
		}
		if err := os.Remove(filePath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			failed.Add(path, &simpleasset.StorageError{Backend: backendName, Key: path, Op: "remove", Err: fmt.Errorf("failed to delete file: %w", err)})
			continue
		}
		b.cleanupEmptyDirectories(filepath.Dir(filePath))
	}
	return failed.ErrOrNil()
}

// PublicURL returns the URL path is served from
func (b *Backend) PublicURL(path string) string {
	return storage.PublicURL(b.baseURL, path)
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir || !strings.HasPrefix(dir, b.baseDir) {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
