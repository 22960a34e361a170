package config

import (
	"fmt"
	"strings"
	"time"

	s3storage "github.com/tendant/simple-asset/pkg/simpleasset/storage/s3"
	"github.com/tendant/simple-asset/pkg/simpleasset/transcode"
)

// WithMemoryStorage selects the in-memory object store
func WithMemoryStorage() Option {
	return func(c *Config) error {
		c.Storage = StorageConfig{Type: "memory"}
		return nil
	}
}

// WithFilesystemStorage selects the filesystem object store rooted at baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *Config) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage = StorageConfig{Type: "fs", BaseDir: baseDir}
		return nil
	}
}

// WithS3Storage selects the S3 object store
func WithS3Storage(s3Config s3storage.Config) Option {
	return func(c *Config) error {
		if s3Config.Bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if s3Config.Region == "" {
			s3Config.Region = "us-east-1"
		}
		c.Storage = StorageConfig{Type: "s3", S3: s3Config}
		return nil
	}
}

// WithPublicBaseURL sets the URL prefix objects are served from
func WithPublicBaseURL(baseURL string) Option {
	return func(c *Config) error {
		c.PublicBaseURL = strings.TrimSuffix(baseURL, "/")
		return nil
	}
}

// WithDatabase configures where preview expiry is read from
func WithDatabase(dbType, url string) Option {
	return func(c *Config) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *Config) error {
		c.DBSchema = schema
		return nil
	}
}

// WithNegotiation replaces the transcode policy
func WithNegotiation(opts transcode.Options) Option {
	return func(c *Config) error {
		if err := opts.Validate(); err != nil {
			return err
		}
		c.Negotiation = opts
		return nil
	}
}

// WithQualityLadder replaces only the quality ladder
func WithQualityLadder(ladder ...int) Option {
	return func(c *Config) error {
		if len(ladder) == 0 {
			return fmt.Errorf("quality ladder cannot be empty")
		}
		c.Negotiation.QualityLadder = append([]int(nil), ladder...)
		return nil
	}
}

// WithMaxPixels sets the decoded pixel-count ceiling. Zero disables it.
func WithMaxPixels(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("max pixels must not be negative, got: %d", n)
		}
		c.Negotiation.MaxPixels = n
		return nil
	}
}

// WithMaxUploadBytes sets the upload size ceiling
func WithMaxUploadBytes(n int64) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("max upload bytes must be positive, got: %d", n)
		}
		c.MaxUploadBytes = n
		return nil
	}
}

// WithFetchTimeout sets the remote fetch timeout
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("fetch timeout must be positive, got: %s", d)
		}
		c.FetchTimeout = d
		return nil
	}
}

// WithMaxConcurrentIngest bounds parallel fetches in batch ingestion
func WithMaxConcurrentIngest(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("max concurrent ingest must be positive, got: %d", n)
		}
		c.MaxConcurrentIngest = n
		return nil
	}
}

// WithMetrics toggles store instrumentation
func WithMetrics(enabled bool) Option {
	return func(c *Config) error {
		c.EnableMetrics = enabled
		return nil
	}
}
