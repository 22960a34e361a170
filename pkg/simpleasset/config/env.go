package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// WithEnv applies environment variable overrides using the provided prefix.
//
// Storage:
//
//	STORAGE_URL - one of:
//	              - "memory://" - In-memory storage (default)
//	              - "file:///path/to/data" - Filesystem storage
//	              - "s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true"
//	PUBLIC_BASE_URL - URL prefix objects are served from
//
// Preview expiry source:
//
//	DATABASE_URL - "postgresql://..." reads previews from Postgres, empty or "memory" keeps them in memory
//	DB_SCHEMA - Postgres search_path
//	PREVIEW_TABLE - table holding preview expiry (default: previews)
//
// Limits:
//
//	MAX_DIMENSION, BUDGET_BYTES, MAX_PIXELS (0 disables the cap),
//	QUALITY_LADDER (comma separated),
//	MAX_UPLOAD_BYTES, MAX_FETCH_BYTES, FETCH_TIMEOUT (Go duration),
//	MAX_CONCURRENT_INGEST, LIFECYCLE_CONCURRENCY, CACHE_CONTROL
func WithEnv(prefix string) Option {
	return func(c *Config) error {
		if err := applyStorageEnv(prefix, c); err != nil {
			return err
		}
		if v, ok := lookupEnv(prefix, "PUBLIC_BASE_URL"); ok && v != "" {
			c.PublicBaseURL = strings.TrimSuffix(v, "/")
		}

		if err := applyDatabaseEnv(prefix, c); err != nil {
			return err
		}

		return applyLimitsEnv(prefix, c)
	}
}

// applyDatabaseEnv applies database configuration from environment
func applyDatabaseEnv(prefix string, c *Config) error {
	if v, ok := lookupEnv(prefix, "DB_SCHEMA"); ok {
		c.DBSchema = v
	}
	if v, ok := lookupEnv(prefix, "PREVIEW_TABLE"); ok && v != "" {
		c.PreviewTable = v
	}

	dbURL, hasURL := lookupEnv(prefix, "DATABASE_URL")
	if !hasURL || dbURL == "" || dbURL == "memory" {
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
		return nil
	}

	if strings.HasPrefix(dbURL, "postgresql://") || strings.HasPrefix(dbURL, "postgres://") {
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
		return nil
	}
	return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", dbURL)
}

// applyStorageEnv applies storage configuration from environment
func applyStorageEnv(prefix string, c *Config) error {
	storageURL, hasURL := lookupEnv(prefix, "STORAGE_URL")

	if !hasURL || storageURL == "" || storageURL == "memory" || storageURL == "memory://" {
		c.Storage = StorageConfig{Type: "memory"}
		return nil
	}

	switch {
	case strings.HasPrefix(storageURL, "file://"):
		return applyFilesystemStorage(storageURL, c)
	case strings.HasPrefix(storageURL, "s3://"):
		return applyS3Storage(storageURL, c)
	}
	return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", storageURL)
}

// applyFilesystemStorage configures filesystem storage from URL
// Format: file:///path/to/data
func applyFilesystemStorage(raw string, c *Config) error {
	path := strings.TrimPrefix(raw, "file://")
	if path == "" {
		return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
	}
	c.Storage = StorageConfig{Type: "fs", BaseDir: path}
	return nil
}

// applyS3Storage configures S3 storage from URL
// Format: s3://bucket?region=us-east-1&endpoint=http://localhost:9000
func applyS3Storage(raw string, c *Config) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
	}

	storage := StorageConfig{Type: "s3"}
	storage.S3.Bucket = u.Host
	storage.S3.Region = "us-east-1"

	q := u.Query()
	if v := q.Get("region"); v != "" {
		storage.S3.Region = v
	}
	if v := q.Get("endpoint"); v != "" {
		storage.S3.Endpoint = v
	}
	if v := q.Get("path_style"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid path_style in STORAGE_URL: %w", err)
		}
		storage.S3.UsePathStyle = b
	}
	if v := q.Get("sse"); v != "" {
		storage.S3.EnableSSE = true
		storage.S3.SSEAlgorithm = v
		storage.S3.SSEKMSKeyID = q.Get("sse_kms_key_id")
	}
	if v := q.Get("create_bucket"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid create_bucket in STORAGE_URL: %w", err)
		}
		storage.S3.CreateBucketIfNotExist = b
	}

	// Check for AWS credentials in environment
	if accessKey, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok && accessKey != "" {
		storage.S3.AccessKeyID = accessKey
	}
	if secretKey, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok && secretKey != "" {
		storage.S3.SecretAccessKey = secretKey
	}
	if region, ok := os.LookupEnv("AWS_REGION"); ok && region != "" && q.Get("region") == "" {
		storage.S3.Region = region
	}

	c.Storage = storage
	return nil
}

func applyLimitsEnv(prefix string, c *Config) error {
	if v, ok, err := parseIntEnv(prefix, "MAX_DIMENSION"); err != nil {
		return err
	} else if ok {
		c.Negotiation.MaxDimension = v
	}
	if v, ok, err := parseIntEnv(prefix, "BUDGET_BYTES"); err != nil {
		return err
	} else if ok {
		c.Negotiation.BudgetBytes = v
	}
	if v, ok, err := parseIntEnv(prefix, "MAX_PIXELS"); err != nil {
		return err
	} else if ok {
		c.Negotiation.MaxPixels = v
	}
	if raw, ok := lookupEnv(prefix, "QUALITY_LADDER"); ok && raw != "" {
		ladder, err := parseLadder(raw)
		if err != nil {
			return fmt.Errorf("invalid %sQUALITY_LADDER: %w", prefix, err)
		}
		c.Negotiation.QualityLadder = ladder
	}
	if v, ok, err := parseIntEnv(prefix, "MAX_UPLOAD_BYTES"); err != nil {
		return err
	} else if ok {
		c.MaxUploadBytes = int64(v)
	}
	if v, ok, err := parseIntEnv(prefix, "MAX_FETCH_BYTES"); err != nil {
		return err
	} else if ok {
		c.MaxFetchBytes = int64(v)
	}
	if raw, ok := lookupEnv(prefix, "FETCH_TIMEOUT"); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration for %sFETCH_TIMEOUT: %w", prefix, err)
		}
		c.FetchTimeout = d
	}
	if v, ok, err := parseIntEnv(prefix, "MAX_CONCURRENT_INGEST"); err != nil {
		return err
	} else if ok {
		c.MaxConcurrentIngest = v
	}
	if v, ok, err := parseIntEnv(prefix, "LIFECYCLE_CONCURRENCY"); err != nil {
		return err
	} else if ok {
		c.LifecycleConcurrency = v
	}
	if v, ok := lookupEnv(prefix, "CACHE_CONTROL"); ok && v != "" {
		c.CacheControl = v
	}
	if v, ok, err := parseBoolEnv(prefix, "ENABLE_METRICS"); err != nil {
		return err
	} else if ok {
		c.EnableMetrics = v
	}
	return nil
}

// parseLadder parses a comma separated list of qualities, e.g. "85,70,50".
func parseLadder(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	ladder := make([]int, 0, len(parts))
	for _, part := range parts {
		q, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		ladder = append(ladder, q)
	}
	return ladder, nil
}

func lookupEnv(prefix, key string) (string, bool) {
	return os.LookupEnv(prefix + key)
}

func parseBoolEnv(prefix, key string) (bool, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("invalid boolean for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}

func parseIntEnv(prefix, key string) (int, bool, error) {
	raw, ok := lookupEnv(prefix, key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid integer for %s%s: %w", prefix, key, err)
	}
	return parsed, true, nil
}
