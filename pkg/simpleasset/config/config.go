package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/ingest"
	"github.com/tendant/simple-asset/pkg/simpleasset/lifecycle"
	"github.com/tendant/simple-asset/pkg/simpleasset/metrics"
	"github.com/tendant/simple-asset/pkg/simpleasset/previews"
	previewmemory "github.com/tendant/simple-asset/pkg/simpleasset/previews/memory"
	previewpg "github.com/tendant/simple-asset/pkg/simpleasset/previews/postgres"
	fsstorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/fs"
	memorystorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
	s3storage "github.com/tendant/simple-asset/pkg/simpleasset/storage/s3"
	"github.com/tendant/simple-asset/pkg/simpleasset/transcode"
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		Storage: StorageConfig{
			Type: "memory",
		},
		DatabaseType:         "memory",
		PreviewTable:         "previews",
		Negotiation:          transcode.DefaultOptions(),
		MaxUploadBytes:       ingest.DefaultMaxUploadBytes,
		MaxFetchBytes:        ingest.DefaultMaxFetchBytes,
		FetchTimeout:         ingest.DefaultFetchTimeout,
		MaxConcurrentIngest:  ingest.DefaultMaxConcurrentIngest,
		LifecycleConcurrency: lifecycle.DefaultConcurrency,
		CacheControl:         ingest.DefaultCacheControl,
		EnableMetrics:        true,
	}
}

// Config represents the wiring of the asset pipeline
type Config struct {
	// Storage configuration
	Storage       StorageConfig
	PublicBaseURL string // overrides the backend's derived public URL

	// Preview expiry source
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres search_path, empty to keep the server default
	PreviewTable string

	// Pipeline limits
	Negotiation          transcode.Options
	MaxUploadBytes       int64
	MaxFetchBytes        int64
	FetchTimeout         time.Duration
	MaxConcurrentIngest  int
	LifecycleConcurrency int
	CacheControl         string

	EnableMetrics bool
}

// StorageConfig selects and configures the object store
type StorageConfig struct {
	Type    string // "memory", "fs", "s3"
	BaseDir string // fs only
	S3      s3storage.Config
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "memory":
	case "fs":
		if c.Storage.BaseDir == "" {
			return errors.New("base_dir is required for fs storage")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.New("bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	if err := c.Negotiation.Validate(); err != nil {
		return fmt.Errorf("invalid negotiation options: %w", err)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.MaxFetchBytes <= 0 {
		return fmt.Errorf("max_fetch_bytes must be positive, got %d", c.MaxFetchBytes)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive, got %s", c.FetchTimeout)
	}
	if c.MaxConcurrentIngest <= 0 {
		return fmt.Errorf("max_concurrent_ingest must be positive, got %d", c.MaxConcurrentIngest)
	}
	if c.LifecycleConcurrency <= 0 {
		return fmt.Errorf("lifecycle_concurrency must be positive, got %d", c.LifecycleConcurrency)
	}
	return nil
}

// BuildStore creates the configured object store, instrumented when metrics are enabled
func (c *Config) BuildStore() (simpleasset.ObjectStore, error) {
	var store simpleasset.ObjectStore
	switch c.Storage.Type {
	case "memory":
		var options []memorystorage.Option
		if c.PublicBaseURL != "" {
			options = append(options, memorystorage.WithPublicBaseURL(c.PublicBaseURL))
		}
		store = memorystorage.New(options...)

	case "fs":
		backend, err := fsstorage.New(fsstorage.Config{
			BaseDir:       c.Storage.BaseDir,
			PublicBaseURL: c.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build fs storage: %w", err)
		}
		store = backend

	case "s3":
		s3Config := c.Storage.S3
		if c.PublicBaseURL != "" {
			s3Config.PublicBaseURL = c.PublicBaseURL
		}
		backend, err := s3storage.New(s3Config)
		if err != nil {
			return nil, fmt.Errorf("failed to build s3 storage: %w", err)
		}
		store = backend

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if c.EnableMetrics {
		return metrics.InstrumentStore(store, c.Storage.Type), nil
	}
	return store, nil
}

// BuildNegotiator creates the negotiator shared by ingest paths
func (c *Config) BuildNegotiator(logger *slog.Logger) (*transcode.Negotiator, error) {
	return transcode.New(
		transcode.WithOptions(c.Negotiation),
		transcode.WithLogger(logger),
	)
}

// BuildPipeline creates the ingestion pipeline on top of store
func (c *Config) BuildPipeline(store simpleasset.ObjectStore, logger *slog.Logger) (*ingest.Pipeline, error) {
	negotiator, err := c.BuildNegotiator(logger)
	if err != nil {
		return nil, err
	}
	return ingest.New(store,
		ingest.WithNegotiator(negotiator),
		ingest.WithFetchTimeout(c.FetchTimeout),
		ingest.WithMaxUploadBytes(c.MaxUploadBytes),
		ingest.WithMaxFetchBytes(c.MaxFetchBytes),
		ingest.WithMaxConcurrentIngest(c.MaxConcurrentIngest),
		ingest.WithCacheControl(c.CacheControl),
		ingest.WithLogger(logger),
	)
}

// BuildManager creates the lifecycle manager on top of store
func (c *Config) BuildManager(store simpleasset.ObjectStore, logger *slog.Logger) (*lifecycle.Manager, error) {
	return lifecycle.New(store,
		lifecycle.WithConcurrency(c.LifecycleConcurrency),
		lifecycle.WithCacheControl(c.CacheControl),
		lifecycle.WithLogger(logger),
	)
}

// BuildPreviewSource creates the expired-preview source. The returned
// close function releases the database pool, if any.
func (c *Config) BuildPreviewSource(ctx context.Context) (previews.Source, func(), error) {
	switch c.DatabaseType {
	case "memory":
		return previewmemory.New(), func() {}, nil
	case "postgres":
		pool, err := newPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, nil, err
		}
		source := previewpg.NewWithPool(pool, previewpg.Config{Table: c.PreviewTable})
		return source, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func newPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres.
func PingPostgres(ctx context.Context, databaseURL, schema string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	pool, err := newPool(ctx, databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
