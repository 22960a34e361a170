package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/config"
	"github.com/tendant/simple-asset/pkg/simpleasset/lifecycle"
	"github.com/tendant/simple-asset/pkg/simpleasset/previews"
)

type Config struct {
	EnvPrefix string        `env:"ASSET_ENV_PREFIX" env-default:"ASSET_"`
	Interval  time.Duration `env:"SWEEP_INTERVAL" env-default:"0s"`
	Timeout   time.Duration `env:"SWEEP_TIMEOUT" env-default:"10m"`
}

func main() {
	var sweeperConfig Config
	if err := cleanenv.ReadEnv(&sweeperConfig); err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}

	cfg, err := config.Load(config.WithEnv(sweeperConfig.EnvPrefix))
	if err != nil {
		slog.Error("Failed to load asset configuration", "err", err)
		os.Exit(1)
	}
	if cfg.DatabaseType != "postgres" {
		slog.Warn("DATABASE_URL not set, no previews will ever be reported expired")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := checkDatabase(ctx, cfg); err != nil {
		slog.Error("Database not reachable", "err", err)
		os.Exit(1)
	}

	store, err := cfg.BuildStore()
	if err != nil {
		slog.Error("Failed to build store", "err", err)
		os.Exit(1)
	}
	manager, err := cfg.BuildManager(store, slog.Default())
	if err != nil {
		slog.Error("Failed to build lifecycle manager", "err", err)
		os.Exit(1)
	}
	source, closeSource, err := cfg.BuildPreviewSource(ctx)
	if err != nil {
		slog.Error("Failed to build preview source", "err", err)
		os.Exit(1)
	}
	defer closeSource()

	if err := run(ctx, sweeperConfig, source, manager, time.Now); err != nil {
		slog.Error("Sweep failed", "err", err)
		closeSource()
		os.Exit(1)
	}
}

// checkDatabase fails fast when the preview table lives in an unreachable
// Postgres instead of failing on every sweep.
func checkDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.DatabaseType != "postgres" {
		return nil
	}
	return config.PingPostgres(ctx, cfg.DatabaseURL, cfg.DBSchema)
}

// run sweeps once, or every Interval until ctx is canceled.
func run(ctx context.Context, sweeperConfig Config, source previews.Source, manager *lifecycle.Manager, now func() time.Time) error {
	if sweeperConfig.Interval <= 0 {
		_, err := sweepOnce(ctx, sweeperConfig.Timeout, source, manager, now())
		return err
	}

	ticker := time.NewTicker(sweeperConfig.Interval)
	defer ticker.Stop()
	for {
		if _, err := sweepOnce(ctx, sweeperConfig.Timeout, source, manager, now()); err != nil {
			// keep going, the next tick retries
			slog.Error("Sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func sweepOnce(ctx context.Context, timeout time.Duration, source previews.Source, manager *lifecycle.Manager, now time.Time) (*simpleasset.Report, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ids, err := source.ExpiredPreviewIDs(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired previews: %w", err)
	}
	if len(ids) == 0 {
		slog.Info("No expired previews")
		return simpleasset.NewReport(), nil
	}

	report, err := manager.SweepExpired(ctx, ids)
	if err != nil {
		return report, err
	}
	for _, f := range report.Failed {
		slog.Warn("Expired object not deleted", "path", f.Path, "reason", f.Reason)
	}
	return report, nil
}
