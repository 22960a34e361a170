package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"
	"github.com/tendant/simple-asset/pkg/simpleasset/api"
	"github.com/tendant/simple-asset/pkg/simpleasset/config"
	"github.com/tendant/simple-asset/pkg/simpleasset/metrics"
)

// Config holds the server-only settings. Pipeline settings are read by
// config.WithEnv using EnvPrefix.
type Config struct {
	ApiKeySHA256    string `env:"API_KEY_SHA256"`
	EnvPrefix       string `env:"ASSET_ENV_PREFIX" env-default:"ASSET_"`
	MaxRequestBytes int64  `env:"MAX_REQUEST_BYTES" env-default:"12582912"`
	MaxBatchURLs    int    `env:"MAX_BATCH_URLS" env-default:"100"`
	LogLevel        string `env:"LOG_LEVEL" env-default:"info"`
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	var serverConfig Config
	if err := cleanenv.ReadEnv(&serverConfig); err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}
	logger := newLogger(serverConfig.LogLevel)
	slog.SetDefault(logger)

	cfg, err := config.Load(config.WithEnv(serverConfig.EnvPrefix))
	if err != nil {
		slog.Error("Failed to load asset configuration", "err", err)
		os.Exit(1)
	}

	handler, closeSource, err := buildHandler(context.Background(), cfg, serverConfig, logger)
	if err != nil {
		slog.Error("Failed to build asset handler", "err", err)
		os.Exit(1)
	}
	defer closeSource()

	var auth func(http.Handler) http.Handler
	if serverConfig.ApiKeySHA256 != "" {
		auth, err = middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{
				"key1": serverConfig.ApiKeySHA256,
			},
		})
		if err != nil {
			slog.Error("Failed initialize API Key middleware", "err", err)
			return
		}
	} else {
		slog.Warn("API_KEY_SHA256 not set, asset API is unauthenticated")
	}

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)
	routes(server.R, handler, serverConfig, logger, auth)

	slog.Info("Asset server starting",
		"storage", cfg.Storage.Type,
		"previews", cfg.DatabaseType,
		"max_dimension", cfg.Negotiation.MaxDimension,
		"budget_bytes", cfg.Negotiation.BudgetBytes)
	server.Run()
}

func buildHandler(ctx context.Context, cfg *config.Config, serverConfig Config, logger *slog.Logger) (*api.Handler, func(), error) {
	store, err := cfg.BuildStore()
	if err != nil {
		return nil, nil, err
	}
	pipeline, err := cfg.BuildPipeline(store, logger)
	if err != nil {
		return nil, nil, err
	}
	manager, err := cfg.BuildManager(store, logger)
	if err != nil {
		return nil, nil, err
	}
	source, closeSource, err := cfg.BuildPreviewSource(ctx)
	if err != nil {
		return nil, nil, err
	}

	handler := api.NewHandler(pipeline, manager,
		api.WithPreviewSource(source),
		api.WithLogger(logger),
		api.WithMaxBatchURLs(serverConfig.MaxBatchURLs),
	)
	return handler, closeSource, nil
}

// routes mounts the asset API under /api/v1 and metrics under /metrics.
// auth may be nil.
func routes(r chi.Router, handler *api.Handler, serverConfig Config, logger *slog.Logger, auth func(http.Handler) http.Handler) {
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(api.RequestIDMiddleware)
		r.Use(api.RecoveryMiddleware(logger))
		r.Use(api.LoggingMiddleware(logger))
		r.Use(metrics.Middleware)
		r.Use(api.RequestSizeLimitMiddleware(serverConfig.MaxRequestBytes))
		if auth != nil {
			r.Use(auth)
		}
		r.Mount("/", handler.Routes())
	})
}
