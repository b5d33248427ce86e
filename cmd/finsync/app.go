package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/knadh/koanf/v2"

	"github.com/ArionMiles/finsync/internal/service"
	"github.com/ArionMiles/finsync/pkg/aggregator/plaid"
	"github.com/ArionMiles/finsync/pkg/api"
	"github.com/ArionMiles/finsync/pkg/config"
	"github.com/ArionMiles/finsync/pkg/extractor/gemini"
	"github.com/ArionMiles/finsync/pkg/imagestore/gcs"
	"github.com/ArionMiles/finsync/pkg/store/memory"
	"github.com/ArionMiles/finsync/pkg/store/postgres"
)

// app holds the wired process dependencies.
type app struct {
	cfg     config.Config
	store   api.Store
	service *service.Service
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func configPath() string {
	return os.Getenv(config.ConfigFileEnv)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(koanf.New("."), configPath())
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (api.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store, data is lost on exit")
		s := memory.New()
		return s, s.Close, nil
	}

	s, err := postgres.New(ctx, postgres.Config{
		Host:        cfg.PostgresHost,
		Port:        cfg.PostgresPort,
		Database:    cfg.PostgresDB,
		User:        cfg.PostgresUser,
		Password:    cfg.PostgresPassword,
		SSLMode:     cfg.PostgresSSLMode,
		MaxPoolSize: cfg.PostgresMaxPoolSize,
	}, logger.With("component", "postgres"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening postgres store: %w", err)
	}
	return s, s.Close, nil
}

// newApp wires the store, the aggregator and the optional receipt
// collaborators into a service.
func newApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	agg, err := plaid.New(plaid.Config{
		Environment:  cfg.PlaidEnv,
		ClientID:     cfg.PlaidClientID,
		Secret:       cfg.PlaidSecret,
		CountryCodes: cfg.CountryCodes(),
	}, logger.With("component", "plaid"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating plaid client: %w", err)
	}

	deps := service.Deps{Store: store, Aggregator: agg}

	if cfg.GeminiAPIKey != "" {
		ext, err := gemini.New(ctx, gemini.Config{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		}, logger.With("component", "gemini"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("creating receipt extractor: %w", err)
		}
		deps.Extractor = ext
	} else {
		logger.Info("GEMINI_API_KEY not set, receipt submission disabled")
	}

	if cfg.ReceiptsBucket != "" {
		images, err := gcs.New(ctx, cfg.ReceiptsBucket, cfg.GoogleCredentialsFile, logger.With("component", "gcs"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("creating receipt image store: %w", err)
		}
		deps.Images = images
		a.closers = append(a.closers, func() {
			if err := images.Close(); err != nil {
				logger.Warn("closing image store", "error", err)
			}
		})
	}

	a.service = service.New(service.Config{
		SyncConcurrency: cfg.SyncConcurrency,
		SyncTimeout:     cfg.SyncTimeout(),
		MatchTimeout:    cfg.MatchTimeout(),
	}, deps, logger)

	return a, nil
}

// printResult writes res as indented JSON and reports a failed result as
// an error so the process exits non-zero.
func printResult(w io.Writer, res service.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("operation failed: %s", res.Error.Code)
	}
	return nil
}
