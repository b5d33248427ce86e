// Package config provides the process configuration for finsync.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// ConfigFileEnv names the environment variable holding an optional JSON config path.
const ConfigFileEnv = "FINSYNC_CONFIG"

// Config holds the application configuration loaded from a JSON file and
// environment variables. The environment takes precedence.
type Config struct {
	// HTTPAddr is the listen address of the API server.
	// Environment variable: FINSYNC_HTTP_ADDR
	HTTPAddr string `koanf:"FINSYNC_HTTP_ADDR"`

	// Store selects the persistence backend: "postgres" or "memory".
	// Environment variable: FINSYNC_STORE
	Store string `koanf:"FINSYNC_STORE"`

	PostgresHost        string `koanf:"POSTGRES_HOST"`
	PostgresPort        int    `koanf:"POSTGRES_PORT"`
	PostgresDB          string `koanf:"POSTGRES_DB"`
	PostgresUser        string `koanf:"POSTGRES_USER"`
	PostgresPassword    string `koanf:"POSTGRES_PASSWORD"`
	PostgresSSLMode     string `koanf:"POSTGRES_SSLMODE"`
	PostgresMaxPoolSize int    `koanf:"POSTGRES_MAX_POOL_SIZE"`

	// PlaidClientID and PlaidSecret authenticate against the aggregator.
	// SENSITIVE: PlaidSecret is never logged.
	PlaidClientID string `koanf:"PLAID_CLIENT_ID"`
	PlaidSecret   string `koanf:"PLAID_SECRET"`
	// PlaidEnv is "sandbox", "development" or "production".
	PlaidEnv string `koanf:"PLAID_ENV"`
	// PlaidCountryCodes is a comma separated list used for institution lookups.
	PlaidCountryCodes string `koanf:"PLAID_COUNTRY_CODES"`

	// GeminiAPIKey enables receipt extraction. Empty disables receipt submission.
	GeminiAPIKey string `koanf:"GEMINI_API_KEY"`
	GeminiModel  string `koanf:"GEMINI_MODEL"`

	// ReceiptsBucket is the GCS bucket for receipt images. Empty disables archiving.
	ReceiptsBucket string `koanf:"RECEIPTS_BUCKET"`
	// GoogleCredentialsFile is a service account JSON used for GCS.
	// Empty falls back to Application Default Credentials.
	GoogleCredentialsFile string `koanf:"GOOGLE_CREDENTIALS_FILE"`

	// SyncIntervalSeconds controls the scheduled re-sync. Zero disables it.
	SyncIntervalSeconds int `koanf:"SYNC_INTERVAL_SECONDS"`
	// SyncConcurrency bounds how many accounts of one user sync at once.
	SyncConcurrency     int `koanf:"SYNC_CONCURRENCY"`
	SyncTimeoutSeconds  int `koanf:"SYNC_TIMEOUT_SECONDS"`
	MatchTimeoutSeconds int `koanf:"MATCH_TIMEOUT_SECONDS"`
}

// Default returns a configuration with every optional value filled in.
func Default() Config {
	return Config{
		HTTPAddr:            ":8080",
		Store:               StorePostgres,
		PostgresPort:        5432,
		PostgresSSLMode:     "disable",
		PostgresMaxPoolSize: 10,
		PlaidEnv:            "sandbox",
		PlaidCountryCodes:   "US",
		GeminiModel:         "gemini-2.5-flash",
		SyncConcurrency:     4,
		SyncTimeoutSeconds:  120,
		MatchTimeoutSeconds: 30,
	}
}

// Load reads the optional JSON file named by FINSYNC_CONFIG and then the
// environment on top of Default.
func Load(k *koanf.Koanf, configPath string) (Config, error) {
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), json.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	}
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	return cfg, nil
}

// Validate reports every missing or malformed required setting.
func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case StorePostgres:
		if c.PostgresHost == "" {
			errs = append(errs, errors.New("POSTGRES_HOST is required for the postgres store"))
		}
		if c.PostgresDB == "" {
			errs = append(errs, errors.New("POSTGRES_DB is required for the postgres store"))
		}
		if c.PostgresUser == "" {
			errs = append(errs, errors.New("POSTGRES_USER is required for the postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("FINSYNC_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store))
	}

	if c.PlaidClientID == "" || c.PlaidSecret == "" {
		errs = append(errs, errors.New("PLAID_CLIENT_ID and PLAID_SECRET are required"))
	}
	if c.SyncIntervalSeconds < 0 {
		errs = append(errs, errors.New("SYNC_INTERVAL_SECONDS must not be negative"))
	}

	return errors.Join(errs...)
}

// CountryCodes splits PlaidCountryCodes.
func (c Config) CountryCodes() []string {
	var out []string
	for _, code := range strings.Split(c.PlaidCountryCodes, ",") {
		if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
			out = append(out, code)
		}
	}
	return out
}

// SyncInterval returns the scheduled re-sync period.
func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// SyncTimeout returns the per-operation sync deadline.
func (c Config) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutSeconds) * time.Second
}

// MatchTimeout returns the per-operation match deadline.
func (c Config) MatchTimeout() time.Duration {
	return time.Duration(c.MatchTimeoutSeconds) * time.Second
}
