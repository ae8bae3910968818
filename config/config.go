// Package config centralises runtime configuration for Foggle services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where Foggle operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// VenueHyperliquid is the registry key of the Hyperliquid integration.
const VenueHyperliquid = "hyperliquid"

// VenueSettings carries per-venue credentials and endpoints. PrivateKey is
// the primary wallet key used once to approve the agent key; Address is the
// public account address (not the API wallet); Vault optionally re-homes the
// session onto a vault.
type VenueSettings struct {
	BaseURL    string `yaml:"base_url"`
	PrivateKey string `yaml:"key"`
	KeyEnv     string `yaml:"key_env"`
	Address    string `yaml:"public"`
	Vault      string `yaml:"vault"`
}

// DatabaseSettings configures the time-series store connection.
type DatabaseSettings struct {
	DSN            string `yaml:"dsn"`
	MaxConns       int32  `yaml:"max_conns"`
	MigrationsPath string `yaml:"migrations_path"`
}

// TelemetrySettings configures the OTLP metrics exporter. An empty endpoint
// disables export.
type TelemetrySettings struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// StreamSettings selects one contract's market-data streams for ingestion.
type StreamSettings struct {
	Symbol    string   `yaml:"symbol"`
	SecType   string   `yaml:"sec_type"`
	Trades    bool     `yaml:"trades"`
	OrderBook bool     `yaml:"orderbook"`
	Candles   []string `yaml:"candles"`
}

// NewsSettings configures the newswatch scrape loop.
type NewsSettings struct {
	Interval time.Duration       `yaml:"interval"`
	Topics   map[string][]string `yaml:"topics"`
}

// Settings contains the Foggle configuration tree loaded from defaults, an
// optional YAML file and environment overrides.
type Settings struct {
	Environment Environment                 `yaml:"environment"`
	Debug       bool                        `yaml:"debug"`
	Venues      map[string]VenueSettings    `yaml:"venues"`
	Streams     map[string][]StreamSettings `yaml:"streams"`
	Database    DatabaseSettings            `yaml:"database"`
	Telemetry   TelemetrySettings           `yaml:"telemetry"`
	News        NewsSettings                `yaml:"news"`
}

// Default returns the default Foggle configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Debug:       false,
		Venues: map[string]VenueSettings{
			VenueHyperliquid: {
				BaseURL:    "https://api.hyperliquid.xyz",
				PrivateKey: "",
				KeyEnv:     "HYPERLIQUID_KEY",
				Address:    "",
				Vault:      "",
			},
		},
		Database: DatabaseSettings{
			DSN:            "",
			MaxConns:       8,
			MigrationsPath: "db/migrations",
		},
		Telemetry: TelemetrySettings{
			OTLPEndpoint: "",
			ServiceName:  "foggle-ingest",
		},
		News: NewsSettings{
			Interval: time.Hour,
			Topics:   nil,
		},
	}
}

// Load reads settings from the YAML file at path, overlaying the defaults,
// then applies environment overrides. A missing file is not an error; the
// defaults plus environment apply.
func Load(path string) (Settings, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env overlay
	default:
		return Settings{}, fmt.Errorf("read config %s: %w", path, err)
	}
	applyEnv(&cfg)
	resolveKeyEnvs(&cfg)
	return cfg, nil
}

// FromEnv loads configuration values from environment variables, overriding
// defaults without a file.
func FromEnv() Settings {
	cfg := Default()
	applyEnv(&cfg)
	resolveKeyEnvs(&cfg)
	return cfg
}

func applyEnv(cfg *Settings) {
	if v := strings.TrimSpace(os.Getenv("FOGGLE_ENV")); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("FOGGLE_DEBUG")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("FOGGLE_DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("FOGGLE_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}

	hl := cfg.Venues[VenueHyperliquid]
	changed := false
	if v := strings.TrimSpace(os.Getenv("HYPERLIQUID_BASE_URL")); v != "" {
		hl.BaseURL = v
		changed = true
	}
	if v := strings.TrimSpace(os.Getenv("HYPERLIQUID_ADDRESS")); v != "" {
		hl.Address = v
		changed = true
	}
	if v := strings.TrimSpace(os.Getenv("HYPERLIQUID_VAULT")); v != "" {
		hl.Vault = v
		changed = true
	}
	if changed {
		if cfg.Venues == nil {
			cfg.Venues = make(map[string]VenueSettings, 1)
		}
		cfg.Venues[VenueHyperliquid] = hl
	}
}

// resolveKeyEnvs pulls signing keys out of the environment so key material
// never has to live in the YAML file.
func resolveKeyEnvs(cfg *Settings) {
	for name, venue := range cfg.Venues {
		if venue.PrivateKey != "" || venue.KeyEnv == "" {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(venue.KeyEnv)); v != "" {
			venue.PrivateKey = v
			cfg.Venues[name] = venue
		}
	}
}
