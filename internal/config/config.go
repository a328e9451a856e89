package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts human-friendly YAML values like "10s" or "250ms".
// yaml.v3 has no special case for time.Duration, so a bare one would
// demand integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(dur)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all application configuration. Values come from an optional
// YAML file, overridden by environment variables. External endpoints are
// never hardcoded: an empty endpoint means the simulated channel is used.
type Config struct {
	DBSource string `yaml:"db_source"`
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`

	Settlement struct {
		// Mode selects the dispatcher: "inline" treats a successful
		// synchronous payout as terminal, "queued" leaves transactions
		// settling until a confirmation arrives.
		Mode        string   `yaml:"mode"`
		PayoutURL   string   `yaml:"payout_url"`
		Timeout     Duration `yaml:"timeout"`
		QueueSize   int      `yaml:"queue_size"`
		Network     string   `yaml:"network"`
		Asset       string   `yaml:"asset"`
		PayToWallet string   `yaml:"pay_to_wallet"`
	} `yaml:"settlement"`

	OnRamp struct {
		URL     string   `yaml:"url"`
		Timeout Duration `yaml:"timeout"`
		// FXRate is the USD->local snapshot rate used when no live rate
		// source is configured, expressed as a decimal string.
		FXRate string `yaml:"fx_rate"`
	} `yaml:"onramp"`

	CatalogPath string `yaml:"catalog_path"`

	Jobs struct {
		IdempotencyPurgeCron string `yaml:"idempotency_purge_cron"`
		StuckSettlingCron    string `yaml:"stuck_settling_cron"`
	} `yaml:"jobs"`
}

// Load reads config from a YAML file if present, then applies environment
// variable overrides and defaults. DB_SOURCE is the only hard requirement.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	// Environment variable overrides
	if v := os.Getenv("DB_SOURCE"); v != "" {
		cfg.DBSource = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("SETTLEMENT_MODE"); v != "" {
		cfg.Settlement.Mode = v
	}
	if v := os.Getenv("PAYOUT_URL"); v != "" {
		cfg.Settlement.PayoutURL = v
	}
	if v := os.Getenv("ONRAMP_URL"); v != "" {
		cfg.OnRamp.URL = v
	}
	if v := os.Getenv("FX_RATE"); v != "" {
		cfg.OnRamp.FXRate = v
	}
	if v := os.Getenv("CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
	}

	if cfg.DBSource == "" {
		return nil, fmt.Errorf("DB_SOURCE is required (env or config file)")
	}

	// Defaults
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.Settlement.Mode == "" {
		cfg.Settlement.Mode = "inline"
	}
	if cfg.Settlement.Timeout == 0 {
		cfg.Settlement.Timeout = Duration(10 * time.Second)
	}
	if cfg.Settlement.QueueSize == 0 {
		cfg.Settlement.QueueSize = 256
	}
	if cfg.Settlement.Network == "" {
		cfg.Settlement.Network = "base"
	}
	if cfg.Settlement.Asset == "" {
		cfg.Settlement.Asset = "USDC"
	}
	if cfg.Settlement.PayToWallet == "" {
		cfg.Settlement.PayToWallet = "0xKayaSendTreasury"
	}
	if cfg.OnRamp.Timeout == 0 {
		cfg.OnRamp.Timeout = Duration(15 * time.Second)
	}
	if cfg.OnRamp.FXRate == "" {
		cfg.OnRamp.FXRate = "1540.00"
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = "configs/catalog.yaml"
	}
	if cfg.Jobs.IdempotencyPurgeCron == "" {
		cfg.Jobs.IdempotencyPurgeCron = "@hourly"
	}
	if cfg.Jobs.StuckSettlingCron == "" {
		cfg.Jobs.StuckSettlingCron = "@daily"
	}

	return cfg, nil
}
