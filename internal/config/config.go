// Package config loads the controller configuration from a YAML file,
// with environment variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds everything the controller binary needs to run one
// competition.
type Config struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`

	Competition struct {
		ExperimentID           string          `yaml:"experiment_id"`
		MinAgents              int             `yaml:"min_agents"`
		NbGoods                int             `yaml:"nb_goods"`
		TxFee                  decimal.Decimal `yaml:"tx_fee"`
		StartDelaySec          int             `yaml:"start_delay_sec"`
		RegistrationTimeoutSec int             `yaml:"registration_timeout_sec"`
		InactivityTimeoutSec   int             `yaml:"inactivity_timeout_sec"`
		CompetitionTimeoutSec  int             `yaml:"competition_timeout_sec"`
		Whitelist              []string        `yaml:"whitelist"`
		Seed                   int64           `yaml:"seed"`
	} `yaml:"competition"`

	Economy struct {
		MoneyEndowment    int `yaml:"money_endowment"`
		BaseGoodEndowment int `yaml:"base_good_endowment"`
		LowerBoundFactor  int `yaml:"lower_bound_factor"`
		UpperBoundFactor  int `yaml:"upper_bound_factor"`
	} `yaml:"economy"`

	Storage struct {
		OutputDir   string `yaml:"output_dir"`
		DatabaseURL string `yaml:"database_url"`
		RedisURL    string `yaml:"redis_url"`
		CacheTTLSec int    `yaml:"cache_ttl_sec"`
	} `yaml:"storage"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.Server.ListenAddr = ":8080"
	cfg.Competition.ExperimentID = ""
	cfg.Competition.MinAgents = 2
	cfg.Competition.NbGoods = 10
	cfg.Competition.TxFee = decimal.NewFromInt(1)
	cfg.Competition.StartDelaySec = 0
	cfg.Competition.RegistrationTimeoutSec = 60
	cfg.Competition.InactivityTimeoutSec = 60
	cfg.Competition.CompetitionTimeoutSec = 240
	cfg.Competition.Seed = 42
	cfg.Economy.MoneyEndowment = 200
	cfg.Economy.BaseGoodEndowment = 2
	cfg.Economy.LowerBoundFactor = 0
	cfg.Economy.UpperBoundFactor = 0
	cfg.Storage.OutputDir = "data"
	cfg.Storage.CacheTTLSec = 300
	cfg.Logging.Level = "info"
	cfg.Logging.MaxSizeMB = 50
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 14
	return &cfg
}

// Load reads and validates the configuration. An empty path yields the
// defaults; environment variables override in either case.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Competition.MinAgents < 2 {
		return fmt.Errorf("min_agents must be at least 2")
	}
	if c.Competition.NbGoods < 2 {
		return fmt.Errorf("nb_goods must be at least 2")
	}
	if c.Competition.TxFee.IsNegative() {
		return fmt.Errorf("tx_fee must be non-negative")
	}
	if c.Competition.RegistrationTimeoutSec <= 0 {
		return fmt.Errorf("registration_timeout_sec must be positive")
	}
	if c.Competition.InactivityTimeoutSec <= 0 {
		return fmt.Errorf("inactivity_timeout_sec must be positive")
	}
	if c.Competition.CompetitionTimeoutSec <= 0 {
		return fmt.Errorf("competition_timeout_sec must be positive")
	}
	if c.Economy.MoneyEndowment < 1 {
		return fmt.Errorf("money_endowment must be positive")
	}
	if c.Economy.BaseGoodEndowment < 1 {
		return fmt.Errorf("base_good_endowment must be positive")
	}
	if c.Economy.LowerBoundFactor < 0 || c.Economy.UpperBoundFactor < c.Economy.LowerBoundFactor {
		return fmt.Errorf("bound factors must satisfy 0 <= lower <= upper")
	}
	if c.Storage.OutputDir == "" && c.Storage.DatabaseURL == "" {
		return fmt.Errorf("either output_dir or database_url is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	return nil
}

// overrideWithEnv replaces deployment-sensitive values from the
// environment when set.
func overrideWithEnv(cfg *Config) {
	if addr := os.Getenv("TAC_LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if id := os.Getenv("TAC_EXPERIMENT_ID"); id != "" {
		cfg.Competition.ExperimentID = id
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Storage.DatabaseURL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Storage.RedisURL = url
	}
	if level := os.Getenv("TAC_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
