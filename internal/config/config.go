// Package config loads and validates the collector's YAML configuration.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"wattline/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the wattline collector.
type Config struct {
	Logging   Logging   `yaml:"logging"`
	InfluxDB  InfluxDB  `yaml:"influxdb"`
	Upstream  Upstream  `yaml:"upstream"`
	Collector Collector `yaml:"collector"`
	Archive   Archive   `yaml:"archive"`
	Journal   Journal   `yaml:"journal"`
	Accounts  []Account `yaml:"accounts"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// InfluxDB holds connection settings for the metrics store.
type InfluxDB struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Upstream holds settings for the utility portal API.
type Upstream struct {
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Collector controls cycle scheduling and date handling.
type Collector struct {
	// FrequencySeconds is the interval between cycles. Zero means one-shot:
	// run a single cycle and exit.
	FrequencySeconds int `yaml:"frequency_seconds"`
	// TimeoutSeconds is the per-call timeout for portal and metrics-store
	// requests.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// SourceUTCOffsetHours is the fixed offset the portal labels calendar
	// dates in. Not daylight-saving aware.
	SourceUTCOffsetHours int `yaml:"source_utc_offset_hours"`
	// MaxWorkers is the number of accounts collected concurrently.
	MaxWorkers int `yaml:"max_workers"`
}

// Archive enables the local Parquet copy of published points when DataDir
// is set.
type Archive struct {
	DataDir string `yaml:"data_dir"`
}

// Journal enables the SQLite batch-outcome journal when SQLitePath is set.
type Journal struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Account is one portal account and the contracts owed for it.
type Account struct {
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	Contracts []string `yaml:"contracts"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INFLUXDB_ADDR"); v != "" {
		cfg.InfluxDB.Addr = v
	}
	if v := os.Getenv("INFLUXDB_USERNAME"); v != "" {
		cfg.InfluxDB.Username = v
	}
	if v := os.Getenv("INFLUXDB_PASSWORD"); v != "" {
		cfg.InfluxDB.Password = v
	}
	if v := os.Getenv("INFLUXDB_DATABASE"); v != "" {
		cfg.InfluxDB.Database = v
	}
	if v := os.Getenv("UPSTREAM_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Collector.TimeoutSeconds == 0 {
		cfg.Collector.TimeoutSeconds = 30
	}
	if cfg.Collector.SourceUTCOffsetHours == 0 {
		cfg.Collector.SourceUTCOffsetHours = -4
	}
	if cfg.Collector.MaxWorkers == 0 {
		cfg.Collector.MaxWorkers = 1
	}
	if cfg.Upstream.RateLimitPerMin == 0 {
		cfg.Upstream.RateLimitPerMin = 30
	}
}

// Validate checks the required fields. Any failure is a ConfigError: the
// process must refuse to start.
func (c *Config) Validate() error {
	if c.InfluxDB.Addr == "" {
		return &domain.ConfigError{Field: "influxdb.addr", Msg: "required"}
	}
	if c.InfluxDB.Database == "" {
		return &domain.ConfigError{Field: "influxdb.database", Msg: "required"}
	}
	if c.Upstream.BaseURL == "" {
		return &domain.ConfigError{Field: "upstream.base_url", Msg: "required"}
	}
	if len(c.Accounts) == 0 {
		return &domain.ConfigError{Field: "accounts", Msg: "at least one account required"}
	}
	for i, acct := range c.Accounts {
		if acct.Username == "" || acct.Password == "" {
			return &domain.ConfigError{Field: "accounts", Msg: "username and password required for account " + strconv.Itoa(i)}
		}
		if len(acct.Contracts) == 0 {
			return &domain.ConfigError{Field: "accounts", Msg: "at least one contract required for " + acct.Username}
		}
	}
	if c.Collector.SourceUTCOffsetHours < -12 || c.Collector.SourceUTCOffsetHours > 14 {
		return &domain.ConfigError{Field: "collector.source_utc_offset_hours", Msg: "must be a valid UTC offset"}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Frequency returns the inter-cycle interval; zero means one-shot.
func (c *Config) Frequency() time.Duration {
	return time.Duration(c.Collector.FrequencySeconds) * time.Second
}

// Timeout returns the per-call network timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Collector.TimeoutSeconds) * time.Second
}

// DomainAccounts converts the configured accounts into domain values.
func (c *Config) DomainAccounts() []domain.Account {
	accounts := make([]domain.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		contracts := make([]domain.Contract, 0, len(a.Contracts))
		for _, id := range a.Contracts {
			contracts = append(contracts, domain.Contract{ID: id})
		}
		accounts = append(accounts, domain.Account{
			Username:  a.Username,
			Password:  a.Password,
			Contracts: contracts,
		})
	}
	return accounts
}
