// Package config loads service configuration from the environment with an
// optional YAML override file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Auction  AuctionConfig  `yaml:"auction"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `env:"SERVER_HOST,default=0.0.0.0" yaml:"host"`
	Port int    `env:"SERVER_PORT,default=8080" yaml:"port"`

	AllowedOrigins []string `env:"SERVER_ALLOWED_ORIGINS,default=*" yaml:"allowed_origins"`

	// RateLimit is requests per second per caller; RateBurst is the burst
	// allowance. Zero disables throttling.
	RateLimit int `env:"SERVER_RATE_LIMIT,default=25" yaml:"rate_limit"`
	RateBurst int `env:"SERVER_RATE_BURST,default=50" yaml:"rate_burst"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info" yaml:"level"`
	Format     string `env:"LOG_FORMAT,default=text" yaml:"format"`
	Output     string `env:"LOG_OUTPUT,default=stderr" yaml:"output"`
	FilePrefix string `env:"LOG_FILE_PREFIX" yaml:"file_prefix"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER,default=memory" yaml:"driver"` // "memory" or "postgres"
	DSN    string `env:"DB_DSN" yaml:"dsn"`
}

// AuctionConfig holds the owner-mutable auction parameters. Amounts are in
// base units with 8 decimals (0.05 = 5_000_000).
type AuctionConfig struct {
	Owner     string `env:"AUCTION_OWNER,default=owner" yaml:"owner"`
	Custodian string `env:"AUCTION_CUSTODIAN,default=custodian" yaml:"custodian"`

	// Escrow is the operator address collections must approve before the
	// custodian's items can be transferred out at claim time.
	Escrow string `env:"AUCTION_ESCROW,default=escrow" yaml:"escrow"`

	MaxBatchSize    int   `env:"AUCTION_MAX_BATCH_SIZE,default=100" yaml:"max_batch_size"`
	MinStartingBid  int64 `env:"AUCTION_MIN_STARTING_BID,default=5000000" yaml:"min_starting_bid"`
	MinBidIncrement int64 `env:"AUCTION_MIN_BID_INCREMENT,default=1000000" yaml:"min_bid_increment"`

	Duration           time.Duration `env:"AUCTION_DURATION,default=24h" yaml:"duration"`
	SettlementDuration time.Duration `env:"AUCTION_SETTLEMENT_DURATION,default=72h" yaml:"settlement_duration"`
	AntiSnipeWindow    time.Duration `env:"AUCTION_ANTI_SNIPE_WINDOW,default=10m" yaml:"anti_snipe_window"`

	AbandonFeePercent int `env:"AUCTION_ABANDON_FEE_PERCENT,default=20" yaml:"abandon_fee_percent"`
	RewardPercent     int `env:"AUCTION_REWARD_PERCENT,default=10" yaml:"reward_percent"`

	StartTicketCost int64 `env:"AUCTION_START_TICKET_COST,default=1" yaml:"start_ticket_cost"`
	BidTicketCost   int64 `env:"AUCTION_BID_TICKET_COST,default=1" yaml:"bid_ticket_cost"`

	// SweepSchedule is the cron spec for the settlement watcher.
	SweepSchedule string `env:"AUCTION_SWEEP_SCHEDULE,default=@every 1m" yaml:"sweep_schedule"`
}

// Load reads configuration from the environment. If CONFIG_FILE is set, the
// YAML file is applied on top of the environment values.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("postgres driver requires DB_DSN")
	}
	return c.Auction.Validate()
}

// Validate checks the auction parameters.
func (c *AuctionConfig) Validate() error {
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("max_batch_size must be at least 1")
	}
	if c.MinStartingBid < 0 || c.MinBidIncrement < 0 {
		return fmt.Errorf("minimum bid values cannot be negative")
	}
	if c.Duration <= 0 || c.SettlementDuration <= 0 {
		return fmt.Errorf("auction and settlement durations must be positive")
	}
	if c.AntiSnipeWindow < 0 {
		return fmt.Errorf("anti-snipe window cannot be negative")
	}
	if c.AbandonFeePercent < 0 || c.AbandonFeePercent > 100 {
		return fmt.Errorf("abandon_fee_percent %d out of range 0-100", c.AbandonFeePercent)
	}
	if c.RewardPercent < 0 || c.RewardPercent > 100 {
		return fmt.Errorf("reward_percent %d out of range 0-100", c.RewardPercent)
	}
	return nil
}
