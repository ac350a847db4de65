package config

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
)

// Config holds the server settings. Empty MySQL or Redis settings select the
// in-memory implementations. MySQL needs Redis alongside it: open orders keep
// their reservation tokens in MySQL and the tokens must outlive a restart.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":50051"`

	MySQLDSN          string `env:"MYSQL_DSN"`
	MySQLMaxOpenConns int    `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"50"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"100"`

	JournalWorkers   int `env:"JOURNAL_WORKERS" envDefault:"4"`
	JournalQueueSize int `env:"JOURNAL_QUEUE_SIZE" envDefault:"1000"`

	OrderIdleTimeout time.Duration `env:"ORDER_IDLE_TIMEOUT" envDefault:"2h"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	MinCodeLength int    `env:"MIN_CODE_LENGTH" envDefault:"8"`
	Timezone      string `env:"TIMEZONE" envDefault:"Africa/Nairobi"`

	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	SeedDemoMenu    bool          `env:"SEED_DEMO_MENU" envDefault:"false"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}
	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("GRPC_ADDR is required"))
	}
	if c.MySQLDSN != "" && c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when MYSQL_DSN is set"))
	}
	if c.MySQLMaxOpenConns < 1 {
		errs = append(errs, errors.New("MYSQL_MAX_OPEN_CONNS must be positive"))
	}
	if c.RedisPoolSize < 1 {
		errs = append(errs, errors.New("REDIS_POOL_SIZE must be positive"))
	}
	if c.JournalWorkers < 1 {
		errs = append(errs, errors.New("JOURNAL_WORKERS must be positive"))
	}
	if c.JournalQueueSize < 1 {
		errs = append(errs, errors.New("JOURNAL_QUEUE_SIZE must be positive"))
	}
	if c.OrderIdleTimeout <= 0 {
		errs = append(errs, errors.New("ORDER_IDLE_TIMEOUT must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.MinCodeLength < 1 {
		errs = append(errs, errors.New("MIN_CODE_LENGTH must be positive"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// Location returns the time zone the dashboard counts days in.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
