// Package config loads the server configuration from a YAML file, a .env
// file and the process environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/warp/reward-ledger/generator"
	"github.com/warp/reward-ledger/rewards"
)

// Environment variables that override file values.
const (
	EnvPort              = "REWARDS_PORT"
	EnvDBPath            = "REWARDS_DB_PATH"
	EnvRegularPercentage = "REWARDS_REGULAR_PERCENTAGE"
	EnvPremiumPercentage = "REWARDS_PREMIUM_PERCENTAGE"
	EnvPremiumYears      = "REWARDS_PREMIUM_YEARS"
	EnvLogLevel          = "REWARDS_LOG_LEVEL"
)

type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Rewards   rewards.Config   `yaml:"rewards"`
	Generator generator.Config `yaml:"generator"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Log       LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	// Path of the SQLite file. ":memory:" keeps everything in process.
	Path string `yaml:"path"`
}

// SchedulerConfig controls periodic accrual for every active customer.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:4200", "http://localhost:5173"},
		},
		Database:  DatabaseConfig{Path: "./data/rewards.db"},
		Rewards:   rewards.DefaultConfig(),
		Generator: generator.DefaultConfig(),
		Scheduler: SchedulerConfig{Enabled: false, Interval: time.Hour},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies .env and
// environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	// A missing .env is fine; anything else is worth failing on.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		c.Server.Port = v
	}
	if v, ok := lookup(EnvDBPath); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvRegularPercentage, &c.Rewards.RegularPercentage},
		{EnvPremiumPercentage, &c.Rewards.PremiumPercentage},
		{EnvPremiumYears, &c.Rewards.PremiumAssociationYears},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", e.key, v)
		}
		*e.dst = n
	}
	return nil
}

func (c Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if err := c.Rewards.Validate(); err != nil {
		return fmt.Errorf("rewards: %w", err)
	}
	if err := c.Generator.Validate(); err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive when enabled, got %s", c.Scheduler.Interval)
	}
	return nil
}
