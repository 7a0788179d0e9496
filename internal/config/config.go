// Package config loads server configuration from defaults, optional TOML
// files, a .env file and environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds all configuration for the portfolio engine.
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Market      MarketConfig  `toml:"market"`
	Game        GameConfig    `toml:"game"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// StorageConfig selects the session store. An empty DatabaseURL uses the
// in-memory store; RedisURL adds a cache in front of PostgreSQL.
type StorageConfig struct {
	DatabaseURL string `toml:"database_url"`
	RedisURL    string `toml:"redis_url"`
	CacheTTL    string `toml:"cache_ttl"`
}

// MarketConfig drives the live fantasy market.
type MarketConfig struct {
	TickInterval string `toml:"tick_interval"`
	MaxDelta     string `toml:"max_delta"` // largest move per tick
	Seed         uint64 `toml:"seed"`      // 0 = random
}

// GameConfig holds session and persistence settings.
type GameConfig struct {
	InitialCash    string `toml:"initial_cash"`
	SaveTimeout    string `toml:"save_timeout"`
	SaveInterval   string `toml:"save_interval"`
	SaveBurst      int    `toml:"save_burst"`
	HistoricalSeed uint64 `toml:"historical_seed"` // 0 = random per run
	IdleTimeout    string `toml:"idle_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "text"; empty picks by environment
}

// NewDefaultConfig returns a Config with production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			ShutdownTimeout: "5s",
		},
		Storage: StorageConfig{
			CacheTTL: "30s",
		},
		Market: MarketConfig{
			TickInterval: "5s",
			MaxDelta:     "1",
		},
		Game: GameConfig{
			InitialCash:  "100000",
			SaveTimeout:  "3s",
			SaveInterval: "1s",
			SaveBurst:    5,
			IdleTimeout:  "30m",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. Variables from envFile (default ".env")
// are added to the environment if present; TOML files are merged in order,
// skipping any that do not exist; environment variables win over both.
func Load(envFile string, paths ...string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	// Missing .env is normal outside development.
	_ = godotenv.Load(envFile)

	cfg := NewDefaultConfig()
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
		if cfg.IsProduction() {
			cfg.Logging.Format = "json"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PE_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PE_TICK_INTERVAL"); v != "" {
		cfg.Market.TickInterval = v
	}
	if v := os.Getenv("PE_MARKET_SEED"); v != "" {
		if s, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Market.Seed = s
		}
	}
	if v := os.Getenv("PE_INITIAL_CASH"); v != "" {
		cfg.Game.InitialCash = v
	}
	if v := os.Getenv("PE_SAVE_TIMEOUT"); v != "" {
		cfg.Game.SaveTimeout = v
	}
}

// Validate checks every field that is parsed later.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	for name, v := range map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"storage.cache_ttl":       c.Storage.CacheTTL,
		"market.tick_interval":    c.Market.TickInterval,
		"game.save_timeout":       c.Game.SaveTimeout,
		"game.save_interval":      c.Game.SaveInterval,
		"game.idle_timeout":       c.Game.IdleTimeout,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf("%s %q is not a positive duration", name, v))
		}
	}
	for name, v := range map[string]string{
		"market.max_delta":  c.Market.MaxDelta,
		"game.initial_cash": c.Game.InitialCash,
	} {
		if d, err := decimal.NewFromString(v); err != nil || !d.IsPositive() {
			problems = append(problems, fmt.Sprintf("%s %q is not a positive number", name, v))
		}
	}
	if c.Game.SaveBurst <= 0 {
		problems = append(problems, "game.save_burst must be positive")
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		problems = append(problems, err.Error())
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}

	if len(problems) > 0 {
		// Map iteration order is random; keep messages stable.
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// Duration parses a validated duration field.
func Duration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Decimal parses a validated decimal field.
func Decimal(v string, fallback decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsPositive() {
		return fallback
	}
	return d
}

// NewLogger builds the process logger from the logging settings.
func (c LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level %q: %w", s, err)
	}
	return level, nil
}
