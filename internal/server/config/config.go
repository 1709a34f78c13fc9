// Package config загружает конфигурацию сервера: значения по умолчанию,
// затем YAML-файл, затем переменные окружения DECKSYNC_*.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iudanet/decksync/pkg/api"
)

// EnvPrefix префикс переменных окружения, переопределяющих конфигурацию
const EnvPrefix = "DECKSYNC_"

// ErrInvalidConfig возвращается Validate для некорректной конфигурации
var ErrInvalidConfig = errors.New("invalid config")

// Config конфигурация сервера
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	HTTP        HTTPConfig        `yaml:"http"`
	Replication ReplicationConfig `yaml:"replication"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

// HTTPConfig параметры HTTP сервера
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig параметры хранилища
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig параметры JWT
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

// LogConfig параметры логирования
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ReplicationConfig параметры протокола репликации
type ReplicationConfig struct {
	PublisherBuffer     int           `yaml:"publisher_buffer"`
	Heartbeat           time.Duration `yaml:"heartbeat"`
	MaxBatchSize        int           `yaml:"max_batch_size"`
	BulkResyncThreshold int           `yaml:"bulk_resync_threshold"`
}

// RateLimitConfig параметры ограничения частоты запросов
type RateLimitConfig struct {
	Window   time.Duration `yaml:"window"`
	Requests int           `yaml:"requests"`
}

// Default возвращает конфигурацию по умолчанию
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Path: "decksync.db"},
		Auth:     AuthConfig{AccessTokenTTL: 24 * time.Hour},
		Log:      LogConfig{Level: "info", Format: "text"},
		Replication: ReplicationConfig{
			PublisherBuffer:     64,
			Heartbeat:           15 * time.Second,
			MaxBatchSize:        api.MaxBatchSize,
			BulkResyncThreshold: 100,
		},
		RateLimit: RateLimitConfig{Requests: 600, Window: time.Minute},
	}
}

// Load собирает конфигурацию: defaults -> YAML файл (если path непустой) -> env
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("failed to parse %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("failed to parse %s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("ADDR", &c.HTTP.Addr)
	str("DB_PATH", &c.Database.Path)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(
		dur("READ_TIMEOUT", &c.HTTP.ReadTimeout),
		dur("SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout),
		dur("ACCESS_TOKEN_TTL", &c.Auth.AccessTokenTTL),
		num("PUBLISHER_BUFFER", &c.Replication.PublisherBuffer),
		dur("HEARTBEAT", &c.Replication.Heartbeat),
		num("MAX_BATCH_SIZE", &c.Replication.MaxBatchSize),
		num("BULK_RESYNC_THRESHOLD", &c.Replication.BulkResyncThreshold),
		num("RATE_LIMIT_REQUESTS", &c.RateLimit.Requests),
		dur("RATE_LIMIT_WINDOW", &c.RateLimit.Window),
	)
}

// Validate проверяет конфигурацию перед запуском сервера
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.HTTP.Addr == "" {
		fail("http.addr is required")
	}
	if c.Database.Path == "" {
		fail("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		fail("auth.jwt_secret is required")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		fail("auth.access_token_ttl must be positive")
	}
	if c.Replication.PublisherBuffer <= 0 {
		fail("replication.publisher_buffer must be positive")
	}
	if c.Replication.Heartbeat <= 0 {
		fail("replication.heartbeat must be positive")
	}
	if c.Replication.MaxBatchSize <= 0 || c.Replication.MaxBatchSize > api.MaxBatchSize {
		fail("replication.max_batch_size must be in 1..%d", api.MaxBatchSize)
	}
	if c.Replication.BulkResyncThreshold <= 0 {
		fail("replication.bulk_resync_threshold must be positive")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		fail("rate_limit.requests and rate_limit.window must be positive")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		fail("log.format must be text or json, got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

// SlogLevel переводит текстовый уровень в slog.Level
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", l.Level)
	}
	return level, nil
}

// NewLogger создает логгер в соответствии с конфигурацией
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
