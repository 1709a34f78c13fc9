package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "decksync.db", cfg.Database.Path)
	assert.Equal(t, 200, cfg.Replication.MaxBatchSize)
	assert.Equal(t, 64, cfg.Replication.PublisherBuffer)
	assert.Equal(t, 15*time.Second, cfg.Replication.Heartbeat)
	// Секрет не имеет значения по умолчанию
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestLoad_File(t *testing.T) {
	path := writeConfigFile(t, `
http:
  addr: "127.0.0.1:9000"
database:
  path: /var/lib/decksync/data.db
auth:
  jwt_secret: file-secret
  access_token_ttl: 1h
replication:
  heartbeat: 5s
  bulk_resync_threshold: 10
log:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, "/var/lib/decksync/data.db", cfg.Database.Path)
	assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 5*time.Second, cfg.Replication.Heartbeat)
	assert.Equal(t, 10, cfg.Replication.BulkResyncThreshold)
	// Поля, отсутствующие в файле, берутся из defaults
	assert.Equal(t, 64, cfg.Replication.PublisherBuffer)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
auth:
  jwt_secret: file-secret
replication:
  max_batch_size: 50
`)
	t.Setenv("DECKSYNC_JWT_SECRET", "env-secret")
	t.Setenv("DECKSYNC_MAX_BATCH_SIZE", "100")
	t.Setenv("DECKSYNC_HEARTBEAT", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 100, cfg.Replication.MaxBatchSize)
	assert.Equal(t, 30*time.Second, cfg.Replication.Heartbeat)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		env  map[string]string
		name string
		file string
	}{
		{name: "missing file", file: filepath.Join(os.TempDir(), "decksync-missing", "config.yml")},
		{name: "broken yaml", file: "http: [unterminated"},
		{name: "bad int env", env: map[string]string{"DECKSYNC_PUBLISHER_BUFFER": "many"}},
		{name: "bad duration env", env: map[string]string{"DECKSYNC_RATE_LIMIT_WINDOW": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := tt.file
			if tt.name == "broken yaml" {
				path = writeConfigFile(t, tt.file)
			}

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Auth.JWTSecret = "secret"
		return cfg
	}

	tests := []struct {
		mutate  func(*Config)
		name    string
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty addr", mutate: func(c *Config) { c.HTTP.Addr = "" }, wantErr: true},
		{name: "empty db path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "empty secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: true},
		{name: "zero ttl", mutate: func(c *Config) { c.Auth.AccessTokenTTL = 0 }, wantErr: true},
		{name: "zero buffer", mutate: func(c *Config) { c.Replication.PublisherBuffer = 0 }, wantErr: true},
		{name: "zero heartbeat", mutate: func(c *Config) { c.Replication.Heartbeat = 0 }, wantErr: true},
		{name: "batch above protocol max", mutate: func(c *Config) { c.Replication.MaxBatchSize = 201 }, wantErr: true},
		{name: "negative threshold", mutate: func(c *Config) { c.Replication.BulkResyncThreshold = -1 }, wantErr: true},
		{name: "zero rate limit", mutate: func(c *Config) { c.RateLimit.Requests = 0 }, wantErr: true},
		{name: "unknown level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: true},
		{name: "unknown format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
		{name: "json format upper case", mutate: func(c *Config) { c.Log.Format = "JSON" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "entity", "decks")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"entity":"decks"`)

	level, err := LogConfig{Level: "debug"}.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}
