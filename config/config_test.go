package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "todo-api.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// clearEnv blanks every variable Load reads so the host environment does
// not leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "ADDR", "DB_DRIVER", "DB_SOURCE", "REDIS_ADDR", "JWT_SECRET", "TOKEN_TTL", "BCRYPT_COST", "LOG_LEVEL", "CORS_ORIGINS"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultsWithSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":5000", cfg.Server.Addr)
	assert.Equal(t, "/api", cfg.Server.Prefix)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, 5*time.Minute, cfg.Redis.TTL)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
}

func TestCORSOriginsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CORS_ORIGINS", " http://localhost:5173, ,https://todo.example.com ")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:5173", "https://todo.example.com"}, cfg.Server.CORSOrigins)
}

func TestLoadRequiresSecret(t *testing.T) {
	clearEnv(t)

	_, err := Load("")
	assert.ErrorContains(t, err, "auth.secret")
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  addr: ":8080"
  prefix: /v1
database:
  driver: postgres
  source: postgres://localhost/todos?sslmode=disable
redis:
  addr: localhost:6379
  ttl: 2m
auth:
  secret: from-file
  token_ttl: 30m
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/v1", cfg.Server.Prefix)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, "from-file", cfg.Auth.Secret)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout, "unset keys keep defaults")
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
database:
  driver: postgres
  source: postgres://file
auth:
  secret: from-file
`)
	t.Setenv("PORT", "9000")
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_SOURCE", "user:pass@tcp(db:3306)/todos")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("TOKEN_TTL", "15m")
	t.Setenv("REDIS_ADDR", "cache:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "user:pass@tcp(db:3306)/todos", cfg.Database.Source)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, 15*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "database.driver",
		},
		{
			name:    "empty source",
			mutate:  func(c *Config) { c.Database.Source = "" },
			wantErr: "database.source",
		},
		{
			name:    "non-positive ttl",
			mutate:  func(c *Config) { c.Auth.TokenTTL = 0 },
			wantErr: "auth.token_ttl",
		},
		{
			name:    "prefix without slash",
			mutate:  func(c *Config) { c.Server.Prefix = "api" },
			wantErr: "server.prefix",
		},
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.Secret = "x"
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLoadBadTTL(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("TOKEN_TTL", "soon")

	_, err := Load("")
	assert.ErrorContains(t, err, "TOKEN_TTL")
}
