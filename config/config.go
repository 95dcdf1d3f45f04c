// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	LogLevel string         `yaml:"log_level"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Prefix          string        `yaml:"prefix"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// CORSOrigins lists the browser origins allowed to call the API. "*"
	// allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Source string `yaml:"source"`
}

// RedisConfig enables the task cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	Secret     string        `yaml:"secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":5000",
			Prefix:          "/api",
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			Source: "file:todo.db?_foreign_keys=on",
		},
		Redis: RedisConfig{
			TTL: 5 * time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL:   time.Hour,
			BcryptCost: 10,
		},
		LogLevel: "info",
	}
}

// Load builds a Config from defaults, the YAML file at path (if path is not
// empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		c.Server.Addr = ":" + v
	}
	if v, ok := os.LookupEnv("ADDR"); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok && v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("DB_DRIVER"); ok && v != "" {
		c.Database.Driver = v
	}
	if v, ok := os.LookupEnv("DB_SOURCE"); ok && v != "" {
		c.Database.Source = v
	}
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok && v != "" {
		c.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("JWT_SECRET"); ok && v != "" {
		c.Auth.Secret = v
	}
	if v, ok := os.LookupEnv("TOKEN_TTL"); ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TOKEN_TTL: %w", err)
		}
		c.Auth.TokenTTL = ttl
	}
	if v, ok := os.LookupEnv("BCRYPT_COST"); ok && v != "" {
		cost, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BCRYPT_COST: %w", err)
		}
		c.Auth.BcryptCost = cost
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	return nil
}

// splitList parses a comma separated list, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite3", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of postgres, sqlite3, mysql", c.Database.Driver))
	}
	if c.Database.Source == "" {
		errs = append(errs, errors.New("database.source is required"))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret (JWT_SECRET) is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Redis.Addr != "" && c.Redis.TTL <= 0 {
		errs = append(errs, errors.New("redis.ttl must be positive"))
	}
	if c.Server.Prefix != "" && !strings.HasPrefix(c.Server.Prefix, "/") {
		errs = append(errs, fmt.Errorf("server.prefix %q must start with /", c.Server.Prefix))
	}
	return errors.Join(errs...)
}
