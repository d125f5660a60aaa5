package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// WeRead platform endpoints and request pacing
	WeRead struct {
		WebURL            string        `yaml:"web_url"`
		BaseURL           string        `yaml:"base_url"`
		UserAgent         string        `yaml:"user_agent"`
		BatchSize         int           `yaml:"batch_size"`
		BatchDelay        time.Duration `yaml:"batch_delay"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
		Burst             int           `yaml:"burst"`
	} `yaml:"weread"`

	Database struct {
		Type     string `yaml:"type"`
		Path     string `yaml:"path"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Name     string `yaml:"name"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"ssl_mode"`
	} `yaml:"database"`

	Auth struct {
		JWTSecret       string        `yaml:"jwt_secret"`
		TokenTTL        time.Duration `yaml:"token_ttl"`
		AllowUnverified bool          `yaml:"allow_unverified"`
		EncryptionKey   string        `yaml:"encryption_key"`
	} `yaml:"auth"`

	Cache struct {
		BookTTL time.Duration `yaml:"book_ttl"`
	} `yaml:"cache"`
}

// Default returns a configuration populated with built-in defaults.
func Default() *Config {
	cfg := &Config{}

	cfg.Server.Port = "8000"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 5 * time.Minute
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Server.CORSOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.WeRead.WebURL = "https://weread.qq.com"
	cfg.WeRead.BaseURL = "https://i.weread.qq.com"
	cfg.WeRead.BatchSize = 250
	cfg.WeRead.BatchDelay = 200 * time.Millisecond
	cfg.WeRead.RequestsPerSecond = 5
	cfg.WeRead.Burst = 5

	cfg.Database.Type = "sqlite"
	cfg.Database.Path = filepath.Join("data", "weread.db")

	cfg.Auth.TokenTTL = 30 * 24 * time.Hour

	cfg.Cache.BookTTL = 24 * time.Hour
	return cfg
}

// Load builds the configuration from defaults, then the YAML file (if it
// exists), then environment variables.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		switch {
		case os.IsNotExist(err):
			// defaults and environment only
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			fileCfg := &Config{}
			if err := yaml.Unmarshal(data, fileCfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
			}
			mergeConfigs(reflect.ValueOf(cfg).Elem(), reflect.ValueOf(fileCfg).Elem())
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return &ConfigError{Field: "auth.jwt_secret", Msg: "is required (JWT_SECRET)"}
	}
	if c.WeRead.WebURL == "" || c.WeRead.BaseURL == "" {
		return &ConfigError{Field: "weread", Msg: "web_url and base_url are required"}
	}
	if c.WeRead.BatchSize <= 0 || c.WeRead.BatchSize > 500 {
		return &ConfigError{Field: "weread.batch_size", Msg: fmt.Sprintf("must be between 1 and 500, got %d", c.WeRead.BatchSize)}
	}
	if c.WeRead.BatchDelay < 0 {
		return &ConfigError{Field: "weread.batch_delay", Msg: "must not be negative"}
	}
	switch strings.ToLower(c.Database.Type) {
	case "sqlite":
		if c.Database.Path == "" {
			return &ConfigError{Field: "database.path", Msg: "is required for sqlite"}
		}
	case "postgres", "postgresql", "mysql", "mariadb":
		if c.Database.Host == "" || c.Database.Name == "" {
			return &ConfigError{Field: "database", Msg: "host and name are required for " + c.Database.Type}
		}
	default:
		return &ConfigError{Field: "database.type", Msg: "unsupported value " + strconv.Quote(c.Database.Type)}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Msg
}

func loadFromEnv(cfg *Config) {
	if port := getEnv("SERVER_PORT", getEnv("PORT", "")); port != "" {
		cfg.Server.Port = port
	}
	cfg.Server.ShutdownTimeout = getDurationFromEnv("SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		cfg.Server.CORSOrigins = splitList(origins)
	}

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	if u := getEnv("WEREAD_WEB_URL", ""); u != "" {
		cfg.WeRead.WebURL = strings.TrimSuffix(u, "/")
	}
	if u := getEnv("WEREAD_BASE_URL", ""); u != "" {
		cfg.WeRead.BaseURL = strings.TrimSuffix(u, "/")
	}
	cfg.WeRead.UserAgent = getEnv("WEREAD_USER_AGENT", cfg.WeRead.UserAgent)
	cfg.WeRead.BatchSize = getIntFromEnv("WEREAD_BATCH_SIZE", cfg.WeRead.BatchSize)
	cfg.WeRead.BatchDelay = getDurationFromEnv("WEREAD_BATCH_DELAY", cfg.WeRead.BatchDelay)
	cfg.WeRead.RequestsPerSecond = getFloat64FromEnv("WEREAD_RATE_LIMIT", cfg.WeRead.RequestsPerSecond)

	cfg.Database.Type = getEnv("DATABASE_TYPE", cfg.Database.Type)
	cfg.Database.Path = getEnv("DATABASE_PATH", cfg.Database.Path)
	cfg.Database.Host = getEnv("DATABASE_HOST", cfg.Database.Host)
	cfg.Database.Port = getIntFromEnv("DATABASE_PORT", cfg.Database.Port)
	cfg.Database.Name = getEnv("DATABASE_NAME", cfg.Database.Name)
	cfg.Database.User = getEnv("DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.SSLMode = getEnv("DATABASE_SSL_MODE", cfg.Database.SSLMode)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.TokenTTL = getDurationFromEnv("TOKEN_TTL", cfg.Auth.TokenTTL)
	cfg.Auth.AllowUnverified = getBoolFromEnv("ALLOW_UNVERIFIED_LOGIN", cfg.Auth.AllowUnverified)
	cfg.Auth.EncryptionKey = getEnv("ENCRYPTION_KEY", cfg.Auth.EncryptionKey)

	cfg.Cache.BookTTL = getDurationFromEnv("CACHE_BOOK_TTL", cfg.Cache.BookTTL)
}

// mergeConfigs copies every non-zero leaf of src into dst.
func mergeConfigs(dst, src reflect.Value) {
	for i := 0; i < dst.NumField(); i++ {
		d, s := dst.Field(i), src.Field(i)
		if !d.CanSet() {
			continue
		}
		switch d.Kind() {
		case reflect.Struct:
			mergeConfigs(d, s)
		case reflect.Bool:
			if s.Bool() {
				d.SetBool(true)
			}
		case reflect.Slice:
			if s.Len() > 0 {
				d.Set(s)
			}
		default:
			if !s.IsZero() {
				d.Set(s)
			}
		}
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getBoolFromEnv(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getIntFromEnv(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getFloat64FromEnv(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDurationFromEnv(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
