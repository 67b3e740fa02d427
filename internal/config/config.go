package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. KURANET_SERVER_PORT
const EnvPrefix = "KURANET"

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server" toml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database" toml:"database"`
	Auth       AuthConfig       `mapstructure:"auth" yaml:"auth" toml:"auth"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache" toml:"cache"`
	Log        LogConfig        `mapstructure:"log" yaml:"log" toml:"log"`
	Pagination PaginationConfig `mapstructure:"pagination" yaml:"pagination" toml:"pagination"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int      `mapstructure:"port" yaml:"port" toml:"port"`
	Mode        string   `mapstructure:"mode" yaml:"mode" toml:"mode"`                         // "development" or "production"
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins" toml:"cors_origins"` // "*" allows any origin
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver" yaml:"driver" toml:"driver"`                                  // "sqlite" or "postgres"
	DSN             string `mapstructure:"dsn" yaml:"dsn" toml:"dsn"`                                           // Connection string
	MaxIdleConns    int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns" toml:"max_idle_conns"`          // Maximum idle connections (Postgres)
	MaxOpenConns    int    `mapstructure:"max_open_conns" yaml:"max_open_conns" toml:"max_open_conns"`          // Maximum open connections (Postgres)
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime" toml:"conn_max_lifetime"` // Connection max lifetime in minutes (Postgres)
	LogLevel        string `mapstructure:"log_level" yaml:"log_level" toml:"log_level"`                         // GORM log level; falls back to log.level
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret        string        `mapstructure:"jwt_secret" yaml:"jwt_secret" toml:"jwt_secret"`
	AccessTokenTTL   time.Duration `mapstructure:"access_token_ttl" yaml:"access_token_ttl" toml:"access_token_ttl"`
	RefreshTokenTTL  time.Duration `mapstructure:"refresh_token_ttl" yaml:"refresh_token_ttl" toml:"refresh_token_ttl"`
	CreatorOnlyPolls bool          `mapstructure:"creator_only_polls" yaml:"creator_only_polls" toml:"creator_only_polls"` // Only creators and admins may create polls
}

// CacheConfig holds the poll results cache configuration
type CacheConfig struct {
	Type       string        `mapstructure:"type" yaml:"type" toml:"type"`                      // "memory" or "valkey"
	ValkeyAddr string        `mapstructure:"valkey_addr" yaml:"valkey_addr" toml:"valkey_addr"` // e.g. "localhost:6379"
	ResultsTTL time.Duration `mapstructure:"results_ttl" yaml:"results_ttl" toml:"results_ttl"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Format string `mapstructure:"format" yaml:"format" toml:"format"` // "json" or "text"
	Level  string `mapstructure:"level" yaml:"level" toml:"level"`    // "debug", "info", "warn", "error"
}

// PaginationConfig holds list endpoint paging limits
type PaginationConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size" yaml:"default_page_size" toml:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size" yaml:"max_page_size" toml:"max_page_size"`
}

// Load reads configuration from .env, config file and environment variables
func Load() (*Config, error) {
	// A missing .env file is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/kuranet/")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return unmarshal(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./kuranet.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_level", "")
	v.SetDefault("auth.jwt_secret", "change-me-in-production")
	v.SetDefault("auth.access_token_ttl", 5*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 24*time.Hour)
	v.SetDefault("auth.creator_only_polls", false)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.valkey_addr", "localhost:6379")
	v.SetDefault("cache.results_ttl", 30*time.Second)
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
	v.SetDefault("pagination.default_page_size", 20)
	v.SetDefault("pagination.max_page_size", 100)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Pagination.DefaultPageSize <= 0 {
		cfg.Pagination.DefaultPageSize = 20
	}
	if cfg.Pagination.MaxPageSize < cfg.Pagination.DefaultPageSize {
		cfg.Pagination.MaxPageSize = cfg.Pagination.DefaultPageSize
	}

	return &cfg, nil
}

// Default returns the configuration produced by defaults alone,
// ignoring config files and the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}
