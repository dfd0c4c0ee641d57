// Package config loads service configuration from defaults, an optional
// config file and AUDITLOG_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "AUDITLOG"

// Config is the full service configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Log       Log       `mapstructure:"log"`
	Store     Store     `mapstructure:"store"`
	Auth      Auth      `mapstructure:"auth"`
	RateLimit RateLimit `mapstructure:"ratelimit"`
	Redis     Redis     `mapstructure:"redis"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Recorder  Recorder  `mapstructure:"recorder"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MetricsToken guards /metrics with X-Admin-Token when non-empty.
	MetricsToken string `mapstructure:"metrics_token"`
	DocsDir      string `mapstructure:"docs_dir"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// Store selects and configures the audit event backend.
type Store struct {
	Driver      string `mapstructure:"driver"` // sqlite, postgres or memory
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type Auth struct {
	JWTSigningKey string        `mapstructure:"jwt_signing_key"`
	JWTIssuer     string        `mapstructure:"jwt_issuer"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	AdminRole     string        `mapstructure:"admin_role"`
	UsersFile     string        `mapstructure:"users_file"` // JSON array of {email, role, password_hash}
}

// RateLimit configures the per-IP sliding windows.
type RateLimit struct {
	Backend     string        `mapstructure:"backend"` // memory or redis
	LoginLimit  int           `mapstructure:"login_limit"`
	LoginWindow time.Duration `mapstructure:"login_window"`
	APILimit    int           `mapstructure:"api_limit"`
	APIWindow   time.Duration `mapstructure:"api_window"`
}

// Redis configures the shared client used by the redis rate limit backend.
type Redis struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Kafka configures the suspicious-event alert stream. Empty brokers disable it.
type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	// BufferSize bounds the in-process alert queue; the oldest alert is dropped when full.
	BufferSize int `mapstructure:"buffer_size"`
}

type Recorder struct {
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// Load reads configuration. AUDITLOG_CONFIG optionally names a YAML, JSON or
// TOML file; when set, the file must exist.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv applies to Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("config", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.metrics_token", "")
	v.SetDefault("server.docs_dir", "assets/pdf")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "data/audit.db")
	v.SetDefault("store.postgres_dsn", "")

	v.SetDefault("auth.jwt_signing_key", "dev-secret-key-change-in-production")
	v.SetDefault("auth.jwt_issuer", "auditlog")
	v.SetDefault("auth.token_ttl", 2*time.Hour)
	v.SetDefault("auth.admin_role", "admin")
	v.SetDefault("auth.users_file", "data/users.json")

	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.login_limit", 10)
	v.SetDefault("ratelimit.login_window", 15*time.Minute)
	v.SetDefault("ratelimit.api_limit", 60)
	v.SetDefault("ratelimit.api_window", time.Minute)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "audit.suspicious")
	v.SetDefault("kafka.buffer_size", 1024)

	v.SetDefault("recorder.breaker_threshold", 5)
	v.SetDefault("recorder.breaker_cooldown", 30*time.Second)
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported store.driver %q", c.Store.Driver)
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("redis.url is required for the redis rate limit backend")
		}
	default:
		return fmt.Errorf("unsupported ratelimit.backend %q", c.RateLimit.Backend)
	}

	if c.RateLimit.LoginLimit <= 0 || c.RateLimit.APILimit <= 0 {
		return errors.New("ratelimit limits must be positive")
	}
	if c.RateLimit.LoginWindow <= 0 || c.RateLimit.APIWindow <= 0 {
		return errors.New("ratelimit windows must be positive")
	}

	if c.Auth.JWTSigningKey == "" {
		return errors.New("auth.jwt_signing_key is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	return nil
}
