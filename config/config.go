package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jwalitptl/medaccess-api/internal/push"
	"github.com/jwalitptl/medaccess-api/internal/repository"
	"github.com/jwalitptl/medaccess-api/internal/repository/postgres"
	"github.com/jwalitptl/medaccess-api/internal/service/notification"
	"github.com/jwalitptl/medaccess-api/pkg/messaging/redis"
	"github.com/jwalitptl/medaccess-api/pkg/worker"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Cache backends
const (
	CacheNone  = "none"
	CacheLocal = "local"
	CacheRedis = "redis"
)

type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Log           LogConfig          `mapstructure:"log"`
	Store         StoreConfig        `mapstructure:"store"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Redis         RedisConfig        `mapstructure:"redis"`
	Cache         CacheConfig        `mapstructure:"cache"`
	JWT           JWTConfig          `mapstructure:"jwt"`
	Push          PushConfig         `mapstructure:"push"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Triggers      TriggerConfig      `mapstructure:"triggers"`
	Outbox        OutboxConfig       `mapstructure:"outbox"`
	RateLimit     RateLimitConfig    `mapstructure:"rate_limit"`
	Security      SecurityConfig     `mapstructure:"security"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Mode            string        `mapstructure:"mode"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Migrate bool   `mapstructure:"migrate"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type CacheConfig struct {
	Backend     string        `mapstructure:"backend"`
	DocumentTTL time.Duration `mapstructure:"document_ttl"`
	QueryTTL    time.Duration `mapstructure:"query_ttl"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	Issuer      string `mapstructure:"issuer"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

type PushConfig struct {
	ProjectID       string        `mapstructure:"project_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	DryRun          bool          `mapstructure:"dry_run"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
}

type NotificationConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// PublishResults mirrors delivery outcomes to the broker.
	PublishResults bool `mapstructure:"publish_results"`
}

// TriggerConfig controls the in-process triggers used with the memory store.
type TriggerConfig struct {
	InProcess bool     `mapstructure:"in_process"`
	Disabled  []string `mapstructure:"disabled"`
}

type OutboxConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	BatchSize       int           `mapstructure:"batch_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	MaxDeliveries   int           `mapstructure:"max_deliveries"`
	Lease           time.Duration `mapstructure:"lease"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.migrate", true)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "medaccess")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("cache.backend", CacheLocal)
	v.SetDefault("cache.document_ttl", repository.DefaultDocumentTTL)
	v.SetDefault("cache.query_ttl", repository.DefaultQueryTTL)
	v.SetDefault("cache.key_prefix", "medaccess:")

	v.SetDefault("database.password", "")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "medaccess")
	v.SetDefault("jwt.expiry_hours", 24)

	v.SetDefault("push.project_id", "")
	v.SetDefault("push.credentials_file", "")
	v.SetDefault("push.dry_run", false)
	v.SetDefault("push.send_timeout", 10*time.Second)

	v.SetDefault("notifications.max_retries", notification.DefaultMaxRetries)
	v.SetDefault("notifications.retry_delay", notification.DefaultRetryDelay)
	v.SetDefault("notifications.poll_interval", notification.DefaultPollInterval)
	v.SetDefault("notifications.publish_results", false)

	v.SetDefault("triggers.in_process", true)
	v.SetDefault("triggers.disabled", []string{"permissionRevoked"})

	v.SetDefault("outbox.enabled", true)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", 500*time.Millisecond)
	v.SetDefault("outbox.max_deliveries", 5)
	v.SetDefault("outbox.lease", 30*time.Second)
	v.SetDefault("outbox.retention", 72*time.Hour)
	v.SetDefault("outbox.cleanup_interval", time.Hour)

	v.SetDefault("rate_limit.requests_per_second", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("security.allowed_origins", []string{"*"})
}

// LoadConfig reads config.yml from path, or from the usual locations when
// path is empty. A missing file is not an error; defaults and MEDACCESS_*
// environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")           // current directory
		v.AddConfigPath("./config")    // config subdirectory
		v.AddConfigPath("/app")        // container root directory
		v.AddConfigPath("/app/config") // container config directory
	}

	v.SetEnvPrefix("MEDACCESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects combinations the binaries cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Cache.Backend {
	case CacheNone, CacheLocal:
	case CacheRedis:
		if c.Redis.URL == "" {
			return errors.New("cache backend redis requires redis.url")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	return nil
}

func (c *DatabaseConfig) ToPostgresConfig() postgres.DatabaseConfig {
	return postgres.DatabaseConfig{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Name:            c.Name,
		SSLMode:         c.SSLMode,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
		MaxDeliveries: c.MaxDeliveries,
		Lease:         c.Lease,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

func (c *PushConfig) ToFCMConfig() push.FCMConfig {
	return push.FCMConfig{
		ProjectID:       c.ProjectID,
		CredentialsFile: c.CredentialsFile,
		DryRun:          c.DryRun,
	}
}

func (c *NotificationConfig) ToQueueConfig() notification.QueueConfig {
	return notification.QueueConfig{
		MaxRetries:   c.MaxRetries,
		RetryDelay:   c.RetryDelay,
		PollInterval: c.PollInterval,
	}
}
