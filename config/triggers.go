package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/jwalitptl/medaccess-api/internal/push"
	"github.com/jwalitptl/medaccess-api/internal/repository/postgres"
	"github.com/jwalitptl/medaccess-api/internal/service/notification"
	"github.com/jwalitptl/medaccess-api/pkg/messaging/redis"
)

// TriggersConfig configures the trigger worker from TRIGGERS_* variables.
// The worker stands in for store-hosted functions and gets only its
// environment.
type TriggersConfig struct {
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON    bool   `envconfig:"LOG_JSON" default:"true"`
	HealthPort int    `envconfig:"HEALTH_PORT" default:"8081"`

	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"postgres"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"medaccess"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	RedisURL string `envconfig:"REDIS_URL" required:"true"`

	PushProjectID       string        `envconfig:"PUSH_PROJECT_ID"`
	PushCredentialsFile string        `envconfig:"PUSH_CREDENTIALS_FILE"`
	PushDryRun          bool          `envconfig:"PUSH_DRY_RUN"`
	PushSendTimeout     time.Duration `envconfig:"PUSH_SEND_TIMEOUT" default:"10s"`

	MaxAttempts     int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	InitialInterval time.Duration `envconfig:"INITIAL_INTERVAL" default:"1s"`
	MaxInterval     time.Duration `envconfig:"MAX_INTERVAL" default:"10s"`

	// Disabled lists trigger names to skip. permissionRevoked is off by
	// default because the registry already tells the patient.
	Disabled []string `envconfig:"DISABLED" default:"permissionRevoked"`
}

func LoadTriggersConfig() (*TriggersConfig, error) {
	var c TriggersConfig
	if err := envconfig.Process("triggers", &c); err != nil {
		return nil, fmt.Errorf("failed to load trigger config: %w", err)
	}
	if c.RedisURL == "" {
		return nil, errors.New("TRIGGERS_REDIS_URL is required")
	}
	return &c, nil
}

func (c *TriggersConfig) ToPostgresConfig() postgres.DatabaseConfig {
	return postgres.DatabaseConfig{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Name:     c.DBName,
		SSLMode:  c.DBSSLMode,
	}
}

func (c *TriggersConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.RedisURL,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
		PoolSize:     5,
		MinIdleConns: 1,
	}
}

func (c *TriggersConfig) ToFCMConfig() push.FCMConfig {
	return push.FCMConfig{
		ProjectID:       c.PushProjectID,
		CredentialsFile: c.PushCredentialsFile,
		DryRun:          c.PushDryRun,
	}
}

func (c *TriggersConfig) ToDirectConfig() notification.DirectConfig {
	return notification.DirectConfig{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
	}
}
