// Package config loads and validates the ConsultEase service configuration.
//
// Configuration is read once at startup from a YAML file (--config flag,
// ./consultease.yaml, or $XDG_CONFIG_HOME/consultease/config.yaml), with
// every key overridable through CONSULTEASE_* environment variables.
package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	cerrors "github.com/consultease/consultease/pkg/errors"
)

// appName is the directory name used for XDG config and data paths.
const appName = "consultease"

// Config is the validated service configuration.
type Config struct {
	DB           DBConfig           `mapstructure:"db"`
	MQTT         MQTTConfig         `mapstructure:"mqtt"`
	Consultation ConsultationConfig `mapstructure:"consultation"`
	Service      ServiceConfig      `mapstructure:"service"`
	API          APIConfig          `mapstructure:"api"`
}

// DBConfig configures the persistence layer.
type DBConfig struct {
	// URL is the connection string: a sqlite file path or a networked DSN.
	URL string `mapstructure:"url"`
	// PoolSize is the base connection pool size for networked backends.
	PoolSize int `mapstructure:"pool_size"`
	// MaxOverflow is the number of extra connections allowed under load.
	MaxOverflow int `mapstructure:"max_overflow"`
	// HealthIntervalSec is how often the health monitor probes liveness.
	HealthIntervalSec int `mapstructure:"health_interval_sec"`
	// RestartCooldownSec is the minimum gap between pool restarts.
	RestartCooldownSec int `mapstructure:"restart_cooldown_sec"`
}

// MQTTConfig configures the broker connection and transport behavior.
type MQTTConfig struct {
	BrokerHost string `mapstructure:"broker_host"`
	BrokerPort int    `mapstructure:"broker_port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	// BatchSize caps how many non-critical messages coalesce into one flush.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeoutMs flushes a partial batch after this many milliseconds.
	BatchTimeoutMs int `mapstructure:"batch_timeout_ms"`
	// OfflineQueueSize bounds the buffer held while the broker is unreachable.
	OfflineQueueSize int `mapstructure:"offline_queue_size"`
}

// ConsultationConfig configures the consultation lifecycle timers.
type ConsultationConfig struct {
	// ExpirySec is how long a PENDING consultation waits before expiring.
	ExpirySec int `mapstructure:"expiry_sec"`
	// SweepIntervalSec is how often the expiry sweep runs.
	SweepIntervalSec int `mapstructure:"sweep_interval_sec"`
}

// ServiceConfig configures the system coordinator.
type ServiceConfig struct {
	// RestartBudget is the per-service restart cap before a failure is fatal.
	RestartBudget int `mapstructure:"restart_budget"`
}

// APIConfig configures the operational HTTP endpoints.
type APIConfig struct {
	// Address is the listen address for healthz/readyz/status/metrics.
	// Empty disables the HTTP server.
	Address string `mapstructure:"address"`
}

// Defaults for every optional key (spec values).
const (
	DefaultPoolSize           = 5
	DefaultMaxOverflow        = 10
	DefaultHealthIntervalSec  = 120
	DefaultRestartCooldownSec = 600
	DefaultBrokerPort         = 1883
	DefaultBatchSize          = 10
	DefaultBatchTimeoutMs     = 100
	DefaultOfflineQueueSize   = 20
	DefaultExpirySec          = 300
	DefaultSweepIntervalSec   = 60
	DefaultRestartBudget      = 3
	DefaultAPIAddress         = "127.0.0.1:8700"
)

// setDefaults registers the default value for every optional key on v.
func setDefaults(v *viper.Viper) {
	v.SetDefault("db.pool_size", DefaultPoolSize)
	v.SetDefault("db.max_overflow", DefaultMaxOverflow)
	v.SetDefault("db.health_interval_sec", DefaultHealthIntervalSec)
	v.SetDefault("db.restart_cooldown_sec", DefaultRestartCooldownSec)
	v.SetDefault("mqtt.broker_port", DefaultBrokerPort)
	v.SetDefault("mqtt.batch_size", DefaultBatchSize)
	v.SetDefault("mqtt.batch_timeout_ms", DefaultBatchTimeoutMs)
	v.SetDefault("mqtt.offline_queue_size", DefaultOfflineQueueSize)
	v.SetDefault("consultation.expiry_sec", DefaultExpirySec)
	v.SetDefault("consultation.sweep_interval_sec", DefaultSweepIntervalSec)
	v.SetDefault("service.restart_budget", DefaultRestartBudget)
	v.SetDefault("api.address", DefaultAPIAddress)
}

// Load reads the configuration from path, or from the standard search
// locations when path is empty, applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(appName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, appName))
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file in the search path is fine; env vars can carry
		// the required keys. An explicit --config path must exist.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, cerrors.NewValidationError("reading configuration file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, cerrors.NewValidationError("parsing configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the required keys and value ranges.
func (c *Config) Validate() error {
	if c.DB.URL == "" {
		return cerrors.NewValidationError("db.url is required", nil)
	}
	if c.DB.PoolSize <= 0 || c.DB.MaxOverflow < 0 {
		return cerrors.NewValidationError("db.pool_size must be positive and db.max_overflow non-negative", nil)
	}
	if c.MQTT.BrokerHost == "" {
		return cerrors.NewValidationError("mqtt.broker_host is required", nil)
	}
	if c.MQTT.BrokerPort <= 0 || c.MQTT.BrokerPort > 65535 {
		return cerrors.NewValidationError("mqtt.broker_port must be a valid port", nil)
	}
	if c.MQTT.BatchSize <= 0 || c.MQTT.BatchTimeoutMs <= 0 {
		return cerrors.NewValidationError("mqtt.batch_size and mqtt.batch_timeout_ms must be positive", nil)
	}
	if c.MQTT.OfflineQueueSize <= 0 {
		return cerrors.NewValidationError("mqtt.offline_queue_size must be positive", nil)
	}
	if c.Consultation.ExpirySec <= 0 || c.Consultation.SweepIntervalSec <= 0 {
		return cerrors.NewValidationError("consultation timers must be positive", nil)
	}
	if c.Service.RestartBudget < 0 {
		return cerrors.NewValidationError("service.restart_budget must be non-negative", nil)
	}
	return nil
}

// HealthInterval returns the probe interval as a duration.
func (c *DBConfig) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSec) * time.Second
}

// RestartCooldown returns the restart cooldown as a duration.
func (c *DBConfig) RestartCooldown() time.Duration {
	return time.Duration(c.RestartCooldownSec) * time.Second
}

// BatchTimeout returns the batch flush timeout as a duration.
func (c *MQTTConfig) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutMs) * time.Millisecond
}

// Expiry returns the consultation expiry window as a duration.
func (c *ConsultationConfig) Expiry() time.Duration {
	return time.Duration(c.ExpirySec) * time.Second
}

// SweepInterval returns the expiry sweep interval as a duration.
func (c *ConsultationConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// Anonymous reports whether the broker connection carries no credentials.
func (c *MQTTConfig) Anonymous() bool {
	return c.Username == "" && c.Password == ""
}

// DefaultDataDir returns the XDG data directory for service state such as
// the sqlite database and its instance lock.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}
