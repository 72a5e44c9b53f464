package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the smallworld backend.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Audience      AudienceConfig      `mapstructure:"audience"`
	Feed          FeedConfig          `mapstructure:"feed"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Transport     TransportConfig     `mapstructure:"transport"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogEncoding     string        `mapstructure:"log_encoding"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Debug    bool         `mapstructure:"debug"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures owner authentication settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// AudienceConfig tunes identity correlation.
type AudienceConfig struct {
	FingerprintConfidenceFloor float64 `mapstructure:"fingerprint_confidence_floor"`
}

// FeedConfig bounds feed page sizes.
type FeedConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

// NotificationsConfig toggles delivery channels.
type NotificationsConfig struct {
	SMSFallbackEnabled bool `mapstructure:"sms_fallback_enabled"`
	RealtimeEnabled    bool `mapstructure:"realtime_enabled"`
}

// Rate limit counter backends.
const (
	RateStoreMemory   = "memory"
	RateStoreDatabase = "database"
)

// TransportConfig secures the endpoints polled by the push and SMS workers.
type TransportConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	RateStore          string        `mapstructure:"rate_store"`
	DeliveredRateLimit int           `mapstructure:"delivered_rate_limit"`
	DeliveredWindow    time.Duration `mapstructure:"delivered_window"`
}

// MaintenanceConfig controls the retention jobs.
type MaintenanceConfig struct {
	Enabled                      bool   `mapstructure:"enabled"`
	NotificationRetentionDays    int    `mapstructure:"notification_retention_days"`
	TextBlastRetentionDays       int    `mapstructure:"text_blast_retention_days"`
	UnattributedRegistrationDays int    `mapstructure:"unattributed_registration_days"`
	NotificationSchedule         string `mapstructure:"notification_schedule"`
	TextBlastSchedule            string `mapstructure:"text_blast_schedule"`
	RegistrationSchedule         string `mapstructure:"registration_schedule"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("SMALLWORLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	floor := c.Audience.FingerprintConfidenceFloor
	if floor <= 0 || floor > 1 {
		return fmt.Errorf("config: audience.fingerprint_confidence_floor must be in (0,1], got %v", floor)
	}
	if c.Feed.DefaultPageSize <= 0 || c.Feed.MaxPageSize < c.Feed.DefaultPageSize {
		return fmt.Errorf("config: feed page sizes invalid (default %d, max %d)", c.Feed.DefaultPageSize, c.Feed.MaxPageSize)
	}
	switch strings.ToLower(strings.TrimSpace(c.Transport.RateStore)) {
	case "", RateStoreMemory, RateStoreDatabase:
	default:
		return fmt.Errorf("config: transport.rate_store must be %q or %q, got %q", RateStoreMemory, RateStoreDatabase, c.Transport.RateStore)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_encoding", "json")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/smallworld.sqlite")
	v.SetDefault("database.debug", false)

	v.SetDefault("auth.jwt.issuer", "smallworld")
	v.SetDefault("auth.jwt.access_token_ttl", "12h")

	v.SetDefault("audience.fingerprint_confidence_floor", 0.3)

	v.SetDefault("feed.default_page_size", 20)
	v.SetDefault("feed.max_page_size", 100)

	v.SetDefault("notifications.sms_fallback_enabled", true)
	v.SetDefault("notifications.realtime_enabled", true)

	v.SetDefault("transport.rate_store", RateStoreMemory)
	v.SetDefault("transport.delivered_rate_limit", 60)
	v.SetDefault("transport.delivered_window", "1m")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.notification_retention_days", 90)
	v.SetDefault("maintenance.text_blast_retention_days", 30)
	v.SetDefault("maintenance.unattributed_registration_days", 30)
	v.SetDefault("maintenance.notification_schedule", "@daily")
	v.SetDefault("maintenance.text_blast_schedule", "@daily")
	v.SetDefault("maintenance.registration_schedule", "@weekly")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
