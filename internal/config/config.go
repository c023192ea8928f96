package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	AMQP         AMQPConfig         `mapstructure:"amqp"`
	Events       EventsConfig       `mapstructure:"events"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Approval     ApprovalConfig     `mapstructure:"approval"`
	Notification NotificationConfig `mapstructure:"notification"`
	OCR          OCRConfig          `mapstructure:"ocr"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	Shortener    ShortenerConfig    `mapstructure:"shortener"`
	Cleanup      CleanupConfig      `mapstructure:"cleanup"`
	Auth         AuthConfig         `mapstructure:"auth"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ApprovalRateLimit float64       `mapstructure:"approval_rate_limit"`
	ApprovalBurst     int           `mapstructure:"approval_burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"required"`
	User            string        `mapstructure:"user" validate:"required"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name" validate:"required"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, sslMode,
	)
}

// URL renders the postgres:// form golang-migrate expects.
func (c DatabaseConfig) URL() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, sslMode)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type AMQPConfig struct {
	URL string `mapstructure:"url"`
}

type EventsConfig struct {
	// Broker is "redis", "amqp" or "none".
	Broker string `mapstructure:"broker" validate:"oneof=redis amqp none"`
	Topic  string `mapstructure:"topic"`
}

type DispatchConfig struct {
	BatchSize    int           `mapstructure:"batch_size" validate:"min=1"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"min=1"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required"`
	RateLimit    int           `mapstructure:"rate_limit" validate:"min=1"`
	RateWindow   time.Duration `mapstructure:"rate_window" validate:"required,min=1s"`
	// Limiter is "memory" or "redis".
	Limiter     string        `mapstructure:"limiter" validate:"oneof=memory redis"`
	LeaseTTL    time.Duration `mapstructure:"lease_ttl"`
	SendTimeout time.Duration `mapstructure:"send_timeout" validate:"required"`
}

type ApprovalConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	Secret  string `mapstructure:"secret"`
	// TokenScheme is "hmac" or "legacy".
	TokenScheme string `mapstructure:"token_scheme" validate:"oneof=hmac legacy"`
}

type NotificationConfig struct {
	// Mode is "direct" or "queue".
	Mode         string `mapstructure:"mode" validate:"oneof=direct queue"`
	Concurrency  int    `mapstructure:"concurrency" validate:"min=1"`
	EmailEnabled bool   `mapstructure:"email_enabled"`
}

type OCRConfig struct {
	PrimaryPath  string        `mapstructure:"primary_path" validate:"required"`
	FallbackPath string        `mapstructure:"fallback_path"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type ShortenerConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type CleanupConfig struct {
	Retention time.Duration `mapstructure:"retention"`
	Interval  time.Duration `mapstructure:"interval"`
}

type AuthConfig struct {
	ServiceSecret string `mapstructure:"service_secret"`
}

// Secrets are overlaid from PAYMENTS_* environment variables and never
// need to live in config.yaml.
type Secrets struct {
	ApprovalSecret   string `envconfig:"APPROVAL_SECRET"`
	ServiceJWTSecret string `envconfig:"SERVICE_JWT_SECRET"`
	SMTPPassword     string `envconfig:"SMTP_PASSWORD"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 75*time.Second)
	v.SetDefault("server.approval_rate_limit", 5.0)
	v.SetDefault("server.approval_burst", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.migrations_path", "file://db/migrations")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("events.broker", "none")
	v.SetDefault("events.topic", "payments.events")
	v.SetDefault("dispatch.batch_size", 50)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.poll_interval", time.Minute)
	v.SetDefault("dispatch.rate_limit", 30)
	v.SetDefault("dispatch.rate_window", time.Minute)
	v.SetDefault("dispatch.limiter", "memory")
	v.SetDefault("dispatch.lease_ttl", 5*time.Minute)
	v.SetDefault("dispatch.send_timeout", 60*time.Second)
	v.SetDefault("approval.token_scheme", "hmac")
	v.SetDefault("notification.mode", "direct")
	v.SetDefault("notification.concurrency", 4)
	v.SetDefault("notification.email_enabled", true)
	v.SetDefault("ocr.primary_path", "/ocr/nfse")
	v.SetDefault("ocr.fallback_path", "/ocr")
	v.SetDefault("ocr.timeout", 60*time.Second)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("shortener.timeout", 5*time.Second)
	v.SetDefault("cleanup.retention", 30*24*time.Hour)
	v.SetDefault("cleanup.interval", time.Hour)
}

// LoadConfig reads config.yaml from the usual locations, lets environment
// variables override any key (server.port -> SERVER_PORT), overlays the
// PAYMENTS_* secrets and validates the result.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app/config")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var secrets Secrets
	if err := envconfig.Process("PAYMENTS", &secrets); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	cfg.applySecrets(secrets)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applySecrets(s Secrets) {
	if s.ApprovalSecret != "" {
		c.Approval.Secret = s.ApprovalSecret
	}
	if s.ServiceJWTSecret != "" {
		c.Auth.ServiceSecret = s.ServiceJWTSecret
	}
	if s.SMTPPassword != "" {
		c.SMTP.Password = s.SMTPPassword
	}
	if s.DatabasePassword != "" {
		c.Database.Password = s.DatabasePassword
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Approval.TokenScheme == "hmac" && c.Approval.Secret == "" {
		return fmt.Errorf("invalid config: approval secret is required for the hmac token scheme")
	}
	if c.Dispatch.Limiter == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("invalid config: redis url is required for the redis limiter")
	}
	if c.Events.Broker == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("invalid config: redis url is required for the redis event broker")
	}
	if c.Events.Broker == "amqp" && c.AMQP.URL == "" {
		return fmt.Errorf("invalid config: amqp url is required for the amqp event broker")
	}
	return nil
}
