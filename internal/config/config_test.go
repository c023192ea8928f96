package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, User: "payments", Name: "payments"},
		Events:   EventsConfig{Broker: "none", Topic: "payments.events"},
		Dispatch: DispatchConfig{
			BatchSize:    50,
			MaxAttempts:  3,
			PollInterval: time.Minute,
			RateLimit:    30,
			RateWindow:   time.Minute,
			Limiter:      "memory",
			SendTimeout:  time.Minute,
		},
		Approval:     ApprovalConfig{BaseURL: "https://portal.example", Secret: "s3cret", TokenScheme: "hmac"},
		Notification: NotificationConfig{Mode: "direct", Concurrency: 4},
		OCR:          OCRConfig{PrimaryPath: "/ocr/nfse"},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := map[string]func(c *Config){
		"hmac without secret":       func(c *Config) { c.Approval.Secret = "" },
		"unknown token scheme":      func(c *Config) { c.Approval.TokenScheme = "md5" },
		"unknown notification mode": func(c *Config) { c.Notification.Mode = "sms" },
		"redis limiter without url": func(c *Config) { c.Dispatch.Limiter = "redis" },
		"redis broker without url":  func(c *Config) { c.Events.Broker = "redis" },
		"amqp broker without url":   func(c *Config) { c.Events.Broker = "amqp" },
		"zero rate limit":           func(c *Config) { c.Dispatch.RateLimit = 0 },
		"sub-second rate window":    func(c *Config) { c.Dispatch.RateWindow = 500 * time.Microsecond },
		"missing database host":     func(c *Config) { c.Database.Host = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLegacySchemeNeedsNoSecret(t *testing.T) {
	c := validConfig()
	c.Approval.TokenScheme = "legacy"
	c.Approval.Secret = ""
	assert.NoError(t, c.Validate())
}

func TestApplySecrets(t *testing.T) {
	c := validConfig()
	c.applySecrets(Secrets{ApprovalSecret: "from-env", DatabasePassword: "pw"})
	assert.Equal(t, "from-env", c.Approval.Secret)
	assert.Equal(t, "pw", c.Database.Password)
	assert.Empty(t, c.Auth.ServiceSecret)
}

func TestDatabaseURL(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "payments"}
	assert.Equal(t, "postgres://u:p@db:5432/payments?sslmode=disable", c.URL())
	assert.Contains(t, c.DSN(), "dbname=payments")
}
