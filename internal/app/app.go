// Package app wires configuration into the services shared by the api,
// worker and paymentsctl binaries.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/config"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/email"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/ocr"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository/postgres"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/approval"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/dispatch"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/invoice"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/notification"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/settings"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/shortener"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/whatsapp"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/lease"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/messaging"
	amqpbroker "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/messaging/amqp"
	redisbroker "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/messaging/redis"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/metrics"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/ratelimit"
)

const (
	settingsCacheTTL = time.Minute
	redisKeyPrefix   = "payments:dispatch"
)

type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	DB     *sqlx.DB
	Redis  *goredis.Client
	Broker messaging.Broker

	Messages   repository.MessageRepository
	Settings   *settings.Service
	WhatsApp   *whatsapp.Client
	Dispatcher *dispatch.Dispatcher
	Tokens     *approval.Tokens
	Approval   approval.Service
	FanOut     *notification.Service
	Invoices   invoice.Service

	closers []func() error
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.JSON,
	})
}

// New connects to Postgres, and to Redis and the event broker when
// configured, then builds every service. Close releases the connections.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.NewMetrics("payments", nil),
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if cfg.Redis.URL != "" {
		client, err := redisbroker.NewClient(ctx, redisbroker.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
	}

	if err := a.connectBroker(); err != nil {
		a.Close()
		return nil, err
	}

	a.buildServices()
	return a, nil
}

func (a *App) connectBroker() error {
	switch a.Config.Events.Broker {
	case "redis":
		// shares the Redis client, which is closed separately
		a.Broker = redisbroker.NewRedisBroker(a.Redis, a.Logger)
	case "amqp":
		broker, err := amqpbroker.NewBroker(a.Config.AMQP.URL, a.Logger)
		if err != nil {
			return err
		}
		a.Broker = broker
		a.closers = append(a.closers, broker.Close)
	}
	return nil
}

func (a *App) buildServices() {
	cfg := a.Config
	log := a.Logger

	a.Messages = postgres.NewMessageRepository(a.DB)
	invoices := postgres.NewInvoiceRepository(a.DB)
	payments := postgres.NewPaymentRepository(a.DB)
	doctors := postgres.NewDoctorRepository(a.DB)
	managers := postgres.NewManagerRepository(a.DB)

	a.Settings = settings.NewService(postgres.NewSettingsRepository(a.DB), settingsCacheTTL)

	fetcher := whatsapp.NewFetcher(&http.Client{Timeout: cfg.Dispatch.SendTimeout}, 3, 500*time.Millisecond)
	a.WhatsApp = whatsapp.NewClient(cfg.Dispatch.SendTimeout, fetcher, log)

	opts := []dispatch.Option{dispatch.WithMetrics(a.Metrics)}
	var limiter ratelimit.Limiter = ratelimit.NewFixedWindow(cfg.Dispatch.RateLimit, cfg.Dispatch.RateWindow)
	if a.Redis != nil {
		opts = append(opts, dispatch.WithLease(lease.NewRedis(a.Redis, redisKeyPrefix+":lease")))
		if cfg.Dispatch.Limiter == "redis" {
			limiter = ratelimit.NewRedisFixedWindow(a.Redis, redisKeyPrefix+":rate", cfg.Dispatch.RateLimit, cfg.Dispatch.RateWindow, log)
		}
	} else {
		opts = append(opts, dispatch.WithLease(lease.NewLocal()))
	}
	a.Dispatcher = dispatch.NewDispatcher(a.Messages, a.Settings, a.WhatsApp, limiter, dispatch.Config{
		BatchSize:   cfg.Dispatch.BatchSize,
		SendTimeout: cfg.Dispatch.SendTimeout,
		LeaseTTL:    cfg.Dispatch.LeaseTTL,
	}, log, opts...)

	// Validate already checked the mode, so this cannot fail.
	messenger, err := notification.NewMessenger(notification.Mode(cfg.Notification.Mode), a.WhatsApp, a.Settings, a.Messages, cfg.Dispatch.MaxAttempts)
	if err != nil {
		panic(err)
	}

	tokens, err := approval.NewTokens(approval.Scheme(cfg.Approval.TokenScheme), cfg.Approval.Secret)
	if err != nil {
		panic(err)
	}
	a.Tokens = tokens
	links := approval.NewLinks(cfg.Approval.BaseURL, tokens)
	a.Approval = approval.NewService(invoices, payments, doctors, tokens, links, messenger, log)

	var mailer email.Service
	if cfg.Notification.EmailEnabled {
		mailer = email.NewSMTPService(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	}
	a.FanOut = notification.NewService(notification.Repositories{
		Invoices: invoices,
		Payments: payments,
		Doctors:  doctors,
		Managers: managers,
	}, messenger, a.WhatsApp, links,
		shortener.NewClient(cfg.Shortener.URL, cfg.Shortener.Timeout, log),
		mailer,
		notification.Config{Concurrency: cfg.Notification.Concurrency, EmailEnabled: cfg.Notification.EmailEnabled},
		log, a.Metrics)

	ocrClient := ocr.NewClient(ocr.Config{
		PrimaryPath:  cfg.OCR.PrimaryPath,
		FallbackPath: cfg.OCR.FallbackPath,
		Timeout:      cfg.OCR.Timeout,
	}, log)
	a.Invoices = invoice.NewService(invoices, a.Settings, ocrClient, fetcher, log)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Error(err, "Failed to close resource")
		}
	}
	a.closers = nil
}

// NewTokens builds the approval token scheme without connecting anywhere.
func NewTokens(cfg config.ApprovalConfig) (*approval.Tokens, error) {
	tokens, err := approval.NewTokens(approval.Scheme(cfg.TokenScheme), cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("invalid approval token config: %w", err)
	}
	return tokens, nil
}
