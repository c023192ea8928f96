package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/app"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/config"
	approvalHandler "github.com/joaopba/hcc-med-pay-flow-sub001/internal/handler/approval"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/handler/health"
	invoiceHandler "github.com/joaopba/hcc-med-pay-flow-sub001/internal/handler/invoice"
	notificationHandler "github.com/joaopba/hcc-med-pay-flow-sub001/internal/handler/notification"
	promHandler "github.com/joaopba/hcc-med-pay-flow-sub001/internal/handler/prometheus"
	queueHandler "github.com/joaopba/hcc-med-pay-flow-sub001/internal/handler/queue"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/router"
)

func main() {
	// .env is optional outside development
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := app.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal(err, "Failed to initialize application")
	}
	defer a.Close()

	pingers := map[string]health.Pinger{"database": a.DB}
	if a.Redis != nil {
		pingers["redis"] = health.PingerFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}

	// Setup router
	r := router.NewRouter(router.Handlers{
		Health:       health.NewHandler(pingers),
		Metrics:      promHandler.New(prometheus.DefaultGatherer),
		Approval:     approvalHandler.NewHandler(a.Approval),
		Queue:        queueHandler.NewHandler(a.Dispatcher, a.Messages, cfg.Dispatch.MaxAttempts),
		Notification: notificationHandler.NewHandler(a.FanOut, a.Broker, cfg.Events.Topic),
		Invoice:      invoiceHandler.NewHandler(a.Invoices),
	}, router.RouterConfig{
		ApprovalRate:  rate.Limit(cfg.Server.ApprovalRateLimit),
		ApprovalBurst: cfg.Server.ApprovalBurst,
		ServiceSecret: cfg.Auth.ServiceSecret,
		Debug:         cfg.Log.Level == "debug",
	}, log, a.Metrics)
	r.Setup()

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info("Starting API server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	log.Info("Server exited properly")
}
