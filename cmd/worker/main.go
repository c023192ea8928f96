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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/app"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/config"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/handler/health"
	promHandler "github.com/joaopba/hcc-med-pay-flow-sub001/internal/handler/prometheus"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/worker"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
	pkgworker "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/worker"
)

const healthPort = 8081

func setupHealthCheck(a *app.App, log *logger.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	root := engine.Group("")
	health.NewHandler(map[string]health.Pinger{"database": a.DB}).RegisterRoutes(root)
	promHandler.New(prometheus.DefaultGatherer).RegisterRoutes(root)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", healthPort), Handler: engine}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Health check server failed")
		}
	}()
	return srv
}

func main() {
	_ = godotenv.Load()

	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := app.NewLogger(cfg.Log)

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal(err, "Failed to initialize application")
	}
	defer a.Close()

	processor := pkgworker.NewDispatchProcessor(a.Dispatcher, pkgworker.DispatchProcessorConfig{
		PollInterval: cfg.Dispatch.PollInterval,
		RunOnStart:   true,
	}, log)

	// in_flight records older than the cycle lease belong to a dead cycle
	cleanup := worker.NewMessageCleanupWorker(a.Messages, cfg.Cleanup.Retention, cfg.Dispatch.LeaseTTL, cfg.Cleanup.Interval, log)

	if a.Broker != nil {
		consumer := worker.NewEventConsumer(a.Broker, cfg.Events.Topic, a.FanOut, log)
		if err := consumer.Start(ctx); err != nil {
			log.Fatal(err, "Failed to start event consumer")
		}
	}

	srv := setupHealthCheck(a, log)

	var wg conc.WaitGroup
	wg.Go(func() { processor.Start(ctx) })
	wg.Go(func() { cleanup.Start(ctx) })
	wg.Wait()

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Health check server forced to shutdown")
	}
}
