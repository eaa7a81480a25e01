package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/vodworks/pipeline/internal/config"
	"github.com/vodworks/pipeline/internal/logger"
	"github.com/vodworks/pipeline/internal/observability"
	"github.com/vodworks/pipeline/internal/queue"
	"github.com/vodworks/pipeline/internal/worker"
)

const (
	TracerShutdownTimeout  = 5 * time.Second
	MetricsShutdownTimeout = 5 * time.Second
	StartupTimeout         = 10 * time.Second
)

func main() {
	log := logger.New("vod-worker")
	slog.SetDefault(log)

	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := observability.InitTracer(context.Background(), "vod-worker", cfg)
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	startupCtx, startupCancel := context.WithTimeout(context.Background(), StartupTimeout)
	defer startupCancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(startupCtx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.Error("Failed to load AWS config", "error", err)
		os.Exit(1)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	jobQueue := queue.New(sqs.NewFromConfig(awsCfg), cfg.AWS.SQSQueueURL)

	// The only fatal failure: an unreachable queue at startup. Anything
	// after this is logged and retried.
	if err := jobQueue.CheckConnectivity(startupCtx); err != nil {
		log.Error("Queue connectivity check failed", "error", err, "queueURL", cfg.AWS.SQSQueueURL)
		os.Exit(1)
	}
	log.Info("Queue connectivity verified", "queueURL", cfg.AWS.SQSQueueURL)

	// Metrics endpoint
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Starting metrics server", "port", cfg.Worker.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := worker.New(&worker.Config{
		Queue:         jobQueue,
		Logger:        log,
		IdleSleep:     cfg.Worker.IdleSleep,
		WaitSeconds:   cfg.Worker.WaitTimeSecs,
		VisibilitySec: cfg.Worker.VisibilitySec,
	})
	w.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), MetricsShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Metrics server forced to shutdown", "error", err)
	}

	log.Info("Worker shutdown complete")
}
