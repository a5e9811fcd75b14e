package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/app"
	cfg "github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/health"
	"github.com/sparka-ai/deepresearch/internal/httpapi"
	"github.com/sparka-ai/deepresearch/internal/pricing"
	"github.com/sparka-ai/deepresearch/internal/ratecontrol"
	"github.com/sparka-ai/deepresearch/internal/registry"
	"github.com/sparka-ai/deepresearch/internal/temporal"
	"github.com/sparka-ai/deepresearch/internal/tracing"
	"github.com/sparka-ai/deepresearch/internal/workflows"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("Deep research service failed", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conf, err := cfg.Load("")
	if err != nil {
		return err
	}

	shutdownTracing, err := tracing.Initialize(tracing.Config{
		Enabled:      conf.Tracing.Enabled,
		ServiceName:  conf.Tracing.ServiceName,
		OTLPEndpoint: conf.Tracing.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Warn("Tracing initialization failed", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	watchModels(ctx, conf.ConfigDir, logger)

	components, err := app.Build(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	hm := health.NewManager(logger)
	if components.Redis != nil {
		_ = hm.RegisterChecker(health.NewRedisChecker(components.Redis))
	}
	if components.DB != nil {
		_ = hm.RegisterChecker(health.NewDatabaseChecker(components.DB))
	}

	var launcher workflows.Launcher
	if host := conf.Temporal.Host; host != "" {
		tClient, err := temporal.Dial(ctx, host, conf.Temporal.Namespace, logger)
		if err != nil {
			return fmt.Errorf("temporal: %w", err)
		}
		defer tClient.Close()
		_ = hm.RegisterChecker(health.NewTemporalChecker(tClient))

		acts := workflows.NewActivities(components.Pipeline, conf.Runtime, logger)
		reg := registry.NewResearchRegistry(acts, logger)
		w := worker.New(tClient, conf.Temporal.TaskQueue, worker.Options{
			MaxConcurrentActivityExecutionSize: getEnvOrDefaultInt("WORKER_ACT", 10),
		})
		if err := reg.RegisterWorkflows(w); err != nil {
			return err
		}
		if err := reg.RegisterActivities(w); err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		defer w.Stop()
		logger.Info("Temporal worker started", zap.String("queue", conf.Temporal.TaskQueue))
		launcher = workflows.NewTemporalLauncher(tClient, conf.Temporal.TaskQueue, logger)
	} else {
		logger.Info("Temporal host not set, running research in-process")
		launcher = workflows.NewLocalLauncher(ctx, components.Pipeline, conf.Runtime, logger)
	}

	mux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(mux)
	httpapi.NewResearchHandler(launcher, components.Docs, conf.Service.AuthToken, logger).RegisterRoutes(mux)
	httpapi.NewStreamingHandler(components.Stream, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", conf.Service.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("Shutting down deep research service")

	sctx, cancel := context.WithTimeout(context.Background(), conf.Service.GracefulTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// watchModels hot-reloads pricing and rate limits when models.yaml changes.
func watchModels(ctx context.Context, dir string, logger *zap.Logger) {
	mgr, err := cfg.NewManager(dir, logger)
	if err != nil {
		logger.Warn("Config manager init failed", zap.Error(err))
		return
	}
	mgr.RegisterValidator("models.yaml", pricing.ValidateMap)
	mgr.RegisterHandler("models.yaml", func(ev cfg.ChangeEvent) error {
		if _, err := pricing.Reload(); err != nil {
			return err
		}
		ratecontrol.Reload()
		logger.Info("Pricing configuration reloaded", zap.String("file", ev.File), zap.String("action", ev.Action))
		return nil
	})
	if err := mgr.Start(ctx); err != nil {
		logger.Warn("Config manager start failed", zap.Error(err))
		return
	}
	go func() {
		<-ctx.Done()
		_ = mgr.Stop()
	}()
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
