// Package main provides the entrypoint for the BloodLift dispatch worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bloodlift/bloodlift/internal/api/handler"
	"github.com/bloodlift/bloodlift/internal/api/middleware"
	"github.com/bloodlift/bloodlift/internal/app"
	"github.com/bloodlift/bloodlift/internal/config"
	"github.com/bloodlift/bloodlift/internal/logging"
	"github.com/bloodlift/bloodlift/internal/telemetry"
	"github.com/bloodlift/bloodlift/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "bloodlift-worker"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger := zerolog.New(os.Stderr)
		logger.Fatal().Err(err).Msg("worker exited")
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}

	log, logCloser, err := logging.New(logging.Config{
		Service:    serviceName,
		Version:    Version,
		Level:      cfg.Log.Level,
		Pretty:     cfg.Log.Pretty,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	log.Info().Str("build_time", BuildTime).Msg("starting BloodLift worker")

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	registry := prometheus.NewRegistry()
	runtime, err := app.Build(ctx, app.Options{
		Config:     cfg,
		Policy:     policy,
		Logger:     log,
		Registerer: registry,
	})
	if err != nil {
		return err
	}
	defer runtime.Close()

	checks := runtime.Checks
	var dedup *worker.Dedup
	if cfg.Redis.Addr != "" {
		rdb, err := worker.ConnectRedis(ctx, worker.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
		dedup = worker.NewDedup(rdb, 0)
		checks = append(checks, handler.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	} else {
		log.Warn().Msg("REDIS_ADDR not set - redelivered events will be processed again")
	}

	autoDispatch := worker.NewAutoDispatchJob(worker.AutoDispatchJobConfig{
		Config: worker.AutoDispatchConfig{
			Carriers: policy.Fleet,
			Workers:  cfg.Dispatch.AutoDispatchWorkers,
			Interval: cfg.Dispatch.AutoDispatchInterval,
		},
		Dispatcher: runtime.Coordinator,
		Logger:     log.With().Str("component", "auto_dispatch").Logger(),
	})

	jobs := worker.NewJobHandler(worker.JobHandlerConfig{
		Lifecycle:    runtime.Coordinator,
		History:      runtime.Deliveries,
		Detector:     runtime.Detector,
		AutoDispatch: autoDispatch,
		Dedup:        dedup,
		Logger:       log.With().Str("component", "jobs").Logger(),
	})

	ops := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:      Version,
		BuildTime:    BuildTime,
		Checks:       checks,
		Providers:    runtime.Providers,
		AutoDispatch: autoDispatch,
	})
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recovery(log))
	mux.Use(middleware.ContentTypeJSON)
	mux.Get("/health", ops.HealthCheck)
	mux.Get("/ready", ops.ReadinessCheck)
	mux.Get("/status", ops.SystemStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Worker exposes health endpoints for Cloud Run
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.PubSub.ProjectID != "" {
		sub, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			Jobs:             jobs,
			Logger:           log.With().Str("component", "pubsub").Logger(),
		})
		if err != nil {
			return err
		}
		defer sub.Close()
		g.Go(func() error { return sub.Start(gctx) })
	} else {
		log.Warn().Msg("PUBSUB_PROJECT_ID not set - carrier events are not consumed")
	}

	if cfg.Dispatch.AutoDispatch {
		g.Go(func() error {
			autoDispatch.Loop(gctx)
			log.Info().Fields(autoDispatch.StatsSnapshot()).Msg("auto-dispatch stopped")
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down worker")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("worker stopped")
	return nil
}
