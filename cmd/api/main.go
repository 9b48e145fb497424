// Package main provides the entrypoint for the BloodLift dispatch API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bloodlift/bloodlift/internal/api"
	"github.com/bloodlift/bloodlift/internal/api/middleware"
	"github.com/bloodlift/bloodlift/internal/app"
	"github.com/bloodlift/bloodlift/internal/auth"
	"github.com/bloodlift/bloodlift/internal/config"
	"github.com/bloodlift/bloodlift/internal/logging"
	"github.com/bloodlift/bloodlift/internal/telemetry"
	"github.com/bloodlift/bloodlift/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "bloodlift-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger := zerolog.New(os.Stderr)
		logger.Fatal().Err(err).Msg("api exited")
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

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Msg("starting BloodLift dispatch API")

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

	httpMetrics, err := middleware.NewMetrics(tp.Meters())
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

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

	tokens, err := operatorTokens(cfg, log)
	if err != nil {
		return err
	}

	var autoDispatch *worker.AutoDispatchJob
	if cfg.Dispatch.AutoDispatch {
		autoDispatch = worker.NewAutoDispatchJob(worker.AutoDispatchJobConfig{
			Config: worker.AutoDispatchConfig{
				Carriers: policy.Fleet,
				Workers:  cfg.Dispatch.AutoDispatchWorkers,
				Interval: cfg.Dispatch.AutoDispatchInterval,
			},
			Dispatcher: runtime.Coordinator,
			Logger:     log.With().Str("component", "auto_dispatch").Logger(),
		})
	}

	routerCfg := api.RouterConfig{
		Version:    Version,
		BuildTime:  BuildTime,
		Logger:     log,
		Metrics:    httpMetrics,
		Gatherer:   registry,
		Tokens:     tokens,
		Dispatcher: runtime.Coordinator,
		Deliveries: runtime.Deliveries,
		Facilities: runtime.Lookup,
		History:    runtime.Deliveries,
		Detector:   runtime.Detector,
		Checks:     runtime.Checks,
		Providers:  runtime.Providers,
		RequireTLS: cfg.RequireTLS,
	}
	if autoDispatch != nil {
		routerCfg.AutoDispatch = autoDispatch
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if autoDispatch != nil {
		g.Go(func() error {
			log.Info().
				Int("carriers", len(policy.Fleet)).
				Dur("interval", cfg.Dispatch.AutoDispatchInterval).
				Msg("auto-dispatch enabled")
			autoDispatch.Loop(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

// operatorTokens builds the token validator. Outside production a missing
// signing key falls back to a fixed development key.
func operatorTokens(cfg *config.Config, log zerolog.Logger) (*auth.JWTService, error) {
	key := cfg.JWTSigningKey
	if key == "" && !cfg.IsProduction() {
		key = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}
	return auth.NewJWTService(auth.JWTConfig{SigningKey: key})
}
