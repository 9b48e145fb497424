// Package app assembles the dispatch runtime shared by the API server and
// the worker: stores, weather, carrier control and the coordinator.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/bloodlift/bloodlift/internal/abuse"
	"github.com/bloodlift/bloodlift/internal/api/handler"
	"github.com/bloodlift/bloodlift/internal/carrier/mqtt"
	"github.com/bloodlift/bloodlift/internal/config"
	"github.com/bloodlift/bloodlift/internal/database"
	"github.com/bloodlift/bloodlift/internal/delivery"
	"github.com/bloodlift/bloodlift/internal/dispatch"
	"github.com/bloodlift/bloodlift/internal/facility"
	"github.com/bloodlift/bloodlift/internal/mission"
	"github.com/bloodlift/bloodlift/internal/provider/resilience"
	"github.com/bloodlift/bloodlift/internal/safety"
	"github.com/bloodlift/bloodlift/internal/weather"
	"github.com/bloodlift/bloodlift/internal/weather/openweathermap"
)

// ErrNoBroker is returned when no carrier-control broker is configured.
var ErrNoBroker = errors.New("MQTT_BROKER is required")

// Options holds the inputs to Build.
type Options struct {
	Config *config.Config
	Policy *config.Policy
	Logger zerolog.Logger

	// Registerer receives the dispatch counters (default: prometheus default).
	Registerer prometheus.Registerer

	// Carrier replaces the MQTT dial, for tests.
	Carrier mqtt.Client

	// Weather replaces the OpenWeatherMap provider, for tests.
	Weather weather.Provider
}

// App is the assembled runtime.
type App struct {
	Deliveries  delivery.Repository
	Facilities  facility.Repository
	Lookup      facility.Lookup
	Weather     *weather.Service
	Providers   *resilience.Registry
	Carrier     *mqtt.Controller
	Coordinator *dispatch.Coordinator
	Detector    *abuse.Detector

	// Checks probe the stateful dependencies for readiness.
	Checks []handler.Check

	pool *pgxpool.Pool
}

// Build connects to the stores and carrier control and wires the
// coordinator. Close releases what Build opened.
func Build(ctx context.Context, opts Options) (*App, error) {
	cfg, policy, log := opts.Config, opts.Policy, opts.Logger
	a := &App{
		Providers: resilience.NewRegistry(),
		Detector:  abuse.NewDetector(policy.Abuse),
	}

	if err := a.openStores(ctx, cfg, policy, log); err != nil {
		return nil, err
	}

	a.Lookup = facility.NewCachedLookup(a.Facilities, facility.CachedLookupConfig{})

	provider := opts.Weather
	if provider == nil {
		owmHTTP := resilience.DefaultClientConfig("openweathermap")
		owmHTTP.Registry = a.Providers
		owmHTTP.Breaker.Logger = log.With().Str("component", "breaker").Logger()
		provider = openweathermap.NewClient(openweathermap.ClientConfig{
			APIKey:     cfg.Weather.APIKey,
			BaseURL:    cfg.Weather.BaseURL,
			HTTPClient: resilience.NewClient(owmHTTP),
			Logger:     log.With().Str("component", "openweathermap").Logger(),
		})
	}
	a.Weather = weather.NewService(weather.ServiceConfig{
		Provider:       provider,
		Logger:         log.With().Str("component", "weather").Logger(),
		CacheTTL:       cfg.Weather.CacheTTL,
		DecisionMaxAge: cfg.Weather.DecisionMaxAge,
	})

	client := opts.Carrier
	if client == nil {
		if cfg.MQTT.Broker == "" {
			a.Close()
			return nil, ErrNoBroker
		}
		var err error
		client, err = mqtt.Dial(mqtt.DialConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect carrier control: %w", err)
		}
		log.Info().Str("broker", cfg.MQTT.Broker).Msg("carrier control connected")
	}
	controller, err := mqtt.NewController(mqtt.ControllerConfig{
		Client: client,
		Logger: log.With().Str("component", "carrier").Logger(),
	})
	if err != nil {
		client.Disconnect(250)
		a.Close()
		return nil, fmt.Errorf("start carrier controller: %w", err)
	}
	a.Carrier = controller
	a.Checks = append(a.Checks, handler.Check{
		Name: "carrier-control",
		Probe: func(context.Context) error {
			if !client.IsConnected() {
				return errors.New("broker disconnected")
			}
			return nil
		},
	})

	metrics, err := dispatch.NewMetrics(opts.Registerer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("register dispatch metrics: %w", err)
	}

	builder := mission.NewBuilder(mission.BuilderConfig{
		Controller:     controller,
		Assigner:       a.Deliveries,
		CruiseAltitude: policy.CruiseAltitude,
		Logger:         log.With().Str("component", "mission").Logger(),
	})

	a.Coordinator = dispatch.NewCoordinator(dispatch.CoordinatorConfig{
		Deliveries:     a.Deliveries,
		Facilities:     a.Lookup,
		Weather:        a.Weather,
		Launcher:       builder,
		Telemetry:      controller,
		Aborter:        controller,
		Classifier:     safety.NewClassifier(policy.Thresholds),
		Metrics:        metrics,
		Logger:         log.With().Str("component", "dispatch").Logger(),
		FetchTimeout:   cfg.Dispatch.FetchTimeout,
		SubmitTimeout:  cfg.Dispatch.SubmitTimeout,
		ReservationTTL: cfg.Dispatch.ReservationTTL,
	})

	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg *config.Config, policy *config.Policy, log zerolog.Logger) error {
	if cfg.MemoryStore {
		a.Deliveries = delivery.NewInMemoryRepository()
		a.Facilities = facility.NewInMemoryRepository(policy.SeedFacilities()...)
		log.Warn().Int("facilities", len(policy.Facilities)).Msg("using in-memory stores")
		return nil
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Database).
		Msg("database connected")

	a.pool = pool
	a.Deliveries = delivery.NewPostgresRepository(pool)
	a.Facilities = facility.NewPostgresRepository(pool)
	a.Checks = append(a.Checks, handler.Check{Name: "postgres", Probe: pool.Ping})
	return nil
}

// Close disconnects carrier control and closes the database pool.
func (a *App) Close() {
	if a.Carrier != nil {
		a.Carrier.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
