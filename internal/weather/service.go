package weather

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/bloodlift/bloodlift/internal/geo"
)

// Provider defines the interface for weather data providers.
type Provider interface {
	// GetCurrentWeather fetches current weather for a location.
	GetCurrentWeather(ctx context.Context, lat, lon float64) (*Observation, error)

	// GetForecast fetches hourly forecast for a location.
	GetForecast(ctx context.Context, lat, lon float64) (*Forecast, error)

	// Name returns the provider name for logging.
	Name() string
}

// ServiceConfig holds configuration for the weather service.
type ServiceConfig struct {
	// Provider is the weather data provider.
	Provider Provider

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache weather data (default: 5 minutes).
	CacheTTL time.Duration

	// CacheGridSize is the size of cache grid cells in degrees (default: 0.05).
	// Points within the same grid cell share cached data.
	CacheGridSize float64

	// StaleIfErrorTTL allows serving stale data on provider errors (default: 20 minutes).
	// Fresh never serves stale data.
	StaleIfErrorTTL time.Duration

	// DecisionMaxAge is the oldest cached data Fresh will use (default: 1 minute).
	DecisionMaxAge time.Duration

	// CurrentWindow is how far from now a target time may be and still be
	// answered with current conditions (default: 30 minutes).
	CurrentWindow time.Duration
}

// Service provides weather data with caching.
type Service struct {
	provider        Provider
	logger          zerolog.Logger
	cacheTTL        time.Duration
	cacheGridSize   float64
	staleIfErrorTTL time.Duration
	decisionMaxAge  time.Duration
	currentWindow   time.Duration

	group singleflight.Group

	mu              sync.RWMutex
	weatherCache    map[string]*cachedObservation
	forecastCache   map[string]*cachedForecast
	lastCleanup     time.Time
	cleanupInterval time.Duration
}

type cachedObservation struct {
	observation *Observation
	fetchedAt   time.Time
}

type cachedForecast struct {
	forecast  *Forecast
	fetchedAt time.Time
}

// NewService creates a new weather service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	cacheGridSize := cfg.CacheGridSize
	if cacheGridSize == 0 {
		cacheGridSize = 0.05 // ~5.5km at equator
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 20 * time.Minute
	}

	decisionMaxAge := cfg.DecisionMaxAge
	if decisionMaxAge == 0 {
		decisionMaxAge = time.Minute
	}
	if decisionMaxAge > cacheTTL {
		decisionMaxAge = cacheTTL
	}

	currentWindow := cfg.CurrentWindow
	if currentWindow == 0 {
		currentWindow = 30 * time.Minute
	}

	return &Service{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		cacheGridSize:   cacheGridSize,
		staleIfErrorTTL: staleIfErrorTTL,
		decisionMaxAge:  decisionMaxAge,
		currentWindow:   currentWindow,
		weatherCache:    make(map[string]*cachedObservation),
		forecastCache:   make(map[string]*cachedForecast),
		cleanupInterval: 5 * time.Minute,
	}
}

// Current returns current weather at c. On provider failure a cached
// observation inside the stale window is returned marked Stale.
// Concurrent callers for the same grid cell share one provider call.
func (s *Service) Current(ctx context.Context, c geo.Coordinate) (*Observation, error) {
	return s.current(ctx, c, s.cacheTTL, true)
}

// At returns the weather expected at c around time t. Times within the
// current window use current conditions; later times use the hourly forecast.
// Stale data may be served on provider failure, as for Current.
func (s *Service) At(ctx context.Context, c geo.Coordinate, t time.Time) (*Observation, error) {
	return s.at(ctx, c, t, s.cacheTTL, true)
}

// Fresh is At for launch decisions. Cached data is used only when younger
// than the decision max age, and a provider failure is always returned as
// an error.
func (s *Service) Fresh(ctx context.Context, c geo.Coordinate, t time.Time) (*Observation, error) {
	return s.at(ctx, c, t, s.decisionMaxAge, false)
}

// Forecast returns the hourly forecast for c, stale on provider failure.
func (s *Service) Forecast(ctx context.Context, c geo.Coordinate) (*Forecast, error) {
	return s.forecast(ctx, c, s.cacheTTL, true)
}

func (s *Service) at(ctx context.Context, c geo.Coordinate, t time.Time, maxAge time.Duration, allowStale bool) (*Observation, error) {
	if t.IsZero() || t.Sub(time.Now()).Abs() <= s.currentWindow {
		return s.current(ctx, c, maxAge, allowStale)
	}

	forecast, err := s.forecast(ctx, c, maxAge, allowStale)
	if err != nil {
		return nil, err
	}

	hour, ok := forecast.Nearest(t)
	if !ok {
		return nil, fmt.Errorf("%w: no forecast for %s", ErrNoDataForLocation, t.Format(time.RFC3339))
	}
	obs := hour.Observation(c.Lat, c.Lon, forecast.FetchedAt)
	obs.Stale = forecast.Stale
	return obs, nil
}

func (s *Service) current(ctx context.Context, c geo.Coordinate, maxAge time.Duration, allowStale bool) (*Observation, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	key := s.cacheKey(c)

	s.mu.RLock()
	cached := s.weatherCache[key]
	s.mu.RUnlock()
	if cached != nil && time.Since(cached.fetchedAt) < maxAge {
		return cached.observation, nil
	}

	v, err, _ := s.group.Do("current:"+key, func() (any, error) {
		return s.fetchWeather(ctx, c, key)
	})
	if err == nil {
		return v.(*Observation), nil
	}

	if allowStale && cached != nil && time.Since(cached.fetchedAt) < s.staleIfErrorTTL {
		s.logger.Warn().
			Time("fetched_at", cached.fetchedAt).
			Msg("serving stale weather data due to provider error")
		stale := *cached.observation
		stale.Stale = true
		return &stale, nil
	}
	return nil, err
}

func (s *Service) forecast(ctx context.Context, c geo.Coordinate, maxAge time.Duration, allowStale bool) (*Forecast, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	key := s.cacheKey(c)

	s.mu.RLock()
	cached := s.forecastCache[key]
	s.mu.RUnlock()
	if cached != nil && time.Since(cached.fetchedAt) < maxAge {
		return cached.forecast, nil
	}

	v, err, _ := s.group.Do("forecast:"+key, func() (any, error) {
		return s.fetchForecast(ctx, c, key)
	})
	if err == nil {
		return v.(*Forecast), nil
	}

	if allowStale && cached != nil && time.Since(cached.fetchedAt) < s.staleIfErrorTTL {
		s.logger.Warn().
			Time("fetched_at", cached.fetchedAt).
			Msg("serving stale forecast data due to provider error")
		stale := *cached.forecast
		stale.Stale = true
		return &stale, nil
	}
	return nil, err
}

// fetchWeather calls the provider and caches the result. It never falls
// back to cached data; callers decide whether stale data is acceptable.
func (s *Service) fetchWeather(ctx context.Context, c geo.Coordinate, key string) (*Observation, error) {
	s.logger.Debug().
		Float64("lat", c.Lat).
		Float64("lon", c.Lon).
		Str("provider", s.provider.Name()).
		Msg("fetching weather from provider")

	obs, err := s.provider.GetCurrentWeather(ctx, c.Lat, c.Lon)
	if err != nil {
		s.logger.Error().Err(err).
			Float64("lat", c.Lat).
			Float64("lon", c.Lon).
			Msg("failed to fetch weather")
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	now := time.Now()
	s.mu.Lock()
	s.weatherCache[key] = &cachedObservation{
		observation: obs,
		fetchedAt:   now,
	}
	s.cleanupIfNeeded()
	s.mu.Unlock()

	return obs, nil
}

func (s *Service) fetchForecast(ctx context.Context, c geo.Coordinate, key string) (*Forecast, error) {
	s.logger.Debug().
		Float64("lat", c.Lat).
		Float64("lon", c.Lon).
		Str("provider", s.provider.Name()).
		Msg("fetching forecast from provider")

	forecast, err := s.provider.GetForecast(ctx, c.Lat, c.Lon)
	if err != nil {
		s.logger.Error().Err(err).
			Float64("lat", c.Lat).
			Float64("lon", c.Lon).
			Msg("failed to fetch forecast")
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	now := time.Now()
	s.mu.Lock()
	s.forecastCache[key] = &cachedForecast{
		forecast:  forecast,
		fetchedAt: now,
	}
	s.cleanupIfNeeded()
	s.mu.Unlock()

	return forecast, nil
}

// cacheKey groups nearby points into grid cells.
func (s *Service) cacheKey(c geo.Coordinate) string {
	gridLat := math.Floor(c.Lat/s.cacheGridSize) * s.cacheGridSize
	gridLon := math.Floor(c.Lon/s.cacheGridSize) * s.cacheGridSize
	return fmt.Sprintf("%.3f:%.3f", gridLat, gridLon)
}

// cleanupIfNeeded drops entries past the stale window. Caller holds s.mu.
func (s *Service) cleanupIfNeeded() {
	now := time.Now()
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}

	s.lastCleanup = now
	expired := 0

	for key, cached := range s.weatherCache {
		if now.After(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.weatherCache, key)
			expired++
		}
	}

	for key, cached := range s.forecastCache {
		if now.After(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.forecastCache, key)
			expired++
		}
	}

	if expired > 0 {
		s.logger.Debug().
			Int("expired_entries", expired).
			Msg("cleaned up expired weather cache entries")
	}
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weatherCache = make(map[string]*cachedObservation)
	s.forecastCache = make(map[string]*cachedForecast)
}

// ProviderName returns the configured provider's name.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}
