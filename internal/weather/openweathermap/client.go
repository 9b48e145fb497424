// Package openweathermap reads launch-site weather from the OpenWeatherMap
// current-weather and OneCall APIs.
package openweathermap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/bloodlift/bloodlift/internal/provider/resilience"
	"github.com/bloodlift/bloodlift/internal/weather"
)

const (
	// ProviderName identifies this weather provider.
	ProviderName = "openweathermap"

	// DefaultBaseURL is the current-weather API base URL.
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

	// DefaultOneCallURL is the OneCall 3.0 endpoint used for hourly forecasts.
	DefaultOneCallURL = "https://api.openweathermap.org/data/3.0/onecall"

	// maxVisibility is the API ceiling; the field is omitted above it.
	maxVisibility = 10000.0
)

// ErrInvalidAPIKey is returned when the API rejects the configured key.
var ErrInvalidAPIKey = errors.New("openweathermap: invalid API key")

// StatusError is returned for non-200 responses other than 401.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "openweathermap: unexpected status " + strconv.Itoa(e.StatusCode)
}

// ClientConfig holds configuration for the OpenWeatherMap client.
type ClientConfig struct {
	// APIKey is the OpenWeatherMap API key (required).
	APIKey string

	// BaseURL overrides DefaultBaseURL.
	BaseURL string

	// OneCallURL overrides DefaultOneCallURL.
	OneCallURL string

	// HTTPClient carries breaker and retry (default: resilience defaults).
	HTTPClient *resilience.Client

	Logger zerolog.Logger
}

// Client is an OpenWeatherMap weather.Provider.
type Client struct {
	apiKey     string
	baseURL    string
	oneCallURL string
	http       *resilience.Client
	logger     zerolog.Logger
	now        func() time.Time
}

var _ weather.Provider = (*Client)(nil)

// NewClient creates a new OpenWeatherMap client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		oneCallURL: cfg.OneCallURL,
		http:       cfg.HTTPClient,
		logger:     cfg.Logger,
		now:        time.Now,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.oneCallURL == "" {
		c.oneCallURL = DefaultOneCallURL
	}
	if c.http == nil {
		c.http = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// GetCurrentWeather fetches the latest observation near lat/lon.
func (c *Client) GetCurrentWeather(ctx context.Context, lat, lon float64) (*weather.Observation, error) {
	var body currentResponse
	if err := c.get(ctx, c.baseURL+"/weather", c.query(lat, lon), &body); err != nil {
		return nil, err
	}

	obs := &weather.Observation{
		Lat:           body.Coord.Lat,
		Lon:           body.Coord.Lon,
		Temperature:   body.Main.Temp,
		WindSpeed:     body.Wind.Speed,
		WindGust:      body.Wind.Gust,
		Visibility:    visibility(body.Visibility),
		Precipitation: body.Rain.OneHour + body.Snow.OneHour,
		ObservedAt:    time.Unix(body.Dt, 0).UTC(),
		FetchedAt:     c.now(),
	}
	obs.Condition, obs.Description = summarize(body.Weather)
	return obs, nil
}

// GetForecast fetches the hourly forecast near lat/lon.
func (c *Client) GetForecast(ctx context.Context, lat, lon float64) (*weather.Forecast, error) {
	q := c.query(lat, lon)
	q.Set("exclude", "current,minutely,daily,alerts")

	var body oneCallResponse
	if err := c.get(ctx, c.oneCallURL, q, &body); err != nil {
		return nil, err
	}

	f := &weather.Forecast{
		Lat:       body.Lat,
		Lon:       body.Lon,
		Hourly:    make([]weather.HourlyForecast, 0, len(body.Hourly)),
		FetchedAt: c.now(),
	}
	for _, h := range body.Hourly {
		entry := weather.HourlyForecast{
			Time:          time.Unix(h.Dt, 0).UTC(),
			Temperature:   h.Temp,
			WindSpeed:     h.WindSpeed,
			WindGust:      h.WindGust,
			Visibility:    visibility(h.Visibility),
			Precipitation: h.Rain.OneHour + h.Snow.OneHour,
			PrecipProb:    h.Pop,
		}
		entry.Condition, entry.Description = summarize(h.Weather)
		f.Hourly = append(f.Hourly, entry)
	}
	return f, nil
}

func (c *Client) query(lat, lon float64) url.Values {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("units", "metric")
	q.Set("appid", c.apiKey)
	return q
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return fmt.Errorf("openweathermap: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("openweathermap: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		c.logger.Error().Msg("openweathermap rejected the API key")
		return ErrInvalidAPIKey
	default:
		return &StatusError{StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openweathermap: decode response: %w", err)
	}
	return nil
}

func visibility(v *int) float64 {
	if v == nil {
		return maxVisibility
	}
	return float64(*v)
}

// summarize picks the primary condition of a weather list.
func summarize(ws []condition) (weather.Condition, string) {
	if len(ws) == 0 {
		return weather.ConditionUnknown, ""
	}
	return mapCondition(ws[0]), ws[0].Description
}

// mapCondition uses the condition code groups
// (https://openweathermap.org/weather-conditions), falling back to the
// group name when no code is present.
func mapCondition(w condition) weather.Condition {
	switch id := w.ID; {
	case id >= 200 && id < 300:
		return weather.ConditionThunderstorm
	case id >= 300 && id < 400:
		return weather.ConditionDrizzle
	case id >= 500 && id < 600:
		return weather.ConditionRain
	case id >= 600 && id < 700:
		return weather.ConditionSnow
	case id == 701:
		return weather.ConditionMist
	case id == 741:
		return weather.ConditionFog
	case id >= 700 && id < 800:
		return weather.ConditionHaze
	case id == 800:
		return weather.ConditionClear
	case id > 800 && id < 900:
		return weather.ConditionClouds
	}

	switch w.Main {
	case "Haze", "Smoke", "Dust", "Sand", "Ash", "Squall", "Tornado":
		return weather.ConditionHaze
	}
	return weather.ParseCondition(w.Main)
}

type condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
}

type precipitation struct {
	OneHour float64 `json:"1h"`
}

type currentResponse struct {
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Weather []condition `json:"weather"`
	Main    struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Visibility *int `json:"visibility"`
	Wind       struct {
		Speed float64 `json:"speed"`
		Gust  float64 `json:"gust"`
	} `json:"wind"`
	Rain precipitation `json:"rain"`
	Snow precipitation `json:"snow"`
	Dt   int64         `json:"dt"`
}

type oneCallResponse struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Hourly []struct {
		Dt         int64         `json:"dt"`
		Temp       float64       `json:"temp"`
		Visibility *int          `json:"visibility"`
		WindSpeed  float64       `json:"wind_speed"`
		WindGust   float64       `json:"wind_gust"`
		Pop        float64       `json:"pop"`
		Rain       precipitation `json:"rain"`
		Snow       precipitation `json:"snow"`
		Weather    []condition   `json:"weather"`
	} `json:"hourly"`
}
