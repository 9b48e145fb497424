package weather

import (
	"errors"
	"strings"
	"time"
)

// Weather errors.
var (
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	ErrNoDataForLocation   = errors.New("no weather data for location")
)

// Observation is the weather at a point, as used for launch decisions.
type Observation struct {
	Lat float64
	Lon float64

	// Temperature in Celsius
	Temperature float64

	// Wind data in m/s; WindGust is 0 when not reported.
	WindSpeed float64
	WindGust  float64

	// Visibility in meters
	Visibility float64

	// Precipitation rate in mm/h (rain plus snow water equivalent)
	Precipitation float64

	Condition   Condition
	Description string

	ObservedAt time.Time
	FetchedAt  time.Time

	// Stale is set when a cached observation was served because the
	// provider failed.
	Stale bool
}

// Condition is the general sky condition.
type Condition string

const (
	ConditionClear        Condition = "CLEAR"
	ConditionClouds       Condition = "CLOUDS"
	ConditionRain         Condition = "RAIN"
	ConditionDrizzle      Condition = "DRIZZLE"
	ConditionThunderstorm Condition = "THUNDERSTORM"
	ConditionSnow         Condition = "SNOW"
	ConditionMist         Condition = "MIST"
	ConditionFog          Condition = "FOG"
	ConditionHaze         Condition = "HAZE"
	ConditionUnknown      Condition = "UNKNOWN"
)

// ParseCondition maps a case-insensitive name to a Condition.
// Unrecognised names map to ConditionUnknown.
func ParseCondition(s string) Condition {
	switch c := Condition(strings.ToUpper(strings.TrimSpace(s))); c {
	case ConditionClear, ConditionClouds, ConditionRain, ConditionDrizzle,
		ConditionThunderstorm, ConditionSnow, ConditionMist, ConditionFog, ConditionHaze:
		return c
	default:
		return ConditionUnknown
	}
}

// Forecast holds hourly forecasts for a location.
type Forecast struct {
	Lat       float64
	Lon       float64
	Hourly    []HourlyForecast
	FetchedAt time.Time
	Stale     bool
}

// HourlyForecast is the forecast for one hour.
type HourlyForecast struct {
	Time          time.Time
	Temperature   float64
	WindSpeed     float64
	WindGust      float64
	Visibility    float64
	Precipitation float64 // mm/h
	PrecipProb    float64 // 0-1
	Condition     Condition
	Description   string
}

// Nearest returns the hourly entry closest to t, or false when the forecast
// is empty or t is more than an hour outside its range.
func (f *Forecast) Nearest(t time.Time) (*HourlyForecast, bool) {
	var best *HourlyForecast
	var bestDiff time.Duration
	for i := range f.Hourly {
		diff := f.Hourly[i].Time.Sub(t).Abs()
		if best == nil || diff < bestDiff {
			best = &f.Hourly[i]
			bestDiff = diff
		}
	}
	if best == nil || bestDiff > time.Hour {
		return nil, false
	}
	return best, true
}

// Observation converts the hourly entry into an Observation at lat/lon.
func (h *HourlyForecast) Observation(lat, lon float64, fetchedAt time.Time) *Observation {
	return &Observation{
		Lat:           lat,
		Lon:           lon,
		Temperature:   h.Temperature,
		WindSpeed:     h.WindSpeed,
		WindGust:      h.WindGust,
		Visibility:    h.Visibility,
		Precipitation: h.Precipitation,
		Condition:     h.Condition,
		Description:   h.Description,
		ObservedAt:    h.Time,
		FetchedAt:     fetchedAt,
	}
}
