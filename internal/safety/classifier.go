package safety

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/bloodlift/bloodlift/internal/weather"
)

// ErrInvalidObservation is returned for observations with non-finite or
// physically impossible values.
var ErrInvalidObservation = errors.New("invalid weather observation")

// Limits is one rung of the classification ladder. A zero field disables
// that check.
type Limits struct {
	MaxWind          float64             `koanf:"max_wind"`
	MinTemperature   float64             `koanf:"min_temperature"`
	MaxTemperature   float64             `koanf:"max_temperature"`
	MinVisibility    float64             `koanf:"min_visibility"`
	MaxPrecipitation float64             `koanf:"max_precipitation"`
	Conditions       []weather.Condition `koanf:"conditions"`

	checkTemperature bool
}

// Thresholds configures the classifier. Rules are evaluated dangerous,
// then difficult, then acceptable; the first match wins.
type Thresholds struct {
	Dangerous  Limits `koanf:"dangerous"`
	Difficult  Limits `koanf:"difficult"`
	Acceptable Limits `koanf:"acceptable"`
}

// DefaultThresholds returns the standard launch limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Dangerous: Limits{
			MaxWind:          15,
			MinTemperature:   -10,
			MaxTemperature:   50,
			MinVisibility:    1000,
			MaxPrecipitation: 5,
			checkTemperature: true,
		},
		Difficult: Limits{
			MaxWind:          10,
			MinTemperature:   0,
			MaxTemperature:   35,
			MinVisibility:    5000,
			MaxPrecipitation: 1,
			Conditions:       []weather.Condition{weather.ConditionThunderstorm, weather.ConditionSnow},
			checkTemperature: true,
		},
		Acceptable: Limits{
			MaxWind:       5,
			MinVisibility: 8000,
			Conditions:    []weather.Condition{weather.ConditionClouds, weather.ConditionMist, weather.ConditionFog},
		},
	}
}

// Classifier maps observations to tiers.
type Classifier struct {
	rungs []rung
}

type rung struct {
	tier   Tier
	limits Limits
}

// NewClassifier creates a classifier. A zero Thresholds uses DefaultThresholds.
func NewClassifier(t Thresholds) *Classifier {
	if t.isZero() {
		t = DefaultThresholds()
	}
	return &Classifier{rungs: []rung{
		{TierDangerous, t.Dangerous.withTemperature()},
		{TierDifficult, t.Difficult.withTemperature()},
		{TierAcceptable, t.Acceptable.withTemperature()},
	}}
}

// Classify returns the tier for obs and the rule that produced it.
// A nil observation yields TierUnknown.
func (c *Classifier) Classify(obs *weather.Observation) (Assessment, error) {
	if obs == nil {
		return Assessment{Tier: TierUnknown, Reason: "no weather observation available"}, nil
	}
	if err := validate(obs); err != nil {
		return Assessment{}, err
	}

	for _, r := range c.rungs {
		if reasons := r.limits.exceeded(obs); len(reasons) > 0 {
			return Assessment{Tier: r.tier, Reason: strings.Join(reasons, "; ")}, nil
		}
	}
	return Assessment{Tier: TierOptimal, Reason: "conditions within all limits"}, nil
}

// exceeded lists every limit obs breaks, in a stable order.
func (l Limits) exceeded(obs *weather.Observation) []string {
	var reasons []string
	if l.MaxWind > 0 && obs.WindSpeed > l.MaxWind {
		reasons = append(reasons, fmt.Sprintf("wind %.1f m/s above %.1f", obs.WindSpeed, l.MaxWind))
	}
	if l.checkTemperature {
		if obs.Temperature < l.MinTemperature {
			reasons = append(reasons, fmt.Sprintf("temperature %.1f°C below %.1f", obs.Temperature, l.MinTemperature))
		}
		if obs.Temperature > l.MaxTemperature {
			reasons = append(reasons, fmt.Sprintf("temperature %.1f°C above %.1f", obs.Temperature, l.MaxTemperature))
		}
	}
	if l.MinVisibility > 0 && obs.Visibility < l.MinVisibility {
		reasons = append(reasons, fmt.Sprintf("visibility %.0f m below %.0f", obs.Visibility, l.MinVisibility))
	}
	if l.MaxPrecipitation > 0 && obs.Precipitation > l.MaxPrecipitation {
		reasons = append(reasons, fmt.Sprintf("precipitation %.1f mm/h above %.1f", obs.Precipitation, l.MaxPrecipitation))
	}
	for _, cond := range l.Conditions {
		if obs.Condition == cond {
			reasons = append(reasons, "sky condition "+strings.ToLower(string(cond)))
			break
		}
	}
	return reasons
}

// withTemperature enables the temperature band when either bound is set.
func (l Limits) withTemperature() Limits {
	if l.MinTemperature != 0 || l.MaxTemperature != 0 {
		l.checkTemperature = true
	}
	return l
}

func (t Thresholds) isZero() bool {
	return t.Dangerous.isZero() && t.Difficult.isZero() && t.Acceptable.isZero()
}

func (l Limits) isZero() bool {
	return l.MaxWind == 0 && l.MinTemperature == 0 && l.MaxTemperature == 0 &&
		l.MinVisibility == 0 && l.MaxPrecipitation == 0 && len(l.Conditions) == 0
}

func validate(obs *weather.Observation) error {
	fields := []struct {
		name  string
		value float64
	}{
		{"temperature", obs.Temperature},
		{"wind speed", obs.WindSpeed},
		{"visibility", obs.Visibility},
		{"precipitation", obs.Precipitation},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidObservation, f.name)
		}
	}
	if obs.WindSpeed < 0 || obs.Visibility < 0 || obs.Precipitation < 0 {
		return fmt.Errorf("%w: negative wind, visibility or precipitation", ErrInvalidObservation)
	}
	if obs.Temperature < -100 || obs.Temperature > 70 {
		return fmt.Errorf("%w: temperature %.1f°C out of physical range", ErrInvalidObservation, obs.Temperature)
	}
	return nil
}
