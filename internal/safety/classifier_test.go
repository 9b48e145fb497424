package safety_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlift/bloodlift/internal/safety"
	"github.com/bloodlift/bloodlift/internal/weather"
)

// calm is an observation inside every limit.
func calm() *weather.Observation {
	return &weather.Observation{
		Temperature:   20,
		WindSpeed:     2,
		Visibility:    10000,
		Precipitation: 0,
		Condition:     weather.ConditionClear,
	}
}

func with(f func(o *weather.Observation)) *weather.Observation {
	o := calm()
	f(o)
	return o
}

func TestClassifier_Tiers(t *testing.T) {
	c := safety.NewClassifier(safety.Thresholds{})

	tests := []struct {
		name string
		obs  *weather.Observation
		want safety.Tier
	}{
		{"calm", calm(), safety.TierOptimal},
		{"haze is not a sky rule", with(func(o *weather.Observation) { o.Condition = weather.ConditionHaze }), safety.TierOptimal},
		{"wind exactly 5", with(func(o *weather.Observation) { o.WindSpeed = 5 }), safety.TierOptimal},
		{"breezy", with(func(o *weather.Observation) { o.WindSpeed = 5.1 }), safety.TierAcceptable},
		{"hazy visibility", with(func(o *weather.Observation) { o.Visibility = 7999 }), safety.TierAcceptable},
		{"clouds", with(func(o *weather.Observation) { o.Condition = weather.ConditionClouds }), safety.TierAcceptable},
		{"mist", with(func(o *weather.Observation) { o.Condition = weather.ConditionMist }), safety.TierAcceptable},
		{"fog", with(func(o *weather.Observation) { o.Condition = weather.ConditionFog }), safety.TierAcceptable},
		{"strong wind", with(func(o *weather.Observation) { o.WindSpeed = 10.5 }), safety.TierDifficult},
		{"freezing", with(func(o *weather.Observation) { o.Temperature = -0.5 }), safety.TierDifficult},
		{"hot", with(func(o *weather.Observation) { o.Temperature = 36 }), safety.TierDifficult},
		{"poor visibility", with(func(o *weather.Observation) { o.Visibility = 4999 }), safety.TierDifficult},
		{"rain", with(func(o *weather.Observation) { o.Precipitation = 1.2 }), safety.TierDifficult},
		{"thunderstorm", with(func(o *weather.Observation) { o.Condition = weather.ConditionThunderstorm }), safety.TierDifficult},
		{"snow", with(func(o *weather.Observation) { o.Condition = weather.ConditionSnow }), safety.TierDifficult},
		{"gale", with(func(o *weather.Observation) { o.WindSpeed = 20 }), safety.TierDangerous},
		{"deep freeze", with(func(o *weather.Observation) { o.Temperature = -10.1 }), safety.TierDangerous},
		{"extreme heat", with(func(o *weather.Observation) { o.Temperature = 50.1 }), safety.TierDangerous},
		{"whiteout", with(func(o *weather.Observation) { o.Visibility = 999 }), safety.TierDangerous},
		{"downpour", with(func(o *weather.Observation) { o.Precipitation = 5.1 }), safety.TierDangerous},
		{"danger wins over difficult sky", with(func(o *weather.Observation) {
			o.WindSpeed = 16
			o.Condition = weather.ConditionThunderstorm
		}), safety.TierDangerous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(tt.obs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Tier)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestClassifier_DangerousBoundaryGrid(t *testing.T) {
	c := safety.NewClassifier(safety.Thresholds{})

	winds := []float64{0, 5, 15.01, 30}
	temps := []float64{-40, -10.01, 0, 20, 50.01, 60}
	vis := []float64{0, 999.9, 5000, 10000}
	precip := []float64{0, 2, 5.01, 20}

	for _, w := range winds {
		for _, tc := range temps {
			for _, v := range vis {
				for _, p := range precip {
					obs := &weather.Observation{WindSpeed: w, Temperature: tc, Visibility: v, Precipitation: p, Condition: weather.ConditionClear}
					got, err := c.Classify(obs)
					require.NoError(t, err)

					mustBeDangerous := w > 15 || tc < -10 || tc > 50 || v < 1000 || p > 5
					if mustBeDangerous {
						assert.Equal(t, safety.TierDangerous, got.Tier, "%+v", obs)
					} else {
						assert.NotEqual(t, safety.TierDangerous, got.Tier, "%+v", obs)
					}
				}
			}
		}
	}
}

func TestClassifier_ReasonNamesRule(t *testing.T) {
	c := safety.NewClassifier(safety.Thresholds{})

	got, err := c.Classify(with(func(o *weather.Observation) { o.WindSpeed = 20 }))
	require.NoError(t, err)
	assert.Contains(t, got.Reason, "wind 20.0 m/s above 15.0")

	got, err = c.Classify(with(func(o *weather.Observation) { o.Condition = weather.ConditionSnow }))
	require.NoError(t, err)
	assert.Contains(t, got.Reason, "sky condition snow")
}

func TestClassifier_MissingObservation(t *testing.T) {
	got, err := safety.NewClassifier(safety.Thresholds{}).Classify(nil)
	require.NoError(t, err)
	assert.Equal(t, safety.TierUnknown, got.Tier)
	assert.False(t, got.Tier.Launchable())
}

func TestClassifier_InvalidObservation(t *testing.T) {
	c := safety.NewClassifier(safety.Thresholds{})

	bad := []*weather.Observation{
		with(func(o *weather.Observation) { o.WindSpeed = math.NaN() }),
		with(func(o *weather.Observation) { o.Temperature = math.Inf(1) }),
		with(func(o *weather.Observation) { o.Visibility = -1 }),
		with(func(o *weather.Observation) { o.Precipitation = -0.1 }),
		with(func(o *weather.Observation) { o.Temperature = 400 }),
	}
	for _, obs := range bad {
		_, err := c.Classify(obs)
		assert.ErrorIs(t, err, safety.ErrInvalidObservation)
	}
}

func TestClassifier_CustomThresholds(t *testing.T) {
	th := safety.DefaultThresholds()
	th.Dangerous.MaxWind = 12

	c := safety.NewClassifier(th)
	got, err := c.Classify(with(func(o *weather.Observation) { o.WindSpeed = 13 }))
	require.NoError(t, err)
	assert.Equal(t, safety.TierDangerous, got.Tier)
}

func TestTier_Launchable(t *testing.T) {
	assert.True(t, safety.TierOptimal.Launchable())
	assert.True(t, safety.TierAcceptable.Launchable())
	assert.True(t, safety.TierDifficult.Launchable())
	assert.False(t, safety.TierDangerous.Launchable())
	assert.False(t, safety.TierUnknown.Launchable())
	assert.False(t, safety.Tier("bogus").Launchable())
}

func TestTier_Severity(t *testing.T) {
	assert.Less(t, safety.TierOptimal.Severity(), safety.TierAcceptable.Severity())
	assert.Less(t, safety.TierDifficult.Severity(), safety.TierDangerous.Severity())
	assert.Less(t, safety.TierDangerous.Severity(), safety.TierUnknown.Severity())
}
