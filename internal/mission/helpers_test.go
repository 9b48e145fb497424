package mission_test

import "github.com/bloodlift/bloodlift/internal/weather"

func windy(speed float64) *weather.Observation {
	return &weather.Observation{
		Temperature: 18,
		WindSpeed:   speed,
		Visibility:  10000,
		Condition:   weather.ConditionClear,
	}
}
