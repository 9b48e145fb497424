package geo_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlift/bloodlift/internal/geo"
)

func TestCoordinate_Validate(t *testing.T) {
	tests := []struct {
		name    string
		coord   geo.Coordinate
		wantErr bool
	}{
		{"origin", geo.Coordinate{Lat: 0, Lon: 0}, false},
		{"kigali", geo.Coordinate{Lat: -1.9441, Lon: 30.0619}, false},
		{"poles and antimeridian", geo.Coordinate{Lat: 90, Lon: -180}, false},
		{"latitude too high", geo.Coordinate{Lat: 90.0001, Lon: 0}, true},
		{"latitude too low", geo.Coordinate{Lat: -91, Lon: 0}, true},
		{"longitude out of range", geo.Coordinate{Lat: 0, Lon: 180.5}, true},
		{"nan latitude", geo.Coordinate{Lat: math.NaN(), Lon: 0}, true},
		{"infinite longitude", geo.Coordinate{Lat: 0, Lon: math.Inf(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coord.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDistance_KnownValue(t *testing.T) {
	amsterdam := geo.Coordinate{Lat: 52.3676, Lon: 4.9041}
	rotterdam := geo.Coordinate{Lat: 51.9244, Lon: 4.4777}

	d, err := geo.Distance(amsterdam, rotterdam)
	require.NoError(t, err)
	assert.InDelta(t, 57.0, d, 1.5)
}

func TestDistance_QuarterMeridian(t *testing.T) {
	d, err := geo.Distance(geo.Coordinate{Lat: 0, Lon: 0}, geo.Coordinate{Lat: 90, Lon: 0})
	require.NoError(t, err)
	assert.InDelta(t, math.Pi*geo.EarthRadiusKm/2, d, 1e-6)
}

func TestDistance_Symmetric(t *testing.T) {
	points := []geo.Coordinate{
		{Lat: 0, Lon: 0},
		{Lat: -1.9441, Lon: 30.0619},
		{Lat: -2.5967, Lon: 29.7394},
		{Lat: 89.9, Lon: 179.9},
		{Lat: -89.9, Lon: -179.9},
		{Lat: 45, Lon: -93},
	}

	for _, a := range points {
		for _, b := range points {
			ab, err := geo.Distance(a, b)
			require.NoError(t, err)
			ba, err := geo.Distance(b, a)
			require.NoError(t, err)
			assert.InDelta(t, ab, ba, 1e-6, "%v <-> %v", a, b)
		}
		self, err := geo.Distance(a, a)
		require.NoError(t, err)
		assert.Equal(t, 0.0, self)
	}
}

func TestDistance_Antipodal(t *testing.T) {
	d, err := geo.Distance(geo.Coordinate{Lat: 0, Lon: 0}, geo.Coordinate{Lat: 0, Lon: 180})
	require.NoError(t, err)
	assert.InDelta(t, math.Pi*geo.EarthRadiusKm, d, 1e-6)
}

func TestDistance_InvalidInput(t *testing.T) {
	valid := geo.Coordinate{Lat: 10, Lon: 10}

	_, err := geo.Distance(valid, geo.Coordinate{Lat: math.NaN(), Lon: 0})
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)

	_, err = geo.Distance(geo.Coordinate{Lat: 100, Lon: 0}, valid)
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)

	_, err = geo.Distance(valid, geo.Coordinate{Lat: 0, Lon: 200})
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)
}
