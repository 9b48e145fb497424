package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlift/bloodlift/internal/api/models"
	"github.com/bloodlift/bloodlift/internal/carrier"
	"github.com/bloodlift/bloodlift/internal/delivery"
	"github.com/bloodlift/bloodlift/internal/geo"
	"github.com/bloodlift/bloodlift/internal/mission"
	"github.com/bloodlift/bloodlift/internal/safety"
)

func TestNewDelivery(t *testing.T) {
	requested := time.Date(2026, 4, 2, 7, 15, 0, 0, time.UTC)
	planned := time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)
	carrierID := "drone-3"

	d := models.NewDelivery(&delivery.Request{
		ID:                    "d-1",
		OriginFacilityID:      "nctb-kigali",
		DestinationFacilityID: "hosp-huye",
		BloodType:             "A+",
		Quantity:              2,
		Status:                delivery.StatusAssigned,
		RequestedAt:           requested,
		PlannedDate:           &planned,
		CarrierID:             &carrierID,
	})

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "assigned", got["status"])
	assert.Equal(t, "2026-04-02T07:15:00Z", got["requestedAt"])
	assert.Equal(t, "2026-04-03T00:00:00Z", got["plannedDate"])
	assert.Equal(t, "drone-3", got["carrierId"])
	assert.NotContains(t, got, "missionId")
	assert.NotContains(t, got, "updatedAt")
}

func TestNewMission(t *testing.T) {
	assert.Nil(t, models.NewMission(nil))

	plan := &mission.Plan{
		ID:             "m-1",
		Filename:       "m-1.plan",
		CarrierID:      "drone-3",
		Tier:           safety.TierAcceptable,
		CruiseAltitude: 50,
		Waypoints: []mission.Waypoint{
			{Coordinate: geo.Coordinate{Lat: -2.5967, Lon: 29.7394}, Altitude: 50},
		},
		Origin:     &carrier.Position{Coordinate: geo.Coordinate{Lat: -1.9441, Lon: 30.0619}},
		DistanceKm: 81.2,
	}

	m := models.NewMission(plan)
	require.Len(t, m.Waypoints, 1)
	assert.Equal(t, -2.5967, m.Waypoints[0].Lat)
	assert.Equal(t, 50.0, m.Waypoints[0].Altitude)
	require.NotNil(t, m.Origin)
	assert.Equal(t, 30.0619, m.Origin.Lon)
}

func TestNewConditions(t *testing.T) {
	c := models.NewConditions(safety.Assessment{Tier: safety.TierDifficult, Reason: "gusty"})
	assert.True(t, c.Launchable)

	c = models.NewConditions(safety.Assessment{Tier: safety.TierUnknown})
	assert.False(t, c.Launchable)
}

func TestTimestamp_UnmarshalJSON(t *testing.T) {
	var ts models.Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2026-04-03T10:00:00+02:00"`), &ts))
	assert.True(t, ts.Time().Equal(time.Date(2026, 4, 3, 8, 0, 0, 0, time.UTC)))

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	assert.Error(t, json.Unmarshal([]byte(`12`), &ts))
}
