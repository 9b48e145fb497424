package models

import (
	"github.com/bloodlift/bloodlift/internal/abuse"
	"github.com/bloodlift/bloodlift/internal/delivery"
	"github.com/bloodlift/bloodlift/internal/mission"
	"github.com/bloodlift/bloodlift/internal/safety"
	"github.com/bloodlift/bloodlift/internal/weather"
)

// CreateDeliveryRequest is the body of POST /v1/deliveries.
type CreateDeliveryRequest struct {
	OriginFacilityID      string     `json:"originFacilityId" validate:"required,max=64"`
	DestinationFacilityID string     `json:"destinationFacilityId" validate:"required,max=64,nefield=OriginFacilityID"`
	BloodType             string     `json:"bloodType" validate:"required,oneof=O- O+ A- A+ B- B+ AB- AB+"`
	Quantity              int        `json:"quantity" validate:"required,min=1,max=20"`
	Urgent                bool       `json:"urgent"`
	PlannedDate           *Timestamp `json:"plannedDate,omitempty"`
}

// AssignRequest is the body of POST /v1/dispatch/assign.
type AssignRequest struct {
	DeliveryID string `json:"deliveryId" validate:"required,max=64"`
	CarrierID  string `json:"carrierId" validate:"required,max=64"`
}

// Delivery is the API view of a delivery request.
type Delivery struct {
	ID                    string          `json:"id"`
	OriginFacilityID      string          `json:"originFacilityId"`
	DestinationFacilityID string          `json:"destinationFacilityId"`
	BloodType             string          `json:"bloodType"`
	Quantity              int             `json:"quantity"`
	Urgent                bool            `json:"urgent"`
	Status                delivery.Status `json:"status"`
	RequestedAt           Timestamp       `json:"requestedAt"`
	PlannedDate           *Timestamp      `json:"plannedDate,omitempty"`
	CarrierID             *string         `json:"carrierId,omitempty"`
	MissionID             *string         `json:"missionId,omitempty"`
	UpdatedAt             *Timestamp      `json:"updatedAt,omitempty"`
}

// NewDelivery converts a delivery request.
func NewDelivery(r *delivery.Request) Delivery {
	d := Delivery{
		ID:                    r.ID,
		OriginFacilityID:      r.OriginFacilityID,
		DestinationFacilityID: r.DestinationFacilityID,
		BloodType:             r.BloodType,
		Quantity:              r.Quantity,
		Urgent:                r.Urgent,
		Status:                r.Status,
		RequestedAt:           Timestamp(r.RequestedAt),
		PlannedDate:           TimestampPtr(r.PlannedDate),
		CarrierID:             r.CarrierID,
		MissionID:             r.MissionID,
	}
	if !r.UpdatedAt.IsZero() {
		d.UpdatedAt = TimestampPtr(&r.UpdatedAt)
	}
	return d
}

// Queue is the response of GET /v1/dispatch/queue.
type Queue struct {
	CarrierID string     `json:"carrierId"`
	Items     []Delivery `json:"items"`
	Count     int        `json:"count"`
}

// Waypoint is a mission waypoint.
type Waypoint struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Altitude float64 `json:"altitude"`
}

// Mission is the API view of a mission plan.
type Mission struct {
	ID             string      `json:"id"`
	Filename       string      `json:"filename"`
	CarrierID      string      `json:"carrierId"`
	Tier           safety.Tier `json:"tier"`
	CruiseAltitude float64     `json:"cruiseAltitude"`
	Waypoints      []Waypoint  `json:"waypoints"`
	Origin         *Point      `json:"origin,omitempty"`
	DistanceKm     float64     `json:"distanceKm,omitempty"`
	Polyline       string      `json:"polyline,omitempty"`
	CreatedAt      Timestamp   `json:"createdAt"`
}

// NewMission converts a mission plan.
func NewMission(p *mission.Plan) *Mission {
	if p == nil {
		return nil
	}
	m := &Mission{
		ID:             p.ID,
		Filename:       p.Filename,
		CarrierID:      p.CarrierID,
		Tier:           p.Tier,
		CruiseAltitude: p.CruiseAltitude,
		Waypoints:      make([]Waypoint, 0, len(p.Waypoints)),
		DistanceKm:     p.DistanceKm,
		Polyline:       p.Polyline,
		CreatedAt:      Timestamp(p.CreatedAt),
	}
	for _, wp := range p.Waypoints {
		m.Waypoints = append(m.Waypoints, Waypoint{Lat: wp.Coordinate.Lat, Lon: wp.Coordinate.Lon, Altitude: wp.Altitude})
	}
	if p.Origin != nil {
		m.Origin = &Point{Lat: p.Origin.Coordinate.Lat, Lon: p.Origin.Coordinate.Lon}
	}
	return m
}

// Conditions is a safety assessment.
type Conditions struct {
	Tier       safety.Tier `json:"tier"`
	Launchable bool        `json:"launchable"`
	Reason     string      `json:"reason,omitempty"`
}

// NewConditions converts a safety assessment.
func NewConditions(a safety.Assessment) Conditions {
	return Conditions{Tier: a.Tier, Launchable: a.Tier.Launchable(), Reason: a.Reason}
}

// Assignment is the response of POST /v1/dispatch/assign.
type Assignment struct {
	Delivery   Delivery   `json:"delivery"`
	Mission    *Mission   `json:"mission,omitempty"`
	Conditions Conditions `json:"conditions"`
	Existing   bool       `json:"existing"`
}

// Weather is an observation summary.
type Weather struct {
	Temperature   float64           `json:"temperature"`
	WindSpeed     float64           `json:"windSpeed"`
	WindGust      float64           `json:"windGust,omitempty"`
	Visibility    float64           `json:"visibility"`
	Precipitation float64           `json:"precipitation"`
	Condition     weather.Condition `json:"condition"`
	ObservedAt    *Timestamp        `json:"observedAt,omitempty"`
	Stale         bool              `json:"stale,omitempty"`
}

// NewWeather converts an observation.
func NewWeather(o *weather.Observation) *Weather {
	if o == nil {
		return nil
	}
	w := &Weather{
		Temperature:   o.Temperature,
		WindSpeed:     o.WindSpeed,
		WindGust:      o.WindGust,
		Visibility:    o.Visibility,
		Precipitation: o.Precipitation,
		Condition:     o.Condition,
		Stale:         o.Stale,
	}
	if !o.ObservedAt.IsZero() {
		w.ObservedAt = TimestampPtr(&o.ObservedAt)
	}
	return w
}

// Readiness is the response of GET /v1/dispatch/readiness.
type Readiness struct {
	FacilityID string     `json:"facilityId"`
	Location   Point      `json:"location"`
	At         Timestamp  `json:"at"`
	Conditions Conditions `json:"conditions"`
	Weather    *Weather   `json:"weather,omitempty"`
}

// FacilityUrgency is one row of the abuse report.
type FacilityUrgency struct {
	FacilityID       string  `json:"facilityId"`
	Total            int     `json:"total"`
	Urgent           int     `json:"urgent"`
	UrgentPercentage float64 `json:"urgentPercentage"`
	Flagged          bool    `json:"flagged"`
}

// AbuseReport is the response of GET /v1/abuse-report.
type AbuseReport struct {
	Facilities []FacilityUrgency `json:"facilities"`
	Flagged    int               `json:"flagged"`
	Generated  Timestamp         `json:"generatedAt"`
}

// NewFacilityUrgency converts detector stats.
func NewFacilityUrgency(s abuse.FacilityUrgencyStats) FacilityUrgency {
	return FacilityUrgency{
		FacilityID:       s.FacilityID,
		Total:            s.Total,
		Urgent:           s.Urgent,
		UrgentPercentage: s.UrgentPercentage,
		Flagged:          s.Flagged,
	}
}
