package mqtt

import "github.com/bloodlift/bloodlift/internal/mission"

// Point is a wire coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Waypoint is a wire waypoint.
type Waypoint struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Altitude float64 `json:"alt"`
}

// MissionOrder is published to MissionTopic.
type MissionOrder struct {
	MissionID      string     `json:"mission_id"`
	Filename       string     `json:"filename"`
	DeliveryID     string     `json:"delivery_id"`
	Destination    Point      `json:"destination"`
	CruiseAltitude float64    `json:"cruise_altitude"`
	Waypoints      []Waypoint `json:"waypoints"`
	Origin         *Point     `json:"origin,omitempty"`
	Polyline       string     `json:"polyline,omitempty"`
	Timestamp      int64      `json:"timestamp"`
}

// MissionAck is received on AckTopic. MissionID and DeliveryID echo the
// order being answered; FinalMissionID is the identifier the carrier
// stored the mission under, when it differs.
type MissionAck struct {
	MissionID      string `json:"mission_id"`
	DeliveryID     string `json:"delivery_id"`
	FinalMissionID string `json:"final_mission_id,omitempty"`
	Filename       string `json:"filename,omitempty"`
	Accepted       bool   `json:"accepted"`
	Reason         string `json:"reason,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// ackKey correlates an ack with its order. Mission IDs repeat for every
// delivery a carrier flies to the same facility, so the delivery is part
// of the key.
func ackKey(missionID, deliveryID string) string {
	return missionID + "|" + deliveryID
}

// MissionAbort is published to AbortTopic.
type MissionAbort struct {
	MissionID string `json:"mission_id"`
	Timestamp int64  `json:"timestamp"`
}

// TelemetryReport is received on TelemetryTopic.
type TelemetryReport struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Altitude  float64 `json:"alt"`
	Timestamp int64   `json:"timestamp"`
}

func orderFromPlan(plan *mission.Plan, ts int64) MissionOrder {
	order := MissionOrder{
		MissionID:      plan.ID,
		Filename:       plan.Filename,
		DeliveryID:     plan.DeliveryID,
		Destination:    Point{Lat: plan.Destination.Lat, Lon: plan.Destination.Lon},
		CruiseAltitude: plan.CruiseAltitude,
		Waypoints:      make([]Waypoint, 0, len(plan.Waypoints)),
		Polyline:       plan.Polyline,
		Timestamp:      ts,
	}
	for _, wp := range plan.Waypoints {
		order.Waypoints = append(order.Waypoints, Waypoint{
			Lat:      wp.Coordinate.Lat,
			Lon:      wp.Coordinate.Lon,
			Altitude: wp.Altitude,
		})
	}
	if plan.Origin != nil {
		order.Origin = &Point{Lat: plan.Origin.Coordinate.Lat, Lon: plan.Origin.Coordinate.Lon}
	}
	return order
}
