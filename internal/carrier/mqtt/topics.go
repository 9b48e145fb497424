package mqtt

import "strings"

const topicRoot = "carrier/"

// Subscription filters.
const (
	AckFilter       = topicRoot + "+/mission/ack"
	TelemetryFilter = topicRoot + "+/telemetry"
)

// MissionTopic is where plans for carrierID are published.
func MissionTopic(carrierID string) string {
	return topicRoot + carrierID + "/mission"
}

// AbortTopic is where mission withdrawals for carrierID are published.
func AbortTopic(carrierID string) string {
	return topicRoot + carrierID + "/mission/abort"
}

// AckTopic is where carrierID acknowledges missions.
func AckTopic(carrierID string) string {
	return topicRoot + carrierID + "/mission/ack"
}

// TelemetryTopic is where carrierID reports its position.
func TelemetryTopic(carrierID string) string {
	return topicRoot + carrierID + "/telemetry"
}

// carrierFromTopic extracts the carrier id from carrier/{id}/...
func carrierFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, topicRoot)
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
