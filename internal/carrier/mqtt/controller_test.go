package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlift/bloodlift/internal/carrier"
	"github.com/bloodlift/bloodlift/internal/geo"
	"github.com/bloodlift/bloodlift/internal/mission"
)

type mockToken struct {
	err error
}

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Error() error                   { return t.err }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	payload []byte
}

type mockClient struct {
	mu           sync.Mutex
	handlers     map[string]paho.MessageHandler
	published    []published
	publishErr   error
	subscribeErr error
	disconnected bool

	// onPublish runs after a publish is recorded.
	onPublish func(topic string, payload []byte)
}

func newMockClient() *mockClient {
	return &mockClient{handlers: make(map[string]paho.MessageHandler)}
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Disconnect(uint)   { m.disconnected = true }

func (m *mockClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	m.mu.Lock()
	m.published = append(m.published, published{topic: topic, payload: payload.([]byte)})
	hook := m.onPublish
	m.mu.Unlock()

	if m.publishErr != nil {
		return &mockToken{err: m.publishErr}
	}
	if hook != nil {
		hook(topic, payload.([]byte))
	}
	return &mockToken{}
}

func (m *mockClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return &mockToken{err: m.subscribeErr}
	}
	m.handlers[topic] = cb
	return &mockToken{}
}

func (m *mockClient) deliver(filter, topic string, v any) {
	payload, _ := json.Marshal(v)
	m.mu.Lock()
	h := m.handlers[filter]
	m.mu.Unlock()
	h(nil, mockMessage{topic: topic, payload: payload})
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 1 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.payload }
func (m mockMessage) Ack()              {}

var fixedNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func newTestController(t *testing.T, client *mockClient) *Controller {
	t.Helper()
	c, err := NewController(ControllerConfig{
		Client:     client,
		AckTimeout: 50 * time.Millisecond,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return c
}

func testPlan() *mission.Plan {
	dest := geo.Coordinate{Lat: -2.5967, Lon: 29.7394}
	id := mission.ID("zip-7", "hosp-huye")
	return &mission.Plan{
		ID:             id,
		Filename:       mission.Filename(id),
		CarrierID:      "zip-7",
		DeliveryID:     "d-1",
		Destination:    dest,
		CruiseAltitude: 50,
		Waypoints:      []mission.Waypoint{{Coordinate: dest, Altitude: 50}},
		Origin:         &carrier.Position{Coordinate: geo.Coordinate{Lat: -1.9441, Lon: 30.0619}},
	}
}

func TestNewController_Subscribes(t *testing.T) {
	client := newMockClient()
	newTestController(t, client)

	assert.Contains(t, client.handlers, AckFilter)
	assert.Contains(t, client.handlers, TelemetryFilter)
}

func TestNewController_SubscribeError(t *testing.T) {
	client := newMockClient()
	client.subscribeErr = errors.New("not authorized")

	_, err := NewController(ControllerConfig{Client: client, Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), AckFilter)
}

func TestSubmit_Accepted(t *testing.T) {
	client := newMockClient()
	c := newTestController(t, client)
	plan := testPlan()

	client.onPublish = func(topic string, payload []byte) {
		var order MissionOrder
		require.NoError(t, json.Unmarshal(payload, &order))
		client.deliver(AckFilter, AckTopic("zip-7"), MissionAck{
			MissionID:  order.MissionID,
			DeliveryID: order.DeliveryID,
			Filename:   order.Filename,
			Accepted:   true,
			Timestamp:  fixedNow.Add(time.Second).Unix(),
		})
	}

	ack, err := c.Submit(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, ack.MissionID)
	assert.Equal(t, plan.Filename, ack.Filename)
	assert.Equal(t, fixedNow.Add(time.Second), ack.AcceptedAt)

	require.Len(t, client.published, 1)
	assert.Equal(t, "carrier/zip-7/mission", client.published[0].topic)

	var order MissionOrder
	require.NoError(t, json.Unmarshal(client.published[0].payload, &order))
	assert.Equal(t, "d-1", order.DeliveryID)
	require.Len(t, order.Waypoints, 1)
	assert.InDelta(t, 50.0, order.Waypoints[0].Altitude, 1e-9)
	require.NotNil(t, order.Origin)
	assert.InDelta(t, -1.9441, order.Origin.Lat, 1e-9)
}

func TestSubmit_Rejected(t *testing.T) {
	client := newMockClient()
	c := newTestController(t, client)
	plan := testPlan()

	client.onPublish = func(string, []byte) {
		client.deliver(AckFilter, AckTopic("zip-7"), MissionAck{MissionID: plan.ID, DeliveryID: plan.DeliveryID, Reason: "battery low"})
	}

	_, err := c.Submit(context.Background(), plan)
	require.ErrorIs(t, err, mission.ErrRejected)
	assert.Contains(t, err.Error(), "battery low")
}

func TestSubmit_AckForEarlierDeliveryIgnored(t *testing.T) {
	client := newMockClient()
	c := newTestController(t, client)
	plan := testPlan()
	plan.DeliveryID = "d-2"

	// Same mission id, redelivered from the carrier's previous flight to
	// this hospital.
	client.onPublish = func(string, []byte) {
		client.deliver(AckFilter, AckTopic("zip-7"), MissionAck{MissionID: plan.ID, DeliveryID: "d-1", Accepted: true})
		client.deliver(AckFilter, AckTopic("zip-7"), MissionAck{MissionID: plan.ID, Accepted: true})
	}

	_, err := c.Submit(context.Background(), plan)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmit_AckCarriesFinalMissionID(t *testing.T) {
	client := newMockClient()
	c := newTestController(t, client)
	plan := testPlan()

	client.onPublish = func(string, []byte) {
		client.deliver(AckFilter, AckTopic("zip-7"), MissionAck{
			MissionID:      plan.ID,
			DeliveryID:     plan.DeliveryID,
			FinalMissionID: "zip-7-onboard-42",
			Accepted:       true,
		})
	}

	ack, err := c.Submit(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, "zip-7-onboard-42", ack.MissionID)
	assert.Equal(t, fixedNow, ack.AcceptedAt)
}

func TestSubmit_NoAckTimesOut(t *testing.T) {
	client := newMockClient()
	c := newTestController(t, client)

	_, err := c.Submit(context.Background(), testPlan())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, c.pending)
}

func TestSubmit_PublishError(t *testing.T) {
	client := newMockClient()
	c := newTestController(t, client)
	client.publishErr = errors.New("not connected")

	_, err := c.Submit(context.Background(), testPlan())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish mission")
}

func TestHandleAck_IgnoresUnknownAndGarbage(t *testing.T) {
	client := newMockClient()
	newTestController(t, client)

	assert.NotPanics(t, func() {
		client.deliver(AckFilter, AckTopic("zip-7"), MissionAck{MissionID: "nope", Accepted: true})
		client.handlers[AckFilter](nil, mockMessage{topic: AckTopic("zip-7"), payload: []byte("{")})
	})
}

func TestAbort_Publishes(t *testing.T) {
	client := newMockClient()
	c := newTestController(t, client)

	require.NoError(t, c.Abort(context.Background(), "zip-7", "m-1"))

	require.Len(t, client.published, 1)
	assert.Equal(t, "carrier/zip-7/mission/abort", client.published[0].topic)
	var abort MissionAbort
	require.NoError(t, json.Unmarshal(client.published[0].payload, &abort))
	assert.Equal(t, "m-1", abort.MissionID)
}

func TestPosition_TracksTelemetry(t *testing.T) {
	client := newMockClient()
	c := newTestController(t, client)

	_, err := c.Position(context.Background(), "zip-7")
	require.ErrorIs(t, err, carrier.ErrNoTelemetry)

	client.deliver(TelemetryFilter, TelemetryTopic("zip-7"), TelemetryReport{
		Lat: -1.95, Lon: 30.06, Altitude: 12, Timestamp: fixedNow.Add(-10 * time.Second).Unix(),
	})

	pos, err := c.Position(context.Background(), "zip-7")
	require.NoError(t, err)
	assert.Equal(t, geo.Coordinate{Lat: -1.95, Lon: 30.06}, pos.Coordinate)
	assert.InDelta(t, 12.0, pos.Altitude, 1e-9)

	// Older reports do not overwrite newer ones.
	client.deliver(TelemetryFilter, TelemetryTopic("zip-7"), TelemetryReport{
		Lat: -1.0, Lon: 30.0, Timestamp: fixedNow.Add(-time.Minute).Unix(),
	})
	pos, err = c.Position(context.Background(), "zip-7")
	require.NoError(t, err)
	assert.InDelta(t, -1.95, pos.Coordinate.Lat, 1e-9)
}

func TestPosition_RejectsStaleAndInvalid(t *testing.T) {
	client := newMockClient()
	c := newTestController(t, client)

	client.deliver(TelemetryFilter, TelemetryTopic("zip-7"), TelemetryReport{
		Lat: -1.95, Lon: 30.06, Timestamp: fixedNow.Add(-time.Hour).Unix(),
	})
	_, err := c.Position(context.Background(), "zip-7")
	assert.ErrorIs(t, err, carrier.ErrNoTelemetry)

	client.deliver(TelemetryFilter, TelemetryTopic("zip-8"), TelemetryReport{Lat: 95, Lon: 30})
	_, err = c.Position(context.Background(), "zip-8")
	assert.ErrorIs(t, err, carrier.ErrNoTelemetry)
}

func TestClose_DisconnectsClient(t *testing.T) {
	client := newMockClient()
	c := newTestController(t, client)

	c.Close()
	assert.True(t, client.disconnected)
}

func TestCarrierFromTopic(t *testing.T) {
	id, ok := carrierFromTopic("carrier/zip-7/telemetry")
	assert.True(t, ok)
	assert.Equal(t, "zip-7", id)

	_, ok = carrierFromTopic("drone/zip-7/telemetry")
	assert.False(t, ok)
	_, ok = carrierFromTopic("carrier//telemetry")
	assert.False(t, ok)
}
