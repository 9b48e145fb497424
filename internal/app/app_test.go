package app_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlift/bloodlift/internal/app"
	"github.com/bloodlift/bloodlift/internal/carrier/mqtt"
	"github.com/bloodlift/bloodlift/internal/config"
	"github.com/bloodlift/bloodlift/internal/delivery"
	"github.com/bloodlift/bloodlift/internal/weather"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type ackMessage struct {
	topic   string
	payload []byte
}

func (m ackMessage) Duplicate() bool   { return false }
func (m ackMessage) Qos() byte         { return 1 }
func (m ackMessage) Retained() bool    { return false }
func (m ackMessage) Topic() string     { return m.topic }
func (m ackMessage) MessageID() uint16 { return 0 }
func (m ackMessage) Payload() []byte   { return m.payload }
func (m ackMessage) Ack()              {}

// autoAckBroker accepts every mission it is sent.
type autoAckBroker struct {
	mu        sync.Mutex
	handlers  map[string]paho.MessageHandler
	published []string
}

func newAutoAckBroker() *autoAckBroker {
	return &autoAckBroker{handlers: make(map[string]paho.MessageHandler)}
}

func (b *autoAckBroker) IsConnected() bool { return true }
func (b *autoAckBroker) Disconnect(uint)   {}

func (b *autoAckBroker) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = cb
	return doneToken{}
}

func (b *autoAckBroker) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	b.mu.Lock()
	b.published = append(b.published, topic)
	ackHandler := b.handlers[mqtt.AckFilter]
	b.mu.Unlock()

	if carrierID, ok := strings.CutSuffix(strings.TrimPrefix(topic, "carrier/"), "/mission"); ok {
		var order mqtt.MissionOrder
		_ = json.Unmarshal(payload.([]byte), &order)
		ack, _ := json.Marshal(mqtt.MissionAck{MissionID: order.MissionID, DeliveryID: order.DeliveryID, Filename: order.Filename, Accepted: true})
		ackHandler(nil, ackMessage{topic: mqtt.AckTopic(carrierID), payload: ack})
	}
	return doneToken{}
}

type calmWeather struct{}

func (calmWeather) Name() string { return "calm" }

func (calmWeather) GetCurrentWeather(_ context.Context, lat, lon float64) (*weather.Observation, error) {
	return &weather.Observation{
		Lat: lat, Lon: lon,
		Temperature: 22, WindSpeed: 3, Visibility: 10000,
		Condition:  weather.ConditionClear,
		ObservedAt: time.Now(), FetchedAt: time.Now(),
	}, nil
}

func (calmWeather) GetForecast(context.Context, float64, float64) (*weather.Forecast, error) {
	return nil, weather.ErrNoDataForLocation
}

func testPolicy() *config.Policy {
	p := config.DefaultPolicy()
	p.Facilities = []config.FacilitySeed{
		{ID: "nbc-kigali", Kind: "donation_center", Lat: -1.9441, Lon: 30.0619},
		{ID: "hosp-kabgayi", Kind: "hospital", Lat: -2.0989, Lon: 29.7556},
	}
	return &p
}

func TestBuild_RequiresBroker(t *testing.T) {
	_, err := app.Build(context.Background(), app.Options{
		Config:     &config.Config{MemoryStore: true},
		Policy:     testPolicy(),
		Logger:     zerolog.Nop(),
		Registerer: prometheus.NewRegistry(),
	})
	assert.ErrorIs(t, err, app.ErrNoBroker)
}

func TestBuild_MemoryStoreAssignsEndToEnd(t *testing.T) {
	ctx := context.Background()
	broker := newAutoAckBroker()

	a, err := app.Build(ctx, app.Options{
		Config:     &config.Config{MemoryStore: true},
		Policy:     testPolicy(),
		Logger:     zerolog.Nop(),
		Registerer: prometheus.NewRegistry(),
		Carrier:    broker,
		Weather:    calmWeather{},
	})
	require.NoError(t, err)
	defer a.Close()

	require.Len(t, a.Checks, 1)
	assert.Equal(t, "carrier-control", a.Checks[0].Name)
	assert.NoError(t, a.Checks[0].Probe(ctx))

	require.NoError(t, a.Deliveries.Create(ctx, &delivery.Request{
		ID:                    "d-1",
		OriginFacilityID:      "nbc-kigali",
		DestinationFacilityID: "hosp-kabgayi",
		BloodType:             "O-",
		Quantity:              2,
		Urgent:                true,
		RequestedAt:           time.Now(),
	}))

	result, err := a.Coordinator.Assign(ctx, "d-1", "carrier-7")
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusAssigned, result.Delivery.Status)
	require.NotNil(t, result.Plan)
	assert.Equal(t, "carrier-7", result.Plan.CarrierID)

	broker.mu.Lock()
	assert.Contains(t, broker.published, mqtt.MissionTopic("carrier-7"))
	broker.mu.Unlock()

	coord, err := a.Lookup.Coordinate(ctx, "hosp-kabgayi")
	require.NoError(t, err)
	assert.InDelta(t, -2.0989, coord.Lat, 1e-9)
}
