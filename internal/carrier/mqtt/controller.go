package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/bloodlift/bloodlift/internal/carrier"
	"github.com/bloodlift/bloodlift/internal/geo"
	"github.com/bloodlift/bloodlift/internal/mission"
)

// ControllerConfig holds configuration for the MQTT carrier controller.
type ControllerConfig struct {
	// Client is a connected MQTT client.
	Client Client

	// QoS for publishes and subscriptions (default: 1).
	QoS byte

	// AckTimeout bounds the wait for a mission acknowledgement when the
	// caller's context has no deadline (default: 10s).
	AckTimeout time.Duration

	// MaxTelemetryAge is how old a position may be and still be reported
	// (default: 2 minutes).
	MaxTelemetryAge time.Duration

	Logger zerolog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Controller submits missions to carriers and tracks their positions.
type Controller struct {
	client          Client
	qos             byte
	ackTimeout      time.Duration
	maxTelemetryAge time.Duration
	logger          zerolog.Logger
	now             func() time.Time

	mu        sync.Mutex
	pending   map[string]chan MissionAck // by ackKey
	positions map[string]carrier.Position
}

var (
	_ mission.Controller = (*Controller)(nil)
	_ mission.Aborter    = (*Controller)(nil)
	_ carrier.Telemetry  = (*Controller)(nil)
)

// NewController subscribes to acknowledgement and telemetry topics.
func NewController(cfg ControllerConfig) (*Controller, error) {
	qos := cfg.QoS
	if qos == 0 {
		qos = 1
	}
	ackTimeout := cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Second
	}
	maxAge := cfg.MaxTelemetryAge
	if maxAge <= 0 {
		maxAge = 2 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	c := &Controller{
		client:          cfg.Client,
		qos:             qos,
		ackTimeout:      ackTimeout,
		maxTelemetryAge: maxAge,
		logger:          cfg.Logger,
		now:             now,
		pending:         make(map[string]chan MissionAck),
		positions:       make(map[string]carrier.Position),
	}

	if tok := c.client.Subscribe(AckFilter, qos, c.handleAck); tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("subscribe %s: %w", AckFilter, tok.Error())
	}
	if tok := c.client.Subscribe(TelemetryFilter, qos, c.handleTelemetry); tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("subscribe %s: %w", TelemetryFilter, tok.Error())
	}

	return c, nil
}

// Submit publishes the plan and waits for the carrier's acknowledgement.
// A refusal is reported as mission.ErrRejected.
func (c *Controller) Submit(ctx context.Context, plan *mission.Plan) (mission.Ack, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.ackTimeout)
		defer cancel()
	}

	payload, err := json.Marshal(orderFromPlan(plan, c.now().Unix()))
	if err != nil {
		return mission.Ack{}, fmt.Errorf("encode mission: %w", err)
	}

	key := ackKey(plan.ID, plan.DeliveryID)
	ch := make(chan MissionAck, 1)
	c.mu.Lock()
	c.pending[key] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.pending[key] == ch {
			delete(c.pending, key)
		}
		c.mu.Unlock()
	}()

	if err := wait(ctx, c.client.Publish(MissionTopic(plan.CarrierID), c.qos, false, payload)); err != nil {
		return mission.Ack{}, fmt.Errorf("publish mission: %w", err)
	}

	select {
	case ack := <-ch:
		if !ack.Accepted {
			return mission.Ack{}, fmt.Errorf("%w: %s", mission.ErrRejected, ack.Reason)
		}
		result := mission.Ack{
			MissionID:  ack.MissionID,
			Filename:   ack.Filename,
			AcceptedAt: c.now(),
		}
		if ack.FinalMissionID != "" {
			result.MissionID = ack.FinalMissionID
		}
		if ack.Timestamp > 0 {
			result.AcceptedAt = time.Unix(ack.Timestamp, 0).UTC()
		}
		return result, nil
	case <-ctx.Done():
		return mission.Ack{}, fmt.Errorf("await ack for %s: %w", plan.ID, ctx.Err())
	}
}

// Abort withdraws a mission previously accepted by carrierID.
func (c *Controller) Abort(ctx context.Context, carrierID, missionID string) error {
	payload, err := json.Marshal(MissionAbort{MissionID: missionID, Timestamp: c.now().Unix()})
	if err != nil {
		return err
	}
	if err := wait(ctx, c.client.Publish(AbortTopic(carrierID), c.qos, false, payload)); err != nil {
		return fmt.Errorf("publish abort: %w", err)
	}
	return nil
}

// Position returns the last fresh position reported by carrierID.
func (c *Controller) Position(_ context.Context, carrierID string) (*carrier.Position, error) {
	c.mu.Lock()
	pos, ok := c.positions[carrierID]
	c.mu.Unlock()

	if !ok || c.now().Sub(pos.ReportedAt) > c.maxTelemetryAge {
		return nil, carrier.ErrNoTelemetry
	}
	return &pos, nil
}

// Close disconnects from the broker.
func (c *Controller) Close() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

func (c *Controller) handleAck(_ paho.Client, msg paho.Message) {
	var ack MissionAck
	if err := json.Unmarshal(msg.Payload(), &ack); err != nil {
		c.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("invalid mission ack")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[ackKey(ack.MissionID, ack.DeliveryID)]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().
			Str("mission_id", ack.MissionID).
			Str("delivery_id", ack.DeliveryID).
			Msg("ack for no pending order")
		return
	}

	select {
	case ch <- ack:
	default:
	}
}

func (c *Controller) handleTelemetry(_ paho.Client, msg paho.Message) {
	carrierID, ok := carrierFromTopic(msg.Topic())
	if !ok {
		return
	}

	var report TelemetryReport
	if err := json.Unmarshal(msg.Payload(), &report); err != nil {
		c.logger.Warn().Err(err).Str("carrier_id", carrierID).Msg("invalid telemetry")
		return
	}

	coord := geo.Coordinate{Lat: report.Lat, Lon: report.Lon}
	if err := coord.Validate(); err != nil {
		c.logger.Warn().Err(err).Str("carrier_id", carrierID).Msg("telemetry out of range")
		return
	}

	reportedAt := c.now()
	if report.Timestamp > 0 {
		reportedAt = time.Unix(report.Timestamp, 0).UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.positions[carrierID]; ok && prev.ReportedAt.After(reportedAt) {
		return
	}
	c.positions[carrierID] = carrier.Position{
		Coordinate: coord,
		Altitude:   report.Altitude,
		ReportedAt: reportedAt,
	}
}
