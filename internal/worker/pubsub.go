package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/bloodlift/bloodlift/internal/abuse"
	"github.com/bloodlift/bloodlift/internal/delivery"
)

// Job types.
const (
	JobMissionStarted   = "mission_started"
	JobMissionCompleted = "mission_completed"
	JobAbuseReport      = "abuse_report"
	JobAutoDispatch     = "auto_dispatch"
)

// Lifecycle records carrier-control events against deliveries.
type Lifecycle interface {
	MarkInTransit(ctx context.Context, deliveryID, carrierID string) (*delivery.Request, error)
	MarkDelivered(ctx context.Context, deliveryID, carrierID string) (*delivery.Request, error)
}

// History supplies the full delivery history.
type History interface {
	History(ctx context.Context) ([]*delivery.Request, error)
}

// JobMessage is the payload of every worker message.
type JobMessage struct {
	JobType    string `json:"job_type"`
	EventID    string `json:"event_id,omitempty"`
	DeliveryID string `json:"delivery_id,omitempty"`
	CarrierID  string `json:"carrier_id,omitempty"`
}

// errDrop marks messages that must be acknowledged without effect.
var errDrop = errors.New("message dropped")

// JobHandlerConfig holds configuration for the job handler.
type JobHandlerConfig struct {
	Lifecycle    Lifecycle
	History      History
	Detector     *abuse.Detector
	AutoDispatch *AutoDispatchJob

	// Dedup is optional; without it redeliveries are processed again.
	Dedup *Dedup

	Logger zerolog.Logger
}

// JobHandler executes worker jobs independently of the transport.
type JobHandler struct {
	lifecycle    Lifecycle
	history      History
	detector     *abuse.Detector
	autoDispatch *AutoDispatchJob
	dedup        *Dedup
	logger       zerolog.Logger
}

// NewJobHandler creates a job handler.
func NewJobHandler(cfg JobHandlerConfig) *JobHandler {
	detector := cfg.Detector
	if detector == nil {
		detector = abuse.NewDetector(abuse.Config{})
	}
	return &JobHandler{
		lifecycle:    cfg.Lifecycle,
		history:      cfg.History,
		detector:     detector,
		autoDispatch: cfg.AutoDispatch,
		dedup:        cfg.Dedup,
		logger:       cfg.Logger,
	}
}

// Process runs the job in data. messageID identifies the transport message
// and is the dedup key when the job carries no event id. A nil error means
// the message should be acknowledged.
func (h *JobHandler) Process(ctx context.Context, messageID string, data []byte) error {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Error().Err(err).Str("message_id", messageID).Msg("failed to parse message")
		return nil
	}

	logger := h.logger.With().
		Str("message_id", messageID).
		Str("job_type", msg.JobType).
		Logger()

	eventID := msg.EventID
	if eventID == "" {
		eventID = messageID
	}

	if h.dedup != nil && eventID != "" && msg.JobType != JobAbuseReport && msg.JobType != JobAutoDispatch {
		first, err := h.dedup.Claim(ctx, msg.JobType, eventID)
		if err != nil {
			logger.Warn().Err(err).Msg("dedup unavailable, processing anyway")
		} else if !first {
			logger.Info().Str("event_id", eventID).Msg("duplicate event skipped")
			return nil
		}
	}

	err := h.run(ctx, msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errDrop):
		logger.Warn().Err(err).Msg("job dropped")
		return nil
	default:
		if h.dedup != nil && eventID != "" {
			if rerr := h.dedup.Release(context.WithoutCancel(ctx), msg.JobType, eventID); rerr != nil {
				logger.Warn().Err(rerr).Msg("failed to release dedup claim")
			}
		}
		logger.Error().Err(err).Msg("job failed")
		return err
	}
}

func (h *JobHandler) run(ctx context.Context, msg JobMessage) error {
	switch msg.JobType {
	case JobMissionStarted:
		return h.lifecycleEvent(ctx, msg, h.lifecycle.MarkInTransit)
	case JobMissionCompleted:
		return h.lifecycleEvent(ctx, msg, h.lifecycle.MarkDelivered)
	case JobAbuseReport:
		_, err := h.AbuseReport(ctx)
		return err
	case JobAutoDispatch:
		if h.autoDispatch == nil {
			return fmt.Errorf("%w: auto-dispatch not configured", errDrop)
		}
		h.autoDispatch.Run(ctx)
		return nil
	default:
		return fmt.Errorf("%w: unknown job type %q", errDrop, msg.JobType)
	}
}

type transition func(ctx context.Context, deliveryID, carrierID string) (*delivery.Request, error)

func (h *JobHandler) lifecycleEvent(ctx context.Context, msg JobMessage, apply transition) error {
	if msg.DeliveryID == "" || msg.CarrierID == "" {
		return fmt.Errorf("%w: delivery_id and carrier_id are required", errDrop)
	}

	req, err := apply(ctx, msg.DeliveryID, msg.CarrierID)
	if err != nil {
		if errors.Is(err, delivery.ErrNotFound) ||
			errors.Is(err, delivery.ErrInvalidTransition) ||
			errors.Is(err, delivery.ErrCarrierMismatch) {
			return fmt.Errorf("%w: %w", errDrop, err)
		}
		return err
	}

	h.logger.Info().
		Str("delivery_id", req.ID).
		Str("carrier_id", msg.CarrierID).
		Str("status", string(req.Status)).
		Msg("carrier event applied")
	return nil
}

// AbuseReport computes the urgency report and logs flagged facilities.
func (h *JobHandler) AbuseReport(ctx context.Context) ([]abuse.FacilityUrgencyStats, error) {
	history, err := h.history.History(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	report := h.detector.Report(history)
	flagged := abuse.Flagged(report)
	for _, s := range flagged {
		h.logger.Warn().
			Str("facility_id", s.FacilityID).
			Int("total", s.Total).
			Int("urgent", s.Urgent).
			Float64("urgent_percentage", s.UrgentPercentage).
			Msg("facility overuses urgent flag")
	}

	h.logger.Info().
		Int("facilities", len(report)).
		Int("flagged", len(flagged)).
		Msg("abuse report completed")
	return report, nil
}

// PubSubHandler feeds Pub/Sub messages to a JobHandler.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	jobs             *JobHandler
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Jobs             *JobHandler
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		jobs:             cfg.Jobs,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		start := time.Now()
		if err := h.jobs.Process(ctx, msg.ID, msg.Data); err != nil {
			msg.Nack()
			return
		}
		h.logger.Debug().
			Str("message_id", msg.ID).
			Dur("duration", time.Since(start)).
			Msg("message processed")
		msg.Ack()
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}
