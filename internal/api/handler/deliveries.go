package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bloodlift/bloodlift/internal/api/models"
	"github.com/bloodlift/bloodlift/internal/api/response"
	"github.com/bloodlift/bloodlift/internal/delivery"
	"github.com/bloodlift/bloodlift/internal/facility"
)

// DeliveryStore is the subset of delivery.Repository the handler uses.
type DeliveryStore interface {
	Get(ctx context.Context, id string) (*delivery.Request, error)
	Create(ctx context.Context, r *delivery.Request) error
}

// DeliveryHandler handles /v1/deliveries endpoints.
type DeliveryHandler struct {
	store      DeliveryStore
	facilities facility.Lookup
	validator  *Validator
	logger     zerolog.Logger
	now        func() time.Time
}

// DeliveryHandlerConfig holds configuration for the delivery handler.
type DeliveryHandlerConfig struct {
	Store DeliveryStore

	// Facilities, when set, rejects requests naming unknown facilities.
	Facilities facility.Lookup

	Validator *Validator
	Logger    zerolog.Logger
	Now       func() time.Time
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(cfg DeliveryHandlerConfig) *DeliveryHandler {
	v := cfg.Validator
	if v == nil {
		v = NewValidator()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &DeliveryHandler{
		store:      cfg.Store,
		facilities: cfg.Facilities,
		validator:  v,
		logger:     cfg.Logger,
		now:        now,
	}
}

// Create handles POST /v1/deliveries.
func (h *DeliveryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body models.CreateDeliveryRequest
	if !h.validator.decodeBody(w, r, &body) {
		return
	}

	if h.facilities != nil {
		for _, ref := range []struct{ field, id string }{
			{"originFacilityId", body.OriginFacilityID},
			{"destinationFacilityId", body.DestinationFacilityID},
		} {
			if _, err := h.facilities.Coordinate(r.Context(), ref.id); err != nil {
				if errors.Is(err, facility.ErrNotFound) {
					response.BadRequest(w, r, "unknown facility", []models.FieldError{
						{Field: ref.field, Message: "unknown facility " + ref.id, Code: "UNKNOWN_FACILITY"},
					})
					return
				}
				writeError(w, r, h.logger, err)
				return
			}
		}
	}

	req := &delivery.Request{
		ID:                    uuid.NewString(),
		OriginFacilityID:      body.OriginFacilityID,
		DestinationFacilityID: body.DestinationFacilityID,
		BloodType:             body.BloodType,
		Quantity:              body.Quantity,
		Urgent:                body.Urgent,
		Status:                delivery.StatusPending,
		RequestedAt:           h.now().UTC(),
	}
	if body.PlannedDate != nil {
		planned := body.PlannedDate.Time()
		req.PlannedDate = &planned
	}

	if err := h.store.Create(r.Context(), req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info().
		Str("delivery_id", req.ID).
		Str("destination_facility_id", req.DestinationFacilityID).
		Bool("urgent", req.Urgent).
		Msg("delivery requested")
	response.Created(w, r, "/v1/deliveries/"+req.ID, models.NewDelivery(req))
}

// Get handles GET /v1/deliveries/{deliveryId}.
func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.store.Get(r.Context(), chi.URLParam(r, "deliveryId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewDelivery(req))
}
