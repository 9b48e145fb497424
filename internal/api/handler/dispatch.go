// Package handler provides HTTP handlers for the dispatch API.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bloodlift/bloodlift/internal/api/middleware"
	"github.com/bloodlift/bloodlift/internal/api/models"
	"github.com/bloodlift/bloodlift/internal/api/response"
	"github.com/bloodlift/bloodlift/internal/delivery"
	"github.com/bloodlift/bloodlift/internal/dispatch"
)

// Dispatcher is the dispatch surface exposed over HTTP.
// *dispatch.Coordinator satisfies it.
type Dispatcher interface {
	Queue(ctx context.Context, carrierID string, includeUnassigned bool) ([]*delivery.Request, error)
	Assign(ctx context.Context, deliveryID, carrierID string) (*dispatch.Assignment, error)
	Cancel(ctx context.Context, deliveryID string) (*delivery.Request, error)
	Readiness(ctx context.Context, facilityID string, at time.Time) (*dispatch.Readiness, error)
}

var _ Dispatcher = (*dispatch.Coordinator)(nil)

// DispatchHandler handles /v1/dispatch endpoints.
type DispatchHandler struct {
	dispatcher Dispatcher
	validator  *Validator
	logger     zerolog.Logger
}

// NewDispatchHandler creates a new DispatchHandler.
func NewDispatchHandler(d Dispatcher, v *Validator, logger zerolog.Logger) *DispatchHandler {
	if v == nil {
		v = NewValidator()
	}
	return &DispatchHandler{dispatcher: d, validator: v, logger: logger}
}

// Queue handles GET /v1/dispatch/queue?carrier=&includeUnassigned=.
// Unassigned requests are only merged in when includeUnassigned=true.
func (h *DispatchHandler) Queue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	carrierID := q.Get("carrier")
	if carrierID == "" {
		response.BadRequest(w, r, "carrier is required", []models.FieldError{
			{Field: "carrier", Message: "is required", Code: "REQUIRED"},
		})
		return
	}

	includeUnassigned := false
	if raw := q.Get("includeUnassigned"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			response.BadRequest(w, r, "includeUnassigned must be a boolean", []models.FieldError{
				{Field: "includeUnassigned", Message: "must be true or false", Code: "INVALID"},
			})
			return
		}
		includeUnassigned = v
	}

	reqs, err := h.dispatcher.Queue(r.Context(), carrierID, includeUnassigned)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	items := make([]models.Delivery, 0, len(reqs))
	for _, req := range reqs {
		items = append(items, models.NewDelivery(req))
	}
	response.JSON(w, r, http.StatusOK, models.Queue{CarrierID: carrierID, Items: items, Count: len(items)})
}

// Assign handles POST /v1/dispatch/assign. A fresh assignment answers 201;
// repeating an assignment the carrier already holds answers 200.
func (h *DispatchHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var body models.AssignRequest
	if !h.validator.decodeBody(w, r, &body) {
		return
	}

	result, err := h.dispatcher.Assign(r.Context(), body.DeliveryID, body.CarrierID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info().
		Str("operator_id", middleware.GetOperatorID(r.Context())).
		Str("delivery_id", body.DeliveryID).
		Str("carrier_id", body.CarrierID).
		Bool("existing", result.Existing).
		Msg("assignment requested")

	out := models.Assignment{
		Delivery:   models.NewDelivery(result.Delivery),
		Mission:    models.NewMission(result.Plan),
		Conditions: models.NewConditions(result.Assessment),
		Existing:   result.Existing,
	}
	if result.Existing {
		response.JSON(w, r, http.StatusOK, out)
		return
	}
	response.Created(w, r, "/v1/deliveries/"+result.Delivery.ID, out)
}

// Cancel handles POST /v1/dispatch/deliveries/{deliveryId}/cancel.
func (h *DispatchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "deliveryId")

	cancelled, err := h.dispatcher.Cancel(r.Context(), deliveryID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info().
		Str("operator_id", middleware.GetOperatorID(r.Context())).
		Str("delivery_id", deliveryID).
		Msg("delivery cancelled by operator")
	response.JSON(w, r, http.StatusOK, models.NewDelivery(cancelled))
}

// Readiness handles GET /v1/dispatch/readiness?facility=&at=.
func (h *DispatchHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	facilityID := q.Get("facility")
	if facilityID == "" {
		response.BadRequest(w, r, "facility is required", []models.FieldError{
			{Field: "facility", Message: "is required", Code: "REQUIRED"},
		})
		return
	}

	var at time.Time
	if raw := q.Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.BadRequest(w, r, "at must be an RFC3339 timestamp", []models.FieldError{
				{Field: "at", Message: "must be an RFC3339 timestamp", Code: "INVALID"},
			})
			return
		}
		at = parsed
	}

	ready, err := h.dispatcher.Readiness(r.Context(), facilityID, at)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.Readiness{
		FacilityID: ready.FacilityID,
		Location:   models.Point{Lat: ready.Location.Lat, Lon: ready.Location.Lon},
		At:         models.Timestamp(ready.At),
		Conditions: models.NewConditions(ready.Assessment),
		Weather:    models.NewWeather(ready.Observation),
	})
}
