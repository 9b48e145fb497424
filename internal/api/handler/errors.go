package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/bloodlift/bloodlift/internal/api/response"
	"github.com/bloodlift/bloodlift/internal/delivery"
	"github.com/bloodlift/bloodlift/internal/dispatch"
	"github.com/bloodlift/bloodlift/internal/facility"
	"github.com/bloodlift/bloodlift/internal/geo"
	"github.com/bloodlift/bloodlift/internal/mission"
	"github.com/bloodlift/bloodlift/internal/provider/resilience"
	"github.com/bloodlift/bloodlift/internal/safety"
)

// tiered is implemented by errors that carry the safety tier behind an
// unsafe-conditions refusal.
type tiered interface {
	Tier() safety.Tier
}

// writeError maps domain errors to problem responses. Decisions the
// dispatcher expects to see (busy carriers, unsafe weather) are not logged
// as errors.
func writeError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, dispatch.ErrInvalidRequest),
		errors.Is(err, geo.ErrInvalidCoordinate),
		errors.Is(err, mission.ErrInvalidInput):
		response.BadRequest(w, r, err.Error(), nil)

	case errors.Is(err, delivery.ErrNotFound),
		errors.Is(err, facility.ErrNotFound):
		response.NotFound(w, r, err.Error())

	case errors.Is(err, delivery.ErrCarrierBusy),
		errors.Is(err, delivery.ErrReserved),
		errors.Is(err, delivery.ErrInvalidTransition),
		errors.Is(err, delivery.ErrCarrierMismatch),
		errors.Is(err, delivery.ErrAlreadyExists):
		response.Conflict(w, r, err.Error())

	case errors.Is(err, mission.ErrUnsafeConditions):
		tier := safety.TierUnknown
		var t tiered
		if errors.As(err, &t) {
			tier = t.Tier()
		}
		response.UnsafeConditions(w, r, err.Error(), string(tier))

	case errors.Is(err, mission.ErrMissingDestination),
		errors.Is(err, safety.ErrInvalidObservation):
		response.Unprocessable(w, r, err.Error())

	case errors.Is(err, mission.ErrRejected):
		logger.Warn().Err(err).Str("path", r.URL.Path).Msg("mission rejected by carrier control")
		response.MissionRejected(w, r, err.Error())

	case errors.Is(err, dispatch.ErrCollaboratorUnavailable),
		errors.Is(err, resilience.ErrMaxRetriesExceeded),
		errors.Is(err, resilience.ErrCircuitOpen):
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("dependency unavailable")
		response.ServiceUnavailable(w, r, "a dependency is temporarily unavailable, retry later")

	default:
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		response.InternalError(w, r, "an unexpected error occurred")
	}
}
