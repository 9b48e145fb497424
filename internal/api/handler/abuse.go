package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/bloodlift/bloodlift/internal/abuse"
	"github.com/bloodlift/bloodlift/internal/api/models"
	"github.com/bloodlift/bloodlift/internal/api/response"
	"github.com/bloodlift/bloodlift/internal/delivery"
)

// HistorySource supplies every delivery ever requested.
type HistorySource interface {
	History(ctx context.Context) ([]*delivery.Request, error)
}

// AbuseHandler serves the urgent-flag abuse report.
type AbuseHandler struct {
	history  HistorySource
	detector *abuse.Detector
	logger   zerolog.Logger
	now      func() time.Time
}

// AbuseHandlerConfig holds the AbuseHandler dependencies.
type AbuseHandlerConfig struct {
	History HistorySource

	// Detector defaults to the default thresholds.
	Detector *abuse.Detector

	Logger zerolog.Logger
	Now    func() time.Time
}

// NewAbuseHandler creates a new AbuseHandler.
func NewAbuseHandler(cfg AbuseHandlerConfig) *AbuseHandler {
	detector := cfg.Detector
	if detector == nil {
		detector = abuse.NewDetector(abuse.Config{})
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &AbuseHandler{history: cfg.History, detector: detector, logger: cfg.Logger, now: now}
}

// Report handles GET /v1/abuse-report. ?flagged=true limits the rows to
// flagged facilities.
func (h *AbuseHandler) Report(w http.ResponseWriter, r *http.Request) {
	history, err := h.history.History(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	report := h.detector.Report(history)
	flagged := abuse.Flagged(report)
	rows := report
	if r.URL.Query().Get("flagged") == "true" {
		rows = flagged
	}

	out := models.AbuseReport{
		Facilities: make([]models.FacilityUrgency, 0, len(rows)),
		Flagged:    len(flagged),
		Generated:  models.Timestamp(h.now()),
	}
	for _, s := range rows {
		out.Facilities = append(out.Facilities, models.NewFacilityUrgency(s))
	}
	response.JSON(w, r, http.StatusOK, out)
}
