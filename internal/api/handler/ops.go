package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/bloodlift/bloodlift/internal/api/models"
	"github.com/bloodlift/bloodlift/internal/api/response"
	"github.com/bloodlift/bloodlift/internal/provider/resilience"
	"github.com/bloodlift/bloodlift/internal/worker"
)

// readyTimeout bounds each dependency check.
const readyTimeout = 2 * time.Second

// Check probes one dependency. A nil error means healthy.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// AutoDispatchStats exposes the auto-dispatch loop counters.
type AutoDispatchStats interface {
	Stats() worker.JobStats
}

var _ AutoDispatchStats = (*worker.AutoDispatchJob)(nil)

// OpsHandlerConfig holds configuration for the ops handler.
type OpsHandlerConfig struct {
	Version   string
	BuildTime string

	// Checks gate readiness and are reported as subsystems.
	Checks []Check

	Providers    *resilience.Registry
	AutoDispatch AutoDispatchStats
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version      string
	buildTime    string
	checks       []Check
	providers    *resilience.Registry
	autoDispatch AutoDispatchStats
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	return &OpsHandler{
		version:      cfg.Version,
		buildTime:    cfg.BuildTime,
		checks:       cfg.Checks,
		providers:    cfg.Providers,
		autoDispatch: cfg.AutoDispatch,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	subsystems := h.runChecks(r.Context())

	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}
	failed := map[string]any{}
	for _, s := range subsystems {
		if s.Status == models.HealthStatusFail {
			failed[s.Name] = *s.Detail
		}
	}
	if len(failed) > 0 {
		health.Status = models.HealthStatusFail
		health.Details = failed
		response.JSON(w, r, http.StatusServiceUnavailable, health)
		return
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - provider and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: h.runChecks(r.Context()),
		Providers:  h.providerStatuses(),
	}

	for _, s := range status.Subsystems {
		status.Status = worst(status.Status, s.Status)
	}
	for _, p := range status.Providers {
		status.Status = worst(status.Status, p.Status)
	}

	if h.autoDispatch != nil {
		stats := h.autoDispatch.Stats()
		ad := &models.AutoDispatchStatus{
			Runs:          stats.Runs,
			Assigned:      stats.Assigned,
			Grounded:      stats.Grounded,
			Failed:        stats.Failed,
			LastRunMillis: stats.LastRunTook.Milliseconds(),
		}
		if !stats.LastRunAt.IsZero() {
			ad.LastRunAt = models.TimestampPtr(&stats.LastRunAt)
		}
		status.AutoDispatch = ad
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) runChecks(ctx context.Context) []models.SubsystemStatus {
	out := make([]models.SubsystemStatus, len(h.checks))
	for i, c := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, readyTimeout)
		err := c.Probe(cctx)
		cancel()

		out[i] = models.SubsystemStatus{Name: c.Name, Status: models.HealthStatusOK}
		if err != nil {
			msg := err.Error()
			out[i].Status = models.HealthStatusFail
			out[i].Detail = &msg
		}
	}
	return out
}

func (h *OpsHandler) providerStatuses() []models.ProviderStatus {
	if h.providers == nil {
		return []models.ProviderStatus{}
	}
	all := h.providers.AllHealth()
	out := make([]models.ProviderStatus, 0, len(all))
	for _, p := range all {
		ps := models.ProviderStatus{
			Provider:      p.Name,
			Status:        models.HealthStatusOK,
			CircuitState:  p.CircuitState.String(),
			LastSuccessAt: models.TimestampPtr(p.LastSuccessAt),
			LastFailureAt: models.TimestampPtr(p.LastFailureAt),
		}
		switch p.CircuitState {
		case gobreaker.StateOpen:
			ps.Status = models.HealthStatusFail
		case gobreaker.StateHalfOpen:
			ps.Status = models.HealthStatusDegraded
		}
		if p.LastError != "" {
			msg := p.LastError
			ps.Message = &msg
		}
		out = append(out, ps)
	}
	return out
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
