package sla

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bissquit/oncall-garden/internal/pkg/httputil"
)

// Handler exposes the breach monitor's view on the operator API.
type Handler struct {
	monitor *Monitor
}

// NewHandler creates an SLA handler.
func NewHandler(monitor *Monitor) *Handler {
	return &Handler{monitor: monitor}
}

// Routes registers SLA routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/sla/warnings", h.listWarnings)
}

type warningResponse struct {
	IncidentID       string    `json:"incident_id"`
	ServiceID        string    `json:"service_id"`
	BreachType       string    `json:"breach_type"`
	TargetMinutes    int       `json:"target_minutes"`
	Deadline         time.Time `json:"deadline"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	Breached         bool      `json:"breached"`
}

func (h *Handler) listWarnings(w http.ResponseWriter, r *http.Request) {
	warnings := h.monitor.LastResult()

	out := make([]warningResponse, 0, len(warnings))
	for _, warning := range warnings {
		out = append(out, warningResponse{
			IncidentID:       warning.IncidentID,
			ServiceID:        warning.ServiceID,
			BreachType:       string(warning.BreachType),
			TargetMinutes:    warning.TargetMinutes,
			Deadline:         warning.Deadline,
			RemainingSeconds: int64(warning.TimeRemaining / time.Second),
			Breached:         warning.Breached(),
		})
	}
	httputil.Success(w, http.StatusOK, out)
}
