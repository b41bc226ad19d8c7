package incidents

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/pkg/httputil"
)

// NotificationLister is the slice of the notifications store the incident
// API needs for the delivery history endpoint.
type NotificationLister interface {
	ListByIncident(ctx context.Context, incidentID string) ([]domain.Notification, error)
}

// Handler exposes incident lifecycle endpoints on the operator API.
type Handler struct {
	service       *Service
	notifications NotificationLister
	validate      *validator.Validate
}

// NewHandler creates an incidents handler.
func NewHandler(service *Service, notifications NotificationLister) *Handler {
	return &Handler{service: service, notifications: notifications, validate: validator.New()}
}

// Routes registers incident routes. All of them require at least the
// responder role, which AuthMiddleware already guarantees.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/incidents", h.list)
	r.Get("/incidents/{incidentID}", h.get)
	r.Get("/incidents/{incidentID}/events", h.listEvents)
	r.Get("/incidents/{incidentID}/alerts", h.listAlerts)
	r.Get("/incidents/{incidentID}/notifications", h.listNotifications)

	r.Post("/incidents/{incidentID}/acknowledge", h.acknowledge)
	r.Post("/incidents/{incidentID}/resolve", h.resolve)
	r.Post("/incidents/{incidentID}/snooze", h.snooze)
	r.Post("/incidents/{incidentID}/unsnooze", h.unsnooze)
	r.Post("/incidents/{incidentID}/suppress", h.suppress)
	r.Post("/incidents/{incidentID}/reopen", h.reopen)
	r.Post("/incidents/{incidentID}/reassign", h.reassign)
	r.Post("/incidents/acknowledge", h.bulkAcknowledge)
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound},
	{Error: ErrInvalidNote, Status: http.StatusBadRequest},
	{Error: ErrInvalidSnooze, Status: http.StatusBadRequest},
	{Error: ErrNoAssignee, Status: http.StatusBadRequest},
	{Error: domain.ErrInvalidTransition, Status: http.StatusConflict},
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		ServiceID:  q.Get("service_id"),
		Status:     domain.IncidentStatus(q.Get("status")),
		AssigneeID: q.Get("assignee_id"),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "unknown status")
		return
	}

	incidents, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, incidents)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	inc, err := h.service.Get(r.Context(), chi.URLParam(r, "incidentID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.ListEvents(r.Context(), chi.URLParam(r, "incidentID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, events)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.service.ListAlerts(r.Context(), chi.URLParam(r, "incidentID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, alerts)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "incidentID")
	if _, err := h.service.Get(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	records, err := h.notifications.ListByIncident(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, records)
}

// actor returns the authenticated user ID for audit attribution.
func actor(r *http.Request) *string {
	if id := httputil.GetUserID(r.Context()); id != "" {
		return &id
	}
	return nil
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	inc, err := h.service.Acknowledge(r.Context(), chi.URLParam(r, "incidentID"), actor(r))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

type resolveRequest struct {
	Note string `json:"note" validate:"required"`
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.service.Resolve(r.Context(), chi.URLParam(r, "incidentID"), req.Note, actor(r))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

type snoozeRequest struct {
	Until time.Time `json:"until" validate:"required"`
}

func (h *Handler) snooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.service.Snooze(r.Context(), chi.URLParam(r, "incidentID"), req.Until, actor(r))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

func (h *Handler) unsnooze(w http.ResponseWriter, r *http.Request) {
	inc, err := h.service.Unsnooze(r.Context(), chi.URLParam(r, "incidentID"), actor(r))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

func (h *Handler) suppress(w http.ResponseWriter, r *http.Request) {
	inc, err := h.service.Suppress(r.Context(), chi.URLParam(r, "incidentID"), actor(r))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	inc, err := h.service.Reopen(r.Context(), chi.URLParam(r, "incidentID"), actor(r))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

type reassignRequest struct {
	UserID *string `json:"user_id"`
	TeamID *string `json:"team_id"`
}

func (h *Handler) reassign(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inc, err := h.service.Reassign(r.Context(), chi.URLParam(r, "incidentID"), req.UserID, req.TeamID, actor(r))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

type bulkAcknowledgeRequest struct {
	IncidentIDs []string `json:"incident_ids" validate:"required,min=1"`
}

func (h *Handler) bulkAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req bulkAcknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	count, err := h.service.BulkAcknowledge(r.Context(), req.IncidentIDs, actor(r))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]int64{"acknowledged": count})
}
