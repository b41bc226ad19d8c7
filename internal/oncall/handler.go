package oncall

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bissquit/oncall-garden/internal/pkg/httputil"
)

// Handler exposes schedule endpoints on the operator API.
type Handler struct {
	service *Service
}

// NewHandler creates an on-call handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers schedule routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/schedules", h.listSchedules)
	r.Get("/schedules/{scheduleID}", h.getSchedule)
	r.Get("/schedules/{scheduleID}/current", h.current)
	r.Get("/schedules/{scheduleID}/blocks", h.blocks)
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrScheduleNotFound, Status: http.StatusNotFound},
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.service.ListSchedules(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, schedules)
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.service.GetSchedule(r.Context(), chi.URLParam(r, "scheduleID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, schedule)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	at := time.Now().UTC()
	if v := r.URL.Query().Get("at"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "at must be RFC 3339")
			return
		}
		at = parsed
	}

	userID, ok, err := h.service.CurrentOnCall(r.Context(), chi.URLParam(r, "scheduleID"), at)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	resp := map[string]interface{}{"at": at, "on_call": ok}
	if ok {
		resp["user_id"] = userID
	}
	httputil.Success(w, http.StatusOK, resp)
}

func (h *Handler) blocks(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	from, to := now, now.Add(7*24*time.Hour)

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "from must be RFC 3339")
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "to must be RFC 3339")
			return
		}
		to = parsed
	}
	if !from.Before(to) {
		httputil.Error(w, http.StatusBadRequest, "from must be before to")
		return
	}

	blocks, err := h.service.BlocksInWindow(r.Context(), chi.URLParam(r, "scheduleID"), from, to)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, blocks)
}
