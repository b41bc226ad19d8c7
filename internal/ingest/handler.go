package ingest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/oncall-garden/internal/catalog"
	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/identity"
	"github.com/bissquit/oncall-garden/internal/pkg/httputil"
	"github.com/bissquit/oncall-garden/internal/pkg/ratelimit"
)

// KeyVerifier authenticates integration keys presented on intake requests.
type KeyVerifier interface {
	VerifyIntegrationKey(ctx context.Context, serviceID, presented string) (*identity.IntegrationKey, error)
}

// Handler exposes the public event intake endpoint. It authenticates with
// integration keys, not user tokens, so it mounts outside AuthMiddleware.
type Handler struct {
	service  *Service
	keys     KeyVerifier
	limiter  *ratelimit.Limiter
	validate *validator.Validate
}

// NewHandler creates the intake handler. limiter enforces the per-key event
// budget.
func NewHandler(service *Service, keys KeyVerifier, limiter *ratelimit.Limiter) *Handler {
	return &Handler{
		service:  service,
		keys:     keys,
		limiter:  limiter,
		validate: validator.New(),
	}
}

// Routes registers intake routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/services/{serviceID}/events", h.createEvent)
}

type eventPayload struct {
	Summary       string          `json:"summary" validate:"max=1024"`
	Source        *string         `json:"source"`
	Severity      string          `json:"severity" validate:"omitempty,oneof=critical error warning info"`
	CustomDetails json.RawMessage `json:"custom_details"`
}

type eventRequest struct {
	EventAction string       `json:"event_action" validate:"required,oneof=trigger acknowledge resolve"`
	DedupKey    string       `json:"dedup_key" validate:"max=255"`
	Payload     eventPayload `json:"payload"`
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceID")

	apiKey := r.Header.Get("X-Api-Key")
	if apiKey == "" {
		httputil.Error(w, http.StatusUnauthorized, "missing X-Api-Key header")
		return
	}
	key, err := h.keys.VerifyIntegrationKey(r.Context(), serviceID, apiKey)
	if err != nil {
		httputil.Error(w, http.StatusUnauthorized, "invalid integration key")
		return
	}

	if decision := h.limiter.Allow(key.ID); !decision.Allowed {
		rateLimitedTotal.Inc()
		httputil.RateLimited(w, decision.RetryAfter)
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.service.ProcessEvent(r.Context(), serviceID, Event{
		Action:        domain.EventAction(req.EventAction),
		DedupKey:      req.DedupKey,
		Summary:       req.Payload.Summary,
		Severity:      domain.Severity(req.Payload.Severity),
		Source:        req.Payload.Source,
		CustomDetails: req.Payload.CustomDetails,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
			{Error: catalog.ErrServiceNotFound, Status: http.StatusNotFound},
			{Error: ErrUnknownAction, Status: http.StatusBadRequest},
			{Error: ErrUnknownSeverity, Status: http.StatusBadRequest},
			{Error: ErrMissingSummary, Status: http.StatusBadRequest},
		})
		return
	}

	eventsTotal.WithLabelValues(req.EventAction, string(result.Action)).Inc()
	httputil.Result(w, http.StatusAccepted, result)
}
