package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/pkg/httputil"
)

// Handler exposes catalog endpoints on the operator API.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler creates a catalog handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// Routes registers catalog routes. Mutations require the operator role.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/services", h.listServices)
	r.Get("/services/{serviceID}", h.getService)
	r.Get("/policies", h.listPolicies)
	r.Get("/policies/{policyID}", h.getPolicy)

	r.Group(func(r chi.Router) {
		r.Use(httputil.RequireRole(domain.RoleOperator))
		r.Post("/services", h.createService)
		r.Patch("/services/{serviceID}", h.updateService)
		r.Post("/policies", h.createPolicy)
		r.Post("/policies/{policyID}/steps", h.addStep)
		r.Delete("/policies/{policyID}/steps/{stepID}", h.removeStep)
		r.Put("/policies/{policyID}/steps/order", h.reorderSteps)
	})
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrServiceNotFound, Status: http.StatusNotFound},
	{Error: ErrPolicyNotFound, Status: http.StatusNotFound},
	{Error: ErrStepNotFound, Status: http.StatusNotFound},
	{Error: ErrSlugTaken, Status: http.StatusConflict},
	{Error: ErrStepMismatch, Status: http.StatusBadRequest},
}

type createServiceRequest struct {
	Name                 string  `json:"name" validate:"required,min=1,max=200"`
	Description          *string `json:"description"`
	TeamID               *string `json:"team_id"`
	EscalationPolicyID   *string `json:"escalation_policy_id"`
	TargetAckMinutes     int     `json:"target_ack_minutes" validate:"min=0"`
	TargetResolveMinutes int     `json:"target_resolve_minutes" validate:"min=0"`
	NotifyOnSLABreach    bool    `json:"notify_on_sla_breach"`
	BreachChannel        string  `json:"breach_channel"`
}

func (h *Handler) createService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	svc, err := h.service.CreateService(r.Context(), CreateServiceInput{
		Name:                 req.Name,
		Description:          req.Description,
		TeamID:               req.TeamID,
		EscalationPolicyID:   req.EscalationPolicyID,
		TargetAckMinutes:     req.TargetAckMinutes,
		TargetResolveMinutes: req.TargetResolveMinutes,
		NotifyOnSLABreach:    req.NotifyOnSLABreach,
		BreachChannel:        domain.ChannelType(req.BreachChannel),
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusCreated, svc)
}

func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.service.GetService(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, svc)
}

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.service.ListServices(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, services)
}

type updateServiceRequest struct {
	Name                 *string `json:"name" validate:"omitempty,min=1,max=200"`
	Description          *string `json:"description"`
	TeamID               *string `json:"team_id"`
	EscalationPolicyID   *string `json:"escalation_policy_id"`
	TargetAckMinutes     *int    `json:"target_ack_minutes" validate:"omitempty,min=0"`
	TargetResolveMinutes *int    `json:"target_resolve_minutes" validate:"omitempty,min=0"`
	NotifyOnSLABreach    *bool   `json:"notify_on_sla_breach"`
	BreachChannel        *string `json:"breach_channel"`
}

func (h *Handler) updateService(w http.ResponseWriter, r *http.Request) {
	var req updateServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	in := UpdateServiceInput{
		Name:                 req.Name,
		Description:          req.Description,
		TeamID:               req.TeamID,
		EscalationPolicyID:   req.EscalationPolicyID,
		TargetAckMinutes:     req.TargetAckMinutes,
		TargetResolveMinutes: req.TargetResolveMinutes,
		NotifyOnSLABreach:    req.NotifyOnSLABreach,
	}
	if req.BreachChannel != nil {
		ch := domain.ChannelType(*req.BreachChannel)
		in.BreachChannel = &ch
	}

	svc, err := h.service.UpdateService(r.Context(), chi.URLParam(r, "serviceID"), in)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, svc)
}

type createPolicyRequest struct {
	Name        string  `json:"name" validate:"required,min=1,max=200"`
	Description *string `json:"description"`
}

func (h *Handler) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	policy, err := h.service.CreatePolicy(r.Context(), req.Name, req.Description)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusCreated, policy)
}

func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.service.GetPolicy(r.Context(), chi.URLParam(r, "policyID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, policy)
}

func (h *Handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.service.ListPolicies(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, policies)
}

type addStepRequest struct {
	DelayMinutes   int    `json:"delay_minutes" validate:"min=0"`
	TargetType     string `json:"target_type" validate:"required,oneof=USER TEAM SCHEDULE"`
	TargetID       string `json:"target_id" validate:"required"`
	NotifyTeamLead bool   `json:"notify_team_lead"`
}

func (h *Handler) addStep(w http.ResponseWriter, r *http.Request) {
	var req addStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	step, err := h.service.AddStep(r.Context(), chi.URLParam(r, "policyID"), AddStepInput{
		DelayMinutes:   req.DelayMinutes,
		TargetType:     domain.TargetType(req.TargetType),
		TargetID:       req.TargetID,
		NotifyTeamLead: req.NotifyTeamLead,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusCreated, step)
}

func (h *Handler) removeStep(w http.ResponseWriter, r *http.Request) {
	err := h.service.RemoveStep(r.Context(), chi.URLParam(r, "policyID"), chi.URLParam(r, "stepID"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusNoContent, nil)
}

type reorderStepsRequest struct {
	StepIDs []string `json:"step_ids" validate:"required,min=1"`
}

func (h *Handler) reorderSteps(w http.ResponseWriter, r *http.Request) {
	var req reorderStepsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	policy, err := h.service.ReorderSteps(r.Context(), chi.URLParam(r, "policyID"), req.StepIDs)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, policy)
}
