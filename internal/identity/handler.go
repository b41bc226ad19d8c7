package identity

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/oncall-garden/internal/domain"
	"github.com/bissquit/oncall-garden/internal/pkg/httputil"
)

// Handler exposes authentication endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler creates an identity handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// PublicRoutes registers unauthenticated routes.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/auth/login", h.login)
}

// Routes registers authenticated routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/users/me", h.me)
	r.With(httputil.RequireRole(domain.RoleAdmin)).
		Post("/services/{serviceID}/integration-keys", h.issueKey)
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrInvalidCredentials, Status: http.StatusUnauthorized},
	{Error: ErrUserNotFound, Status: http.StatusNotFound},
	{Error: ErrTeamNotFound, Status: http.StatusNotFound},
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userResponse struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	token, user, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  userResponse{ID: user.ID, Name: user.Name, Email: user.Email, Role: user.Role},
	})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, userResponse{ID: user.ID, Name: user.Name, Email: user.Email, Role: user.Role})
}

type issueKeyRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

func (h *Handler) issueKey(w http.ResponseWriter, r *http.Request) {
	var req issueKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	plaintext, key, err := h.service.IssueIntegrationKey(r.Context(), chi.URLParam(r, "serviceID"), req.Name)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	// The plaintext key appears in this response only.
	httputil.Success(w, http.StatusCreated, map[string]interface{}{
		"id":   key.ID,
		"name": key.Name,
		"key":  plaintext,
	})
}
