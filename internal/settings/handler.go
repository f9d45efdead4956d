package settings

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aidosk/pointsledger/pkg/response"
)

// Handler handles HTTP requests for settings operations
type Handler struct {
	service *Service
}

// NewHandler creates a new settings handler with service dependency injected
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for settings endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.Get)
	r.Patch("/", h.Update)

	return r
}

// Get handles GET /settings
// @Summary      Get bot settings
// @Description  Full settings document including sync statistics
// @Tags         settings
// @Produce      json
// @Success      200 {object} response.APIResponse{data=SettingsResponse}
// @Router       /settings [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.Get(r.Context())
	if err != nil {
		response.InternalError(w, "Failed to get settings")
		return
	}
	response.JSON(w, http.StatusOK, ToResponse(settings))
}

// Update handles PATCH /settings
// @Summary      Update bot settings
// @Description  Merge-patch of commission rate, bot status and maintenance flag
// @Tags         settings
// @Accept       json
// @Produce      json
// @Param        request body UpdateSettingsRequest true "Settings patch"
// @Success      200 {object} response.APIResponse{data=SettingsResponse}
// @Failure      400 {object} response.APIResponse
// @Router       /settings [patch]
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	settings, err := h.service.Update(r.Context(), &req)
	if err != nil {
		if errors.Is(err, ErrInvalidRate) || errors.Is(err, ErrInvalidBotStatus) {
			response.BadRequest(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to update settings")
		return
	}

	response.JSON(w, http.StatusOK, ToResponse(settings))
}
