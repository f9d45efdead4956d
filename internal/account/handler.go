package account

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aidosk/pointsledger/internal/ledger"
	"github.com/aidosk/pointsledger/internal/transfer"
	"github.com/aidosk/pointsledger/pkg/response"
)

// Handler handles HTTP requests for account operations
type Handler struct {
	service *Service
}

// NewHandler creates a new account handler with service dependency injected
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for account endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Register)
	r.Get("/", h.List)
	r.Get("/pending", h.PendingReview)
	r.Get("/ranking", h.Ranking)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
	r.Post("/{id}/restore", h.RequestRestore)
	r.Post("/{id}/ban", h.Ban)
	r.Get("/{id}/history", h.History)

	return r
}

// Register handles POST /accounts
// @Summary      Register a new account
// @Description  Creates a pending account; a valid teacher code registers a teacher
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        request body RegisterRequest true "Registration request"
// @Success      201 {object} response.APIResponse{data=AccountResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Failure      422 {object} response.APIResponse
// @Router       /accounts [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.ID == "" {
		response.BadRequest(w, "Account ID is required")
		return
	}

	account, err := h.service.Register(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidName):
			response.BadRequest(w, err.Error())
		case errors.Is(err, ledger.ErrAccountExists):
			response.Conflict(w, err.Error())
		case errors.Is(err, ErrBannedForever):
			response.UnprocessableEntity(w, err.Error())
		default:
			response.InternalError(w, "Failed to register account")
		}
		return
	}

	response.JSON(w, http.StatusCreated, ToResponse(account))
}

// List handles GET /accounts
// @Summary      List accounts
// @Description  Accounts filtered by role, status and group
// @Tags         accounts
// @Produce      json
// @Param        role query string false "Role filter" Enums(teacher, student)
// @Param        status query string false "Status filter" Enums(pending, active, pending_restore, deleted, banned)
// @Param        group_id query string false "Group filter; empty value selects ungrouped accounts"
// @Success      200 {object} response.APIResponse{data=[]AccountResponse}
// @Router       /accounts [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := &ledger.AccountFilter{
		Role:   ledger.Role(r.URL.Query().Get("role")),
		Status: ledger.Status(r.URL.Query().Get("status")),
	}
	if r.URL.Query().Has("group_id") {
		groupID := r.URL.Query().Get("group_id")
		filter.GroupID = &groupID
	}

	accounts, err := h.service.List(r.Context(), filter)
	if err != nil {
		response.InternalError(w, "Failed to list accounts")
		return
	}

	response.JSON(w, http.StatusOK, toResponses(accounts))
}

// PendingReview handles GET /accounts/pending
// @Summary      List accounts awaiting review
// @Description  New registrations followed by restore requests
// @Tags         accounts
// @Produce      json
// @Success      200 {object} response.APIResponse{data=[]AccountResponse}
// @Router       /accounts/pending [get]
func (h *Handler) PendingReview(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.PendingReview(r.Context())
	if err != nil {
		response.InternalError(w, "Failed to list pending accounts")
		return
	}
	response.JSON(w, http.StatusOK, toResponses(accounts))
}

// Ranking handles GET /accounts/ranking
// @Summary      Points ranking
// @Description  Active students ordered by points, paged
// @Tags         accounts
// @Produce      json
// @Param        group query string false "Restrict ranking to one group"
// @Param        page query int false "Page number (default 1)"
// @Success      200 {object} response.APIResponse{data=RankingResponse}
// @Router       /accounts/ranking [get]
func (h *Handler) Ranking(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	ranking, err := h.service.Ranking(r.Context(), r.URL.Query().Get("group"), page)
	if err != nil {
		response.InternalError(w, "Failed to build ranking")
		return
	}
	response.JSON(w, http.StatusOK, ranking)
}

// Get handles GET /accounts/{id}
// @Summary      Get account by ID
// @Tags         accounts
// @Produce      json
// @Param        id path string true "Account ID"
// @Success      200 {object} response.APIResponse{data=AccountResponse}
// @Failure      404 {object} response.APIResponse
// @Router       /accounts/{id} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			response.NotFound(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to get account")
		return
	}
	response.JSON(w, http.StatusOK, ToResponse(account))
}

// Update handles PATCH /accounts/{id}
// @Summary      Update account identity fields
// @Description  Merge-patch of name, contact fields, group and role
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        id path string true "Account ID"
// @Param        request body UpdateAccountRequest true "Account patch"
// @Success      200 {object} response.APIResponse{data=AccountResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /accounts/{id} [patch]
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	account, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidName):
			response.BadRequest(w, err.Error())
		case errors.Is(err, ledger.ErrAccountNotFound):
			response.NotFound(w, err.Error())
		default:
			response.BadRequest(w, err.Error())
		}
		return
	}

	response.JSON(w, http.StatusOK, ToResponse(account))
}

// Delete handles DELETE /accounts/{id}
// @Summary      Soft-delete an account
// @Description  Marks the account deleted; its sheet row is removed by the next reconciliation pass
// @Tags         accounts
// @Produce      json
// @Param        id path string true "Account ID"
// @Success      200 {object} response.APIResponse{data=AccountResponse}
// @Failure      404 {object} response.APIResponse
// @Router       /accounts/{id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.SoftDelete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			response.NotFound(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to delete account")
		return
	}
	response.JSON(w, http.StatusOK, ToResponse(account))
}

// Approve handles POST /accounts/{id}/approve
// @Summary      Approve a pending registration or restore request
// @Tags         accounts
// @Produce      json
// @Param        id path string true "Account ID"
// @Success      200 {object} response.APIResponse{data=AccountResponse}
// @Failure      404 {object} response.APIResponse
// @Failure      422 {object} response.APIResponse
// @Router       /accounts/{id}/approve [post]
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.reviewError(w, err, "Failed to approve account")
		return
	}
	response.JSON(w, http.StatusOK, ToResponse(account))
}

// Reject handles POST /accounts/{id}/reject
// @Summary      Reject a pending registration or restore request
// @Description  Pending registrations are removed; rejected restores are permanently banned
// @Tags         accounts
// @Produce      json
// @Param        id path string true "Account ID"
// @Success      200 {object} response.APIResponse{data=RejectResponse}
// @Failure      404 {object} response.APIResponse
// @Failure      422 {object} response.APIResponse
// @Router       /accounts/{id}/reject [post]
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Reject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.reviewError(w, err, "Failed to reject account")
		return
	}
	response.JSON(w, http.StatusOK, result)
}

// RequestRestore handles POST /accounts/{id}/restore
// @Summary      Request restoration of a deleted account
// @Tags         accounts
// @Produce      json
// @Param        id path string true "Account ID"
// @Success      200 {object} response.APIResponse{data=AccountResponse}
// @Failure      404 {object} response.APIResponse
// @Failure      422 {object} response.APIResponse
// @Router       /accounts/{id}/restore [post]
func (h *Handler) RequestRestore(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.RequestRestore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrAccountNotFound):
			response.NotFound(w, err.Error())
		case errors.Is(err, ErrBannedForever), errors.Is(err, ErrNotDeleted):
			response.UnprocessableEntity(w, err.Error())
		default:
			response.InternalError(w, "Failed to request restore")
		}
		return
	}
	response.JSON(w, http.StatusOK, ToResponse(account))
}

// Ban handles POST /accounts/{id}/ban
// @Summary      Permanently ban an account
// @Tags         accounts
// @Produce      json
// @Param        id path string true "Account ID"
// @Success      200 {object} response.APIResponse{data=AccountResponse}
// @Failure      404 {object} response.APIResponse
// @Router       /accounts/{id}/ban [post]
func (h *Handler) Ban(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.Ban(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			response.NotFound(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to ban account")
		return
	}
	response.JSON(w, http.StatusOK, ToResponse(account))
}

// History handles GET /accounts/{id}/history
// @Summary      Recent transactions involving an account
// @Tags         accounts
// @Produce      json
// @Param        id path string true "Account ID"
// @Param        limit query int false "Max entries (default 15, max 100)"
// @Success      200 {object} response.APIResponse{data=[]transfer.LogEntryResponse}
// @Failure      404 {object} response.APIResponse
// @Router       /accounts/{id}/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.service.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			response.NotFound(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to load account history")
		return
	}

	responses := make([]*transfer.LogEntryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, transfer.ToLogResponse(entry))
	}
	response.JSON(w, http.StatusOK, responses)
}

func (h *Handler) reviewError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, ErrNotAwaitingReview):
		response.UnprocessableEntity(w, err.Error())
	default:
		response.InternalError(w, fallback)
	}
}

func toResponses(accounts []*ledger.Account) []*AccountResponse {
	responses := make([]*AccountResponse, 0, len(accounts))
	for _, account := range accounts {
		responses = append(responses, ToResponse(account))
	}
	return responses
}
