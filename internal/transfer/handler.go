package transfer

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aidosk/pointsledger/internal/ledger"
	"github.com/aidosk/pointsledger/pkg/middleware"
	"github.com/aidosk/pointsledger/pkg/response"
)

// Handler handles HTTP requests for transfer operations
type Handler struct {
	service *Service
}

// NewHandler creates a new transfer handler with service dependency injected
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for transfer endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Transfer)
	r.Post("/adjust", h.Adjust)
	r.Get("/log", h.Log)

	return r
}

// Transfer handles POST /transfers
// @Summary      Transfer points between accounts
// @Description  Atomically move points from sender to recipient, charging the sender a commission
// @Tags         transfers
// @Accept       json
// @Produce      json
// @Param        request body TransferRequest true "Transfer request"
// @Success      200 {object} response.APIResponse{data=TransferResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Failure      422 {object} response.APIResponse
// @Router       /transfers [post]
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	result, err := h.service.Transfer(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ErrSelfTransfer):
			response.BadRequest(w, err.Error())
		case errors.Is(err, ledger.ErrAccountNotFound):
			response.NotFound(w, err.Error())
		case errors.Is(err, ledger.ErrAccountInactive), errors.Is(err, ledger.ErrInsufficientBalance):
			response.UnprocessableEntity(w, err.Error())
		case errors.Is(err, ledger.ErrWriteConflict):
			response.Conflict(w, err.Error())
		default:
			response.InternalError(w, "Failed to transfer points")
		}
		return
	}

	response.JSON(w, http.StatusOK, result)
}

// Adjust handles POST /transfers/adjust
// @Summary      Adjust an account balance
// @Description  Apply a signed admin delta to one account's balance; negative results are allowed
// @Tags         transfers
// @Accept       json
// @Produce      json
// @Param        X-Actor-ID header string true "Acting admin identity"
// @Param        request body AdjustRequest true "Adjustment request"
// @Success      200 {object} response.APIResponse{data=AdjustResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /transfers/adjust [post]
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetActorID(r.Context())
	if !ok {
		response.BadRequest(w, "X-Actor-ID header required")
		return
	}

	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	result, err := h.service.Adjust(r.Context(), actorID, &req)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount):
			response.BadRequest(w, err.Error())
		case errors.Is(err, ledger.ErrAccountNotFound):
			response.NotFound(w, err.Error())
		default:
			response.InternalError(w, "Failed to adjust balance")
		}
		return
	}

	response.JSON(w, http.StatusOK, result)
}

// Log handles GET /transfers/log
// @Summary      List transaction log entries
// @Description  Newest-first audit records, filterable by type and involved account
// @Tags         transfers
// @Produce      json
// @Param        type query string false "Entry type" Enums(transfer, add_points, subtract_points, manual_edit)
// @Param        account_id query string false "Only entries involving this account"
// @Param        limit query int false "Max entries (default 20, max 100)"
// @Success      200 {object} response.APIResponse{data=[]LogEntryResponse}
// @Router       /transfers/log [get]
func (h *Handler) Log(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.service.Log(r.Context(), r.URL.Query().Get("type"), r.URL.Query().Get("account_id"), limit)
	if err != nil {
		response.InternalError(w, "Failed to list transaction log")
		return
	}

	responses := make([]*LogEntryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, ToLogResponse(entry))
	}
	response.JSON(w, http.StatusOK, responses)
}
