package registry

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aidosk/pointsledger/internal/sheet"
	"github.com/aidosk/pointsledger/pkg/response"
)

// Handler handles HTTP requests for partition operations
type Handler struct {
	service *Service
}

// NewHandler creates a new registry handler with service dependency injected
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for partition endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/rename", h.Rename)
	r.Get("/orphans", h.Orphans)
	r.Delete("/orphans", h.PurgeOrphans)

	return r
}

// List handles GET /groups
// @Summary      List partitions
// @Description  Active partitions; refresh=true re-enumerates spreadsheet tabs and runs rename/delete detection
// @Tags         groups
// @Produce      json
// @Param        refresh query bool false "Force re-enumeration of spreadsheet tabs"
// @Success      200 {object} response.APIResponse{data=[]GroupResponse}
// @Failure      502 {object} response.APIResponse
// @Router       /groups [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	forceRefresh := r.URL.Query().Get("refresh") == "true"

	groups, err := h.service.ListPartitions(r.Context(), forceRefresh)
	if err != nil {
		if errors.Is(err, sheet.ErrAdapter) {
			response.BadGateway(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to list partitions")
		return
	}

	responses := make([]*GroupResponse, 0, len(groups))
	for _, group := range groups {
		responses = append(responses, ToResponse(group))
	}
	response.JSON(w, http.StatusOK, responses)
}

// Create handles POST /groups
// @Summary      Create a partition
// @Description  Creates the group record and the spreadsheet tab with a header row; rolls back the record if the tab fails
// @Tags         groups
// @Accept       json
// @Produce      json
// @Param        request body CreatePartitionRequest true "Partition name"
// @Success      201 {object} response.APIResponse{data=GroupResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Failure      502 {object} response.APIResponse
// @Router       /groups [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePartitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	group, err := h.service.CreatePartition(r.Context(), req.Name)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidName):
			response.BadRequest(w, err.Error())
		case errors.Is(err, ErrPartitionExists):
			response.Conflict(w, err.Error())
		case errors.Is(err, sheet.ErrAdapter):
			response.BadGateway(w, err.Error())
		default:
			response.InternalError(w, "Failed to create partition")
		}
		return
	}

	response.JSON(w, http.StatusCreated, ToResponse(group))
}

// Rename handles POST /groups/rename
// @Summary      Rename a partition
// @Description  Renames the tab and the group record explicitly, repointing member accounts; no heuristic involved
// @Tags         groups
// @Accept       json
// @Produce      json
// @Param        request body RenamePartitionRequest true "Old and new partition names"
// @Success      200 {object} response.APIResponse
// @Failure      400 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Failure      502 {object} response.APIResponse
// @Router       /groups/rename [post]
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenamePartitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.service.RenamePartition(r.Context(), req.Old, req.New); err != nil {
		switch {
		case errors.Is(err, ErrInvalidName):
			response.BadRequest(w, err.Error())
		case errors.Is(err, ErrNoSuchPartition), errors.Is(err, sheet.ErrPartitionNotFound):
			response.NotFound(w, err.Error())
		case errors.Is(err, sheet.ErrAdapter):
			response.BadGateway(w, err.Error())
		default:
			response.InternalError(w, "Failed to rename partition")
		}
		return
	}

	response.JSON(w, http.StatusOK, map[string]string{"old": req.Old, "new": req.New})
}

// Orphans handles GET /groups/orphans
// @Summary      List orphaned accounts
// @Description  Active accounts whose group reference points outside the current valid partition set
// @Tags         groups
// @Produce      json
// @Success      200 {object} response.APIResponse{data=OrphanResponse}
// @Failure      502 {object} response.APIResponse
// @Router       /groups/orphans [get]
func (h *Handler) Orphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := h.service.FindOrphanedAccounts(r.Context())
	if err != nil {
		if errors.Is(err, sheet.ErrAdapter) {
			response.BadGateway(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to find orphaned accounts")
		return
	}

	resp := &OrphanResponse{Count: len(orphans), Accounts: make([]*OrphanAccount, 0, len(orphans))}
	for _, account := range orphans {
		resp.Accounts = append(resp.Accounts, &OrphanAccount{
			ID:       account.ID,
			FullName: account.FullName,
			GroupID:  account.GroupID,
			Points:   account.Points,
		})
	}
	response.JSON(w, http.StatusOK, resp)
}

// PurgeOrphans handles DELETE /groups/orphans
// @Summary      Purge orphaned accounts
// @Description  Hard-deletes every account whose group no longer exists
// @Tags         groups
// @Produce      json
// @Success      200 {object} response.APIResponse{data=PurgeResponse}
// @Failure      502 {object} response.APIResponse
// @Router       /groups/orphans [delete]
func (h *Handler) PurgeOrphans(w http.ResponseWriter, r *http.Request) {
	purged, err := h.service.PurgeOrphanedAccounts(r.Context())
	if err != nil {
		if errors.Is(err, sheet.ErrAdapter) {
			response.BadGateway(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to purge orphaned accounts")
		return
	}

	response.JSON(w, http.StatusOK, &PurgeResponse{Purged: purged, Count: len(purged)})
}
