package reconcile

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aidosk/pointsledger/internal/config"
	"github.com/aidosk/pointsledger/internal/ledger"
	"github.com/aidosk/pointsledger/internal/sheet"
	"github.com/aidosk/pointsledger/pkg/response"
)

// Handler exposes the trigger surface the bot front end calls
type Handler struct {
	reconciler *Reconciler
	scheduler  *Scheduler
	store      ledger.Store
}

// NewHandler creates a new sync handler with dependencies injected
func NewHandler(reconciler *Reconciler, scheduler *Scheduler, store ledger.Store) *Handler {
	return &Handler{reconciler: reconciler, scheduler: scheduler, store: store}
}

// Routes returns the router for sync endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/force", h.Force)
	r.Get("/status", h.Status)
	r.Put("/enabled", h.SetEnabled)
	r.Put("/interval", h.SetInterval)

	return r
}

// Force handles POST /sync/force
// @Summary      Force a reconciliation pass
// @Description  Runs a pass now, over one partition or all of them; waits for any in-flight pass first
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        request body ForceSyncRequest false "Optional partition and mode"
// @Success      200 {object} response.APIResponse{data=[]PassStats}
// @Failure      400 {object} response.APIResponse
// @Failure      502 {object} response.APIResponse
// @Router       /sync/force [post]
func (h *Handler) Force(w http.ResponseWriter, r *http.Request) {
	var req ForceSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "Invalid request body")
		return
	}

	mode, err := ParseMode(req.Mode)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	stats, err := h.reconciler.Sync(r.Context(), req.Partition, mode)
	if err != nil {
		switch {
		case errors.Is(err, sheet.ErrPartitionNotFound):
			response.NotFound(w, err.Error())
		case errors.Is(err, sheet.ErrAdapter):
			response.BadGateway(w, err.Error())
		default:
			response.InternalError(w, err.Error())
		}
		return
	}

	response.JSON(w, http.StatusOK, stats)
}

// Status handles GET /sync/status
// @Summary      Sync status
// @Description  Whether sync is enabled, whether a pass is in flight, the loop state, the interval and the accumulated statistics
// @Tags         sync
// @Produce      json
// @Success      200 {object} response.APIResponse{data=SyncStatusResponse}
// @Router       /sync/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.GetSettings(r.Context())
	if err != nil {
		response.InternalError(w, "Failed to read settings")
		return
	}

	response.JSON(w, http.StatusOK, &SyncStatusResponse{
		Enabled:   settings.SyncEnabled,
		Running:   h.reconciler.Running(),
		Scheduler: h.scheduler.State().String(),
		Interval:  settings.SyncInterval,
		Stats:     ToStatsResponse(settings.SyncStats),
	})
}

// SetEnabled handles PUT /sync/enabled
// @Summary      Toggle background sync
// @Description  The loop keeps ticking while disabled and skips the pass, so re-enabling needs no restart
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        request body SetEnabledRequest true "Enabled flag"
// @Success      200 {object} response.APIResponse{data=SetEnabledRequest}
// @Failure      400 {object} response.APIResponse
// @Router       /sync/enabled [put]
func (h *Handler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if _, err := h.store.UpdateSettings(r.Context(), &ledger.SettingsPatch{SyncEnabled: &req.Enabled}); err != nil {
		response.InternalError(w, "Failed to update settings")
		return
	}

	response.JSON(w, http.StatusOK, &req)
}

// SetInterval handles PUT /sync/interval
// @Summary      Set the sync interval
// @Description  Seconds between scheduled passes, 5 to 3600
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        request body SetIntervalRequest true "Interval in seconds"
// @Success      200 {object} response.APIResponse{data=SetIntervalRequest}
// @Failure      400 {object} response.APIResponse
// @Router       /sync/interval [put]
func (h *Handler) SetInterval(w http.ResponseWriter, r *http.Request) {
	var req SetIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.Seconds < config.MinSyncInterval || req.Seconds > config.MaxSyncInterval {
		response.BadRequest(w, ErrInvalidInterval.Error())
		return
	}

	if _, err := h.store.UpdateSettings(r.Context(), &ledger.SettingsPatch{SyncInterval: &req.Seconds}); err != nil {
		response.InternalError(w, "Failed to update settings")
		return
	}

	response.JSON(w, http.StatusOK, &req)
}
