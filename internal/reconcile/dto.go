package reconcile

import (
	"github.com/aidosk/pointsledger/internal/ledger"
)

// ForceSyncRequest represents the request body for a forced pass.
// Empty partition means every partition; empty mode means
// bidirectional.
type ForceSyncRequest struct {
	Partition string `json:"partition,omitempty"`
	Mode      string `json:"mode,omitempty" validate:"omitempty,oneof=bidirectional names_only points_only force_sheet_to_ledger force_ledger_to_sheet"`
}

// SetEnabledRequest represents the request body for the sync toggle
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetIntervalRequest represents the request body for the interval knob
type SetIntervalRequest struct {
	Seconds int `json:"seconds" validate:"gte=5,lte=3600"`
}

// SyncStatsResponse represents accumulated reconciliation statistics
type SyncStatsResponse struct {
	TotalSyncs      int64  `json:"total_syncs"`
	SuccessfulSyncs int64  `json:"successful_syncs"`
	FailedSyncs     int64  `json:"failed_syncs"`
	LastError       string `json:"last_error,omitempty"`
	LastSyncTime    string `json:"last_sync_time,omitempty"`
}

// SyncStatusResponse is the full trigger-surface status document
type SyncStatusResponse struct {
	Enabled   bool              `json:"enabled"`
	Running   bool              `json:"running"`
	Scheduler string            `json:"scheduler"`
	Interval  int               `json:"interval"`
	Stats     SyncStatsResponse `json:"stats"`
}

// ToStatsResponse converts stored sync statistics to the response DTO
func ToStatsResponse(stats ledger.SyncStatistics) SyncStatsResponse {
	resp := SyncStatsResponse{
		TotalSyncs:      stats.TotalSyncs,
		SuccessfulSyncs: stats.SuccessfulSyncs,
		FailedSyncs:     stats.FailedSyncs,
		LastError:       stats.LastError,
	}
	if !stats.LastSyncTime.IsZero() {
		resp.LastSyncTime = stats.LastSyncTime.UTC().Format("2006-01-02T15:04:05Z")
	}
	return resp
}
