package settings

import (
	"github.com/aidosk/pointsledger/internal/ledger"
)

// UpdateSettingsRequest represents the merge-patch body for bot settings.
// Absent fields are left unchanged.
type UpdateSettingsRequest struct {
	CommissionRate *float64 `json:"commission_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
	BotStatus      *string  `json:"bot_status,omitempty" validate:"omitempty,oneof=public private"`
	Maintenance    *bool    `json:"maintenance,omitempty"`
}

// SyncStatsResponse represents accumulated reconciliation statistics
type SyncStatsResponse struct {
	TotalSyncs      int64  `json:"total_syncs"`
	SuccessfulSyncs int64  `json:"successful_syncs"`
	FailedSyncs     int64  `json:"failed_syncs"`
	LastError       string `json:"last_error,omitempty"`
	LastSyncTime    string `json:"last_sync_time,omitempty"`
}

// SettingsResponse represents the full settings document
type SettingsResponse struct {
	CommissionRate float64           `json:"commission_rate"`
	BotStatus      string            `json:"bot_status"`
	Maintenance    bool              `json:"maintenance"`
	SyncEnabled    bool              `json:"sync_enabled"`
	SyncInterval   int               `json:"sync_interval"`
	SyncStatistics SyncStatsResponse `json:"sync_statistics"`
}

// ToResponse converts a settings document to its response DTO
func ToResponse(s *ledger.Settings) *SettingsResponse {
	stats := SyncStatsResponse{
		TotalSyncs:      s.SyncStats.TotalSyncs,
		SuccessfulSyncs: s.SyncStats.SuccessfulSyncs,
		FailedSyncs:     s.SyncStats.FailedSyncs,
		LastError:       s.SyncStats.LastError,
	}
	if !s.SyncStats.LastSyncTime.IsZero() {
		stats.LastSyncTime = s.SyncStats.LastSyncTime.UTC().Format("2006-01-02T15:04:05Z")
	}
	return &SettingsResponse{
		CommissionRate: s.CommissionRate,
		BotStatus:      s.BotStatus,
		Maintenance:    s.Maintenance,
		SyncEnabled:    s.SyncEnabled,
		SyncInterval:   s.SyncInterval,
		SyncStatistics: stats,
	}
}
