package settings

import (
	"context"
	"errors"

	"github.com/aidosk/pointsledger/internal/ledger"
)

// Common errors
var (
	ErrInvalidRate      = errors.New("commission rate must be between 0 and 0.5")
	ErrInvalidBotStatus = errors.New("bot status must be public or private")
)

// Service manages the bot settings singleton
type Service struct {
	store ledger.Store
}

// NewService creates a new settings service with store dependency injected
func NewService(store ledger.Store) *Service {
	return &Service{store: store}
}

// Get returns the settings document, creating defaults on first read
func (s *Service) Get(ctx context.Context) (*ledger.Settings, error) {
	return s.store.GetSettings(ctx)
}

// Update applies a merge-patch to the bot-facing settings fields.
// Sync toggles have their own surface and are not patched here.
func (s *Service) Update(ctx context.Context, req *UpdateSettingsRequest) (*ledger.Settings, error) {
	if req.CommissionRate != nil && (*req.CommissionRate < 0 || *req.CommissionRate > 0.5) {
		return nil, ErrInvalidRate
	}
	if req.BotStatus != nil && *req.BotStatus != "public" && *req.BotStatus != "private" {
		return nil, ErrInvalidBotStatus
	}

	return s.store.UpdateSettings(ctx, &ledger.SettingsPatch{
		CommissionRate: req.CommissionRate,
		BotStatus:      req.BotStatus,
		Maintenance:    req.Maintenance,
	})
}

// MaintenanceOn reports whether maintenance mode is active. Store
// failures read as "not in maintenance" so a broken store never locks
// every mutating request out.
func (s *Service) MaintenanceOn(ctx context.Context) bool {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return false
	}
	return settings.Maintenance
}
