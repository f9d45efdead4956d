package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aidosk/pointsledger/internal/ledger"
	"github.com/aidosk/pointsledger/pkg/clock"
)

func newTestService() (*Service, *ledger.MemoryStore) {
	store := ledger.NewMemoryStore(clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	return NewService(store), store
}

func TestGetCreatesDefaults(t *testing.T) {
	service, _ := newTestService()

	settings, err := service.Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if settings.CommissionRate != 0.10 {
		t.Fatalf("CommissionRate = %v, want 0.10", settings.CommissionRate)
	}
	if settings.BotStatus != "public" || settings.Maintenance {
		t.Fatalf("bot defaults = %q/%v, want public/false", settings.BotStatus, settings.Maintenance)
	}
	if !settings.SyncEnabled || settings.SyncInterval != 10 {
		t.Fatalf("sync defaults = %v/%d, want true/10", settings.SyncEnabled, settings.SyncInterval)
	}
}

func TestUpdatePatchesOnlyGivenFields(t *testing.T) {
	service, _ := newTestService()

	rate := 0.15
	maintenance := true
	updated, err := service.Update(context.Background(), &UpdateSettingsRequest{
		CommissionRate: &rate,
		Maintenance:    &maintenance,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.CommissionRate != 0.15 || !updated.Maintenance {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.BotStatus != "public" {
		t.Fatalf("BotStatus = %q, want untouched public", updated.BotStatus)
	}
	if !updated.SyncEnabled || updated.SyncInterval != 10 {
		t.Fatalf("sync fields touched: %v/%d", updated.SyncEnabled, updated.SyncInterval)
	}
}

func TestUpdateValidation(t *testing.T) {
	service, _ := newTestService()

	for _, rate := range []float64{-0.1, 0.6} {
		if _, err := service.Update(context.Background(), &UpdateSettingsRequest{CommissionRate: &rate}); !errors.Is(err, ErrInvalidRate) {
			t.Fatalf("rate %v error = %v, want ErrInvalidRate", rate, err)
		}
	}

	status := "closed"
	if _, err := service.Update(context.Background(), &UpdateSettingsRequest{BotStatus: &status}); !errors.Is(err, ErrInvalidBotStatus) {
		t.Fatalf("bot status error = %v, want ErrInvalidBotStatus", err)
	}

	// Boundary rates are allowed.
	for _, rate := range []float64{0, 0.5} {
		if _, err := service.Update(context.Background(), &UpdateSettingsRequest{CommissionRate: &rate}); err != nil {
			t.Fatalf("rate %v rejected: %v", rate, err)
		}
	}
}

func TestMaintenanceProbe(t *testing.T) {
	service, _ := newTestService()

	if service.MaintenanceOn(context.Background()) {
		t.Fatal("maintenance on by default")
	}

	on := true
	if _, err := service.Update(context.Background(), &UpdateSettingsRequest{Maintenance: &on}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !service.MaintenanceOn(context.Background()) {
		t.Fatal("maintenance probe missed the enabled flag")
	}
}
