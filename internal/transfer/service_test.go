package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aidosk/pointsledger/internal/ledger"
	"github.com/aidosk/pointsledger/pkg/clock"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore(clock.Fake(testEpoch))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, log), store
}

func seedActive(t *testing.T, store *ledger.MemoryStore, id string, points int64) {
	t.Helper()
	_, err := store.CreateAccount(context.Background(), &ledger.Account{
		ID: id, FullName: "Account " + id, Points: points,
		Role: ledger.RoleStudent, Status: ledger.StatusActive,
	})
	if err != nil {
		t.Fatalf("CreateAccount(%q) failed: %v", id, err)
	}
}

func TestCommission(t *testing.T) {
	tests := []struct {
		amount int64
		rate   float64
		want   int64
	}{
		{100, 0.10, 10},
		{50, 0.10, 5},
		{55, 0.10, 5},
		{1, 0.10, 0},
		{9, 0.10, 0},
		{100, 0, 0},
		{33, 0.15, 4},
		{1000, 0.025, 25},
	}
	for _, tt := range tests {
		if got := Commission(tt.amount, tt.rate); got != tt.want {
			t.Errorf("Commission(%d, %v) = %d, want %d", tt.amount, tt.rate, got, tt.want)
		}
	}
}

func TestTransferChargesCommissionFromSettings(t *testing.T) {
	service, store := newTestService(t)
	seedActive(t, store, "sender", 100)
	seedActive(t, store, "recipient", 0)

	result, err := service.Transfer(context.Background(), &TransferRequest{
		SenderID: "sender", RecipientID: "recipient", Amount: 50,
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if result.Commission != 5 {
		t.Fatalf("Commission = %d, want 5 at the default rate", result.Commission)
	}
	if result.SenderBalance != 45 || result.RecipientBalance != 50 {
		t.Fatalf("balances = %d/%d, want 45/50", result.SenderBalance, result.RecipientBalance)
	}

	entries, err := store.ListLogEntries(context.Background(), &ledger.LogFilter{Type: ledger.LogTransfer})
	if err != nil {
		t.Fatalf("ListLogEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d transfer log entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.SenderID != "sender" || entry.RecipientID != "recipient" || entry.Amount != 50 || entry.Commission != 5 {
		t.Fatalf("log entry = %+v", entry)
	}
}

func TestTransferHonorsUpdatedRate(t *testing.T) {
	service, store := newTestService(t)
	seedActive(t, store, "sender", 100)
	seedActive(t, store, "recipient", 0)

	rate := 0.20
	if _, err := store.UpdateSettings(context.Background(), &ledger.SettingsPatch{CommissionRate: &rate}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	result, err := service.Transfer(context.Background(), &TransferRequest{
		SenderID: "sender", RecipientID: "recipient", Amount: 50,
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if result.Commission != 10 {
		t.Fatalf("Commission = %d, want 10 at rate 0.20", result.Commission)
	}
	if result.SenderBalance != 40 {
		t.Fatalf("SenderBalance = %d, want 40", result.SenderBalance)
	}
}

func TestTransferRejectsSelfAndBadAmounts(t *testing.T) {
	service, store := newTestService(t)
	seedActive(t, store, "sender", 100)
	seedActive(t, store, "recipient", 0)

	_, err := service.Transfer(context.Background(), &TransferRequest{SenderID: "sender", RecipientID: "sender", Amount: 10})
	if !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("self transfer error = %v, want ErrSelfTransfer", err)
	}

	for _, amount := range []int64{0, -1} {
		_, err := service.Transfer(context.Background(), &TransferRequest{SenderID: "sender", RecipientID: "recipient", Amount: amount})
		if !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Fatalf("amount %d error = %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestTransferInsufficientIncludesCommission(t *testing.T) {
	service, store := newTestService(t)
	seedActive(t, store, "sender", 40)
	seedActive(t, store, "recipient", 0)

	_, err := service.Transfer(context.Background(), &TransferRequest{SenderID: "sender", RecipientID: "recipient", Amount: 50})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}

	sender, _ := store.GetAccount(context.Background(), "sender")
	if sender.Points != 40 {
		t.Fatalf("sender balance = %d, want unchanged 40", sender.Points)
	}
	if entries, _ := store.ListLogEntries(context.Background(), nil); len(entries) != 0 {
		t.Fatalf("failed transfer left %d log entries", len(entries))
	}
}

func TestAdjustAddAndSubtract(t *testing.T) {
	service, store := newTestService(t)
	seedActive(t, store, "u1", 10)

	added, err := service.Adjust(context.Background(), "admin", &AdjustRequest{AccountID: "u1", Delta: 15, Comment: "contest"})
	if err != nil {
		t.Fatalf("Adjust(+15) failed: %v", err)
	}
	if added.NewBalance != 25 {
		t.Fatalf("NewBalance = %d, want 25", added.NewBalance)
	}

	subtracted, err := service.Adjust(context.Background(), "admin", &AdjustRequest{AccountID: "u1", Delta: -30})
	if err != nil {
		t.Fatalf("Adjust(-30) failed: %v", err)
	}
	if subtracted.NewBalance != -5 {
		t.Fatalf("NewBalance = %d, want -5 (no floor on adjustments)", subtracted.NewBalance)
	}

	entries, err := store.ListLogEntries(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListLogEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d log entries, want 2", len(entries))
	}
	if entries[0].Type != ledger.LogSubtractPoints || entries[0].Amount != 30 || entries[0].OldPoints != 25 || entries[0].NewPoints != -5 {
		t.Fatalf("subtract entry = %+v", entries[0])
	}
	if entries[1].Type != ledger.LogAddPoints || entries[1].Amount != 15 || entries[1].ActorID != "admin" || entries[1].Comment != "contest" {
		t.Fatalf("add entry = %+v", entries[1])
	}
}

func TestAdjustErrors(t *testing.T) {
	service, store := newTestService(t)
	seedActive(t, store, "u1", 10)

	if _, err := service.Adjust(context.Background(), "admin", &AdjustRequest{AccountID: "u1", Delta: 0}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("zero delta error = %v, want ErrInvalidAmount", err)
	}
	if _, err := service.Adjust(context.Background(), "admin", &AdjustRequest{AccountID: "ghost", Delta: 5}); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("missing account error = %v, want ErrAccountNotFound", err)
	}
}

func TestLogClampsLimit(t *testing.T) {
	service, store := newTestService(t)

	for i := 0; i < 25; i++ {
		if _, err := store.AppendLogEntry(context.Background(), &ledger.LogEntry{Type: ledger.LogTransfer, Amount: int64(i)}); err != nil {
			t.Fatalf("AppendLogEntry failed: %v", err)
		}
	}

	entries, err := service.Log(context.Background(), "", "", 0)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(entries) != 20 {
		t.Fatalf("default limit returned %d entries, want 20", len(entries))
	}

	entries, err = service.Log(context.Background(), "", "", 3)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("explicit limit returned %d entries, want 3", len(entries))
	}
}
