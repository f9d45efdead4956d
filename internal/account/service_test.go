package account

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aidosk/pointsledger/internal/ledger"
	"github.com/aidosk/pointsledger/pkg/clock"
)

const teacherCode = "chalk-dust"

func newTestService() (*Service, *ledger.MemoryStore) {
	store := ledger.NewMemoryStore(clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	return NewService(store, teacherCode), store
}

func register(t *testing.T, service *Service, id string) *ledger.Account {
	t.Helper()
	account, err := service.Register(context.Background(), &RegisterRequest{ID: id, FullName: "Some Student"})
	if err != nil {
		t.Fatalf("Register(%q) failed: %v", id, err)
	}
	return account
}

func TestRegisterDefaults(t *testing.T) {
	service, _ := newTestService()

	account := register(t, service, "u1")
	if account.Status != ledger.StatusPending {
		t.Fatalf("Status = %q, want pending", account.Status)
	}
	if account.Role != ledger.RoleStudent {
		t.Fatalf("Role = %q, want student", account.Role)
	}
	if account.Points != 0 {
		t.Fatalf("Points = %d, want 0", account.Points)
	}
}

func TestRegisterTeacherCode(t *testing.T) {
	service, _ := newTestService()

	account, err := service.Register(context.Background(), &RegisterRequest{
		ID: "t1", FullName: "A Teacher", TeacherCode: teacherCode,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if account.Role != ledger.RoleTeacher {
		t.Fatalf("Role = %q, want teacher", account.Role)
	}
	if account.Status != ledger.StatusPending {
		t.Fatalf("Status = %q, teachers still start pending", account.Status)
	}

	wrong, err := service.Register(context.Background(), &RegisterRequest{
		ID: "t2", FullName: "Pretender", TeacherCode: "wrong",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if wrong.Role != ledger.RoleStudent {
		t.Fatalf("wrong code role = %q, want student", wrong.Role)
	}
}

func TestRegisterNameValidation(t *testing.T) {
	service, _ := newTestService()

	for _, name := range []string{"", "ab", "  a  ", "John 2nd"} {
		_, err := service.Register(context.Background(), &RegisterRequest{ID: "u1", FullName: name})
		if !errors.Is(err, ErrInvalidName) {
			t.Fatalf("name %q error = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestRegisterExistingAccounts(t *testing.T) {
	service, _ := newTestService()
	register(t, service, "u1")

	if _, err := service.Register(context.Background(), &RegisterRequest{ID: "u1", FullName: "Again Me"}); !errors.Is(err, ledger.ErrAccountExists) {
		t.Fatalf("duplicate error = %v, want ErrAccountExists", err)
	}

	register(t, service, "u2")
	if _, err := service.Approve(context.Background(), "u2"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := service.Ban(context.Background(), "u2"); err != nil {
		t.Fatalf("Ban failed: %v", err)
	}
	if _, err := service.Register(context.Background(), &RegisterRequest{ID: "u2", FullName: "Back Again"}); !errors.Is(err, ErrBannedForever) {
		t.Fatalf("banned re-register error = %v, want ErrBannedForever", err)
	}
}

func TestApproveTransitions(t *testing.T) {
	service, _ := newTestService()
	register(t, service, "u1")

	account, err := service.Approve(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if account.Status != ledger.StatusActive {
		t.Fatalf("Status = %q, want active", account.Status)
	}

	if _, err := service.Approve(context.Background(), "u1"); !errors.Is(err, ErrNotAwaitingReview) {
		t.Fatalf("double approve error = %v, want ErrNotAwaitingReview", err)
	}
	if _, err := service.Approve(context.Background(), "ghost"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("missing account error = %v, want ErrAccountNotFound", err)
	}
}

func TestRejectPendingRemovesAccount(t *testing.T) {
	service, store := newTestService()
	register(t, service, "u1")

	result, err := service.Reject(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if result.Outcome != "deleted" {
		t.Fatalf("Outcome = %q, want deleted", result.Outcome)
	}
	if account, _ := store.GetAccount(context.Background(), "u1"); account != nil {
		t.Fatalf("rejected registration still present: %+v", account)
	}
}

func TestRestoreFlow(t *testing.T) {
	service, _ := newTestService()
	register(t, service, "u1")
	if _, err := service.Approve(context.Background(), "u1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	// Active accounts cannot request restore.
	if _, err := service.RequestRestore(context.Background(), "u1"); !errors.Is(err, ErrNotDeleted) {
		t.Fatalf("active restore error = %v, want ErrNotDeleted", err)
	}

	if _, err := service.SoftDelete(context.Background(), "u1"); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}

	account, err := service.RequestRestore(context.Background(), "u1")
	if err != nil {
		t.Fatalf("RequestRestore failed: %v", err)
	}
	if account.Status != ledger.StatusPendingRestore {
		t.Fatalf("Status = %q, want pending_restore", account.Status)
	}

	// Asking again while pending is a no-op.
	again, err := service.RequestRestore(context.Background(), "u1")
	if err != nil {
		t.Fatalf("repeat RequestRestore failed: %v", err)
	}
	if again.Status != ledger.StatusPendingRestore {
		t.Fatalf("repeat Status = %q, want pending_restore", again.Status)
	}

	// Rejecting a restore request bans permanently.
	result, err := service.Reject(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if result.Outcome != "banned" {
		t.Fatalf("Outcome = %q, want banned", result.Outcome)
	}
	if _, err := service.RequestRestore(context.Background(), "u1"); !errors.Is(err, ErrBannedForever) {
		t.Fatalf("banned restore error = %v, want ErrBannedForever", err)
	}
}

func TestRestoreApproveReactivates(t *testing.T) {
	service, _ := newTestService()
	register(t, service, "u1")
	if _, err := service.Approve(context.Background(), "u1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := service.SoftDelete(context.Background(), "u1"); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if _, err := service.RequestRestore(context.Background(), "u1"); err != nil {
		t.Fatalf("RequestRestore failed: %v", err)
	}

	account, err := service.Approve(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Approve of restore failed: %v", err)
	}
	if account.Status != ledger.StatusActive {
		t.Fatalf("Status = %q, want active", account.Status)
	}
}

func TestPendingReviewOrder(t *testing.T) {
	service, _ := newTestService()
	register(t, service, "new1")
	register(t, service, "old1")
	if _, err := service.Approve(context.Background(), "old1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := service.SoftDelete(context.Background(), "old1"); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if _, err := service.RequestRestore(context.Background(), "old1"); err != nil {
		t.Fatalf("RequestRestore failed: %v", err)
	}

	queue, err := service.PendingReview(context.Background())
	if err != nil {
		t.Fatalf("PendingReview failed: %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("queue length = %d, want 2", len(queue))
	}
	if queue[0].ID != "new1" || queue[1].ID != "old1" {
		t.Fatalf("queue order = %s, %s; want registrations before restores", queue[0].ID, queue[1].ID)
	}
}

func TestRankingPagesAndOrder(t *testing.T) {
	service, store := newTestService()
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("s%02d", i)
		_, err := store.CreateAccount(ctx, &ledger.Account{
			ID: id, FullName: "Student " + id, Points: int64(i * 10),
			Role: ledger.RoleStudent, Status: ledger.StatusActive,
		})
		if err != nil {
			t.Fatalf("CreateAccount failed: %v", err)
		}
	}
	// Non-students and inactive students stay out of the ranking.
	store.SeedAccount(&ledger.Account{ID: "t1", Points: 9999, Role: ledger.RoleTeacher, Status: ledger.StatusActive})
	store.SeedAccount(&ledger.Account{ID: "p1", Points: 9999, Role: ledger.RoleStudent, Status: ledger.StatusPending})

	page1, err := service.Ranking(ctx, "", 1)
	if err != nil {
		t.Fatalf("Ranking failed: %v", err)
	}
	if page1.Total != 12 || len(page1.Entries) != 10 {
		t.Fatalf("page 1 = %d entries of %d total, want 10 of 12", len(page1.Entries), page1.Total)
	}
	if page1.Entries[0].ID != "s11" || page1.Entries[0].Points != 110 || page1.Entries[0].Position != 1 {
		t.Fatalf("top entry = %+v", page1.Entries[0])
	}

	page2, err := service.Ranking(ctx, "", 2)
	if err != nil {
		t.Fatalf("Ranking failed: %v", err)
	}
	if len(page2.Entries) != 2 {
		t.Fatalf("page 2 has %d entries, want 2", len(page2.Entries))
	}
	if page2.Entries[0].Position != 11 {
		t.Fatalf("page 2 first position = %d, want 11", page2.Entries[0].Position)
	}

	empty, err := service.Ranking(ctx, "", 5)
	if err != nil {
		t.Fatalf("Ranking failed: %v", err)
	}
	if len(empty.Entries) != 0 {
		t.Fatalf("page far past the end has %d entries, want 0", len(empty.Entries))
	}
}

func TestRankingScopedToGroup(t *testing.T) {
	service, store := newTestService()
	ctx := context.Background()

	store.SeedAccount(&ledger.Account{ID: "a1", FullName: "A One", GroupID: "10A", Points: 30, Role: ledger.RoleStudent, Status: ledger.StatusActive})
	store.SeedAccount(&ledger.Account{ID: "a2", FullName: "A Two", GroupID: "10A", Points: 50, Role: ledger.RoleStudent, Status: ledger.StatusActive})
	store.SeedAccount(&ledger.Account{ID: "b1", FullName: "B One", GroupID: "10B", Points: 90, Role: ledger.RoleStudent, Status: ledger.StatusActive})

	ranking, err := service.Ranking(ctx, "10A", 1)
	if err != nil {
		t.Fatalf("Ranking failed: %v", err)
	}
	if ranking.Total != 2 || len(ranking.Entries) != 2 {
		t.Fatalf("group ranking = %d entries of %d total, want 2 of 2", len(ranking.Entries), ranking.Total)
	}
	if ranking.Entries[0].ID != "a2" || ranking.Entries[0].Position != 1 {
		t.Fatalf("top group entry = %+v, want a2 at position 1", ranking.Entries[0])
	}
	for _, entry := range ranking.Entries {
		if entry.GroupID != "10A" {
			t.Fatalf("ranking leaked entry from group %q", entry.GroupID)
		}
	}

	all, err := service.Ranking(ctx, "", 1)
	if err != nil {
		t.Fatalf("Ranking failed: %v", err)
	}
	if all.Total != 3 {
		t.Fatalf("unscoped total = %d, want 3", all.Total)
	}
}

func TestHistoryLimitsToRecent(t *testing.T) {
	service, store := newTestService()
	ctx := context.Background()
	register(t, service, "u1")

	for i := 0; i < 20; i++ {
		_, err := store.AppendLogEntry(ctx, &ledger.LogEntry{
			Type: ledger.LogAddPoints, AccountID: "u1", Amount: int64(i),
		})
		if err != nil {
			t.Fatalf("AppendLogEntry failed: %v", err)
		}
	}
	if _, err := store.AppendLogEntry(ctx, &ledger.LogEntry{Type: ledger.LogAddPoints, AccountID: "other"}); err != nil {
		t.Fatalf("AppendLogEntry failed: %v", err)
	}

	entries, err := service.History(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 15 {
		t.Fatalf("default history length = %d, want 15", len(entries))
	}
	for _, entry := range entries {
		if entry.AccountID != "u1" {
			t.Fatalf("history leaked entry for %q", entry.AccountID)
		}
	}

	short, err := service.History(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(short) != 5 {
		t.Fatalf("history with limit 5 returned %d entries", len(short))
	}

	clamped, err := service.History(ctx, "u1", 500)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(clamped) != 20 {
		t.Fatalf("history with oversized limit returned %d entries, want all 20", len(clamped))
	}

	if _, err := service.History(ctx, "ghost", 0); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("missing account error = %v, want ErrAccountNotFound", err)
	}
}
