package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aidosk/pointsledger/internal/ledger"
	"github.com/aidosk/pointsledger/internal/registry"
	"github.com/aidosk/pointsledger/internal/sheet"
	"github.com/aidosk/pointsledger/pkg/clock"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testRig struct {
	rec   *Reconciler
	store *ledger.MemoryStore
	fake  *sheet.Fake
	clk   *clock.FakeClock
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	clk := clock.Fake(testEpoch)
	store := ledger.NewMemoryStore(clk)
	fake := sheet.NewFake(time.UTC)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	partitions := registry.NewService(store, fake, log)
	rec := New(store, fake, partitions, clk, 2*time.Second, "Sheet1", log)
	return &testRig{rec: rec, store: store, fake: fake, clk: clk}
}

// seedPartition creates the tab and its group record directly
func (r *testRig) seedPartition(t *testing.T, name string) {
	t.Helper()
	r.fake.AddPartition(name)
	if _, err := r.store.CreateGroup(context.Background(), &ledger.Group{ID: name, DisplayName: name}); err != nil {
		t.Fatalf("CreateGroup(%q) failed: %v", name, err)
	}
}

// seedAccount inserts an account with an exact stamp and version,
// bypassing the store's own stamping.
func (r *testRig) seedAccount(t *testing.T, id, group string, points int64, stamp time.Time) {
	t.Helper()
	r.store.SeedAccount(&ledger.Account{
		ID: id, FullName: "Account " + id, Points: points,
		Role: ledger.RoleStudent, Status: ledger.StatusActive,
		GroupID: group, LastUpdated: stamp,
	})
}

func (r *testRig) seedRow(id string, points any, stamp string) {
	r.fake.SeedRow("10A", []any{id, "Account " + id, "", "", points, stamp})
}

func (r *testRig) account(t *testing.T, id string) *ledger.Account {
	t.Helper()
	account, err := r.store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount(%q) failed: %v", id, err)
	}
	if account == nil {
		t.Fatalf("account %q not found", id)
	}
	return account
}

func (r *testRig) sync(t *testing.T, mode Mode) *PassStats {
	t.Helper()
	stats, err := r.rec.SyncPartition(context.Background(), "10A", "10A", mode)
	if err != nil {
		t.Fatalf("SyncPartition failed: %v", err)
	}
	return stats
}

func stamp(t time.Time) string {
	return sheet.FormatTimestamp(t, time.UTC)
}

func TestSheetNewerWinsUpdatesLedger(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.seedAccount(t, "u1", "10A", 100, testEpoch.Add(-time.Hour))
	rig.seedRow("u1", 150, stamp(testEpoch))

	stats := rig.sync(t, ModeBidirectional)
	if stats.LedgerWrites != 1 || stats.SheetWrites != 0 {
		t.Fatalf("stats = %+v, want one ledger write", stats)
	}

	if got := rig.account(t, "u1").Points; got != 150 {
		t.Fatalf("ledger points = %d, want 150 from the sheet", got)
	}

	entries, err := rig.store.ListLogEntries(context.Background(), &ledger.LogFilter{Type: ledger.LogManualEdit})
	if err != nil {
		t.Fatalf("ListLogEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d manual_edit entries, want 1", len(entries))
	}
	if entries[0].OldPoints != 100 || entries[0].NewPoints != 150 || entries[0].Amount != 50 {
		t.Fatalf("manual_edit entry = %+v", entries[0])
	}
}

func TestLedgerNewerWinsWritesBack(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.seedAccount(t, "u1", "10A", 100, testEpoch)
	rig.seedRow("u1", 150, stamp(testEpoch.Add(-time.Hour)))

	stats := rig.sync(t, ModeBidirectional)
	if stats.SheetWrites != 1 || stats.LedgerWrites != 0 {
		t.Fatalf("stats = %+v, want one sheet write", stats)
	}

	if got := rig.account(t, "u1").Points; got != 100 {
		t.Fatalf("ledger points = %d, want unchanged 100", got)
	}
	cells, ok := rig.fake.RowCells("10A", "u1")
	if !ok {
		t.Fatal("row vanished")
	}
	if cells[4] != int64(100) {
		t.Fatalf("sheet points cell = %v, want 100 from the ledger", cells[4])
	}
	if cells[5] != stamp(testEpoch) {
		t.Fatalf("sheet stamp cell = %v, want canonical now", cells[5])
	}
}

func TestSheetNewerRule(t *testing.T) {
	rig := newTestRig(t)

	tests := []struct {
		name        string
		sheetStamp  time.Time
		ledgerStamp time.Time
		want        bool
	}{
		{"sheet clearly newer", testEpoch, testEpoch.Add(-time.Minute), true},
		{"ledger clearly newer", testEpoch.Add(-time.Minute), testEpoch, false},
		{"within tolerance is a tie", testEpoch.Add(time.Second), testEpoch, false},
		{"just past tolerance", testEpoch.Add(3 * time.Second), testEpoch, true},
		{"only sheet stamped", testEpoch, time.Time{}, true},
		{"only ledger stamped", time.Time{}, testEpoch, false},
		{"neither stamped", time.Time{}, time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rig.rec.sheetNewer(tt.sheetStamp, tt.ledgerStamp); got != tt.want {
				t.Errorf("sheetNewer = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPassIsIdempotent(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.seedAccount(t, "u1", "10A", 100, testEpoch.Add(-time.Hour)) // sheet will win
	rig.seedRow("u1", 150, stamp(testEpoch))
	rig.seedAccount(t, "u2", "10A", 70, testEpoch) // ledger will win
	rig.seedRow("u2", 30, stamp(testEpoch.Add(-time.Hour)))
	rig.seedAccount(t, "u3", "10A", 10, testEpoch) // missing row, resurrected
	rig.seedRow("u4", 25, stamp(testEpoch))        // brand new, account created

	rig.sync(t, ModeBidirectional)
	mutationsAfterFirst := rig.fake.Mutations()
	u1Version := rig.account(t, "u1").Version

	stats := rig.sync(t, ModeBidirectional)
	if rig.fake.Mutations() != mutationsAfterFirst {
		t.Fatalf("second pass performed %d extra sheet mutations", rig.fake.Mutations()-mutationsAfterFirst)
	}
	if stats.LedgerWrites != 0 || stats.AccountsCreated != 0 || stats.MetadataWrites != 0 {
		t.Fatalf("second pass stats = %+v, want all-zero writes", stats)
	}
	if got := rig.account(t, "u1").Version; got != u1Version {
		t.Fatalf("second pass bumped u1 version %d -> %d", u1Version, got)
	}
}

func TestCleanupRemovesRowsForInactiveAccounts(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.store.SeedAccount(&ledger.Account{
		ID: "gone", FullName: "Gone", Status: ledger.StatusDeleted,
		Role: ledger.RoleStudent, GroupID: "10A",
	})
	rig.store.SeedAccount(&ledger.Account{
		ID: "outcast", FullName: "Outcast", Status: ledger.StatusBanned,
		Role: ledger.RoleStudent, GroupID: "10A",
	})
	rig.store.SeedAccount(&ledger.Account{
		ID: "waiting", FullName: "Waiting", Status: ledger.StatusPending,
		Role: ledger.RoleStudent, GroupID: "10A",
	})
	rig.seedRow("gone", 10, stamp(testEpoch))
	rig.seedRow("outcast", 20, stamp(testEpoch))
	rig.seedRow("waiting", 30, stamp(testEpoch))

	stats := rig.sync(t, ModeBidirectional)
	if stats.RowsDeleted != 2 {
		t.Fatalf("RowsDeleted = %d, want 2", stats.RowsDeleted)
	}

	for _, id := range []string{"gone", "outcast"} {
		if _, ok := rig.fake.RowCells("10A", id); ok {
			t.Fatalf("row for %s survived cleanup", id)
		}
	}
	// Pending accounts keep their row until review settles, and no
	// duplicate account is created from it.
	if _, ok := rig.fake.RowCells("10A", "waiting"); !ok {
		t.Fatal("row for pending account was removed")
	}
	if stats.AccountsCreated != 0 {
		t.Fatalf("AccountsCreated = %d, want 0", stats.AccountsCreated)
	}
}

func TestResurrectionAppendsMissingActiveAccounts(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.seedAccount(t, "restored", "10A", 42, testEpoch.Add(-time.Minute))

	stats := rig.sync(t, ModeBidirectional)
	if stats.RowsAppended != 1 {
		t.Fatalf("RowsAppended = %d, want 1", stats.RowsAppended)
	}

	cells, ok := rig.fake.RowCells("10A", "restored")
	if !ok {
		t.Fatal("no row appended for the restored account")
	}
	if cells[1] != "Account restored" || cells[4] != int64(42) {
		t.Fatalf("appended cells = %v", cells)
	}
}

func TestNewRowCreatesAccount(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.fake.SeedRow("10A", []any{"fresh", "Fresh Face", "+7700", "@fresh", 25, stamp(testEpoch)})

	stats := rig.sync(t, ModeBidirectional)
	if stats.AccountsCreated != 1 {
		t.Fatalf("AccountsCreated = %d, want 1", stats.AccountsCreated)
	}

	account := rig.account(t, "fresh")
	if account.Status != ledger.StatusActive || account.Role != ledger.RoleStudent {
		t.Fatalf("created account = %+v, want active student", account)
	}
	if account.GroupID != "10A" || account.Points != 25 {
		t.Fatalf("created account = %+v, want group 10A with 25 points", account)
	}
	if account.FullName != "Fresh Face" || account.Phone != "+7700" || account.Username != "@fresh" {
		t.Fatalf("created account metadata = %+v", account)
	}
}

func TestMetadataFlowsSheetToLedger(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.seedAccount(t, "u1", "10A", 100, testEpoch)
	// Sheet stamp is older: the ledger balance must win even though
	// the name edit flows in from the sheet.
	rig.fake.SeedRow("10A", []any{"u1", "Renamed Properly", "+7701", "@new", 55, stamp(testEpoch.Add(-time.Hour))})

	stats := rig.sync(t, ModeBidirectional)
	if stats.MetadataWrites != 1 || stats.SheetWrites != 1 || stats.LedgerWrites != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	account := rig.account(t, "u1")
	if account.FullName != "Renamed Properly" || account.Phone != "+7701" || account.Username != "@new" {
		t.Fatalf("metadata did not flow: %+v", account)
	}
	if account.Points != 100 {
		t.Fatalf("points = %d; the metadata write must not flip the balance rule", account.Points)
	}
}

func TestMalformedBalanceDefaultsToZero(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.seedAccount(t, "broken", "10A", 50, testEpoch)
	rig.seedAccount(t, "fine", "10A", 70, testEpoch)
	rig.seedRow("broken", "twenty", stamp(testEpoch.Add(-time.Hour)))
	rig.seedRow("fine", 30, stamp(testEpoch.Add(-time.Hour)))

	stats := rig.sync(t, ModeBidirectional)
	if stats.Warnings == 0 {
		t.Fatal("malformed balance produced no warning")
	}
	if stats.RowErrors != 0 {
		t.Fatalf("RowErrors = %d; a malformed cell must not count as a failure", stats.RowErrors)
	}

	// Both rows resolved ledger-wins: the malformed one read as 0.
	if stats.SheetWrites != 2 {
		t.Fatalf("SheetWrites = %d, want 2", stats.SheetWrites)
	}
	if got := rig.account(t, "broken").Points; got != 50 {
		t.Fatalf("broken account points = %d, want unchanged 50", got)
	}
}

func TestConcurrentTransferIsNeverDoubleApplied(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.seedAccount(t, "u1", "10A", 100, testEpoch.Add(-time.Hour))
	rig.seedAccount(t, "u2", "10A", 0, testEpoch.Add(-time.Hour))
	rig.seedRow("u1", 120, stamp(testEpoch)) // sheet edit that would win
	rig.seedRow("u2", 0, stamp(testEpoch.Add(-time.Hour)))

	// A live transfer lands between the reconciler's read and its
	// write: the CAS must lose, not overwrite the transfer.
	rig.fake.AfterRead = func(string) {
		rig.fake.AfterRead = nil
		if _, err := rig.store.TransferPoints(context.Background(), "u1", "u2", 50, 0); err != nil {
			t.Errorf("concurrent transfer failed: %v", err)
		}
	}

	stats := rig.sync(t, ModeBidirectional)
	if stats.Conflicts != 1 {
		t.Fatalf("Conflicts = %d, want 1", stats.Conflicts)
	}
	if got := rig.account(t, "u1").Points; got != 50 {
		t.Fatalf("u1 points = %d, want 50 (transfer applied exactly once)", got)
	}

	// The next pass sees fresh state on both sides: the ledger stamp
	// is now newest, so the sheet converges to the post-transfer value.
	rig.sync(t, ModeBidirectional)
	cells, _ := rig.fake.RowCells("10A", "u1")
	if cells[4] != int64(50) {
		t.Fatalf("sheet points after second pass = %v, want 50", cells[4])
	}
}

func TestRowFailureSkipsAndContinues(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.seedAccount(t, "u1", "10A", 100, testEpoch)
	rig.seedAccount(t, "u2", "10A", 200, testEpoch)
	rig.seedRow("u1", 10, stamp(testEpoch.Add(-time.Hour)))
	rig.seedRow("u2", 20, stamp(testEpoch.Add(-time.Hour)))
	rig.fake.FailWrite = errors.New("quota exceeded")
	rig.fake.FailUser = "u1"

	stats := rig.sync(t, ModeBidirectional)
	if stats.RowErrors != 1 {
		t.Fatalf("RowErrors = %d, want 1", stats.RowErrors)
	}
	if stats.SheetWrites != 1 {
		t.Fatalf("SheetWrites = %d, want 1; the pass must continue past a bad row", stats.SheetWrites)
	}
	cells, _ := rig.fake.RowCells("10A", "u2")
	if cells[4] != int64(200) {
		t.Fatalf("u2 sheet points = %v, want 200", cells[4])
	}
}

func TestReadFailureAbortsPassAndIsRecorded(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.fake.FailRead = errors.New("backend unavailable")

	_, err := rig.rec.SyncPartition(context.Background(), "10A", "10A", ModeBidirectional)
	if !errors.Is(err, sheet.ErrAdapter) {
		t.Fatalf("error = %v, want ErrAdapter", err)
	}

	settings, _ := rig.store.GetSettings(context.Background())
	if settings.SyncStats.TotalSyncs != 1 || settings.SyncStats.FailedSyncs != 1 {
		t.Fatalf("stats = %+v, want one failed sync", settings.SyncStats)
	}
	if settings.SyncStats.LastError == "" {
		t.Fatal("LastError not recorded")
	}
}

func TestSuccessfulPassIsRecorded(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")

	rig.sync(t, ModeBidirectional)

	settings, _ := rig.store.GetSettings(context.Background())
	if settings.SyncStats.TotalSyncs != 1 || settings.SyncStats.SuccessfulSyncs != 1 {
		t.Fatalf("stats = %+v, want one successful sync", settings.SyncStats)
	}
	if settings.SyncStats.LastSyncTime.IsZero() {
		t.Fatal("LastSyncTime not recorded")
	}
}

func TestForceSheetToLedgerIgnoresStamps(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.seedAccount(t, "u1", "10A", 100, testEpoch) // ledger stamp newer
	rig.seedRow("u1", 5, stamp(testEpoch.Add(-time.Hour)))

	stats := rig.sync(t, ModeForceSheetToLedger)
	if stats.LedgerWrites != 1 {
		t.Fatalf("stats = %+v, want one ledger write", stats)
	}
	if got := rig.account(t, "u1").Points; got != 5 {
		t.Fatalf("points = %d, want forced 5", got)
	}
}

func TestForceLedgerToSheetIgnoresStamps(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.seedAccount(t, "u1", "10A", 100, testEpoch.Add(-time.Hour)) // sheet stamp newer
	rig.seedRow("u1", 999, stamp(testEpoch))
	rig.seedRow("stranger", 7, stamp(testEpoch)) // no ledger account at all

	stats := rig.sync(t, ModeForceLedgerToSheet)
	if stats.SheetWrites != 1 {
		t.Fatalf("stats = %+v, want one sheet write", stats)
	}
	cells, _ := rig.fake.RowCells("10A", "u1")
	if cells[4] != int64(100) {
		t.Fatalf("sheet points = %v, want forced 100", cells[4])
	}
	if _, ok := rig.fake.RowCells("10A", "stranger"); ok {
		t.Fatal("row with no ledger account survived force ledger-to-sheet")
	}
	if account, _ := rig.store.GetAccount(context.Background(), "stranger"); account != nil {
		t.Fatalf("force ledger-to-sheet created an account: %+v", account)
	}
}

func TestNamesOnlySkipsBalances(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.seedAccount(t, "u1", "10A", 100, testEpoch.Add(-time.Hour))
	rig.fake.SeedRow("10A", []any{"u1", "New Name", "", "", 999, stamp(testEpoch)})

	stats := rig.sync(t, ModeNamesOnly)
	if stats.MetadataWrites != 1 {
		t.Fatalf("MetadataWrites = %d, want 1", stats.MetadataWrites)
	}
	if rig.fake.Mutations() != 0 {
		t.Fatalf("names-only pass touched the sheet %d times", rig.fake.Mutations())
	}

	account := rig.account(t, "u1")
	if account.FullName != "New Name" {
		t.Fatalf("name = %q, want flowed from sheet", account.FullName)
	}
	if account.Points != 100 {
		t.Fatalf("points = %d, want untouched 100", account.Points)
	}
}

func TestPointsOnlySkipsMetadata(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.seedAccount(t, "u1", "10A", 100, testEpoch.Add(-time.Hour))
	rig.fake.SeedRow("10A", []any{"u1", "New Name", "", "", 150, stamp(testEpoch)})

	stats := rig.sync(t, ModePointsOnly)
	if stats.MetadataWrites != 0 {
		t.Fatalf("MetadataWrites = %d, want 0", stats.MetadataWrites)
	}
	if stats.LedgerWrites != 1 {
		t.Fatalf("LedgerWrites = %d, want 1", stats.LedgerWrites)
	}

	account := rig.account(t, "u1")
	if account.FullName != "Account u1" {
		t.Fatalf("name = %q, want untouched", account.FullName)
	}
	if account.Points != 150 {
		t.Fatalf("points = %d, want 150", account.Points)
	}
}

func TestSyncAllCoversEveryPartition(t *testing.T) {
	rig := newTestRig(t)
	rig.seedPartition(t, "10A")
	rig.seedPartition(t, "10B")
	rig.seedAccount(t, "a1", "10A", 10, testEpoch)
	rig.seedAccount(t, "b1", "10B", 20, testEpoch)

	all, err := rig.rec.SyncAll(context.Background(), ModeBidirectional)
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d pass stats, want 2", len(all))
	}
	if all[0].Partition != "10A" || all[1].Partition != "10B" {
		t.Fatalf("partitions = %s, %s", all[0].Partition, all[1].Partition)
	}

	// Each account landed on its own tab.
	if _, ok := rig.fake.RowCells("10A", "a1"); !ok {
		t.Fatal("a1 missing from 10A")
	}
	if _, ok := rig.fake.RowCells("10B", "b1"); !ok {
		t.Fatal("b1 missing from 10B")
	}
	settings, _ := rig.store.GetSettings(context.Background())
	if settings.SyncStats.TotalSyncs != 2 || settings.SyncStats.SuccessfulSyncs != 2 {
		t.Fatalf("stats = %+v, want two successful syncs", settings.SyncStats)
	}
}

func TestSyncLegacySingleSheetMode(t *testing.T) {
	rig := newTestRig(t)
	rig.fake.AddPartition("Sheet1") // tab without any group record
	rig.seedAccount(t, "u1", "", 100, testEpoch)
	rig.seedAccount(t, "grouped", "10Z", 30, testEpoch)

	// Named-partition sync with no backing group falls back to legacy
	// mode: every active student syncs, regardless of group.
	all, err := rig.rec.Sync(context.Background(), "Sheet1", ModeBidirectional)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(all) != 1 || all[0].RowsAppended != 2 {
		t.Fatalf("stats = %+v, want both students appended", all[0])
	}
}

func TestParseMode(t *testing.T) {
	if mode, err := ParseMode(""); err != nil || mode != ModeBidirectional {
		t.Fatalf("ParseMode(\"\") = %v, %v", mode, err)
	}
	if mode, err := ParseMode("points_only"); err != nil || mode != ModePointsOnly {
		t.Fatalf("ParseMode(points_only) = %v, %v", mode, err)
	}
	if _, err := ParseMode("sideways"); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("ParseMode(sideways) error = %v, want ErrUnknownMode", err)
	}
}
