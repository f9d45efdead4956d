package sheet

import (
	"strings"
	"testing"
	"time"
)

func TestParseRowComplete(t *testing.T) {
	cells := []any{"u1", "Aruzhan S.", "+77001112233", "@aruzhan", "150", "2026-03-01 14:30:45"}

	row, warnings := ParseRow(cells, almaty)
	if row == nil {
		t.Fatal("ParseRow returned nil for a complete row")
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if row.UserID != "u1" || row.FullName != "Aruzhan S." || row.Phone != "+77001112233" || row.Username != "@aruzhan" {
		t.Fatalf("identity fields = %+v", row)
	}
	if row.Points != 150 {
		t.Fatalf("Points = %d, want 150", row.Points)
	}
	want := time.Date(2026, 3, 1, 9, 30, 45, 0, time.UTC)
	if !row.LastUpdated.Equal(want) {
		t.Fatalf("LastUpdated = %v, want %v", row.LastUpdated, want)
	}
}

func TestParseRowWithoutID(t *testing.T) {
	for _, cells := range [][]any{nil, {}, {""}, {"  ", "Name", "", "", "10", ""}} {
		if row, _ := ParseRow(cells, almaty); row != nil {
			t.Fatalf("ParseRow(%v) = %+v, want nil", cells, row)
		}
	}
}

func TestParseRowShortRow(t *testing.T) {
	row, warnings := ParseRow([]any{"u1", "Name"}, almaty)
	if row == nil {
		t.Fatal("ParseRow returned nil")
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if row.Points != 0 || !row.LastUpdated.IsZero() {
		t.Fatalf("short row defaults = %+v", row)
	}
}

func TestParseRowMalformedBalance(t *testing.T) {
	row, warnings := ParseRow([]any{"u1", "Name", "", "", "lots", "2026-03-01 14:30:45"}, almaty)
	if row == nil {
		t.Fatal("ParseRow returned nil")
	}
	if row.Points != 0 {
		t.Fatalf("Points = %d, want 0", row.Points)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "malformed balance") {
		t.Fatalf("warnings = %v, want one malformed balance warning", warnings)
	}
	// Other fields still parse.
	if row.LastUpdated.IsZero() {
		t.Fatal("timestamp dropped alongside malformed balance")
	}
}

func TestParseRowEmptyBalance(t *testing.T) {
	row, warnings := ParseRow([]any{"u1", "Name", "", "", "", ""}, almaty)
	if row.Points != 0 {
		t.Fatalf("Points = %d, want 0", row.Points)
	}
	if len(warnings) != 0 {
		t.Fatalf("empty balance should not warn, got %v", warnings)
	}
}

func TestParseRowNumericBalanceCell(t *testing.T) {
	row, warnings := ParseRow([]any{"u1", "Name", "", "", float64(42), ""}, almaty)
	if row.Points != 42 {
		t.Fatalf("Points = %d, want 42", row.Points)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
}

func TestParseRowUnparseableTimestamp(t *testing.T) {
	row, warnings := ParseRow([]any{"u1", "Name", "", "", "10", "last tuesday"}, almaty)
	if !row.LastUpdated.IsZero() {
		t.Fatalf("LastUpdated = %v, want absent", row.LastUpdated)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "unparseable timestamp") {
		t.Fatalf("warnings = %v, want one timestamp warning", warnings)
	}
}

func TestRowCellsRoundTrip(t *testing.T) {
	row := &Row{
		UserID:      "u1",
		FullName:    "Name",
		Phone:       "+7",
		Username:    "@u",
		Points:      77,
		LastUpdated: time.Date(2026, 3, 1, 9, 30, 45, 0, time.UTC),
	}

	cells := row.Cells(almaty)
	if len(cells) != 6 {
		t.Fatalf("Cells length = %d, want 6", len(cells))
	}
	if cells[5] != "2026-03-01 14:30:45" {
		t.Fatalf("stamp cell = %v, want canonical local form", cells[5])
	}

	parsed, warnings := ParseRow(cells, almaty)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if parsed.Points != 77 || !parsed.LastUpdated.Equal(row.LastUpdated) {
		t.Fatalf("round trip = %+v, want %+v", parsed, row)
	}
}

func TestRowCellsAbsentStamp(t *testing.T) {
	row := &Row{UserID: "u1", Points: 1}
	cells := row.Cells(almaty)
	if cells[5] != "" {
		t.Fatalf("stamp cell = %v, want empty", cells[5])
	}
}
