package sheet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

// GoogleAdapter is the Port implementation backed by the Google Sheets
// API. Row lookups scan column A, so partitions are expected to stay
// in the hundreds-of-rows range.
type GoogleAdapter struct {
	svc           *sheets.Service
	spreadsheetID string
	loc           *time.Location
}

// NewGoogleAdapter builds a client for one spreadsheet using a service
// account credentials file.
func NewGoogleAdapter(ctx context.Context, spreadsheetID, credentialsFile string, loc *time.Location) (*GoogleAdapter, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("failed to build sheets client: %w", err)
	}
	return &GoogleAdapter{svc: svc, spreadsheetID: spreadsheetID, loc: loc}, nil
}

// ListPartitionNames returns tab titles in sheet order
func (g *GoogleAdapter) ListPartitionNames(ctx context.Context) ([]string, error) {
	resp, err := g.svc.Spreadsheets.Get(g.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w: %w", ErrAdapter, err)
	}

	names := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		names = append(names, s.Properties.Title)
	}
	return names, nil
}

// CreatePartition adds a tab and writes the header row
func (g *GoogleAdapter) CreatePartition(ctx context.Context, name string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: name},
			},
		}},
	}
	if _, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to create partition %q: %w: %w", name, ErrAdapter, err)
	}

	header := &sheets.ValueRange{Values: [][]any{Header}}
	_, err := g.svc.Spreadsheets.Values.
		Update(g.spreadsheetID, rangeOf(name, "A1:F1"), header).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write header for %q: %w: %w", name, ErrAdapter, err)
	}
	return nil
}

// RenamePartition retitles a tab, keeping its contents
func (g *GoogleAdapter) RenamePartition(ctx context.Context, oldName, newName string) error {
	sheetID, err := g.sheetIDByTitle(ctx, oldName)
	if err != nil {
		return err
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{SheetId: sheetID, Title: newName},
				Fields:     "title",
			},
		}},
	}
	if _, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to rename partition %q: %w: %w", oldName, ErrAdapter, err)
	}
	return nil
}

// DeletePartition removes a tab and all its rows
func (g *GoogleAdapter) DeletePartition(ctx context.Context, name string) error {
	sheetID, err := g.sheetIDByTitle(ctx, name)
	if err != nil {
		return err
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteSheet: &sheets.DeleteSheetRequest{SheetId: sheetID},
		}},
	}
	if _, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete partition %q: %w: %w", name, ErrAdapter, err)
	}
	return nil
}

// ReadRows fetches and decodes every data row of a tab
func (g *GoogleAdapter) ReadRows(ctx context.Context, partition string) ([]*Row, []string, error) {
	resp, err := g.svc.Spreadsheets.Values.
		Get(g.spreadsheetID, rangeOf(partition, "A2:F")).
		Context(ctx).Do()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows from %q: %w: %w", partition, ErrAdapter, err)
	}

	var rows []*Row
	var warnings []string
	for i, cells := range resp.Values {
		row, rowWarnings := ParseRow(cells, g.loc)
		if row == nil {
			continue
		}
		for _, w := range rowWarnings {
			warnings = append(warnings, fmt.Sprintf("%s row %d: %s", partition, i+2, w))
		}
		rows = append(rows, row)
	}
	return rows, warnings, nil
}

// WriteRow updates the balance and stamp cells of one row
func (g *GoogleAdapter) WriteRow(ctx context.Context, partition, userID string, points int64, updatedAt time.Time) error {
	rowNum, err := g.findRow(ctx, partition, userID)
	if err != nil {
		return err
	}
	if rowNum == 0 {
		return fmt.Errorf("account %s in %q: %w", userID, partition, ErrRowNotFound)
	}

	values := &sheets.ValueRange{Values: [][]any{{points, FormatTimestamp(updatedAt, g.loc)}}}
	_, err = g.svc.Spreadsheets.Values.
		Update(g.spreadsheetID, rangeOf(partition, fmt.Sprintf("E%d:F%d", rowNum, rowNum)), values).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write row for %s: %w: %w", userID, ErrAdapter, err)
	}
	return nil
}

// DeleteRow removes the row whose first column matches userID
func (g *GoogleAdapter) DeleteRow(ctx context.Context, partition, userID string) error {
	rowNum, err := g.findRow(ctx, partition, userID)
	if err != nil {
		return err
	}
	if rowNum == 0 {
		return nil
	}

	sheetID, err := g.sheetIDByTitle(ctx, partition)
	if err != nil {
		return err
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(rowNum - 1),
					EndIndex:   int64(rowNum),
				},
			},
		}},
	}
	if _, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete row for %s: %w: %w", userID, ErrAdapter, err)
	}
	return nil
}

// AppendRow adds a row after the existing data
func (g *GoogleAdapter) AppendRow(ctx context.Context, partition string, row *Row) error {
	values := &sheets.ValueRange{Values: [][]any{row.Cells(g.loc)}}
	_, err := g.svc.Spreadsheets.Values.
		Append(g.spreadsheetID, rangeOf(partition, "A:F"), values).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append row for %s: %w: %w", row.UserID, ErrAdapter, err)
	}
	return nil
}

// findRow returns the 1-based sheet row holding userID, or 0 when the
// ID is not present.
func (g *GoogleAdapter) findRow(ctx context.Context, partition, userID string) (int, error) {
	resp, err := g.svc.Spreadsheets.Values.
		Get(g.spreadsheetID, rangeOf(partition, "A2:A")).
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to scan %q for %s: %w: %w", partition, userID, ErrAdapter, err)
	}

	for i, cells := range resp.Values {
		if len(cells) > 0 && strings.TrimSpace(fmt.Sprint(cells[0])) == userID {
			return i + 2, nil
		}
	}
	return 0, nil
}

func (g *GoogleAdapter) sheetIDByTitle(ctx context.Context, title string) (int64, error) {
	resp, err := g.svc.Spreadsheets.Get(g.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to look up partition %q: %w: %w", title, ErrAdapter, err)
	}
	for _, s := range resp.Sheets {
		if s.Properties.Title == title {
			return s.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("partition %q: %w", title, ErrPartitionNotFound)
}

// rangeOf builds an A1 range scoped to one tab, quoting the title.
func rangeOf(partition, ref string) string {
	return "'" + strings.ReplaceAll(partition, "'", "''") + "'!" + ref
}
