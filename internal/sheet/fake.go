package sheet

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Port for tests. Tabs hold raw cell values, so
// tests can seed malformed balances and odd timestamp formats exactly
// as a human would type them. Error injection fields and the AfterRead
// hook must be set before the code under test runs.
type Fake struct {
	mu   sync.Mutex
	loc  *time.Location
	tabs []*fakeTab

	FailList   error
	FailCreate error
	FailRename error
	FailRead   error
	FailWrite  error
	FailAppend error
	FailDelete error
	// FailUser narrows FailWrite and FailDelete to one user ID; empty
	// fails every row.
	FailUser string

	// AfterRead runs after ReadRows snapshots a partition and before
	// the rows are returned. Tests use it to interleave a concurrent
	// mutation between the read and the writes that follow it.
	AfterRead func(partition string)

	reads   int
	writes  int
	appends int
	deletes int
}

type fakeTab struct {
	name string
	rows [][]any
}

// NewFake creates an empty fake spreadsheet in the given timezone
func NewFake(loc *time.Location) *Fake {
	return &Fake{loc: loc}
}

// AddPartition seeds an empty tab without going through the Port
func (f *Fake) AddPartition(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tab(name) == nil {
		f.tabs = append(f.tabs, &fakeTab{name: name})
	}
}

// SeedRow appends raw cells to a tab, creating the tab when needed
func (f *Fake) SeedRow(partition string, cells []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tab := f.tab(partition)
	if tab == nil {
		tab = &fakeTab{name: partition}
		f.tabs = append(f.tabs, tab)
	}
	tab.rows = append(tab.rows, cells)
}

// RowCells returns the raw cells currently stored for userID
func (f *Fake) RowCells(partition, userID string) ([]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tab := f.tab(partition)
	if tab == nil {
		return nil, false
	}
	for _, cells := range tab.rows {
		if rowID(cells) == userID {
			cloned := make([]any, len(cells))
			copy(cloned, cells)
			return cloned, true
		}
	}
	return nil, false
}

// RowCount returns the number of data rows in a tab
func (f *Fake) RowCount(partition string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	tab := f.tab(partition)
	if tab == nil {
		return 0
	}
	return len(tab.rows)
}

// Reads reports how many ReadRows calls ran
func (f *Fake) Reads() int { f.mu.Lock(); defer f.mu.Unlock(); return f.reads }

// Writes reports how many WriteRow calls ran
func (f *Fake) Writes() int { f.mu.Lock(); defer f.mu.Unlock(); return f.writes }

// Appends reports how many AppendRow calls ran
func (f *Fake) Appends() int { f.mu.Lock(); defer f.mu.Unlock(); return f.appends }

// Deletes reports how many DeleteRow calls ran
func (f *Fake) Deletes() int { f.mu.Lock(); defer f.mu.Unlock(); return f.deletes }

// Mutations reports every sheet-changing call so far
func (f *Fake) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes + f.appends + f.deletes
}

// ListPartitionNames returns tab titles in creation order
func (f *Fake) ListPartitionNames(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailList != nil {
		return nil, fmt.Errorf("failed to list partitions: %w: %w", ErrAdapter, f.FailList)
	}
	names := make([]string, 0, len(f.tabs))
	for _, tab := range f.tabs {
		names = append(names, tab.name)
	}
	return names, nil
}

// CreatePartition adds an empty tab
func (f *Fake) CreatePartition(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate != nil {
		return fmt.Errorf("failed to create partition %q: %w: %w", name, ErrAdapter, f.FailCreate)
	}
	if f.tab(name) != nil {
		return fmt.Errorf("partition %q already exists: %w", name, ErrAdapter)
	}
	f.tabs = append(f.tabs, &fakeTab{name: name})
	return nil
}

// RenamePartition retitles a tab, keeping its contents
func (f *Fake) RenamePartition(ctx context.Context, oldName, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailRename != nil {
		return fmt.Errorf("failed to rename partition %q: %w: %w", oldName, ErrAdapter, f.FailRename)
	}
	if f.tab(newName) != nil {
		return fmt.Errorf("partition %q already exists: %w", newName, ErrAdapter)
	}
	tab := f.tab(oldName)
	if tab == nil {
		return fmt.Errorf("partition %q: %w", oldName, ErrPartitionNotFound)
	}
	tab.name = newName
	return nil
}

// DeletePartition removes a tab and all its rows
func (f *Fake) DeletePartition(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, tab := range f.tabs {
		if tab.name == name {
			f.tabs = append(f.tabs[:i], f.tabs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("partition %q: %w", name, ErrPartitionNotFound)
}

// ReadRows fetches and decodes every data row of a tab
func (f *Fake) ReadRows(ctx context.Context, partition string) ([]*Row, []string, error) {
	f.mu.Lock()
	if f.FailRead != nil {
		err := f.FailRead
		f.mu.Unlock()
		return nil, nil, fmt.Errorf("failed to read rows from %q: %w: %w", partition, ErrAdapter, err)
	}
	tab := f.tab(partition)
	if tab == nil {
		f.mu.Unlock()
		return nil, nil, fmt.Errorf("partition %q: %w", partition, ErrPartitionNotFound)
	}
	f.reads++

	var rows []*Row
	var warnings []string
	for i, cells := range tab.rows {
		row, rowWarnings := ParseRow(cells, f.loc)
		if row == nil {
			continue
		}
		for _, w := range rowWarnings {
			warnings = append(warnings, fmt.Sprintf("%s row %d: %s", partition, i+2, w))
		}
		rows = append(rows, row)
	}
	hook := f.AfterRead
	f.mu.Unlock()

	if hook != nil {
		hook(partition)
	}
	return rows, warnings, nil
}

// WriteRow updates the balance and stamp cells of one row
func (f *Fake) WriteRow(ctx context.Context, partition, userID string, points int64, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrite != nil && (f.FailUser == "" || f.FailUser == userID) {
		return fmt.Errorf("failed to write row for %s: %w: %w", userID, ErrAdapter, f.FailWrite)
	}
	tab := f.tab(partition)
	if tab == nil {
		return fmt.Errorf("partition %q: %w", partition, ErrPartitionNotFound)
	}
	for _, cells := range tab.rows {
		if rowID(cells) != userID {
			continue
		}
		for len(cells) < 6 {
			cells = append(cells, "")
		}
		cells[4] = points
		cells[5] = FormatTimestamp(updatedAt, f.loc)
		f.replaceRow(tab, userID, cells)
		f.writes++
		return nil
	}
	return fmt.Errorf("account %s in %q: %w", userID, partition, ErrRowNotFound)
}

// DeleteRow removes the row whose first column matches userID
func (f *Fake) DeleteRow(ctx context.Context, partition, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDelete != nil && (f.FailUser == "" || f.FailUser == userID) {
		return fmt.Errorf("failed to delete row for %s: %w: %w", userID, ErrAdapter, f.FailDelete)
	}
	tab := f.tab(partition)
	if tab == nil {
		return fmt.Errorf("partition %q: %w", partition, ErrPartitionNotFound)
	}
	for i, cells := range tab.rows {
		if rowID(cells) == userID {
			tab.rows = append(tab.rows[:i], tab.rows[i+1:]...)
			f.deletes++
			return nil
		}
	}
	return nil
}

// AppendRow adds a row after the existing data
func (f *Fake) AppendRow(ctx context.Context, partition string, row *Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailAppend != nil {
		return fmt.Errorf("failed to append row for %s: %w: %w", row.UserID, ErrAdapter, f.FailAppend)
	}
	tab := f.tab(partition)
	if tab == nil {
		return fmt.Errorf("partition %q: %w", partition, ErrPartitionNotFound)
	}
	tab.rows = append(tab.rows, row.Cells(f.loc))
	f.appends++
	return nil
}

func (f *Fake) tab(name string) *fakeTab {
	for _, tab := range f.tabs {
		if tab.name == name {
			return tab
		}
	}
	return nil
}

func (f *Fake) replaceRow(tab *fakeTab, userID string, cells []any) {
	for i, existing := range tab.rows {
		if rowID(existing) == userID {
			tab.rows[i] = cells
			return
		}
	}
}

func rowID(cells []any) string {
	if len(cells) == 0 {
		return ""
	}
	return fmt.Sprint(cells[0])
}
