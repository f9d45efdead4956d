// Package sheet talks to the external spreadsheet: one tab per
// partition, six fixed columns per row, no transactional guarantees.
// The codec in this package owns timestamp tolerance on read and the
// canonical timestamp form on write.
package sheet

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAdapter marks any failed call against the spreadsheet
	// backend. Callers treat these as transient upstream failures.
	ErrAdapter = errors.New("spreadsheet unavailable")

	// ErrPartitionNotFound reports an operation against a tab that
	// does not exist.
	ErrPartitionNotFound = errors.New("partition not found")

	// ErrRowNotFound reports a targeted row write against an ID with
	// no row.
	ErrRowNotFound = errors.New("row not found")
)

// Port is the spreadsheet surface the reconciler and registry work
// against. The Google adapter talks to a real spreadsheet; Fake keeps
// tabs in memory for tests.
type Port interface {
	// ListPartitionNames returns tab titles in sheet order.
	ListPartitionNames(ctx context.Context) ([]string, error)
	// CreatePartition adds a tab and writes the header row.
	CreatePartition(ctx context.Context, name string) error
	// RenamePartition retitles a tab, keeping its contents.
	RenamePartition(ctx context.Context, oldName, newName string) error
	// DeletePartition removes a tab and all its rows.
	DeletePartition(ctx context.Context, name string) error
	// ReadRows fetches and decodes every data row of a tab. Rows
	// without a user ID are dropped; decode problems come back as
	// warnings, never as errors.
	ReadRows(ctx context.Context, partition string) ([]*Row, []string, error)
	// WriteRow updates the balance and stamp cells of the row whose
	// first column matches userID. ErrRowNotFound when absent.
	WriteRow(ctx context.Context, partition, userID string, points int64, updatedAt time.Time) error
	// DeleteRow removes the row whose first column matches userID.
	// Deleting an absent row is a no-op.
	DeleteRow(ctx context.Context, partition, userID string) error
	// AppendRow adds a row after the existing data.
	AppendRow(ctx context.Context, partition string, row *Row) error
}
