// Package ledger is the authoritative store: accounts with atomic
// balance mutation, the append-only transaction log, group records and
// the settings singleton. Three drivers implement the same Store
// contract: postgres (default), mongo and an in-memory store used for
// tests and local development.
package ledger

import "context"

// Store is the ledger port. Getters return (nil, nil) when the record
// is absent; callers convert that into the sentinel they need.
//
// The three balance operations are the atomic mutation subsystem:
// TransferPoints and AdjustBalance are all-or-nothing read-modify-write
// transactions, and CompareAndSwapBalance is the reconciler's guarded
// write. Drivers detect overlapping writes on the same account and
// either retry internally a bounded number of times or fail with
// ErrWriteConflict; a write is never silently lost.
type Store interface {
	// Accounts.
	GetAccount(ctx context.Context, id string) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) (*Account, error)
	UpdateAccount(ctx context.Context, id string, patch *AccountPatch) (*Account, error)
	DeleteAccount(ctx context.Context, id string) error
	ListAccounts(ctx context.Context, filter *AccountFilter) ([]*Account, error)

	// Atomic balance mutation. TransferPoints verifies both accounts
	// exist and are active and that the sender covers amount plus
	// commission; both balances move in one transaction or not at all.
	// AdjustBalance applies a signed delta to one balance with no floor.
	// CompareAndSwapBalance writes the balance only while the version
	// still matches what the caller read.
	TransferPoints(ctx context.Context, senderID, recipientID string, amount, commission int64) (*TransferResult, error)
	AdjustBalance(ctx context.Context, id string, delta int64) (int64, error)
	CompareAndSwapBalance(ctx context.Context, id string, expectedVersion, points int64) (*Account, error)

	// Transaction log. Entries are append-only; the store assigns the
	// ID and timestamp when they are empty. Listing returns newest
	// first.
	AppendLogEntry(ctx context.Context, entry *LogEntry) (*LogEntry, error)
	ListLogEntries(ctx context.Context, filter *LogFilter) ([]*LogEntry, error)

	// Groups. RenameGroup rewrites the record identity and repoints
	// every member account in one step.
	CreateGroup(ctx context.Context, group *Group) (*Group, error)
	GetGroup(ctx context.Context, id string) (*Group, error)
	ListGroups(ctx context.Context, status GroupStatus) ([]*Group, error)
	UpdateGroup(ctx context.Context, id string, patch *GroupPatch) (*Group, error)
	RenameGroup(ctx context.Context, oldID, newID string) error
	DeleteGroup(ctx context.Context, id string) error

	// Settings singleton.
	GetSettings(ctx context.Context) (*Settings, error)
	UpdateSettings(ctx context.Context, patch *SettingsPatch) (*Settings, error)
}

// DefaultLogLimit bounds ListLogEntries when the filter does not set one.
const DefaultLogLimit = 50
