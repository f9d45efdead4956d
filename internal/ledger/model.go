package ledger

import (
	"time"

	"github.com/aidosk/pointsledger/internal/config"
)

// Role of an account holder
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Status of an account in its lifecycle
type Status string

const (
	StatusPending        Status = "pending"
	StatusActive         Status = "active"
	StatusPendingRestore Status = "pending_restore"
	StatusDeleted        Status = "deleted"
	StatusBanned         Status = "banned"
)

// Account is the authoritative record of one participant. The ID is the
// opaque chat user key. Version is the optimistic-concurrency counter:
// every write bumps it, and balance writes from the reconciler must
// present the version they read.
type Account struct {
	ID          string    `json:"id" bson:"_id"`
	FullName    string    `json:"full_name" bson:"full_name"`
	Phone       string    `json:"phone,omitempty" bson:"phone"`
	Username    string    `json:"username,omitempty" bson:"username"`
	Points      int64     `json:"points" bson:"points"`
	Role        Role      `json:"role" bson:"role"`
	Status      Status    `json:"status" bson:"status"`
	GroupID     string    `json:"group_id,omitempty" bson:"group_id"`
	Version     int64     `json:"-" bson:"version"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	LastUpdated time.Time `json:"last_updated" bson:"last_updated"`
}

// AccountPatch is a merge-patch: nil fields are left unchanged. Applying
// any patch bumps the account's version and last-updated stamp.
type AccountPatch struct {
	FullName *string
	Phone    *string
	Username *string
	Points   *int64
	Role     *Role
	Status   *Status
	GroupID  *string
}

// AccountFilter narrows ListAccounts. Zero values mean "any"; GroupID
// nil means any group, a pointer to "" means explicitly ungrouped.
type AccountFilter struct {
	Role    Role
	Status  Status
	GroupID *string
}

// TransferResult reports the post-transfer balances
type TransferResult struct {
	SenderBalance    int64 `json:"sender_balance"`
	RecipientBalance int64 `json:"recipient_balance"`
}

// LogType classifies transaction log entries
type LogType string

const (
	LogTransfer       LogType = "transfer"
	LogAddPoints      LogType = "add_points"
	LogSubtractPoints LogType = "subtract_points"
	LogManualEdit     LogType = "manual_edit"
)

// LogEntry is one append-only audit record. Fields are populated
// per type: transfers carry sender/recipient/commission, admin
// adjustments carry actor/account/amount, manual edits carry the
// old and new balance observed by the reconciler.
type LogEntry struct {
	ID          string    `json:"id" bson:"_id"`
	Type        LogType   `json:"type" bson:"type"`
	ActorID     string    `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	SenderID    string    `json:"sender_id,omitempty" bson:"sender_id,omitempty"`
	RecipientID string    `json:"recipient_id,omitempty" bson:"recipient_id,omitempty"`
	AccountID   string    `json:"account_id,omitempty" bson:"account_id,omitempty"`
	AccountName string    `json:"account_name,omitempty" bson:"account_name,omitempty"`
	Amount      int64     `json:"amount" bson:"amount"`
	Commission  int64     `json:"commission,omitempty" bson:"commission,omitempty"`
	OldPoints   int64     `json:"old_points" bson:"old_points"`
	NewPoints   int64     `json:"new_points" bson:"new_points"`
	Comment     string    `json:"comment,omitempty" bson:"comment,omitempty"`
	Status      string    `json:"status" bson:"status"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// LogFilter narrows ListLogEntries. AccountID matches any participant
// field. Limit 0 falls back to the default listing size.
type LogFilter struct {
	Type      LogType
	AccountID string
	Limit     int
}

// GroupStatus of a partition record
type GroupStatus string

const (
	GroupActive  GroupStatus = "active"
	GroupDeleted GroupStatus = "deleted"
)

// Group maps one spreadsheet tab to a logical partition. The ID is the
// tab name.
type Group struct {
	ID          string      `json:"id" bson:"_id"`
	DisplayName string      `json:"display_name" bson:"display_name"`
	Hidden      bool        `json:"hidden" bson:"hidden"`
	Status      GroupStatus `json:"status" bson:"status"`
	CreatedAt   time.Time   `json:"created_at" bson:"created_at"`
}

// GroupPatch is a merge-patch for group records
type GroupPatch struct {
	DisplayName *string
	Hidden      *bool
	Status      *GroupStatus
}

// SyncStatistics accumulates reconciliation outcomes in settings
type SyncStatistics struct {
	TotalSyncs      int64     `json:"total_syncs" bson:"total_syncs"`
	SuccessfulSyncs int64     `json:"successful_syncs" bson:"successful_syncs"`
	FailedSyncs     int64     `json:"failed_syncs" bson:"failed_syncs"`
	LastError       string    `json:"last_error,omitempty" bson:"last_error,omitempty"`
	LastSyncTime    time.Time `json:"last_sync_time" bson:"last_sync_time"`
}

// Settings is the process-wide singleton, lazily created with defaults
// on first read and updated with merge-patch semantics.
type Settings struct {
	CommissionRate float64        `json:"commission_rate" bson:"commission_rate"`
	BotStatus      string         `json:"bot_status" bson:"bot_status"`
	Maintenance    bool           `json:"maintenance" bson:"maintenance"`
	SyncEnabled    bool           `json:"sync_enabled" bson:"sync_enabled"`
	SyncInterval   int            `json:"sync_interval" bson:"sync_interval"`
	SyncStats      SyncStatistics `json:"sync_statistics" bson:"sync_statistics"`
}

// SettingsPatch is a merge-patch for the settings singleton. Scalar
// pointers replace; the Add counters increment the sync statistics so
// concurrent passes do not clobber each other's counts.
type SettingsPatch struct {
	CommissionRate *float64
	BotStatus      *string
	Maintenance    *bool
	SyncEnabled    *bool
	SyncInterval   *int

	AddTotalSyncs      int64
	AddSuccessfulSyncs int64
	AddFailedSyncs     int64
	LastError          *string
	LastSyncTime       *time.Time
}

// DefaultSettings returns the settings document created on first read
func DefaultSettings() *Settings {
	return &Settings{
		CommissionRate: config.DefaultCommissionRate,
		BotStatus:      "public",
		Maintenance:    false,
		SyncEnabled:    true,
		SyncInterval:   config.DefaultSyncInterval,
	}
}
