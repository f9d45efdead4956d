// Package reconcile brings the ledger store and the spreadsheet into
// agreement. There is no transaction spanning both systems, so the
// reconciler leans on three things instead: a process-wide pass lock,
// per-account compare-and-swap writes on the ledger side, and a
// deterministic newest-wins rule driven by last-modified timestamps.
// A pass is idempotent; partial progress is safe and self-heals on the
// next run.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aidosk/pointsledger/internal/ledger"
	"github.com/aidosk/pointsledger/internal/registry"
	"github.com/aidosk/pointsledger/internal/sheet"
	"github.com/aidosk/pointsledger/pkg/clock"
)

// Common errors
var (
	ErrUnknownMode     = errors.New("unknown sync mode")
	ErrInvalidInterval = errors.New("sync interval out of range")
)

// Mode restricts which rules a pass applies. All modes share one
// traversal; force modes skip the timestamp comparison and declare a
// side authoritative.
type Mode string

const (
	ModeBidirectional      Mode = "bidirectional"
	ModeNamesOnly          Mode = "names_only"
	ModePointsOnly         Mode = "points_only"
	ModeForceSheetToLedger Mode = "force_sheet_to_ledger"
	ModeForceLedgerToSheet Mode = "force_ledger_to_sheet"
)

// ParseMode validates a mode string; empty means bidirectional.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeBidirectional, nil
	case ModeBidirectional, ModeNamesOnly, ModePointsOnly, ModeForceSheetToLedger, ModeForceLedgerToSheet:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// PassStats summarizes what one reconciliation pass did
type PassStats struct {
	RunID           string `json:"run_id"`
	Partition       string `json:"partition"`
	Mode            Mode   `json:"mode"`
	RowsSeen        int    `json:"rows_seen"`
	AccountsCreated int    `json:"accounts_created"`
	RowsAppended    int    `json:"rows_appended"`
	RowsDeleted     int    `json:"rows_deleted"`
	LedgerWrites    int    `json:"ledger_writes"`
	SheetWrites     int    `json:"sheet_writes"`
	MetadataWrites  int    `json:"metadata_writes"`
	Conflicts       int    `json:"conflicts"`
	RowErrors       int    `json:"row_errors"`
	Warnings        int    `json:"warnings"`
}

// Reconciler runs timestamp reconciliation passes. One mutex guards
// every pass; the Transfer Engine deliberately does not share it and
// relies on the store's per-account version checks instead, so a slow
// spreadsheet pass never stalls live transfers.
type Reconciler struct {
	store        ledger.Store
	sheets       sheet.Port
	partitions   *registry.Service
	clk          clock.Clock
	tolerance    time.Duration
	defaultSheet string
	log          *slog.Logger

	mu      sync.Mutex
	running atomic.Bool
}

// New creates a reconciler. tolerance is the window within which two
// stamps count as a tie (ties go to the ledger); defaultSheet is the
// tab used in legacy single-sheet mode when no partitions exist.
func New(store ledger.Store, sheets sheet.Port, partitions *registry.Service, clk clock.Clock, tolerance time.Duration, defaultSheet string, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store:        store,
		sheets:       sheets,
		partitions:   partitions,
		clk:          clk,
		tolerance:    tolerance,
		defaultSheet: defaultSheet,
		log:          log,
	}
}

// Running reports whether a pass is in flight right now
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

// Sync is the forced-trigger entry point. An empty partition means
// every partition; a named partition syncs alone, in legacy mode when
// no group record backs it.
func (r *Reconciler) Sync(ctx context.Context, partition string, mode Mode) ([]*PassStats, error) {
	if partition == "" {
		return r.SyncAll(ctx, mode)
	}

	group, err := r.store.GetGroup(ctx, partition)
	if err != nil {
		return nil, fmt.Errorf("failed to look up group %s: %w", partition, err)
	}
	groupID := ""
	if group != nil {
		groupID = group.ID
	}

	stats, err := r.SyncPartition(ctx, partition, groupID, mode)
	return []*PassStats{stats}, err
}

// SyncAll refreshes the partition list and syncs every active
// partition sequentially; one partition's pass completes before the
// next begins. A failed partition is recorded and does not stop the
// remaining ones. With no partitions at all, the default sheet is
// synced in legacy mode.
func (r *Reconciler) SyncAll(ctx context.Context, mode Mode) ([]*PassStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running.Store(true)
	defer r.running.Store(false)

	groups, err := r.partitions.ListPartitions(ctx, true)
	if err != nil {
		r.recordOutcome(ctx, err)
		return nil, err
	}

	if len(groups) == 0 {
		stats, err := r.syncLocked(ctx, r.defaultSheet, "", mode)
		return []*PassStats{stats}, err
	}

	var all []*PassStats
	var errs []error
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		stats, err := r.syncLocked(ctx, group.ID, group.ID, mode)
		all = append(all, stats)
		if err != nil {
			errs = append(errs, fmt.Errorf("partition %s: %w", group.ID, err))
		}
	}
	return all, errors.Join(errs...)
}

// SyncPartition runs one pass over one partition under the pass lock
func (r *Reconciler) SyncPartition(ctx context.Context, partition, groupID string, mode Mode) (*PassStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running.Store(true)
	defer r.running.Store(false)
	return r.syncLocked(ctx, partition, groupID, mode)
}

func (r *Reconciler) syncLocked(ctx context.Context, partition, groupID string, mode Mode) (*PassStats, error) {
	stats, err := r.pass(ctx, partition, groupID, mode)
	r.recordOutcome(ctx, err)
	if err != nil {
		r.log.Error("reconciliation pass failed",
			"run_id", stats.RunID, "partition", partition, "error", err)
		return stats, err
	}
	r.log.Info("reconciliation pass complete",
		"run_id", stats.RunID, "partition", partition, "mode", string(mode),
		"rows", stats.RowsSeen, "ledger_writes", stats.LedgerWrites,
		"sheet_writes", stats.SheetWrites, "appended", stats.RowsAppended,
		"deleted", stats.RowsDeleted, "created", stats.AccountsCreated,
		"conflicts", stats.Conflicts, "row_errors", stats.RowErrors)
	return stats, nil
}

// pass is one full reconciliation of one partition: cleanup of rows
// for deactivated accounts, resurrection of missing rows, then the
// per-row metadata and balance rules. Row-level failures are counted
// and skipped; only enumeration-level failures abort the pass.
func (r *Reconciler) pass(ctx context.Context, partition, groupID string, mode Mode) (*PassStats, error) {
	stats := &PassStats{RunID: uuid.NewString(), Partition: partition, Mode: mode}
	log := r.log.With("run_id", stats.RunID, "partition", partition)

	accounts, err := r.activeAccounts(ctx, groupID)
	if err != nil {
		return stats, err
	}
	rows, warnings, err := r.sheets.ReadRows(ctx, partition)
	if err != nil {
		return stats, err
	}
	for _, warning := range warnings {
		log.Warn("row decode warning", "warning", warning)
	}
	stats.Warnings = len(warnings)

	activeByID := make(map[string]*ledger.Account, len(accounts))
	for _, account := range accounts {
		activeByID[account.ID] = account
	}
	rowByID := make(map[string]*sheet.Row, len(rows))
	for _, row := range rows {
		if _, dup := rowByID[row.UserID]; dup {
			log.Warn("duplicate row id, keeping the first", "account", row.UserID)
			stats.Warnings++
			continue
		}
		rowByID[row.UserID] = row
	}

	handled := make(map[string]bool)
	if mode != ModeNamesOnly && mode != ModeForceSheetToLedger {
		r.cleanupPass(ctx, log, stats, partition, rows, rowByID, activeByID, mode, handled)
		r.resurrectionPass(ctx, log, stats, partition, accounts, rowByID)
	}

	for _, row := range rows {
		if rowByID[row.UserID] != row || handled[row.UserID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.RowsSeen++

		account, ok := activeByID[row.UserID]
		if !ok {
			if mode == ModeNamesOnly {
				continue
			}
			r.createFromRow(ctx, log, stats, groupID, row)
			continue
		}
		r.reconcileRow(ctx, log, stats, partition, row, account, mode)
	}

	return stats, nil
}

// cleanupPass removes rows whose ledger account is no longer active.
// Rows for accounts pending review are left alone; in force
// ledger-to-sheet mode rows with no ledger account at all go too.
func (r *Reconciler) cleanupPass(ctx context.Context, log *slog.Logger, stats *PassStats, partition string, rows []*sheet.Row, rowByID map[string]*sheet.Row, activeByID map[string]*ledger.Account, mode Mode, handled map[string]bool) {
	for _, row := range rows {
		if rowByID[row.UserID] != row {
			continue
		}
		if _, ok := activeByID[row.UserID]; ok {
			continue
		}

		account, err := r.store.GetAccount(ctx, row.UserID)
		if err != nil {
			log.Error("failed to look up account for sheet row", "account", row.UserID, "error", err)
			stats.RowErrors++
			handled[row.UserID] = true
			continue
		}

		remove := false
		switch {
		case account == nil:
			// Brand-new sheet entry; the per-row pass creates the
			// account, except when the ledger is authoritative.
			if mode != ModeForceLedgerToSheet {
				continue
			}
			remove = true
		case account.Status == ledger.StatusDeleted || account.Status == ledger.StatusBanned:
			remove = true
		}
		handled[row.UserID] = true
		if !remove {
			continue // pending or awaiting restore: keep until review settles
		}

		if err := r.sheets.DeleteRow(ctx, partition, row.UserID); err != nil {
			log.Error("failed to remove row for inactive account", "account", row.UserID, "error", err)
			stats.RowErrors++
			continue
		}
		stats.RowsDeleted++
		log.Info("removed sheet row for inactive account", "account", row.UserID)
	}
}

// resurrectionPass appends rows for active accounts the sheet lost,
// typically accounts restored after a soft delete.
func (r *Reconciler) resurrectionPass(ctx context.Context, log *slog.Logger, stats *PassStats, partition string, accounts []*ledger.Account, rowByID map[string]*sheet.Row) {
	for _, account := range accounts {
		if _, ok := rowByID[account.ID]; ok {
			continue
		}
		if err := r.sheets.AppendRow(ctx, partition, rowFromAccount(account)); err != nil {
			log.Error("failed to append row for account", "account", account.ID, "error", err)
			stats.RowErrors++
			continue
		}
		stats.RowsAppended++
		log.Info("appended sheet row for account", "account", account.ID)
	}
}

// createFromRow registers a brand-new sheet entry as an active student
// account; the sheet is the source of truth for new entries.
func (r *Reconciler) createFromRow(ctx context.Context, log *slog.Logger, stats *PassStats, groupID string, row *sheet.Row) {
	_, err := r.store.CreateAccount(ctx, &ledger.Account{
		ID:          row.UserID,
		FullName:    row.FullName,
		Phone:       row.Phone,
		Username:    row.Username,
		Points:      row.Points,
		Role:        ledger.RoleStudent,
		Status:      ledger.StatusActive,
		GroupID:     groupID,
		LastUpdated: row.LastUpdated,
	})
	if err != nil {
		log.Error("failed to create account from sheet row", "account", row.UserID, "error", err)
		stats.RowErrors++
		return
	}
	stats.AccountsCreated++
	log.Info("created account from sheet row", "account", row.UserID)
}

// reconcileRow applies the metadata and balance rules to one matched
// row/account pair.
func (r *Reconciler) reconcileRow(ctx context.Context, log *slog.Logger, stats *PassStats, partition string, row *sheet.Row, account *ledger.Account, mode Mode) {
	// The stamp is captured before any metadata write: a name edit
	// bumps the account's last-updated and must not make the ledger
	// look newer for the balance decision below.
	ledgerStamp := account.LastUpdated

	if mode != ModePointsOnly && mode != ModeForceLedgerToSheet {
		if patch := metadataPatch(row, account); patch != nil {
			updated, err := r.store.UpdateAccount(ctx, account.ID, patch)
			if err != nil {
				log.Error("failed to update account metadata", "account", account.ID, "error", err)
				stats.RowErrors++
				return
			}
			if updated == nil {
				log.Warn("account vanished mid-pass", "account", account.ID)
				stats.RowErrors++
				return
			}
			account = updated
			stats.MetadataWrites++
		}
	}
	if mode == ModeNamesOnly {
		return
	}

	if row.Points == account.Points {
		return
	}

	var sheetWins bool
	switch mode {
	case ModeForceSheetToLedger:
		sheetWins = true
	case ModeForceLedgerToSheet:
		sheetWins = false
	default:
		sheetWins = r.sheetNewer(row.LastUpdated, ledgerStamp)
	}

	if sheetWins {
		r.applySheetBalance(ctx, log, stats, row, account)
		return
	}

	if err := r.sheets.WriteRow(ctx, partition, account.ID, account.Points, r.clk.Now()); err != nil {
		log.Error("failed to write balance back to sheet", "account", account.ID, "error", err)
		stats.RowErrors++
		return
	}
	stats.SheetWrites++
	log.Info("sheet balance overwritten from ledger",
		"account", account.ID, "sheet_points", row.Points, "ledger_points", account.Points)
}

// applySheetBalance writes a sheet-side balance into the ledger via
// compare-and-swap and records the manual edit in the audit log.
func (r *Reconciler) applySheetBalance(ctx context.Context, log *slog.Logger, stats *PassStats, row *sheet.Row, account *ledger.Account) {
	updated, err := r.store.CompareAndSwapBalance(ctx, account.ID, account.Version, row.Points)
	if err != nil {
		if errors.Is(err, ledger.ErrWriteConflict) {
			// A live transfer moved the balance between our read and
			// this write. Drop the edit; the next pass sees fresh
			// state on both sides.
			log.Warn("balance write lost to a concurrent mutation", "account", account.ID)
			stats.Conflicts++
			return
		}
		log.Error("failed to apply sheet balance", "account", account.ID, "error", err)
		stats.RowErrors++
		return
	}
	stats.LedgerWrites++
	log.Info("ledger balance overwritten from sheet",
		"account", account.ID, "old_points", account.Points, "new_points", updated.Points)

	delta := row.Points - account.Points
	if delta < 0 {
		delta = -delta
	}
	_, err = r.store.AppendLogEntry(ctx, &ledger.LogEntry{
		Type:        ledger.LogManualEdit,
		AccountID:   account.ID,
		AccountName: account.FullName,
		Amount:      delta,
		OldPoints:   account.Points,
		NewPoints:   updated.Points,
		Comment:     "spreadsheet edit",
	})
	if err != nil {
		log.Error("manual edit applied but audit log append failed", "account", account.ID, "error", err)
	}
}

// sheetNewer is the newest-wins tie-break: stamps within tolerance of
// each other are a tie, and ties go to the ledger, as do rows where
// neither side carries a stamp.
func (r *Reconciler) sheetNewer(sheetStamp, ledgerStamp time.Time) bool {
	switch {
	case sheetStamp.IsZero():
		return false
	case ledgerStamp.IsZero():
		return true
	default:
		return sheetStamp.Sub(ledgerStamp) > r.tolerance
	}
}

// activeAccounts lists the ledger side of a pass. An empty group is
// legacy single-sheet mode: every active student regardless of group.
func (r *Reconciler) activeAccounts(ctx context.Context, groupID string) ([]*ledger.Account, error) {
	filter := &ledger.AccountFilter{Status: ledger.StatusActive}
	if groupID == "" {
		filter.Role = ledger.RoleStudent
	} else {
		filter.GroupID = &groupID
	}
	accounts, err := r.store.ListAccounts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger accounts: %w", err)
	}
	return accounts, nil
}

// recordOutcome bumps the sync statistics in settings after a pass
func (r *Reconciler) recordOutcome(ctx context.Context, passErr error) {
	now := r.clk.Now()
	patch := &ledger.SettingsPatch{AddTotalSyncs: 1, LastSyncTime: &now}
	if passErr != nil {
		patch.AddFailedSyncs = 1
		msg := passErr.Error()
		patch.LastError = &msg
	} else {
		patch.AddSuccessfulSyncs = 1
	}
	if _, err := r.store.UpdateSettings(ctx, patch); err != nil {
		r.log.Error("failed to record sync statistics", "error", err)
	}
}

// metadataPatch builds the sheet → ledger identity patch, or nil when
// nothing differs. A blank name cell never blanks the ledger name.
func metadataPatch(row *sheet.Row, account *ledger.Account) *ledger.AccountPatch {
	patch := &ledger.AccountPatch{}
	changed := false
	if row.FullName != "" && row.FullName != account.FullName {
		patch.FullName = &row.FullName
		changed = true
	}
	if row.Phone != account.Phone {
		patch.Phone = &row.Phone
		changed = true
	}
	if row.Username != account.Username {
		patch.Username = &row.Username
		changed = true
	}
	if !changed {
		return nil
	}
	return patch
}

func rowFromAccount(account *ledger.Account) *sheet.Row {
	return &sheet.Row{
		UserID:      account.ID,
		FullName:    account.FullName,
		Phone:       account.Phone,
		Username:    account.Username,
		Points:      account.Points,
		LastUpdated: account.LastUpdated,
	}
}
