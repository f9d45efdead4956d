// Package registry keeps the spreadsheet-tab ↔ group ↔ membership
// mapping consistent. Tabs appear, get renamed and disappear under
// human hands; the registry diffs each refresh against the known
// groups, infers renames, marks deletions and surfaces the accounts
// the churn leaves behind.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aidosk/pointsledger/internal/ledger"
	"github.com/aidosk/pointsledger/internal/sheet"
)

// Common errors
var (
	ErrNoSuchPartition = errors.New("partition not found")
	ErrPartitionExists = errors.New("partition already exists")
	ErrInvalidName     = errors.New("partition name must not be empty")
)

// Service owns the partition cache. ListPartitions serves from the
// cache until a refresh is forced; a refresh re-enumerates tabs and
// runs the rename/delete heuristic against the store's group records.
type Service struct {
	store  ledger.Store
	sheets sheet.Port
	log    *slog.Logger

	mu     sync.Mutex
	cached []*ledger.Group
}

// NewService creates a new registry service with dependencies injected
func NewService(store ledger.Store, sheets sheet.Port, log *slog.Logger) *Service {
	return &Service{store: store, sheets: sheets, log: log}
}

// ListPartitions returns the active partition list. The cache is used
// unless forceRefresh is set or nothing has been cached yet; a refresh
// enumerates the spreadsheet tabs and reconciles group records against
// them (implicit creation, rename inference, deletion marking).
func (s *Service) ListPartitions(ctx context.Context, forceRefresh bool) ([]*ledger.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !forceRefresh && s.cached != nil {
		return cloneGroups(s.cached), nil
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	return cloneGroups(s.cached), nil
}

// refresh re-enumerates tabs and diffs them against the known active
// groups. Caller holds s.mu.
func (s *Service) refresh(ctx context.Context) error {
	names, err := s.sheets.ListPartitionNames(ctx)
	if err != nil {
		return err
	}

	known, err := s.store.ListGroups(ctx, ledger.GroupActive)
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}

	nameSet := make(map[string]bool, len(names))
	for _, name := range names {
		nameSet[name] = true
	}
	knownSet := make(map[string]bool, len(known))
	for _, group := range known {
		knownSet[group.ID] = true
	}

	var removed, added []string
	for _, group := range known {
		if !nameSet[group.ID] {
			removed = append(removed, group.ID)
		}
	}
	for _, name := range names {
		if !knownSet[name] {
			added = append(added, name)
		}
	}

	// Exactly one tab gone and exactly one new in the same refresh is
	// treated as a rename, not delete+create. Ambiguous when several
	// tabs change at once; the explicit RenamePartition operation
	// avoids the guess entirely.
	if len(removed) == 1 && len(added) == 1 {
		oldID, newID := removed[0], added[0]
		if err := s.renameGroup(ctx, oldID, newID); err != nil {
			return err
		}
		removed, added = nil, nil
	}

	for _, id := range removed {
		status := ledger.GroupDeleted
		if _, err := s.store.UpdateGroup(ctx, id, &ledger.GroupPatch{Status: &status}); err != nil {
			return fmt.Errorf("failed to mark group %s deleted: %w", id, err)
		}
		s.log.Info("partition removed, group marked deleted", "group", id)
	}

	for _, name := range added {
		if err := s.adoptPartition(ctx, name); err != nil {
			return err
		}
	}

	active, err := s.store.ListGroups(ctx, ledger.GroupActive)
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}

	cached := make([]*ledger.Group, 0, len(active))
	for _, group := range active {
		if nameSet[group.ID] {
			cached = append(cached, group)
		}
	}
	s.cached = cached
	return nil
}

// renameGroup rewrites a group's identity and repoints its members.
// Falls back to delete+create when the new name already has a record.
func (s *Service) renameGroup(ctx context.Context, oldID, newID string) error {
	err := s.store.RenameGroup(ctx, oldID, newID)
	switch {
	case err == nil:
		s.log.Info("partition rename detected", "old", oldID, "new", newID)
		return nil
	case errors.Is(err, ledger.ErrGroupExists):
		// A record under the new name already exists (a previously
		// deleted tab coming back). Treat the refresh as a plain
		// delete plus reactivation instead of a rename.
		status := ledger.GroupDeleted
		if _, err := s.store.UpdateGroup(ctx, oldID, &ledger.GroupPatch{Status: &status}); err != nil {
			return fmt.Errorf("failed to mark group %s deleted: %w", oldID, err)
		}
		return s.adoptPartition(ctx, newID)
	default:
		return fmt.Errorf("failed to rename group %s to %s: %w", oldID, newID, err)
	}
}

// adoptPartition ensures an active group record exists for a tab name,
// reactivating a deleted record or creating a fresh one.
func (s *Service) adoptPartition(ctx context.Context, name string) error {
	existing, err := s.store.GetGroup(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to look up group %s: %w", name, err)
	}
	if existing != nil {
		if existing.Status == ledger.GroupActive {
			return nil
		}
		status := ledger.GroupActive
		if _, err := s.store.UpdateGroup(ctx, name, &ledger.GroupPatch{Status: &status}); err != nil {
			return fmt.Errorf("failed to reactivate group %s: %w", name, err)
		}
		s.log.Info("partition reappeared, group reactivated", "group", name)
		return nil
	}

	if _, err := s.store.CreateGroup(ctx, &ledger.Group{ID: name, DisplayName: name}); err != nil {
		return fmt.Errorf("failed to create group %s: %w", name, err)
	}
	s.log.Info("new partition adopted", "group", name)
	return nil
}

// CreatePartition creates the group record and the spreadsheet tab
// with its header row. If the tab cannot be created the group record
// is rolled back, so a failed call leaves no trace.
func (s *Service) CreatePartition(ctx context.Context, name string) (*ledger.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.GetGroup(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up group %s: %w", name, err)
	}
	if existing != nil && existing.Status == ledger.GroupActive {
		return nil, ErrPartitionExists
	}

	var group *ledger.Group
	if existing != nil {
		status := ledger.GroupActive
		group, err = s.store.UpdateGroup(ctx, name, &ledger.GroupPatch{Status: &status})
	} else {
		group, err = s.store.CreateGroup(ctx, &ledger.Group{ID: name, DisplayName: name})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create group %s: %w", name, err)
	}

	if err := s.sheets.CreatePartition(ctx, name); err != nil {
		// Roll the record back so the store never claims a tab that
		// was not created.
		if existing != nil {
			status := ledger.GroupDeleted
			if _, rollbackErr := s.store.UpdateGroup(ctx, name, &ledger.GroupPatch{Status: &status}); rollbackErr != nil {
				s.log.Error("failed to roll back group after tab creation failure", "group", name, "error", rollbackErr)
			}
		} else if rollbackErr := s.store.DeleteGroup(ctx, name); rollbackErr != nil {
			s.log.Error("failed to roll back group after tab creation failure", "group", name, "error", rollbackErr)
		}
		return nil, err
	}

	if s.cached != nil {
		s.cached = append(s.cached, group)
	}
	return group, nil
}

// RenamePartition renames the tab and the group record explicitly.
// Unlike the refresh heuristic this is exact: the caller names both
// sides, so nothing is inferred.
func (s *Service) RenamePartition(ctx context.Context, oldName, newName string) error {
	oldName = strings.TrimSpace(oldName)
	newName = strings.TrimSpace(newName)
	if oldName == "" || newName == "" {
		return ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.store.GetGroup(ctx, oldName)
	if err != nil {
		return fmt.Errorf("failed to look up group %s: %w", oldName, err)
	}
	if group == nil || group.Status != ledger.GroupActive {
		return ErrNoSuchPartition
	}

	if err := s.sheets.RenamePartition(ctx, oldName, newName); err != nil {
		return err
	}
	if err := s.store.RenameGroup(ctx, oldName, newName); err != nil {
		// The tab is already renamed; put it back so both sides agree.
		if rollbackErr := s.sheets.RenamePartition(ctx, newName, oldName); rollbackErr != nil {
			s.log.Error("failed to roll back tab rename", "old", oldName, "new", newName, "error", rollbackErr)
		}
		return fmt.Errorf("failed to rename group %s to %s: %w", oldName, newName, err)
	}

	s.log.Info("partition renamed", "old", oldName, "new", newName)
	s.cached = nil
	return nil
}

// FindOrphanedAccounts returns active accounts whose group reference
// points outside the current valid partition set.
func (s *Service) FindOrphanedAccounts(ctx context.Context) ([]*ledger.Account, error) {
	partitions, err := s.ListPartitions(ctx, false)
	if err != nil {
		return nil, err
	}
	valid := make(map[string]bool, len(partitions))
	for _, group := range partitions {
		valid[group.ID] = true
	}

	accounts, err := s.store.ListAccounts(ctx, &ledger.AccountFilter{Status: ledger.StatusActive})
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	var orphans []*ledger.Account
	for _, account := range accounts {
		if account.GroupID != "" && !valid[account.GroupID] {
			orphans = append(orphans, account)
		}
	}
	return orphans, nil
}

// PurgeOrphanedAccounts hard-deletes every orphaned account. This is
// the only hard-delete path; everything else is a soft status change.
func (s *Service) PurgeOrphanedAccounts(ctx context.Context) ([]string, error) {
	orphans, err := s.FindOrphanedAccounts(ctx)
	if err != nil {
		return nil, err
	}

	purged := make([]string, 0, len(orphans))
	for _, account := range orphans {
		if err := s.store.DeleteAccount(ctx, account.ID); err != nil {
			s.log.Error("failed to purge orphaned account", "account", account.ID, "error", err)
			continue
		}
		s.log.Info("orphaned account purged", "account", account.ID, "group", account.GroupID)
		purged = append(purged, account.ID)
	}
	return purged, nil
}

func cloneGroups(groups []*ledger.Group) []*ledger.Group {
	cloned := make([]*ledger.Group, len(groups))
	for i, group := range groups {
		g := *group
		cloned[i] = &g
	}
	return cloned
}
