package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/aidosk/pointsledger/pkg/clock"
)

// MemoryStore is a Store kept entirely in process memory. A single
// mutex serializes every operation, which trivially satisfies the
// atomicity contract; versions still advance on each write so the CAS
// path behaves exactly like the real drivers. Used by tests and the
// memory driver for local development.
type MemoryStore struct {
	mu       sync.Mutex
	clk      clock.Clock
	accounts map[string]*Account
	logs     []*LogEntry
	groups   map[string]*Group
	settings *Settings
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		clk:      clk,
		accounts: make(map[string]*Account),
		groups:   make(map[string]*Group),
	}
}

// SeedAccount inserts the account exactly as given, without stamping or
// version assignment. Test fixture for records that predate the
// last-updated field.
func (s *MemoryStore) SeedAccount(account *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := *account
	s.accounts[account.ID] = &cloned
}

// GetAccount retrieves an account by ID
func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	cloned := *account
	return &cloned, nil
}

// CreateAccount inserts a new account
func (s *MemoryStore) CreateAccount(ctx context.Context, account *Account) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return nil, ErrAccountExists
	}

	cloned := *account
	now := s.clk.Now()
	if cloned.CreatedAt.IsZero() {
		cloned.CreatedAt = now
	}
	if cloned.LastUpdated.IsZero() {
		cloned.LastUpdated = now
	}
	s.accounts[cloned.ID] = &cloned

	result := cloned
	return &result, nil
}

// UpdateAccount applies a merge-patch and bumps version and stamp
func (s *MemoryStore) UpdateAccount(ctx context.Context, id string, patch *AccountPatch) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}

	if patch.FullName != nil {
		account.FullName = *patch.FullName
	}
	if patch.Phone != nil {
		account.Phone = *patch.Phone
	}
	if patch.Username != nil {
		account.Username = *patch.Username
	}
	if patch.Points != nil {
		account.Points = *patch.Points
	}
	if patch.Role != nil {
		account.Role = *patch.Role
	}
	if patch.Status != nil {
		account.Status = *patch.Status
	}
	if patch.GroupID != nil {
		account.GroupID = *patch.GroupID
	}
	account.Version++
	account.LastUpdated = s.clk.Now()

	cloned := *account
	return &cloned, nil
}

// DeleteAccount removes an account permanently
func (s *MemoryStore) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return ErrAccountNotFound
	}
	delete(s.accounts, id)
	return nil
}

// ListAccounts returns accounts matching the filter, ordered by ID
func (s *MemoryStore) ListAccounts(ctx context.Context, filter *AccountFilter) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if filter == nil {
		filter = &AccountFilter{}
	}

	var accounts []*Account
	for _, account := range s.accounts {
		if filter.Role != "" && account.Role != filter.Role {
			continue
		}
		if filter.Status != "" && account.Status != filter.Status {
			continue
		}
		if filter.GroupID != nil && account.GroupID != *filter.GroupID {
			continue
		}
		cloned := *account
		accounts = append(accounts, &cloned)
	}

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

// TransferPoints moves amount from sender to recipient, charging the
// sender amount plus commission, all under the store lock
func (s *MemoryStore) TransferPoints(ctx context.Context, senderID, recipientID string, amount, commission int64) (*TransferResult, error) {
	if amount <= 0 || commission < 0 {
		return nil, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.accounts[senderID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	recipient, ok := s.accounts[recipientID]
	if !ok {
		return nil, ErrAccountNotFound
	}

	if sender.Status != StatusActive || recipient.Status != StatusActive {
		return nil, ErrAccountInactive
	}

	totalCost := amount + commission
	if sender.Points < totalCost {
		return nil, ErrInsufficientBalance
	}

	now := s.clk.Now()
	sender.Points -= totalCost
	sender.Version++
	sender.LastUpdated = now
	recipient.Points += amount
	recipient.Version++
	recipient.LastUpdated = now

	return &TransferResult{
		SenderBalance:    sender.Points,
		RecipientBalance: recipient.Points,
	}, nil
}

// AdjustBalance applies a signed delta to one account's balance
func (s *MemoryStore) AdjustBalance(ctx context.Context, id string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return 0, ErrAccountNotFound
	}

	account.Points += delta
	account.Version++
	account.LastUpdated = s.clk.Now()
	return account.Points, nil
}

// CompareAndSwapBalance writes the balance only if the version still
// matches what the caller read
func (s *MemoryStore) CompareAndSwapBalance(ctx context.Context, id string, expectedVersion, points int64) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if account.Version != expectedVersion {
		return nil, ErrWriteConflict
	}

	account.Points = points
	account.Version++
	account.LastUpdated = s.clk.Now()

	cloned := *account
	return &cloned, nil
}

// AppendLogEntry stores an audit record, assigning ID and timestamp
// when absent
func (s *MemoryStore) AppendLogEntry(ctx context.Context, entry *LogEntry) (*LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := *entry
	if cloned.ID == "" {
		cloned.ID = uuid.NewString()
	}
	if cloned.CreatedAt.IsZero() {
		cloned.CreatedAt = s.clk.Now()
	}
	if cloned.Status == "" {
		cloned.Status = "completed"
	}
	s.logs = append(s.logs, &cloned)

	result := cloned
	return &result, nil
}

// ListLogEntries returns entries newest first, filtered and limited
func (s *MemoryStore) ListLogEntries(ctx context.Context, filter *LogFilter) ([]*LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if filter == nil {
		filter = &LogFilter{}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	var entries []*LogEntry
	for i := len(s.logs) - 1; i >= 0 && len(entries) < limit; i-- {
		entry := s.logs[i]
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		if filter.AccountID != "" && !entryInvolves(entry, filter.AccountID) {
			continue
		}
		cloned := *entry
		entries = append(entries, &cloned)
	}
	return entries, nil
}

func entryInvolves(entry *LogEntry, id string) bool {
	return entry.ActorID == id || entry.SenderID == id || entry.RecipientID == id || entry.AccountID == id
}

// CreateGroup inserts a new group record
func (s *MemoryStore) CreateGroup(ctx context.Context, group *Group) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[group.ID]; ok {
		return nil, ErrGroupExists
	}

	cloned := *group
	if cloned.CreatedAt.IsZero() {
		cloned.CreatedAt = s.clk.Now()
	}
	if cloned.Status == "" {
		cloned.Status = GroupActive
	}
	s.groups[cloned.ID] = &cloned

	result := cloned
	return &result, nil
}

// GetGroup retrieves a group record by ID
func (s *MemoryStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[id]
	if !ok {
		return nil, nil
	}
	cloned := *group
	return &cloned, nil
}

// ListGroups returns group records with the given status ("" = all),
// ordered by ID
func (s *MemoryStore) ListGroups(ctx context.Context, status GroupStatus) ([]*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var groups []*Group
	for _, group := range s.groups {
		if status != "" && group.Status != status {
			continue
		}
		cloned := *group
		groups = append(groups, &cloned)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

// UpdateGroup applies a merge-patch to a group record
func (s *MemoryStore) UpdateGroup(ctx context.Context, id string, patch *GroupPatch) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[id]
	if !ok {
		return nil, nil
	}

	if patch.DisplayName != nil {
		group.DisplayName = *patch.DisplayName
	}
	if patch.Hidden != nil {
		group.Hidden = *patch.Hidden
	}
	if patch.Status != nil {
		group.Status = *patch.Status
	}

	cloned := *group
	return &cloned, nil
}

// RenameGroup rewrites a group's identity and repoints every member
// account to the new name
func (s *MemoryStore) RenameGroup(ctx context.Context, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[oldID]
	if !ok {
		return ErrGroupNotFound
	}
	if _, ok := s.groups[newID]; ok {
		return ErrGroupExists
	}

	delete(s.groups, oldID)
	if group.DisplayName == group.ID {
		group.DisplayName = newID
	}
	group.ID = newID
	s.groups[newID] = group

	now := s.clk.Now()
	for _, account := range s.accounts {
		if account.GroupID == oldID {
			account.GroupID = newID
			account.Version++
			account.LastUpdated = now
		}
	}
	return nil
}

// DeleteGroup removes a group record permanently
func (s *MemoryStore) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return ErrGroupNotFound
	}
	delete(s.groups, id)
	return nil
}

// GetSettings returns the singleton, creating it with defaults on
// first read
func (s *MemoryStore) GetSettings(ctx context.Context) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		s.settings = DefaultSettings()
	}
	cloned := *s.settings
	return &cloned, nil
}

// UpdateSettings applies a merge-patch to the singleton
func (s *MemoryStore) UpdateSettings(ctx context.Context, patch *SettingsPatch) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		s.settings = DefaultSettings()
	}
	applySettingsPatch(s.settings, patch)

	cloned := *s.settings
	return &cloned, nil
}

// applySettingsPatch merges a patch into settings in place. Shared by
// drivers that patch the document on the application side.
func applySettingsPatch(settings *Settings, patch *SettingsPatch) {
	if patch.CommissionRate != nil {
		settings.CommissionRate = *patch.CommissionRate
	}
	if patch.BotStatus != nil {
		settings.BotStatus = *patch.BotStatus
	}
	if patch.Maintenance != nil {
		settings.Maintenance = *patch.Maintenance
	}
	if patch.SyncEnabled != nil {
		settings.SyncEnabled = *patch.SyncEnabled
	}
	if patch.SyncInterval != nil {
		settings.SyncInterval = *patch.SyncInterval
	}
	settings.SyncStats.TotalSyncs += patch.AddTotalSyncs
	settings.SyncStats.SuccessfulSyncs += patch.AddSuccessfulSyncs
	settings.SyncStats.FailedSyncs += patch.AddFailedSyncs
	if patch.LastError != nil {
		settings.SyncStats.LastError = *patch.LastError
	}
	if patch.LastSyncTime != nil {
		settings.SyncStats.LastSyncTime = *patch.LastSyncTime
	}
}
