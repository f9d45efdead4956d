package account

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/aidosk/pointsledger/internal/config"
	"github.com/aidosk/pointsledger/internal/ledger"
)

// Common errors
var (
	ErrInvalidName       = errors.New("full name must be at least 3 characters and contain no digits")
	ErrBannedForever     = errors.New("banned accounts cannot come back")
	ErrNotAwaitingReview = errors.New("account is not awaiting review")
	ErrNotDeleted        = errors.New("only deleted accounts can request restore")
)

// Service handles the account lifecycle: registration, review,
// soft-deletion, restore requests and the points ranking.
type Service struct {
	store       ledger.Store
	teacherCode string
}

// NewService creates a new account service with dependencies injected
func NewService(store ledger.Store, teacherCode string) *Service {
	return &Service{store: store, teacherCode: teacherCode}
}

// Register creates a new account in pending status. A matching teacher
// code registers the account as a teacher; everyone else is a student.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*ledger.Account, error) {
	if err := validateName(req.FullName); err != nil {
		return nil, err
	}

	existing, err := s.store.GetAccount(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == ledger.StatusBanned {
			return nil, ErrBannedForever
		}
		return nil, ledger.ErrAccountExists
	}

	role := ledger.RoleStudent
	if s.teacherCode != "" && req.TeacherCode == s.teacherCode {
		role = ledger.RoleTeacher
	}

	return s.store.CreateAccount(ctx, &ledger.Account{
		ID:       req.ID,
		FullName: strings.TrimSpace(req.FullName),
		Phone:    req.Phone,
		Username: req.Username,
		GroupID:  req.GroupID,
		Role:     role,
		Status:   ledger.StatusPending,
	})
}

// Get retrieves an account by ID
func (s *Service) Get(ctx context.Context, id string) (*ledger.Account, error) {
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledger.ErrAccountNotFound
	}
	return account, nil
}

// List retrieves accounts matching the filter
func (s *Service) List(ctx context.Context, filter *ledger.AccountFilter) ([]*ledger.Account, error) {
	return s.store.ListAccounts(ctx, filter)
}

// Update applies an identity merge-patch to an account
func (s *Service) Update(ctx context.Context, id string, req *UpdateAccountRequest) (*ledger.Account, error) {
	if req.FullName != nil {
		if err := validateName(*req.FullName); err != nil {
			return nil, err
		}
	}

	patch := &ledger.AccountPatch{
		FullName: req.FullName,
		Phone:    req.Phone,
		Username: req.Username,
		GroupID:  req.GroupID,
	}
	if req.Role != nil {
		role := ledger.Role(*req.Role)
		if role != ledger.RoleTeacher && role != ledger.RoleStudent {
			return nil, errors.New("role must be teacher or student")
		}
		patch.Role = &role
	}

	account, err := s.store.UpdateAccount(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledger.ErrAccountNotFound
	}
	return account, nil
}

// SoftDelete marks an account deleted. The reconciler removes its
// sheet row on the next pass.
func (s *Service) SoftDelete(ctx context.Context, id string) (*ledger.Account, error) {
	return s.transition(ctx, id, ledger.StatusDeleted)
}

// Approve activates an account that is pending or awaiting restore
func (s *Service) Approve(ctx context.Context, id string) (*ledger.Account, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Status != ledger.StatusPending && account.Status != ledger.StatusPendingRestore {
		return nil, ErrNotAwaitingReview
	}
	return s.transition(ctx, id, ledger.StatusActive)
}

// Reject settles a review request: a pending registration is removed
// outright, a restore request becomes a permanent ban.
func (s *Service) Reject(ctx context.Context, id string) (*RejectResponse, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch account.Status {
	case ledger.StatusPending:
		if err := s.store.DeleteAccount(ctx, id); err != nil {
			return nil, err
		}
		return &RejectResponse{ID: id, Outcome: "deleted"}, nil
	case ledger.StatusPendingRestore:
		if _, err := s.transition(ctx, id, ledger.StatusBanned); err != nil {
			return nil, err
		}
		return &RejectResponse{ID: id, Outcome: "banned"}, nil
	default:
		return nil, ErrNotAwaitingReview
	}
}

// RequestRestore moves a deleted account into the restore queue.
// Calling it again while the request is pending is a no-op.
func (s *Service) RequestRestore(ctx context.Context, id string) (*ledger.Account, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch account.Status {
	case ledger.StatusBanned:
		return nil, ErrBannedForever
	case ledger.StatusPendingRestore:
		return account, nil
	case ledger.StatusDeleted:
		return s.transition(ctx, id, ledger.StatusPendingRestore)
	default:
		return nil, ErrNotDeleted
	}
}

// Ban marks an account permanently banned
func (s *Service) Ban(ctx context.Context, id string) (*ledger.Account, error) {
	return s.transition(ctx, id, ledger.StatusBanned)
}

// PendingReview lists accounts awaiting approval: new registrations
// first, then restore requests.
func (s *Service) PendingReview(ctx context.Context) ([]*ledger.Account, error) {
	pending, err := s.store.ListAccounts(ctx, &ledger.AccountFilter{Status: ledger.StatusPending})
	if err != nil {
		return nil, err
	}
	restoring, err := s.store.ListAccounts(ctx, &ledger.AccountFilter{Status: ledger.StatusPendingRestore})
	if err != nil {
		return nil, err
	}
	return append(pending, restoring...), nil
}

// Ranking returns one page of active students ordered by points,
// highest first. A non-empty group scopes the ranking to that group.
func (s *Service) Ranking(ctx context.Context, group string, page int) (*RankingResponse, error) {
	if page < 1 {
		page = 1
	}

	filter := &ledger.AccountFilter{
		Role:   ledger.RoleStudent,
		Status: ledger.StatusActive,
	}
	if group != "" {
		filter.GroupID = &group
	}

	accounts, err := s.store.ListAccounts(ctx, filter)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(accounts, func(i, j int) bool {
		if accounts[i].Points != accounts[j].Points {
			return accounts[i].Points > accounts[j].Points
		}
		return accounts[i].ID < accounts[j].ID
	})

	start := (page - 1) * config.RankingPageSize
	end := start + config.RankingPageSize
	if start > len(accounts) {
		start = len(accounts)
	}
	if end > len(accounts) {
		end = len(accounts)
	}

	entries := make([]*RankingEntry, 0, end-start)
	for i, account := range accounts[start:end] {
		entries = append(entries, &RankingEntry{
			Position: start + i + 1,
			ID:       account.ID,
			FullName: account.FullName,
			GroupID:  account.GroupID,
			Points:   account.Points,
		})
	}

	return &RankingResponse{
		Page:     page,
		PageSize: config.RankingPageSize,
		Total:    len(accounts),
		Entries:  entries,
	}, nil
}

// History lists recent transaction log entries involving one account
func (s *Service) History(ctx context.Context, id string, limit int) ([]*ledger.LogEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = config.AccountHistoryLimit
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.ListLogEntries(ctx, &ledger.LogFilter{
		AccountID: id,
		Limit:     limit,
	})
}

func (s *Service) transition(ctx context.Context, id string, status ledger.Status) (*ledger.Account, error) {
	account, err := s.store.UpdateAccount(ctx, id, &ledger.AccountPatch{Status: &status})
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledger.ErrAccountNotFound
	}
	return account, nil
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if len([]rune(name)) < 3 {
		return ErrInvalidName
	}
	for _, r := range name {
		if unicode.IsDigit(r) {
			return ErrInvalidName
		}
	}
	return nil
}
