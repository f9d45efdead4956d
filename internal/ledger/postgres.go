package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// transferAttempts bounds the serializable-transaction retry loop.
const transferAttempts = 3

const accountColumns = `id, full_name, phone, username, points, role, status, group_id, version, created_at, last_updated`

// PostgresStore is a Store backed by PostgreSQL. Balance movements run
// in serializable transactions and are retried a bounded number of
// times when the database reports a serialization failure.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on top of an open connection pool
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables and indexes when they do not exist yet
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		points BIGINT NOT NULL DEFAULT 0,
		role TEXT NOT NULL DEFAULT 'student',
		status TEXT NOT NULL DEFAULT 'pending',
		group_id TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_group_id ON accounts (group_id);
	CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts (status);

	CREATE TABLE IF NOT EXISTS transaction_log (
		id UUID PRIMARY KEY,
		type TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		sender_id TEXT NOT NULL DEFAULT '',
		recipient_id TEXT NOT NULL DEFAULT '',
		account_id TEXT NOT NULL DEFAULT '',
		account_name TEXT NOT NULL DEFAULT '',
		amount BIGINT NOT NULL DEFAULT 0,
		commission BIGINT NOT NULL DEFAULT 0,
		old_points BIGINT NOT NULL DEFAULT 0,
		new_points BIGINT NOT NULL DEFAULT 0,
		comment TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'completed',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_transaction_log_created_at ON transaction_log (created_at DESC);

	CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		hidden BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS settings (
		id INT PRIMARY KEY CHECK (id = 1),
		data JSONB NOT NULL
	);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID
func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// CreateAccount inserts a new account
func (s *PostgresStore) CreateAccount(ctx context.Context, account *Account) (*Account, error) {
	query := `
		INSERT INTO accounts (id, full_name, phone, username, points, role, status, group_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + accountColumns

	created, err := scanAccount(s.db.QueryRowContext(ctx, query,
		account.ID, account.FullName, account.Phone, account.Username,
		account.Points, account.Role, account.Status, account.GroupID))
	if isUniqueViolation(err) {
		return nil, ErrAccountExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

// UpdateAccount applies a merge-patch and bumps version and stamp
func (s *PostgresStore) UpdateAccount(ctx context.Context, id string, patch *AccountPatch) (*Account, error) {
	query := `
		UPDATE accounts
		SET full_name = COALESCE($2, full_name),
		    phone = COALESCE($3, phone),
		    username = COALESCE($4, username),
		    points = COALESCE($5, points),
		    role = COALESCE($6, role),
		    status = COALESCE($7, status),
		    group_id = COALESCE($8, group_id),
		    version = version + 1,
		    last_updated = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, id,
		patch.FullName, patch.Phone, patch.Username, patch.Points,
		(*string)(patch.Role), (*string)(patch.Status), patch.GroupID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return account, nil
}

// DeleteAccount removes an account permanently
func (s *PostgresStore) DeleteAccount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListAccounts returns accounts matching the filter, ordered by ID
func (s *PostgresStore) ListAccounts(ctx context.Context, filter *AccountFilter) ([]*Account, error) {
	if filter == nil {
		filter = &AccountFilter{}
	}

	query := `SELECT ` + accountColumns + ` FROM accounts`
	var conditions []string
	var args []any
	if filter.Role != "" {
		args = append(args, filter.Role)
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.GroupID != nil {
		args = append(args, *filter.GroupID)
		conditions = append(conditions, fmt.Sprintf("group_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}
	return accounts, nil
}

// TransferPoints moves amount from sender to recipient, charging the
// sender amount plus commission. Runs serializable and retries a few
// times on serialization failures before giving up with ErrWriteConflict.
func (s *PostgresStore) TransferPoints(ctx context.Context, senderID, recipientID string, amount, commission int64) (*TransferResult, error) {
	if amount <= 0 || commission < 0 {
		return nil, ErrInvalidAmount
	}

	for attempt := 1; ; attempt++ {
		result, err := s.transferOnce(ctx, senderID, recipientID, amount, commission)
		if err == nil {
			return result, nil
		}
		if !isSerializationFailure(err) {
			return nil, err
		}
		if attempt >= transferAttempts {
			return nil, fmt.Errorf("transfer kept conflicting after %d attempts: %w", attempt, ErrWriteConflict)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}
}

func (s *PostgresStore) transferOnce(ctx context.Context, senderID, recipientID string, amount, commission int64) (*TransferResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transfer: %w", err)
	}
	defer tx.Rollback()

	senderPoints, senderStatus, err := readBalance(ctx, tx, senderID)
	if err != nil {
		return nil, err
	}
	recipientPoints, recipientStatus, err := readBalance(ctx, tx, recipientID)
	if err != nil {
		return nil, err
	}

	if senderStatus != StatusActive || recipientStatus != StatusActive {
		return nil, ErrAccountInactive
	}
	totalCost := amount + commission
	if senderPoints < totalCost {
		return nil, ErrInsufficientBalance
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET points = points - $2, version = version + 1, last_updated = NOW() WHERE id = $1`,
		senderID, totalCost)
	if err != nil {
		return nil, fmt.Errorf("failed to debit sender: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET points = points + $2, version = version + 1, last_updated = NOW() WHERE id = $1`,
		recipientID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to credit recipient: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}
	return &TransferResult{
		SenderBalance:    senderPoints - totalCost,
		RecipientBalance: recipientPoints + amount,
	}, nil
}

func readBalance(ctx context.Context, tx *sql.Tx, id string) (int64, Status, error) {
	var points int64
	var status Status
	err := tx.QueryRowContext(ctx, `SELECT points, status FROM accounts WHERE id = $1`, id).Scan(&points, &status)
	if err == sql.ErrNoRows {
		return 0, "", ErrAccountNotFound
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to read balance: %w", err)
	}
	return points, status, nil
}

// AdjustBalance applies a signed delta to one account's balance
func (s *PostgresStore) AdjustBalance(ctx context.Context, id string, delta int64) (int64, error) {
	query := `
		UPDATE accounts
		SET points = points + $2, version = version + 1, last_updated = NOW()
		WHERE id = $1
		RETURNING points`

	var points int64
	err := s.db.QueryRowContext(ctx, query, id, delta).Scan(&points)
	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to adjust balance: %w", err)
	}
	return points, nil
}

// CompareAndSwapBalance writes the balance only if the version still
// matches what the caller read
func (s *PostgresStore) CompareAndSwapBalance(ctx context.Context, id string, expectedVersion, points int64) (*Account, error) {
	query := `
		UPDATE accounts
		SET points = $3, version = version + 1, last_updated = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + accountColumns

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, id, expectedVersion, points))
	if err == sql.ErrNoRows {
		var exists bool
		if probeErr := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); probeErr != nil {
			return nil, fmt.Errorf("failed to probe account: %w", probeErr)
		}
		if !exists {
			return nil, ErrAccountNotFound
		}
		return nil, ErrWriteConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to swap balance: %w", err)
	}
	return account, nil
}

// AppendLogEntry stores an audit record, assigning ID and timestamp
// when absent
func (s *PostgresStore) AppendLogEntry(ctx context.Context, entry *LogEntry) (*LogEntry, error) {
	cloned := *entry
	if cloned.ID == "" {
		cloned.ID = uuid.NewString()
	}
	if cloned.Status == "" {
		cloned.Status = "completed"
	}

	query := `
		INSERT INTO transaction_log (id, type, actor_id, sender_id, recipient_id, account_id, account_name, amount, commission, old_points, new_points, comment, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		cloned.ID, cloned.Type, cloned.ActorID, cloned.SenderID, cloned.RecipientID,
		cloned.AccountID, cloned.AccountName, cloned.Amount, cloned.Commission,
		cloned.OldPoints, cloned.NewPoints, cloned.Comment, cloned.Status).Scan(&cloned.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append log entry: %w", err)
	}
	return &cloned, nil
}

// ListLogEntries returns entries newest first, filtered and limited
func (s *PostgresStore) ListLogEntries(ctx context.Context, filter *LogFilter) ([]*LogEntry, error) {
	if filter == nil {
		filter = &LogFilter{}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	query := `SELECT id, type, actor_id, sender_id, recipient_id, account_id, account_name, amount, commission, old_points, new_points, comment, status, created_at FROM transaction_log`
	var conditions []string
	var args []any
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(actor_id = $%d OR sender_id = $%d OR recipient_id = $%d OR account_id = $%d)", n, n, n, n))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		entry := &LogEntry{}
		err := rows.Scan(&entry.ID, &entry.Type, &entry.ActorID, &entry.SenderID, &entry.RecipientID,
			&entry.AccountID, &entry.AccountName, &entry.Amount, &entry.Commission,
			&entry.OldPoints, &entry.NewPoints, &entry.Comment, &entry.Status, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log entries: %w", err)
	}
	return entries, nil
}

// CreateGroup inserts a new group record
func (s *PostgresStore) CreateGroup(ctx context.Context, group *Group) (*Group, error) {
	query := `
		INSERT INTO groups (id, display_name, hidden, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, display_name, hidden, status, created_at`

	status := group.Status
	if status == "" {
		status = GroupActive
	}

	created := &Group{}
	err := s.db.QueryRowContext(ctx, query, group.ID, group.DisplayName, group.Hidden, status).
		Scan(&created.ID, &created.DisplayName, &created.Hidden, &created.Status, &created.CreatedAt)
	if isUniqueViolation(err) {
		return nil, ErrGroupExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	return created, nil
}

// GetGroup retrieves a group record by ID
func (s *PostgresStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	query := `SELECT id, display_name, hidden, status, created_at FROM groups WHERE id = $1`

	group := &Group{}
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&group.ID, &group.DisplayName, &group.Hidden, &group.Status, &group.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

// ListGroups returns group records with the given status ("" = all),
// ordered by ID
func (s *PostgresStore) ListGroups(ctx context.Context, status GroupStatus) ([]*Group, error) {
	query := `SELECT id, display_name, hidden, status, created_at FROM groups`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		group := &Group{}
		if err := rows.Scan(&group.ID, &group.DisplayName, &group.Hidden, &group.Status, &group.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read groups: %w", err)
	}
	return groups, nil
}

// UpdateGroup applies a merge-patch to a group record
func (s *PostgresStore) UpdateGroup(ctx context.Context, id string, patch *GroupPatch) (*Group, error) {
	query := `
		UPDATE groups
		SET display_name = COALESCE($2, display_name),
		    hidden = COALESCE($3, hidden),
		    status = COALESCE($4, status)
		WHERE id = $1
		RETURNING id, display_name, hidden, status, created_at`

	group := &Group{}
	err := s.db.QueryRowContext(ctx, query, id, patch.DisplayName, patch.Hidden, (*string)(patch.Status)).
		Scan(&group.ID, &group.DisplayName, &group.Hidden, &group.Status, &group.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update group: %w", err)
	}
	return group, nil
}

// RenameGroup rewrites a group's identity and repoints every member
// account to the new name, in one transaction
func (s *PostgresStore) RenameGroup(ctx context.Context, oldID, newID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rename: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE groups
		SET id = $2,
		    display_name = CASE WHEN display_name = id THEN $2 ELSE display_name END
		WHERE id = $1`, oldID, newID)
	if isUniqueViolation(err) {
		return ErrGroupExists
	}
	if err != nil {
		return fmt.Errorf("failed to rename group: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rename result: %w", err)
	}
	if affected == 0 {
		return ErrGroupNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts
		SET group_id = $2, version = version + 1, last_updated = NOW()
		WHERE group_id = $1`, oldID, newID)
	if err != nil {
		return fmt.Errorf("failed to repoint accounts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rename: %w", err)
	}
	return nil
}

// DeleteGroup removes a group record permanently
func (s *PostgresStore) DeleteGroup(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// GetSettings returns the singleton, creating it with defaults on
// first read
func (s *PostgresStore) GetSettings(ctx context.Context) (*Settings, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		settings := DefaultSettings()
		if err := s.writeSettings(ctx, s.db, settings); err != nil {
			return nil, err
		}
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	settings := &Settings{}
	if err := json.Unmarshal(raw, settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}

// UpdateSettings applies a merge-patch to the singleton under a row lock
func (s *PostgresStore) UpdateSettings(ctx context.Context, patch *SettingsPatch) (*Settings, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin settings update: %w", err)
	}
	defer tx.Rollback()

	settings := &Settings{}
	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT data FROM settings WHERE id = 1 FOR UPDATE`).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		settings = DefaultSettings()
	case err != nil:
		return nil, fmt.Errorf("failed to read settings: %w", err)
	default:
		if err := json.Unmarshal(raw, settings); err != nil {
			return nil, fmt.Errorf("failed to decode settings: %w", err)
		}
	}

	applySettingsPatch(settings, patch)
	if err := s.writeSettings(ctx, tx, settings); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settings: %w", err)
	}
	return settings, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) writeSettings(ctx context.Context, db execer, settings *Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO settings (id, data) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, raw)
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	account := &Account{}
	err := row.Scan(&account.ID, &account.FullName, &account.Phone, &account.Username,
		&account.Points, &account.Role, &account.Status, &account.GroupID,
		&account.Version, &account.CreatedAt, &account.LastUpdated)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}
