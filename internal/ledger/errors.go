package ledger

import "errors"

// Store errors shared by every driver. Services and handlers dispatch
// on these with errors.Is.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrAccountInactive     = errors.New("account is not active")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrWriteConflict       = errors.New("concurrent write conflict")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrGroupNotFound       = errors.New("group not found")
	ErrGroupExists         = errors.New("group already exists")
)
