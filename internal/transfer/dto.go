package transfer

import (
	"github.com/aidosk/pointsledger/internal/ledger"
)

// TransferRequest represents the request body for a point transfer
type TransferRequest struct {
	SenderID    string `json:"sender_id" validate:"required"`
	RecipientID string `json:"recipient_id" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
}

// TransferResponse represents the outcome of a completed transfer
type TransferResponse struct {
	SenderID         string `json:"sender_id"`
	RecipientID      string `json:"recipient_id"`
	Amount           int64  `json:"amount"`
	Commission       int64  `json:"commission"`
	SenderBalance    int64  `json:"sender_balance"`
	RecipientBalance int64  `json:"recipient_balance"`
}

// AdjustRequest represents the request body for an admin balance adjustment
type AdjustRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	Delta     int64  `json:"delta" validate:"required"`
	Comment   string `json:"comment,omitempty"`
}

// AdjustResponse represents the outcome of a balance adjustment
type AdjustResponse struct {
	AccountID  string `json:"account_id"`
	Delta      int64  `json:"delta"`
	NewBalance int64  `json:"new_balance"`
}

// LogEntryResponse represents one transaction log record
type LogEntryResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	ActorID     string `json:"actor_id,omitempty"`
	SenderID    string `json:"sender_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	AccountID   string `json:"account_id,omitempty"`
	AccountName string `json:"account_name,omitempty"`
	Amount      int64  `json:"amount"`
	Commission  int64  `json:"commission,omitempty"`
	OldPoints   int64  `json:"old_points"`
	NewPoints   int64  `json:"new_points"`
	Comment     string `json:"comment,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// ToLogResponse converts a ledger log entry to its response DTO
func ToLogResponse(entry *ledger.LogEntry) *LogEntryResponse {
	return &LogEntryResponse{
		ID:          entry.ID,
		Type:        string(entry.Type),
		ActorID:     entry.ActorID,
		SenderID:    entry.SenderID,
		RecipientID: entry.RecipientID,
		AccountID:   entry.AccountID,
		AccountName: entry.AccountName,
		Amount:      entry.Amount,
		Commission:  entry.Commission,
		OldPoints:   entry.OldPoints,
		NewPoints:   entry.NewPoints,
		Comment:     entry.Comment,
		Status:      entry.Status,
		CreatedAt:   entry.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}
