package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/aidosk/pointsledger/internal/config"
	"github.com/aidosk/pointsledger/internal/ledger"
)

// Common errors
var (
	ErrSelfTransfer = errors.New("sender and recipient are the same account")
)

// Service executes point transfers and admin balance adjustments
type Service struct {
	store ledger.Store
	log   *slog.Logger
}

// NewService creates a new transfer service with dependencies injected
func NewService(store ledger.Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Commission computes the fee charged on top of a transfer: the
// configured rate applied to the amount, rounded down to whole points.
func Commission(amount int64, rate float64) int64 {
	return decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(rate)).Floor().IntPart()
}

// Transfer moves points from sender to recipient. The sender pays the
// amount plus commission; the whole movement is atomic in the store.
func (s *Service) Transfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	if req.Amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if req.SenderID == req.RecipientID {
		return nil, ErrSelfTransfer
	}

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load commission rate: %w", err)
	}
	commission := Commission(req.Amount, settings.CommissionRate)

	result, err := s.store.TransferPoints(ctx, req.SenderID, req.RecipientID, req.Amount, commission)
	if err != nil {
		return nil, err
	}

	// The transfer is committed; a lost audit record must not undo it.
	_, err = s.store.AppendLogEntry(ctx, &ledger.LogEntry{
		Type:        ledger.LogTransfer,
		ActorID:     req.SenderID,
		SenderID:    req.SenderID,
		RecipientID: req.RecipientID,
		Amount:      req.Amount,
		Commission:  commission,
	})
	if err != nil {
		s.log.Error("transfer committed but audit log append failed",
			"sender", req.SenderID, "recipient", req.RecipientID, "error", err)
	}

	return &TransferResponse{
		SenderID:         req.SenderID,
		RecipientID:      req.RecipientID,
		Amount:           req.Amount,
		Commission:       commission,
		SenderBalance:    result.SenderBalance,
		RecipientBalance: result.RecipientBalance,
	}, nil
}

// Adjust applies a signed admin delta to one account's balance. There
// is no balance floor here: adjustments may drive a balance negative.
func (s *Service) Adjust(ctx context.Context, actorID string, req *AdjustRequest) (*AdjustResponse, error) {
	if req.Delta == 0 {
		return nil, ledger.ErrInvalidAmount
	}

	account, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledger.ErrAccountNotFound
	}

	newBalance, err := s.store.AdjustBalance(ctx, req.AccountID, req.Delta)
	if err != nil {
		return nil, err
	}

	logType := ledger.LogAddPoints
	amount := req.Delta
	if req.Delta < 0 {
		logType = ledger.LogSubtractPoints
		amount = -req.Delta
	}
	_, err = s.store.AppendLogEntry(ctx, &ledger.LogEntry{
		Type:        logType,
		ActorID:     actorID,
		AccountID:   req.AccountID,
		AccountName: account.FullName,
		Amount:      amount,
		OldPoints:   account.Points,
		NewPoints:   newBalance,
		Comment:     req.Comment,
	})
	if err != nil {
		s.log.Error("adjustment committed but audit log append failed",
			"account", req.AccountID, "actor", actorID, "error", err)
	}

	return &AdjustResponse{
		AccountID:  req.AccountID,
		Delta:      req.Delta,
		NewBalance: newBalance,
	}, nil
}

// Log lists transaction log entries, newest first
func (s *Service) Log(ctx context.Context, logType, accountID string, limit int) ([]*ledger.LogEntry, error) {
	if limit < 1 {
		limit = config.TransactionLogLimit
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.ListLogEntries(ctx, &ledger.LogFilter{
		Type:      ledger.LogType(logType),
		AccountID: accountID,
		Limit:     limit,
	})
}
