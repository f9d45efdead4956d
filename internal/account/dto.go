package account

import (
	"github.com/aidosk/pointsledger/internal/ledger"
)

// RegisterRequest represents the request body for account registration
type RegisterRequest struct {
	ID          string `json:"id" validate:"required"`
	FullName    string `json:"full_name" validate:"required,min=3"`
	Phone       string `json:"phone,omitempty"`
	Username    string `json:"username,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
	TeacherCode string `json:"teacher_code,omitempty"`
}

// UpdateAccountRequest represents the merge-patch body for account
// identity fields. Status transitions have their own endpoints.
type UpdateAccountRequest struct {
	FullName *string `json:"full_name,omitempty" validate:"omitempty,min=3"`
	Phone    *string `json:"phone,omitempty"`
	Username *string `json:"username,omitempty"`
	GroupID  *string `json:"group_id,omitempty"`
	Role     *string `json:"role,omitempty" validate:"omitempty,oneof=teacher student"`
}

// AccountResponse represents a single account
type AccountResponse struct {
	ID          string `json:"id"`
	FullName    string `json:"full_name"`
	Phone       string `json:"phone,omitempty"`
	Username    string `json:"username,omitempty"`
	Points      int64  `json:"points"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	GroupID     string `json:"group_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	LastUpdated string `json:"last_updated"`
}

// ToResponse converts an account model to its response DTO
func ToResponse(a *ledger.Account) *AccountResponse {
	return &AccountResponse{
		ID:          a.ID,
		FullName:    a.FullName,
		Phone:       a.Phone,
		Username:    a.Username,
		Points:      a.Points,
		Role:        string(a.Role),
		Status:      string(a.Status),
		GroupID:     a.GroupID,
		CreatedAt:   a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		LastUpdated: a.LastUpdated.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// RejectResponse reports what happened to a rejected account
type RejectResponse struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

// RankingEntry is one row of the points ranking
type RankingEntry struct {
	Position int    `json:"position"`
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	GroupID  string `json:"group_id,omitempty"`
	Points   int64  `json:"points"`
}

// RankingResponse is one page of the points ranking
type RankingResponse struct {
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int             `json:"total"`
	Entries  []*RankingEntry `json:"entries"`
}
