package registry

import (
	"github.com/aidosk/pointsledger/internal/ledger"
)

// CreatePartitionRequest represents the request body for partition creation
type CreatePartitionRequest struct {
	Name string `json:"name" validate:"required"`
}

// RenamePartitionRequest represents the request body for an explicit rename
type RenamePartitionRequest struct {
	Old string `json:"old" validate:"required"`
	New string `json:"new" validate:"required"`
}

// GroupResponse represents one partition
type GroupResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Hidden      bool   `json:"hidden"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// ToResponse converts a group record to its response DTO
func ToResponse(g *ledger.Group) *GroupResponse {
	return &GroupResponse{
		ID:          g.ID,
		DisplayName: g.DisplayName,
		Hidden:      g.Hidden,
		Status:      string(g.Status),
		CreatedAt:   g.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// OrphanResponse lists accounts left behind by partition churn
type OrphanResponse struct {
	Count    int              `json:"count"`
	Accounts []*OrphanAccount `json:"accounts"`
}

// OrphanAccount is one orphaned account in an orphan listing
type OrphanAccount struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	GroupID  string `json:"group_id"`
	Points   int64  `json:"points"`
}

// PurgeResponse reports the accounts removed by an orphan purge
type PurgeResponse struct {
	Purged []string `json:"purged"`
	Count  int      `json:"count"`
}
