package database

import (
	"context"
	"time"

	"github.com/callwatch/callwatch/internal/database/models"
)

// CallRepository manages Call records keyed by linkedid.
type CallRepository interface {
	// GetByLinkedID returns the call, or nil when no call exists for the key.
	GetByLinkedID(ctx context.Context, linkedID string) (*models.Call, error)
	// Upsert inserts the call or replaces every field of the existing row.
	Upsert(ctx context.Context, call *models.Call) error
	List(ctx context.Context, filter CallListFilter) ([]models.Call, int, error)
	// CountActive returns the number of calls not yet ended.
	CountActive(ctx context.Context) (int64, error)
	CountByDirection(ctx context.Context) (map[string]int64, error)
}

// CallLegRepository manages CallLeg records keyed by uniqueid.
type CallLegRepository interface {
	GetByUniqueID(ctx context.Context, uniqueID string) (*models.CallLeg, error)
	Upsert(ctx context.Context, leg *models.CallLeg) error
	ListByLinkedID(ctx context.Context, linkedID string) ([]models.CallLeg, error)
	// CountActiveByLinkedID returns the number of legs without a hangup time.
	CountActiveByLinkedID(ctx context.Context, linkedID string) (int64, error)
}

// BridgeSegmentRepository manages bridge membership intervals.
type BridgeSegmentRepository interface {
	Open(ctx context.Context, seg *models.BridgeSegment) error
	// CloseLatest stamps leftAt on the most recent open segment for the
	// linkedid, narrowed to the channel when channel is non-empty. Returns
	// false when no open segment matched.
	CloseLatest(ctx context.Context, linkedID, channel string, leftAt time.Time) (bool, error)
	ListByLinkedID(ctx context.Context, linkedID string) ([]models.BridgeSegment, error)
	CountOpen(ctx context.Context, linkedID string) (int64, error)
}

// ExtensionRepository manages monitored extensions keyed by number.
type ExtensionRepository interface {
	GetByNumber(ctx context.Context, number string) (*models.Extension, error)
	List(ctx context.Context) ([]models.Extension, error)
	Create(ctx context.Context, ext *models.Extension) error
	// UpdateStatus updates an existing row only. Returns false when the
	// extension is not provisioned; it never inserts.
	UpdateStatus(ctx context.Context, ext *models.Extension) (bool, error)
	Delete(ctx context.Context, number string) error
	Count(ctx context.Context) (int64, error)
}

// AdminUserRepository manages operator accounts for the HTTP API.
type AdminUserRepository interface {
	Create(ctx context.Context, user *models.AdminUser) error
	GetByUsername(ctx context.Context, username string) (*models.AdminUser, error)
	Count(ctx context.Context) (int64, error)
}

// Store bundles every repository behind one persistence backend.
type Store interface {
	Calls() CallRepository
	CallLegs() CallLegRepository
	BridgeSegments() BridgeSegmentRepository
	Extensions() ExtensionRepository
	AdminUsers() AdminUserRepository
	Close() error
}

// CallListFilter specifies filtering and pagination for call list queries.
type CallListFilter struct {
	Limit      int
	Offset     int
	Search     string // matches other_party, caller_num, caller_name, or agent_exten
	Direction  string
	State      string
	AgentExten string
}
