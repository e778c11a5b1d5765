package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ApprovalRequest mirrors the approval_requests table. Rows are never
// deleted; terminal rows stay behind for audit and idempotent replay.
type ApprovalRequest struct {
	RequestID      string     `gorm:"type:uuid;primaryKey"`
	Kind           string     `gorm:"size:20;not null;index:uniq_request_pending_resource,unique,priority:1,where:status = 'pending'"`
	StoreID        string     `gorm:"not null;index:idx_requests_store_status,priority:1"`
	WalletID       string     `gorm:"not null;index:uniq_request_wallet_idem,unique,priority:1"`
	ResourceID     string     `gorm:"not null;index:idx_requests_resource_status,priority:1;index:uniq_request_pending_resource,unique,priority:2"`
	Status         string     `gorm:"size:20;not null;index:idx_requests_store_status,priority:2;index:idx_requests_resource_status,priority:2;index:idx_requests_status_expires,priority:1"`
	IdempotencyKey string     `gorm:"size:100;not null;index:uniq_request_wallet_idem,unique,priority:2"`
	ImageURL       string     `gorm:"size:1024"`
	ApprovedDelta  int64      `gorm:""`
	RejectReason   string     `gorm:"size:255"`
	ExpiresAt      *time.Time `gorm:"index:idx_requests_status_expires,priority:2"`
	ProcessedAt    *time.Time `gorm:""`
	CreatedAt      time.Time  `gorm:"not null"`
}

func (ApprovalRequest) TableName() string { return "approval_requests" }

// StampEvent mirrors the stamp_events ledger table. Append-only; the unique
// index on request_id enforces exactly one event per approval.
type StampEvent struct {
	EventID    string         `gorm:"type:uuid;primaryKey"`
	Type       string         `gorm:"size:30;not null"`
	StoreID    string         `gorm:"not null"`
	WalletID   string         `gorm:"not null"`
	ResourceID string         `gorm:"not null;index:idx_events_resource_occurred,priority:1"`
	Delta      int64          `gorm:"not null"`
	Reason     string         `gorm:"size:255"`
	RequestID  string         `gorm:"type:uuid;not null;index:uniq_event_request,unique"`
	Metadata   datatypes.JSON `gorm:"not null"`
	OccurredAt time.Time      `gorm:"not null;index:idx_events_resource_occurred,priority:2"`
}

func (StampEvent) TableName() string { return "stamp_events" }

func (event *StampEvent) BeforeCreate(tx *gorm.DB) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	return nil
}

// StampAggregate mirrors the stamp_aggregates table: the per-(wallet,
// resource) counter mutated only inside approval transactions.
type StampAggregate struct {
	WalletID      string     `gorm:"primaryKey"`
	ResourceID    string     `gorm:"primaryKey"`
	StampCount    int64      `gorm:"not null"`
	LastStampedAt *time.Time `gorm:""`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

func (StampAggregate) TableName() string { return "stamp_aggregates" }
