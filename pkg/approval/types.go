package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// WalletID identifies the requesting customer wallet.
type WalletID struct {
	value string
}

// ResourceID identifies the thing a request acts on (a wallet stamp card
// enrollment or a wallet reward instance, depending on the kind).
type ResourceID struct {
	value string
}

// StoreID identifies the store that scopes operator-side authorization.
type StoreID struct {
	value string
}

// OperatorID identifies a store owner account acting through a terminal.
type OperatorID struct {
	value string
}

// RequestID identifies an approval request.
type RequestID struct {
	value string
}

// IdempotencyKey scopes duplicate detection per wallet.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary event metadata.
type MetadataJSON struct {
	value string
}

// RequestStatus defines the approval request lifecycle.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
	StatusExpired  RequestStatus = "expired"
)

// Kind names the call site a request belongs to.
type Kind string

const (
	KindIssuance   Kind = "issuance"
	KindRedemption Kind = "redemption"
	KindMigration  Kind = "migration"
)

// EventType enumerates ledger event kinds.
type EventType string

const (
	EventIssued   EventType = "issued"
	EventRedeemed EventType = "redeemed"
	EventMigrated EventType = "migrated"
)

// Request is a stored approval request. Terminal statuses are immutable;
// rows are never deleted so idempotent replays can find them.
type Request struct {
	ID                 RequestID
	Kind               Kind
	StoreID            StoreID
	WalletID           WalletID
	ResourceID         ResourceID
	Status             RequestStatus
	IdempotencyKey     IdempotencyKey
	ImageURL           string
	ApprovedDelta      int64
	RejectReason       string
	ExpiresAtUnixUTC   int64
	ProcessedAtUnixUTC int64
	CreatedAtUnixUTC   int64
}

// IsPending reports whether the stored status still reads pending.
func (request Request) IsPending() bool {
	return request.Status == StatusPending
}

// HasTTL reports whether the request is time-bounded at all.
func (request Request) HasTTL() bool {
	return request.ExpiresAtUnixUTC != 0
}

// IsExpiredAt applies the authoritative staleness check shared by the poll
// and approve paths. Requests without a TTL never expire.
func (request Request) IsExpiredAt(nowUnixUTC int64) bool {
	if request.Status == StatusExpired {
		return true
	}
	return request.HasTTL() && nowUnixUTC > request.ExpiresAtUnixUTC
}

// RemainingSeconds returns the seconds left until expiry, floored at zero.
func (request Request) RemainingSeconds(nowUnixUTC int64) int64 {
	if !request.HasTTL() || request.Status != StatusPending {
		return 0
	}
	remaining := request.ExpiresAtUnixUTC - nowUnixUTC
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Event is a single immutable line in the stamp ledger. Exactly one event is
// written per approved request.
type Event struct {
	EventID         string
	Type            EventType
	StoreID         StoreID
	WalletID        WalletID
	ResourceID      ResourceID
	Delta           int64
	Reason          string
	RequestID       RequestID
	MetadataJSON    MetadataJSON
	OccurredUnixUTC int64
}

// Aggregate is the mutable per-(wallet, resource) stamp counter. Its only
// legitimate writer is a successful approval transaction.
type Aggregate struct {
	WalletID             WalletID
	ResourceID           ResourceID
	StampCount           int64
	LastStampedAtUnixUTC int64
}

// StatusUpdate carries the terminal-transition fields written together with a
// status change.
type StatusUpdate struct {
	ProcessedAtUnixUTC int64
	ApprovedDelta      int64
	RejectReason       string
}

// ResourceInfo is what the directory resolves for a resource id.
type ResourceInfo struct {
	WalletID WalletID
	StoreID  StoreID
}

// Store is the persistence contract used by Engine. Implementations must back
// CreateRequest with a unique constraint on (wallet, idempotency key) plus one
// admitting at most one pending row per (kind, resource), back AppendEvent
// with a unique constraint on the causing request id, and provide row-level
// locking for GetRequestForUpdate and GetOrCreateAggregate.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateRequest(ctx context.Context, request Request) error
	GetRequest(ctx context.Context, requestID RequestID) (Request, error)
	GetRequestForUpdate(ctx context.Context, requestID RequestID) (Request, error)
	FindRequestByIdempotencyKey(ctx context.Context, walletID WalletID, key IdempotencyKey) (Request, bool, error)
	HasPendingRequest(ctx context.Context, kind Kind, resourceID ResourceID, nowUnixUTC int64) (bool, error)
	UpdateRequestStatus(ctx context.Context, requestID RequestID, from, to RequestStatus, update StatusUpdate) error
	ListPendingRequests(ctx context.Context, kind Kind, storeID StoreID) ([]Request, error)
	ExpireOverdueForResource(ctx context.Context, kind Kind, resourceID ResourceID, nowUnixUTC int64) (int64, error)
	ExpireOverdueRequests(ctx context.Context, nowUnixUTC int64) (int64, error)
	GetAggregate(ctx context.Context, walletID WalletID, resourceID ResourceID) (Aggregate, bool, error)
	GetOrCreateAggregateForUpdate(ctx context.Context, walletID WalletID, resourceID ResourceID) (Aggregate, error)
	AddToAggregate(ctx context.Context, walletID WalletID, resourceID ResourceID, delta int64, atUnixUTC int64) (int64, error)
	AppendEvent(ctx context.Context, event Event) error
	ListEvents(ctx context.Context, resourceID ResourceID, beforeUnixUTC int64, limit int) ([]Event, error)
}

// Directory is the read-only collaborator resolving existence and ownership
// of stores, wallets, and resources. It never mutates anything.
type Directory interface {
	StoreOwner(ctx context.Context, storeID StoreID) (OperatorID, error)
	ResolveResource(ctx context.Context, kind Kind, resourceID ResourceID) (ResourceInfo, error)
	WalletName(ctx context.Context, walletID WalletID) (string, error)
}

// NewWalletID validates and normalizes a wallet id.
func NewWalletID(raw string) (WalletID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return WalletID{}, fmt.Errorf("%w: empty value", ErrInvalidWalletID)
	}
	return WalletID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id WalletID) String() string {
	return id.value
}

// NewResourceID validates and normalizes a resource id.
func NewResourceID(raw string) (ResourceID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ResourceID{}, fmt.Errorf("%w: empty value", ErrInvalidResourceID)
	}
	return ResourceID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ResourceID) String() string {
	return id.value
}

// NewStoreID validates and normalizes a store id.
func NewStoreID(raw string) (StoreID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return StoreID{}, fmt.Errorf("%w: empty value", ErrInvalidStoreID)
	}
	return StoreID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id StoreID) String() string {
	return id.value
}

// NewOperatorID validates and normalizes an operator account id.
func NewOperatorID(raw string) (OperatorID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OperatorID{}, fmt.Errorf("%w: empty value", ErrInvalidOperatorID)
	}
	return OperatorID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OperatorID) String() string {
	return id.value
}

// NewRequestID validates and normalizes a request id.
func NewRequestID(raw string) (RequestID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RequestID{}, fmt.Errorf("%w: empty value", ErrInvalidRequestID)
	}
	return RequestID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RequestID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	if len(trimmed) > maxIdempotencyKeyLength {
		return IdempotencyKey{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidIdempotencyKey, maxIdempotencyKeyLength)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// ParseRequestStatus validates a stored status string.
func ParseRequestStatus(raw string) (RequestStatus, error) {
	switch RequestStatus(raw) {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return RequestStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRequestStatus, raw)
}

// String returns the stored representation.
func (status RequestStatus) String() string {
	return string(status)
}

// ParseKind validates a call-site kind string.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindIssuance, KindRedemption, KindMigration:
		return Kind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
}

// String returns the stored representation.
func (kind Kind) String() string {
	return string(kind)
}

// ParseEventType validates a ledger event type string.
func ParseEventType(raw string) (EventType, error) {
	switch EventType(raw) {
	case EventIssued, EventRedeemed, EventMigrated:
		return EventType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEventType, raw)
}

// String returns the stored representation.
func (eventType EventType) String() string {
	return string(eventType)
}
