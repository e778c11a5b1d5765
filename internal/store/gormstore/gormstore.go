package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stamp-kkookk/digital-stamp-service-sub000/pkg/approval"
)

const (
	constraintRequestWalletIdem    = "uniq_request_wallet_idem"
	constraintRequestPendingPerRes = "uniq_request_pending_resource"
	constraintEventRequest         = "uniq_event_request"
	defaultMetadataJSON            = "{}"
	pgUniqueViolationCode          = "23505"
	sqliteConstraintCode           = 19
	errorOperationStore            = "store"
	errorSubjectRequest            = "request"
	errorSubjectEvent              = "event"
	errorSubjectAggregate          = "aggregate"
	errorCodeCreate                = "create"
	errorCodeDuplicate             = "duplicate"
	errorCodeConflict              = "conflict"
	errorCodeGet                   = "get"
	errorCodeFind                  = "find"
	errorCodeInsert                = "insert"
	errorCodeInvalid               = "invalid"
	errorCodeList                  = "list"
	errorCodeCount                 = "count"
	errorCodeUpdateStatus          = "update_status"
	errorCodeExpireSweep           = "expire_sweep"
	errorCodeAdd                   = "add"
)

// Store implements approval.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore approval.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateRequest(ctx context.Context, request approval.Request) error {
	model := ApprovalRequest{
		RequestID:      request.ID.String(),
		Kind:           request.Kind.String(),
		StoreID:        request.StoreID.String(),
		WalletID:       request.WalletID.String(),
		ResourceID:     request.ResourceID.String(),
		Status:         request.Status.String(),
		IdempotencyKey: request.IdempotencyKey.String(),
		ImageURL:       request.ImageURL,
		ApprovedDelta:  request.ApprovedDelta,
		RejectReason:   request.RejectReason,
		ExpiresAt:      timePointer(request.ExpiresAtUnixUTC),
		ProcessedAt:    timePointer(request.ProcessedAtUnixUTC),
		CreatedAt:      time.Unix(request.CreatedAtUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isPendingConflict(err) {
		return wrapStoreError(errorSubjectRequest, errorCodeConflict, approval.ErrAlreadyPending)
	}
	if isRequestConflict(err) {
		return wrapStoreError(errorSubjectRequest, errorCodeDuplicate, approval.ErrDuplicateRequest)
	}
	if err != nil {
		return wrapStoreError(errorSubjectRequest, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetRequest(ctx context.Context, requestID approval.RequestID) (approval.Request, error) {
	return store.getRequest(ctx, requestID, false)
}

func (store *Store) GetRequestForUpdate(ctx context.Context, requestID approval.RequestID) (approval.Request, error) {
	return store.getRequest(ctx, requestID, true)
}

func (store *Store) getRequest(ctx context.Context, requestID approval.RequestID, forUpdate bool) (approval.Request, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model ApprovalRequest
	err := query.Where("request_id = ?", requestID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return approval.Request{}, wrapStoreError(errorSubjectRequest, errorCodeGet, approval.ErrUnknownRequest)
		}
		return approval.Request{}, wrapStoreError(errorSubjectRequest, errorCodeGet, err)
	}
	request, err := mapRequest(model)
	if err != nil {
		return approval.Request{}, wrapStoreError(errorSubjectRequest, errorCodeInvalid, err)
	}
	return request, nil
}

func (store *Store) FindRequestByIdempotencyKey(ctx context.Context, walletID approval.WalletID, key approval.IdempotencyKey) (approval.Request, bool, error) {
	var model ApprovalRequest
	err := store.db.WithContext(ctx).
		Where("wallet_id = ? AND idempotency_key = ?", walletID.String(), key.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return approval.Request{}, false, nil
	}
	if err != nil {
		return approval.Request{}, false, wrapStoreError(errorSubjectRequest, errorCodeFind, err)
	}
	request, err := mapRequest(model)
	if err != nil {
		return approval.Request{}, false, wrapStoreError(errorSubjectRequest, errorCodeInvalid, err)
	}
	return request, true, nil
}

func (store *Store) HasPendingRequest(ctx context.Context, kind approval.Kind, resourceID approval.ResourceID, nowUnixUTC int64) (bool, error) {
	at := time.Unix(nowUnixUTC, 0).UTC()
	var count int64
	err := store.db.WithContext(ctx).
		Model(&ApprovalRequest{}).
		Where("kind = ? AND resource_id = ? AND status = ?", kind.String(), resourceID.String(), approval.StatusPending.String()).
		Where("(expires_at IS NULL OR expires_at >= ?)", at).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectRequest, errorCodeCount, err)
	}
	return count > 0, nil
}

func (store *Store) UpdateRequestStatus(ctx context.Context, requestID approval.RequestID, from, to approval.RequestStatus, update approval.StatusUpdate) error {
	assignments := map[string]interface{}{"status": to.String()}
	if update.ProcessedAtUnixUTC != 0 {
		assignments["processed_at"] = time.Unix(update.ProcessedAtUnixUTC, 0).UTC()
	}
	if update.ApprovedDelta != 0 {
		assignments["approved_delta"] = update.ApprovedDelta
	}
	if update.RejectReason != "" {
		assignments["reject_reason"] = update.RejectReason
	}
	result := store.db.WithContext(ctx).
		Model(&ApprovalRequest{}).
		Where("request_id = ? AND status = ?", requestID.String(), from.String()).
		Updates(assignments)
	if result.Error != nil {
		return wrapStoreError(errorSubjectRequest, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRequest, errorCodeUpdateStatus, approval.ErrRequestClosed)
	}
	return nil
}

func (store *Store) ListPendingRequests(ctx context.Context, kind approval.Kind, storeID approval.StoreID) ([]approval.Request, error) {
	var rows []ApprovalRequest
	err := store.db.WithContext(ctx).
		Where("kind = ? AND store_id = ? AND status = ?", kind.String(), storeID.String(), approval.StatusPending.String()).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRequest, errorCodeList, err)
	}
	requests := make([]approval.Request, 0, len(rows))
	for _, row := range rows {
		request, err := mapRequest(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRequest, errorCodeInvalid, err)
		}
		requests = append(requests, request)
	}
	return requests, nil
}

func (store *Store) ExpireOverdueForResource(ctx context.Context, kind approval.Kind, resourceID approval.ResourceID, nowUnixUTC int64) (int64, error) {
	at := time.Unix(nowUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&ApprovalRequest{}).
		Where("kind = ? AND resource_id = ? AND status = ?", kind.String(), resourceID.String(), approval.StatusPending.String()).
		Where("expires_at IS NOT NULL AND expires_at < ?", at).
		Updates(map[string]interface{}{
			"status":       approval.StatusExpired.String(),
			"processed_at": at,
		})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectRequest, errorCodeExpireSweep, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) ExpireOverdueRequests(ctx context.Context, nowUnixUTC int64) (int64, error) {
	at := time.Unix(nowUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&ApprovalRequest{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", approval.StatusPending.String(), at).
		Updates(map[string]interface{}{
			"status":       approval.StatusExpired.String(),
			"processed_at": at,
		})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectRequest, errorCodeExpireSweep, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) GetAggregate(ctx context.Context, walletID approval.WalletID, resourceID approval.ResourceID) (approval.Aggregate, bool, error) {
	var model StampAggregate
	err := store.db.WithContext(ctx).
		Where("wallet_id = ? AND resource_id = ?", walletID.String(), resourceID.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return approval.Aggregate{}, false, nil
	}
	if err != nil {
		return approval.Aggregate{}, false, wrapStoreError(errorSubjectAggregate, errorCodeGet, err)
	}
	aggregate, err := mapAggregate(model)
	if err != nil {
		return approval.Aggregate{}, false, wrapStoreError(errorSubjectAggregate, errorCodeInvalid, err)
	}
	return aggregate, true, nil
}

func (store *Store) GetOrCreateAggregateForUpdate(ctx context.Context, walletID approval.WalletID, resourceID approval.ResourceID) (approval.Aggregate, error) {
	var model StampAggregate
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("wallet_id = ? AND resource_id = ?", walletID.String(), resourceID.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		model = StampAggregate{
			WalletID:   walletID.String(),
			ResourceID: resourceID.String(),
			StampCount: 0,
			CreatedAt:  time.Now().UTC(),
			UpdatedAt:  time.Now().UTC(),
		}
		createErr := store.db.WithContext(ctx).Create(&model).Error
		if createErr != nil && !isUniqueViolation(createErr) {
			return approval.Aggregate{}, wrapStoreError(errorSubjectAggregate, errorCodeCreate, createErr)
		}
		err = store.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("wallet_id = ? AND resource_id = ?", walletID.String(), resourceID.String()).
			Take(&model).Error
	}
	if err != nil {
		return approval.Aggregate{}, wrapStoreError(errorSubjectAggregate, errorCodeGet, err)
	}
	aggregate, err := mapAggregate(model)
	if err != nil {
		return approval.Aggregate{}, wrapStoreError(errorSubjectAggregate, errorCodeInvalid, err)
	}
	return aggregate, nil
}

func (store *Store) AddToAggregate(ctx context.Context, walletID approval.WalletID, resourceID approval.ResourceID, delta int64, atUnixUTC int64) (int64, error) {
	at := time.Unix(atUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&StampAggregate{}).
		Where("wallet_id = ? AND resource_id = ?", walletID.String(), resourceID.String()).
		Updates(map[string]interface{}{
			"stamp_count":     gorm.Expr("stamp_count + ?", delta),
			"last_stamped_at": at,
		})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectAggregate, errorCodeAdd, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, wrapStoreError(errorSubjectAggregate, errorCodeAdd, gorm.ErrRecordNotFound)
	}
	var model StampAggregate
	err := store.db.WithContext(ctx).
		Where("wallet_id = ? AND resource_id = ?", walletID.String(), resourceID.String()).
		Take(&model).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectAggregate, errorCodeGet, err)
	}
	return model.StampCount, nil
}

func (store *Store) AppendEvent(ctx context.Context, event approval.Event) error {
	model := StampEvent{
		EventID:    event.EventID,
		Type:       event.Type.String(),
		StoreID:    event.StoreID.String(),
		WalletID:   event.WalletID.String(),
		ResourceID: event.ResourceID.String(),
		Delta:      event.Delta,
		Reason:     event.Reason,
		RequestID:  event.RequestID.String(),
		Metadata:   datatypesJSON(event.MetadataJSON.String()),
		OccurredAt: time.Unix(event.OccurredUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isEventConflict(err) {
		return wrapStoreError(errorSubjectEvent, errorCodeDuplicate, approval.ErrDuplicateEvent)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListEvents(ctx context.Context, resourceID approval.ResourceID, beforeUnixUTC int64, limit int) ([]approval.Event, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}
	var rows []StampEvent
	err := store.db.WithContext(ctx).
		Where("resource_id = ? AND occurred_at < ?", resourceID.String(), before).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEvent, errorCodeList, err)
	}
	events := make([]approval.Event, 0, len(rows))
	for _, row := range rows {
		event, err := mapEvent(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEvent, errorCodeInvalid, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return approval.WrapError(errorOperationStore, subject, code, err)
}

func mapRequest(model ApprovalRequest) (approval.Request, error) {
	requestID, err := approval.NewRequestID(model.RequestID)
	if err != nil {
		return approval.Request{}, err
	}
	kind, err := approval.ParseKind(model.Kind)
	if err != nil {
		return approval.Request{}, err
	}
	storeID, err := approval.NewStoreID(model.StoreID)
	if err != nil {
		return approval.Request{}, err
	}
	walletID, err := approval.NewWalletID(model.WalletID)
	if err != nil {
		return approval.Request{}, err
	}
	resourceID, err := approval.NewResourceID(model.ResourceID)
	if err != nil {
		return approval.Request{}, err
	}
	status, err := approval.ParseRequestStatus(model.Status)
	if err != nil {
		return approval.Request{}, err
	}
	idempotencyKey, err := approval.NewIdempotencyKey(model.IdempotencyKey)
	if err != nil {
		return approval.Request{}, err
	}
	return approval.Request{
		ID:                 requestID,
		Kind:               kind,
		StoreID:            storeID,
		WalletID:           walletID,
		ResourceID:         resourceID,
		Status:             status,
		IdempotencyKey:     idempotencyKey,
		ImageURL:           model.ImageURL,
		ApprovedDelta:      model.ApprovedDelta,
		RejectReason:       model.RejectReason,
		ExpiresAtUnixUTC:   timeOrZero(model.ExpiresAt),
		ProcessedAtUnixUTC: timeOrZero(model.ProcessedAt),
		CreatedAtUnixUTC:   model.CreatedAt.Unix(),
	}, nil
}

func mapEvent(model StampEvent) (approval.Event, error) {
	eventType, err := approval.ParseEventType(model.Type)
	if err != nil {
		return approval.Event{}, err
	}
	storeID, err := approval.NewStoreID(model.StoreID)
	if err != nil {
		return approval.Event{}, err
	}
	walletID, err := approval.NewWalletID(model.WalletID)
	if err != nil {
		return approval.Event{}, err
	}
	resourceID, err := approval.NewResourceID(model.ResourceID)
	if err != nil {
		return approval.Event{}, err
	}
	requestID, err := approval.NewRequestID(model.RequestID)
	if err != nil {
		return approval.Event{}, err
	}
	metadata, err := approval.NewMetadataJSON(string(model.Metadata))
	if err != nil {
		return approval.Event{}, err
	}
	return approval.Event{
		EventID:         model.EventID,
		Type:            eventType,
		StoreID:         storeID,
		WalletID:        walletID,
		ResourceID:      resourceID,
		Delta:           model.Delta,
		Reason:          model.Reason,
		RequestID:       requestID,
		MetadataJSON:    metadata,
		OccurredUnixUTC: model.OccurredAt.Unix(),
	}, nil
}

func mapAggregate(model StampAggregate) (approval.Aggregate, error) {
	walletID, err := approval.NewWalletID(model.WalletID)
	if err != nil {
		return approval.Aggregate{}, err
	}
	resourceID, err := approval.NewResourceID(model.ResourceID)
	if err != nil {
		return approval.Aggregate{}, err
	}
	return approval.Aggregate{
		WalletID:             walletID,
		ResourceID:           resourceID,
		StampCount:           model.StampCount,
		LastStampedAtUnixUTC: timeOrZero(model.LastStampedAt),
	}, nil
}

func timePointer(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// isPendingConflict recognizes violations of the partial unique index that
// admits at most one pending row per (kind, resource). Postgres reports the
// constraint by name; sqlite only names the columns in its message. Under
// gorm error translation the distinction is lost and the violation falls
// through to the generic duplicate branch, which callers fold into the same
// conflict.
func isPendingConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintRequestPendingPerRes
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode && strings.Contains(sqliteErr.Error(), "approval_requests.resource_id")
	}
	return false
}

func isRequestConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintRequestWalletIdem
	}
	return isSQLiteConstraint(err)
}

func isEventConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintEventRequest
	}
	return isSQLiteConstraint(err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return isSQLiteConstraint(err)
}

func isSQLiteConstraint(err error) bool {
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
