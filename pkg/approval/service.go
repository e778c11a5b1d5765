package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Engine contains the approval-request protocol shared by the issuance,
// redemption, and migration call sites. All state transitions flow through
// it; nothing else writes requests, aggregates, or ledger events.
type Engine struct {
	store     Store
	directory Directory
	nowFn     func() int64
	newID     func() string
	logger    OperationLogger
}

// NewEngine wires an Engine.
func NewEngine(store Store, directory Directory, now func() int64, options ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidEngineConfig)
	}
	if directory == nil {
		return nil, fmt.Errorf("%w: directory dependency is nil", ErrInvalidEngineConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidEngineConfig)
	}
	engine := &Engine{store: store, directory: directory, nowFn: now, newID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine, nil
}

// Ticket is the customer-facing view of a request.
type Ticket struct {
	Request          Request
	StampCount       int64
	RemainingSeconds int64
}

// Outcome is the operator-facing result of a terminal transition.
type Outcome struct {
	RequestID          RequestID
	Status             RequestStatus
	ProcessedAtUnixUTC int64
	AppliedDelta       int64
	StampCount         int64
}

// Create parks a customer action in a pending request. Replays on the same
// (wallet, idempotency key) return the original request with created=false;
// a second in-flight request for the same resource fails with
// ErrAlreadyPending. When concurrent creators race, the (wallet, idempotency
// key) unique constraint arbitrates same-key duplicates and the pending
// per-resource constraint arbitrates same-resource ones.
func (engine *Engine) Create(ctx context.Context, kind Kind, walletID WalletID, resourceID ResourceID, idempotencyKey IdempotencyKey, imageURL string) (Ticket, bool, error) {
	var (
		ticket  Ticket
		created bool
	)
	operationError := func() error {
		policy, err := PolicyFor(kind)
		if err != nil {
			return err
		}
		normalizedImageURL, err := normalizeImageURL(policy, imageURL)
		if err != nil {
			return err
		}
		info, err := engine.directory.ResolveResource(ctx, kind, resourceID)
		if err != nil {
			return err
		}
		if _, err := engine.directory.StoreOwner(ctx, info.StoreID); err != nil {
			return err
		}
		if info.WalletID != walletID {
			return ErrAccessDenied
		}
		return engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			existing, found, err := txStore.FindRequestByIdempotencyKey(ctx, walletID, idempotencyKey)
			if err != nil {
				return err
			}
			if found && existing.Status != StatusExpired {
				ticket, err = engine.ticketFor(ctx, txStore, existing)
				return err
			}
			nowUnixUTC := engine.nowFn()
			// A silently stale pending row still holds the unique pending
			// slot for the resource; flip it before inserting.
			if _, err := txStore.ExpireOverdueForResource(ctx, kind, resourceID, nowUnixUTC); err != nil {
				return err
			}
			pending, err := txStore.HasPendingRequest(ctx, kind, resourceID, nowUnixUTC)
			if err != nil {
				return err
			}
			if pending {
				return ErrAlreadyPending
			}
			requestID, err := NewRequestID(engine.newID())
			if err != nil {
				return err
			}
			request := Request{
				ID:               requestID,
				Kind:             kind,
				StoreID:          info.StoreID,
				WalletID:         walletID,
				ResourceID:       resourceID,
				Status:           StatusPending,
				IdempotencyKey:   idempotencyKey,
				ImageURL:         normalizedImageURL,
				ExpiresAtUnixUTC: policy.ExpiresAt(nowUnixUTC),
				CreatedAtUnixUTC: nowUnixUTC,
			}
			if err := txStore.CreateRequest(ctx, request); err != nil {
				if errors.Is(err, ErrDuplicateRequest) {
					return ErrAlreadyPending
				}
				return err
			}
			created = true
			ticket, err = engine.ticketFor(ctx, txStore, request)
			return err
		})
	}()
	engine.logOperation(ctx, OperationLog{
		Operation:      operationCreate,
		Kind:           kind,
		RequestID:      ticket.Request.ID,
		WalletID:       walletID,
		IdempotencyKey: idempotencyKey,
		Error:          operationError,
	})
	return ticket, created, operationError
}

// Get polls a request on behalf of its owner. A pending request past its
// expiry is flipped to expired as part of this read and the write is
// committed; re-observing an already expired request is a no-op.
func (engine *Engine) Get(ctx context.Context, kind Kind, requestID RequestID, walletID WalletID) (Ticket, error) {
	var ticket Ticket
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		request, err := txStore.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if request.Kind != kind {
			return ErrUnknownRequest
		}
		if request.WalletID != walletID {
			return ErrAccessDenied
		}
		nowUnixUTC := engine.nowFn()
		if request.IsPending() && request.IsExpiredAt(nowUnixUTC) {
			err := txStore.UpdateRequestStatus(ctx, request.ID, StatusPending, StatusExpired, StatusUpdate{ProcessedAtUnixUTC: nowUnixUTC})
			switch {
			case err == nil:
				request.Status = StatusExpired
				request.ProcessedAtUnixUTC = nowUnixUTC
			case errors.Is(err, ErrRequestClosed):
				// Lost the race against another transition; trust the row.
				if request, err = txStore.GetRequest(ctx, request.ID); err != nil {
					return err
				}
			default:
				return err
			}
		}
		ticket, err = engine.ticketFor(ctx, txStore, request)
		return err
	})
	engine.logOperation(ctx, OperationLog{
		Operation: operationGet,
		Kind:      kind,
		RequestID: requestID,
		WalletID:  walletID,
		Error:     operationError,
	})
	return ticket, operationError
}

// Approve finalizes a pending request under the row lock: status guard,
// expiry guard, aggregate mutation, exactly one ledger event, then the
// terminal transition. The steps commit or roll back as one unit; the
// expiry flip alone commits when the guard trips.
func (engine *Engine) Approve(ctx context.Context, kind Kind, storeID StoreID, requestID RequestID, operatorID OperatorID, operatorDelta int64) (Outcome, error) {
	var outcome Outcome
	operationError := func() error {
		policy, err := PolicyFor(kind)
		if err != nil {
			return err
		}
		appliedDelta, err := policy.ResolveDelta(operatorDelta)
		if err != nil {
			return err
		}
		if err := engine.authorizeOperator(ctx, storeID, operatorID); err != nil {
			return err
		}
		expired := false
		txErr := engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			request, err := engine.lockProcessableRequest(ctx, txStore, kind, storeID, requestID)
			if err != nil {
				return err
			}
			nowUnixUTC := engine.nowFn()
			if request.IsExpiredAt(nowUnixUTC) {
				expired = true
				return engine.flipExpired(ctx, txStore, request.ID, nowUnixUTC)
			}
			newCount := int64(0)
			if appliedDelta > 0 {
				if _, err := txStore.GetOrCreateAggregateForUpdate(ctx, request.WalletID, request.ResourceID); err != nil {
					return err
				}
				newCount, err = txStore.AddToAggregate(ctx, request.WalletID, request.ResourceID, appliedDelta, nowUnixUTC)
				if err != nil {
					return err
				}
			} else {
				aggregate, _, err := txStore.GetAggregate(ctx, request.WalletID, request.ResourceID)
				if err != nil {
					return err
				}
				newCount = aggregate.StampCount
			}
			event := Event{
				EventID:         engine.newID(),
				Type:            policy.EventType(),
				StoreID:         request.StoreID,
				WalletID:        request.WalletID,
				ResourceID:      request.ResourceID,
				Delta:           appliedDelta,
				Reason:          policy.EventReason(),
				RequestID:       request.ID,
				MetadataJSON:    operatorMetadata(operatorID),
				OccurredUnixUTC: nowUnixUTC,
			}
			if err := txStore.AppendEvent(ctx, event); err != nil {
				if errors.Is(err, ErrDuplicateEvent) {
					return ErrAlreadyProcessed
				}
				return err
			}
			update := StatusUpdate{ProcessedAtUnixUTC: nowUnixUTC, ApprovedDelta: appliedDelta}
			if err := txStore.UpdateRequestStatus(ctx, request.ID, StatusPending, StatusApproved, update); err != nil {
				if errors.Is(err, ErrRequestClosed) {
					return ErrAlreadyProcessed
				}
				return err
			}
			outcome = Outcome{
				RequestID:          request.ID,
				Status:             StatusApproved,
				ProcessedAtUnixUTC: nowUnixUTC,
				AppliedDelta:       appliedDelta,
				StampCount:         newCount,
			}
			return nil
		})
		if txErr != nil {
			return txErr
		}
		if expired {
			return ErrRequestExpired
		}
		return nil
	}()
	engine.logOperation(ctx, OperationLog{
		Operation: operationApprove,
		Kind:      kind,
		RequestID: requestID,
		StoreID:   storeID,
		Delta:     outcome.AppliedDelta,
		Error:     operationError,
	})
	return outcome, operationError
}

// Reject moves a pending request to rejected with an optional reason. Same
// locking and staleness guards as Approve; no aggregate or ledger mutation.
func (engine *Engine) Reject(ctx context.Context, kind Kind, storeID StoreID, requestID RequestID, operatorID OperatorID, reason string) (Outcome, error) {
	var outcome Outcome
	operationError := func() error {
		if _, err := PolicyFor(kind); err != nil {
			return err
		}
		normalizedReason, err := normalizeRejectReason(reason)
		if err != nil {
			return err
		}
		if err := engine.authorizeOperator(ctx, storeID, operatorID); err != nil {
			return err
		}
		expired := false
		txErr := engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			request, err := engine.lockProcessableRequest(ctx, txStore, kind, storeID, requestID)
			if err != nil {
				return err
			}
			nowUnixUTC := engine.nowFn()
			if request.IsExpiredAt(nowUnixUTC) {
				expired = true
				return engine.flipExpired(ctx, txStore, request.ID, nowUnixUTC)
			}
			update := StatusUpdate{ProcessedAtUnixUTC: nowUnixUTC, RejectReason: normalizedReason}
			if err := txStore.UpdateRequestStatus(ctx, request.ID, StatusPending, StatusRejected, update); err != nil {
				if errors.Is(err, ErrRequestClosed) {
					return ErrAlreadyProcessed
				}
				return err
			}
			outcome = Outcome{
				RequestID:          request.ID,
				Status:             StatusRejected,
				ProcessedAtUnixUTC: nowUnixUTC,
			}
			return nil
		})
		if txErr != nil {
			return txErr
		}
		if expired {
			return ErrRequestExpired
		}
		return nil
	}()
	engine.logOperation(ctx, OperationLog{
		Operation: operationReject,
		Kind:      kind,
		RequestID: requestID,
		StoreID:   storeID,
		Error:     operationError,
	})
	return outcome, operationError
}

func (engine *Engine) authorizeOperator(ctx context.Context, storeID StoreID, operatorID OperatorID) error {
	owner, err := engine.directory.StoreOwner(ctx, storeID)
	if err != nil {
		return err
	}
	if owner != operatorID {
		return ErrAccessDenied
	}
	return nil
}

func (engine *Engine) lockProcessableRequest(ctx context.Context, txStore Store, kind Kind, storeID StoreID, requestID RequestID) (Request, error) {
	request, err := txStore.GetRequestForUpdate(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if request.Kind != kind {
		return Request{}, ErrUnknownRequest
	}
	if request.StoreID != storeID {
		return Request{}, ErrAccessDenied
	}
	if request.Status == StatusExpired {
		return Request{}, ErrRequestExpired
	}
	if !request.IsPending() {
		return Request{}, ErrAlreadyProcessed
	}
	return request, nil
}

func (engine *Engine) flipExpired(ctx context.Context, txStore Store, requestID RequestID, nowUnixUTC int64) error {
	err := txStore.UpdateRequestStatus(ctx, requestID, StatusPending, StatusExpired, StatusUpdate{ProcessedAtUnixUTC: nowUnixUTC})
	if err != nil && !errors.Is(err, ErrRequestClosed) {
		return err
	}
	return nil
}

func (engine *Engine) ticketFor(ctx context.Context, txStore Store, request Request) (Ticket, error) {
	aggregate, _, err := txStore.GetAggregate(ctx, request.WalletID, request.ResourceID)
	if err != nil {
		return Ticket{}, err
	}
	return Ticket{
		Request:          request,
		StampCount:       aggregate.StampCount,
		RemainingSeconds: request.RemainingSeconds(engine.nowFn()),
	}, nil
}

func (engine *Engine) logOperation(ctx context.Context, entry OperationLog) {
	if engine.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	engine.logger.LogOperation(ctx, entry)
}

func normalizeImageURL(policy Policy, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if policy.RequiresImage() {
		if trimmed == "" {
			return "", fmt.Errorf("%w: empty value", ErrInvalidImageURL)
		}
		if len(trimmed) > maxImageURLLength {
			return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidImageURL, maxImageURLLength)
		}
		return trimmed, nil
	}
	if trimmed != "" {
		return "", fmt.Errorf("%w: %s requests carry no image", ErrInvalidImageURL, policy.Kind())
	}
	return "", nil
}

func normalizeRejectReason(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) > maxRejectReasonLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidRejectReason, maxRejectReasonLength)
	}
	return trimmed, nil
}

func operatorMetadata(operatorID OperatorID) MetadataJSON {
	raw, err := json.Marshal(map[string]string{"operator_id": operatorID.String()})
	if err != nil {
		raw = []byte("{}")
	}
	metadata, err := NewMetadataJSON(string(raw))
	if err != nil {
		metadata, _ = NewMetadataJSON("")
	}
	return metadata
}
