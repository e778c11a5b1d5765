package approval

import (
	"errors"
	"fmt"
)

// Business-level outcomes surfaced verbatim to callers.
var (
	ErrUnknownStore     = errors.New("unknown store")
	ErrUnknownResource  = errors.New("unknown resource")
	ErrUnknownRequest   = errors.New("unknown request")
	ErrUnknownWallet    = errors.New("unknown wallet")
	ErrAccessDenied     = errors.New("access denied")
	ErrAlreadyPending   = errors.New("request already pending")
	ErrAlreadyProcessed = errors.New("request already processed")
	ErrRequestExpired   = errors.New("request expired")
)

// Store-level error values translated at the engine boundary.
var (
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrRequestClosed    = errors.New("request closed")
	ErrDuplicateEvent   = errors.New("duplicate ledger event")
)

// Validation error values.
var (
	ErrInvalidWalletID       = errors.New("invalid wallet id")
	ErrInvalidResourceID     = errors.New("invalid resource id")
	ErrInvalidStoreID        = errors.New("invalid store id")
	ErrInvalidOperatorID     = errors.New("invalid operator id")
	ErrInvalidRequestID      = errors.New("invalid request id")
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrInvalidMetadataJSON   = errors.New("invalid metadata json")
	ErrInvalidRequestStatus  = errors.New("invalid request status")
	ErrInvalidKind           = errors.New("invalid request kind")
	ErrInvalidEventType      = errors.New("invalid event type")
	ErrInvalidDelta          = errors.New("invalid stamp delta")
	ErrInvalidImageURL       = errors.New("invalid image url")
	ErrInvalidRejectReason   = errors.New("invalid reject reason")
	ErrInvalidEngineConfig   = errors.New("invalid engine config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
