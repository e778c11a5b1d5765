package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stamp-kkookk/digital-stamp-service-sub000/pkg/approval"
)

type ticketPayload struct {
	ID                 string `json:"id"`
	Kind               string `json:"kind"`
	Status             string `json:"status"`
	ResourceID         string `json:"resourceId"`
	StampCount         int64  `json:"stampCount"`
	ImageURL           string `json:"imageUrl,omitempty"`
	ExpiresAtUnixUTC   int64  `json:"expiresAtUnixUtc,omitempty"`
	RemainingSeconds   int64  `json:"remainingSeconds"`
	ProcessedAtUnixUTC int64  `json:"processedAtUnixUtc,omitempty"`
	RejectReason       string `json:"rejectReason,omitempty"`
	ApprovedDelta      int64  `json:"approvedDelta,omitempty"`
	CreatedAtUnixUTC   int64  `json:"createdAtUnixUtc"`
}

type outcomePayload struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	ProcessedAtUnixUTC int64  `json:"processedAtUnixUtc"`
	AppliedDelta       int64  `json:"appliedDelta"`
	StampCount         int64  `json:"stampCount"`
}

type pendingItemPayload struct {
	ID               string `json:"id"`
	CustomerName     string `json:"customerName"`
	ImageURL         string `json:"imageUrl,omitempty"`
	CreatedAtUnixUTC int64  `json:"createdAtUnixUtc"`
	ElapsedSeconds   int64  `json:"elapsedSeconds"`
	RemainingSeconds int64  `json:"remainingSeconds"`
}

type eventPayload struct {
	EventID         string          `json:"eventId"`
	Type            string          `json:"type"`
	Delta           int64           `json:"delta"`
	Reason          string          `json:"reason,omitempty"`
	RequestID       string          `json:"requestId"`
	Metadata        json.RawMessage `json:"metadata"`
	OccurredUnixUTC int64           `json:"occurredUnixUtc"`
}

func ticketResponse(ticket approval.Ticket) ticketPayload {
	request := ticket.Request
	return ticketPayload{
		ID:                 request.ID.String(),
		Kind:               request.Kind.String(),
		Status:             request.Status.String(),
		ResourceID:         request.ResourceID.String(),
		StampCount:         ticket.StampCount,
		ImageURL:           request.ImageURL,
		ExpiresAtUnixUTC:   request.ExpiresAtUnixUTC,
		RemainingSeconds:   ticket.RemainingSeconds,
		ProcessedAtUnixUTC: request.ProcessedAtUnixUTC,
		RejectReason:       request.RejectReason,
		ApprovedDelta:      request.ApprovedDelta,
		CreatedAtUnixUTC:   request.CreatedAtUnixUTC,
	}
}

func outcomeResponse(outcome approval.Outcome) outcomePayload {
	return outcomePayload{
		ID:                 outcome.RequestID.String(),
		Status:             outcome.Status.String(),
		ProcessedAtUnixUTC: outcome.ProcessedAtUnixUTC,
		AppliedDelta:       outcome.AppliedDelta,
		StampCount:         outcome.StampCount,
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// respondEngineError maps business outcomes onto the stable HTTP contract.
// Unexpected failures are logged and surfaced as a generic internal error.
func (handler *httpHandler) respondEngineError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, approval.ErrUnknownStore):
		ctx.JSON(http.StatusNotFound, errorResponse("store_not_found", "store does not exist"))
	case errors.Is(err, approval.ErrUnknownResource):
		ctx.JSON(http.StatusNotFound, errorResponse("resource_not_found", "resource does not exist"))
	case errors.Is(err, approval.ErrUnknownRequest):
		ctx.JSON(http.StatusNotFound, errorResponse("request_not_found", "request does not exist"))
	case errors.Is(err, approval.ErrUnknownWallet):
		ctx.JSON(http.StatusNotFound, errorResponse("wallet_not_found", "wallet does not exist"))
	case errors.Is(err, approval.ErrAccessDenied):
		ctx.JSON(http.StatusForbidden, errorResponse("access_denied", "not allowed for this resource"))
	case errors.Is(err, approval.ErrAlreadyPending):
		ctx.JSON(http.StatusConflict, errorResponse("already_pending", "a request is already in flight for this resource"))
	case errors.Is(err, approval.ErrAlreadyProcessed):
		ctx.JSON(http.StatusConflict, errorResponse("already_processed", "request was already processed"))
	case errors.Is(err, approval.ErrRequestExpired):
		ctx.JSON(http.StatusGone, errorResponse("request_expired", "request expired before processing"))
	case isValidationError(err):
		ctx.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
	default:
		handler.logger.Error("approval engine failure", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "unexpected failure"))
	}
}

func isValidationError(err error) bool {
	validationErrors := []error{
		approval.ErrInvalidWalletID,
		approval.ErrInvalidResourceID,
		approval.ErrInvalidStoreID,
		approval.ErrInvalidOperatorID,
		approval.ErrInvalidRequestID,
		approval.ErrInvalidIdempotencyKey,
		approval.ErrInvalidKind,
		approval.ErrInvalidDelta,
		approval.ErrInvalidImageURL,
		approval.ErrInvalidRejectReason,
	}
	for _, validationError := range validationErrors {
		if errors.Is(err, validationError) {
			return true
		}
	}
	return false
}
