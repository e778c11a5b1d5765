package httpserver

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stamp-kkookk/digital-stamp-service-sub000/pkg/approval"
)

type approvePayload struct {
	ApprovedStampCount int64 `json:"approvedStampCount"`
}

type rejectPayload struct {
	Reason string `json:"reason"`
}

func (handler *httpHandler) handleListPending(kind approval.Kind) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		storeID, operatorID, ok := handler.operatorScope(ctx)
		if !ok {
			return
		}
		items, err := handler.engine.ListPending(ctx.Request.Context(), kind, storeID, operatorID)
		if err != nil {
			handler.respondEngineError(ctx, err)
			return
		}
		payloads := make([]pendingItemPayload, 0, len(items))
		for _, item := range items {
			payloads = append(payloads, pendingItemPayload{
				ID:               item.RequestID.String(),
				CustomerName:     item.CustomerName,
				ImageURL:         item.ImageURL,
				CreatedAtUnixUTC: item.CreatedAtUnixUTC,
				ElapsedSeconds:   item.ElapsedSeconds,
				RemainingSeconds: item.RemainingSeconds,
			})
		}
		ctx.JSON(http.StatusOK, gin.H{"requests": payloads, "count": len(payloads)})
	}
}

func (handler *httpHandler) handleApprove(kind approval.Kind) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		storeID, operatorID, ok := handler.operatorScope(ctx)
		if !ok {
			return
		}
		requestID, err := approval.NewRequestID(ctx.Param("id"))
		if err != nil {
			handler.respondEngineError(ctx, err)
			return
		}
		var payload approvePayload
		if err := ctx.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
			return
		}
		outcome, err := handler.engine.Approve(ctx.Request.Context(), kind, storeID, requestID, operatorID, payload.ApprovedStampCount)
		if err != nil {
			handler.respondEngineError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, outcomeResponse(outcome))
	}
}

func (handler *httpHandler) handleReject(kind approval.Kind) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		storeID, operatorID, ok := handler.operatorScope(ctx)
		if !ok {
			return
		}
		requestID, err := approval.NewRequestID(ctx.Param("id"))
		if err != nil {
			handler.respondEngineError(ctx, err)
			return
		}
		var payload rejectPayload
		if err := ctx.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
			return
		}
		outcome, err := handler.engine.Reject(ctx.Request.Context(), kind, storeID, requestID, operatorID, payload.Reason)
		if err != nil {
			handler.respondEngineError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, outcomeResponse(outcome))
	}
}

func (handler *httpHandler) operatorScope(ctx *gin.Context) (approval.StoreID, approval.OperatorID, bool) {
	operator, ok := contextOperatorID(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing terminal identity"))
		return approval.StoreID{}, approval.OperatorID{}, false
	}
	storeID, err := approval.NewStoreID(ctx.Param("storeId"))
	if err != nil {
		handler.respondEngineError(ctx, err)
		return approval.StoreID{}, approval.OperatorID{}, false
	}
	operatorID, err := approval.NewOperatorID(operator)
	if err != nil {
		handler.respondEngineError(ctx, err)
		return approval.StoreID{}, approval.OperatorID{}, false
	}
	return storeID, operatorID, true
}
