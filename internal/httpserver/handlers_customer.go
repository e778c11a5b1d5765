package httpserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stamp-kkookk/digital-stamp-service-sub000/pkg/approval"
)

type createRequestPayload struct {
	WalletStampCardID string `json:"walletStampCardId"`
	WalletRewardID    string `json:"walletRewardId"`
	IdempotencyKey    string `json:"idempotencyKey"`
	ImageURL          string `json:"imageUrl"`
}

func (payload createRequestPayload) resourceID(kind approval.Kind) string {
	if kind == approval.KindRedemption {
		return payload.WalletRewardID
	}
	return payload.WalletStampCardID
}

func (handler *httpHandler) handleCreateRequest(kind approval.Kind) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		subject, ok := subjectWalletID(ctx)
		if !ok {
			ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		var payload createRequestPayload
		if err := ctx.ShouldBindJSON(&payload); err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
			return
		}
		walletID, err := approval.NewWalletID(subject)
		if err != nil {
			handler.respondEngineError(ctx, err)
			return
		}
		resourceID, err := approval.NewResourceID(payload.resourceID(kind))
		if err != nil {
			handler.respondEngineError(ctx, err)
			return
		}
		idempotencyKey, err := approval.NewIdempotencyKey(payload.IdempotencyKey)
		if err != nil {
			handler.respondEngineError(ctx, err)
			return
		}
		ticket, created, err := handler.engine.Create(ctx.Request.Context(), kind, walletID, resourceID, idempotencyKey, payload.ImageURL)
		if err != nil {
			handler.respondEngineError(ctx, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		ctx.JSON(status, ticketResponse(ticket))
	}
}

func (handler *httpHandler) handleGetRequest(kind approval.Kind) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		subject, ok := subjectWalletID(ctx)
		if !ok {
			ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		walletID, err := approval.NewWalletID(subject)
		if err != nil {
			handler.respondEngineError(ctx, err)
			return
		}
		requestID, err := approval.NewRequestID(ctx.Param("id"))
		if err != nil {
			handler.respondEngineError(ctx, err)
			return
		}
		ticket, err := handler.engine.Get(ctx.Request.Context(), kind, requestID, walletID)
		if err != nil {
			handler.respondEngineError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, ticketResponse(ticket))
	}
}

func (handler *httpHandler) handleCardEvents(ctx *gin.Context) {
	subject, ok := subjectWalletID(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	walletID, err := approval.NewWalletID(subject)
	if err != nil {
		handler.respondEngineError(ctx, err)
		return
	}
	resourceID, err := approval.NewResourceID(ctx.Param("id"))
	if err != nil {
		handler.respondEngineError(ctx, err)
		return
	}
	beforeUnixUTC, _ := strconv.ParseInt(ctx.Query("before"), 10, 64)
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	events, err := handler.engine.History(ctx.Request.Context(), walletID, resourceID, beforeUnixUTC, limit)
	if err != nil {
		handler.respondEngineError(ctx, err)
		return
	}
	payloads := make([]eventPayload, 0, len(events))
	for _, event := range events {
		payloads = append(payloads, eventPayload{
			EventID:         event.EventID,
			Type:            event.Type.String(),
			Delta:           event.Delta,
			Reason:          event.Reason,
			RequestID:       event.RequestID.String(),
			Metadata:        []byte(event.MetadataJSON.String()),
			OccurredUnixUTC: event.OccurredUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"events": payloads, "count": len(payloads)})
}
