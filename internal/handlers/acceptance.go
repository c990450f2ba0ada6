package handlers

import (
	"context"
	"crypto/subtle"

	"github.com/bidpool/bidpool-api/internal/events"
	"github.com/bidpool/bidpool-api/internal/middleware"
	"github.com/bidpool/bidpool-api/internal/services"
	"github.com/bidpool/bidpool-api/pkg/dto"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
)

type AcceptanceHandler struct {
	acceptanceService AcceptanceServiceInterface
	bidService        BidServiceInterface
	settlementService SettlementServiceInterface
	idempotency       IdempotencyStoreInterface
	hub               HubInterface
	webhookSecret     string
}

func NewAcceptanceHandler(
	acceptanceService AcceptanceServiceInterface,
	bidService BidServiceInterface,
	settlementService SettlementServiceInterface,
	idempotency IdempotencyStoreInterface,
	hub HubInterface,
	webhookSecret string,
) *AcceptanceHandler {
	return &AcceptanceHandler{
		acceptanceService: acceptanceService,
		bidService:        bidService,
		settlementService: settlementService,
		idempotency:       idempotency,
		hub:               hub,
		webhookSecret:     webhookSecret,
	}
}

// Accept commits the caller to the bid. The acceptance comes back
// pending_payment; it counts toward quorum only once the payment confirms.
func (h *AcceptanceHandler) Accept(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	bidID, err := uuid.Parse(c.Param("bidId"))
	if err != nil {
		c.BadRequest("invalid bid id")
		return
	}

	withIdempotency(c, h.idempotency, func(ctx context.Context) (int, any) {
		acceptance, err := h.acceptanceService.Accept(ctx, bidID, userID)
		if err != nil {
			return serviceErrorResponse(err)
		}
		return 201, toAcceptanceResponse(acceptance)
	})
}

func (h *AcceptanceHandler) Revoke(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	bidID, err := uuid.Parse(c.Param("bidId"))
	if err != nil {
		c.BadRequest("invalid bid id")
		return
	}

	withIdempotency(c, h.idempotency, func(ctx context.Context) (int, any) {
		result, err := h.acceptanceService.Revoke(ctx, bidID, userID)
		if err != nil {
			return serviceErrorResponse(err)
		}

		if result.RefundRef != "" {
			h.settlementService.Compensate(ctx, []string{result.RefundRef})
		}
		h.hub.Broadcast(result.GroupID, events.TypeAcceptanceRevoked, map[string]any{
			"acceptance_id": result.AcceptanceID,
			"bid_id":        result.BidID,
		})

		return 200, map[string]any{
			"acceptance_id": result.AcceptanceID,
			"refunded":      result.RefundRef != "",
		}
	})
}

func (h *AcceptanceHandler) List(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	bidID, err := uuid.Parse(c.Param("bidId"))
	if err != nil {
		c.BadRequest("invalid bid id")
		return
	}

	ctx := context.Background()

	acceptances, err := h.acceptanceService.GetForBid(ctx, bidID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response := make([]dto.AcceptanceResponse, len(acceptances))
	for i := range acceptances {
		response[i] = toAcceptanceResponse(&acceptances[i])
	}

	_ = c.JSON(200, response)
}

// Webhook is the gateway's settlement callback. It must be idempotent: the
// gateway redelivers until it sees a 2xx.
func (h *AcceptanceHandler) Webhook(c *drift.Context) {
	secret := c.GetHeader("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.webhookSecret)) != 1 {
		c.Unauthorized("invalid webhook secret")
		return
	}

	var req dto.PaymentWebhookRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}
	if req.PendingRef == "" {
		c.BadRequest("pending_ref is required")
		return
	}

	ctx := context.Background()

	switch req.Status {
	case "confirmed":
		h.handleConfirmed(c, ctx, req.PendingRef)
	case "failed":
		h.handleFailed(c, ctx, req.PendingRef, req.Reason)
	default:
		c.BadRequest("status must be confirmed or failed")
	}
}

func (h *AcceptanceHandler) handleConfirmed(c *drift.Context, ctx context.Context, pendingRef string) {
	result, err := h.acceptanceService.ConfirmPayment(ctx, pendingRef)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	switch result.Outcome {
	case services.ConfirmApplied:
		h.hub.Broadcast(result.GroupID, events.TypeAcceptanceConfirmed, map[string]any{
			"acceptance_id":   result.AcceptanceID,
			"bid_id":          result.BidID,
			"confirmed_count": result.ConfirmedCount,
			"threshold":       result.Threshold,
		})
		if result.QuorumReached {
			h.hub.Broadcast(result.GroupID, events.TypeQuorumReached, map[string]any{
				"bid_id":          result.BidID,
				"confirmed_count": result.ConfirmedCount,
				"threshold":       result.Threshold,
			})
		}
	case services.ConfirmLate:
		// The money arrived after the window closed; send it back.
		h.settlementService.Compensate(ctx, []string{result.RefundRef})
	}

	_ = c.JSON(200, map[string]any{
		"outcome":        result.Outcome,
		"quorum_reached": result.QuorumReached,
	})
}

func (h *AcceptanceHandler) handleFailed(c *drift.Context, ctx context.Context, pendingRef, reason string) {
	acceptance, err := h.acceptanceService.FailPayment(ctx, pendingRef, reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	if acceptance != nil {
		if bid, err := h.bidService.GetByID(ctx, acceptance.BidID); err == nil {
			h.hub.Broadcast(bid.GroupID, events.TypeAcceptanceFailed, map[string]any{
				"acceptance_id": acceptance.ID,
				"bid_id":        acceptance.BidID,
				"reason":        reason,
			})
		}
	}

	_ = c.JSON(200, map[string]string{"outcome": "failed"})
}
