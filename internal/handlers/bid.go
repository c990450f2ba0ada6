package handlers

import (
	"context"

	"github.com/bidpool/bidpool-api/internal/events"
	"github.com/bidpool/bidpool-api/internal/middleware"
	"github.com/bidpool/bidpool-api/internal/models"
	"github.com/bidpool/bidpool-api/internal/services"
	"github.com/bidpool/bidpool-api/pkg/dto"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
)

type BidHandler struct {
	bidService        BidServiceInterface
	settlementService SettlementServiceInterface
	idempotency       IdempotencyStoreInterface
	hub               HubInterface
}

func NewBidHandler(
	bidService BidServiceInterface,
	settlementService SettlementServiceInterface,
	idempotency IdempotencyStoreInterface,
	hub HubInterface,
) *BidHandler {
	return &BidHandler{
		bidService:        bidService,
		settlementService: settlementService,
		idempotency:       idempotency,
		hub:               hub,
	}
}

func (h *BidHandler) Submit(c *drift.Context) {
	contractorID := middleware.GetUserID(c)
	if contractorID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	groupID, err := uuid.Parse(c.Param("groupId"))
	if err != nil {
		c.BadRequest("invalid group id")
		return
	}

	var req dto.SubmitBidRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}

	if req.GroupPriceCents <= 0 || req.PerMemberPriceCents <= 0 {
		c.BadRequest("prices must be positive")
		return
	}
	if req.SavingsPct < 0 || req.SavingsPct > 100 {
		c.BadRequest("savings_pct must be between 0 and 100")
		return
	}
	if req.RequiredAcceptancePct < 0 || req.RequiredAcceptancePct > 100 {
		c.BadRequest("required_acceptance_pct must be between 0 and 100")
		return
	}
	if req.RequiredAcceptances < 1 && req.RequiredAcceptancePct < 1 {
		c.BadRequest("bid must specify an acceptance count or percentage")
		return
	}
	if len(req.Specifics) == 0 {
		c.BadRequest("specifics are required")
		return
	}

	items := make([]models.BidItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = models.BidItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			PriceCents:  item.PriceCents,
		}
	}
	specifics := make([]models.ProjectSpecific, len(req.Specifics))
	for i, specific := range req.Specifics {
		specifics[i] = models.ProjectSpecific{
			MemberID:     specific.MemberID,
			PriceCents:   specific.PriceCents,
			Scope:        specific.Scope,
			TimelineDays: specific.TimelineDays,
		}
	}

	withIdempotency(c, h.idempotency, func(ctx context.Context) (int, any) {
		result, err := h.bidService.Submit(ctx, groupID, contractorID, services.SubmitBidSpec{
			GroupPriceCents:       req.GroupPriceCents,
			PerMemberPriceCents:   req.PerMemberPriceCents,
			SavingsPct:            req.SavingsPct,
			RequiredAcceptances:   req.RequiredAcceptances,
			RequiredAcceptancePct: req.RequiredAcceptancePct,
			AcceptanceDeadline:    req.AcceptanceDeadline,
			FinalOffer:            req.FinalOffer,
			Items:                 items,
			Specifics:             specifics,
		})
		if err != nil {
			return serviceErrorResponse(err)
		}

		// A superseded bid may owe refunds for acceptances it had collected.
		h.settlementService.Compensate(ctx, result.CancelledRefs)
		h.hub.Broadcast(groupID, events.TypeBidSubmitted, toBidResponse(result.Bid))

		return 201, dto.SubmitBidResponse{
			Bid:           toBidResponse(result.Bid),
			SupersededBid: result.SupersededBid,
		}
	})
}

func (h *BidHandler) List(c *drift.Context) {
	groupID, err := uuid.Parse(c.Param("groupId"))
	if err != nil {
		c.BadRequest("invalid group id")
		return
	}

	ctx := context.Background()

	bids, err := h.bidService.ListForGroup(ctx, groupID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response := make([]dto.BidResponse, len(bids))
	for i := range bids {
		response[i] = toBidResponse(&bids[i])
	}

	_ = c.JSON(200, response)
}

func (h *BidHandler) Get(c *drift.Context) {
	bidID, err := uuid.Parse(c.Param("bidId"))
	if err != nil {
		c.BadRequest("invalid bid id")
		return
	}

	ctx := context.Background()

	bid, err := h.bidService.GetByID(ctx, bidID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	items, err := h.bidService.GetItems(ctx, bidID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	specifics, err := h.bidService.GetSpecifics(ctx, bidID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	itemResponses := make([]dto.BidItemResponse, len(items))
	for i, item := range items {
		itemResponses[i] = dto.BidItemResponse{
			Description: item.Description,
			Quantity:    item.Quantity,
			PriceCents:  item.PriceCents,
		}
	}
	specificResponses := make([]dto.ProjectSpecificResponse, len(specifics))
	for i, specific := range specifics {
		specificResponses[i] = dto.ProjectSpecificResponse{
			MemberID:     specific.MemberID,
			PriceCents:   specific.PriceCents,
			Scope:        specific.Scope,
			TimelineDays: specific.TimelineDays,
		}
	}

	_ = c.JSON(200, dto.BidDetailResponse{
		Bid:       toBidResponse(bid),
		Items:     itemResponses,
		Specifics: specificResponses,
	})
}

// Quorum reports live acceptance progress against the threshold.
func (h *BidHandler) Quorum(c *drift.Context) {
	bidID, err := uuid.Parse(c.Param("bidId"))
	if err != nil {
		c.BadRequest("invalid bid id")
		return
	}

	ctx := context.Background()

	quorum, err := h.bidService.GetQuorum(ctx, bidID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	_ = c.JSON(200, dto.QuorumResponse{
		BidID:              quorum.BidID,
		Status:             quorum.Status,
		ConfirmedCount:     quorum.ConfirmedCount,
		Threshold:          quorum.Threshold,
		CurrentMembers:     quorum.CurrentMembers,
		AcceptanceDeadline: quorum.AcceptanceDeadline,
	})
}

func (h *BidHandler) Invalidate(c *drift.Context) {
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
		result, err := h.bidService.Invalidate(ctx, bidID, userID)
		if err != nil {
			return serviceErrorResponse(err)
		}

		h.settlementService.Compensate(ctx, result.CancelledRefs)
		h.hub.Broadcast(result.Bid.GroupID, events.TypeBidInvalidated, toBidResponse(result.Bid))
		if result.PromotedBid != nil {
			h.hub.Broadcast(result.Bid.GroupID, events.TypeBidPromoted, toBidResponse(result.PromotedBid))
		}

		return 200, map[string]any{
			"bid":            toBidResponse(result.Bid),
			"refunds_issued": len(result.CancelledRefs),
		}
	})
}

func (h *BidHandler) Extend(c *drift.Context) {
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

	var req dto.ExtendDeadlineRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}
	if req.NewDeadline.IsZero() {
		c.BadRequest("new_deadline is required")
		return
	}

	withIdempotency(c, h.idempotency, func(ctx context.Context) (int, any) {
		extension, err := h.bidService.ExtendDeadline(ctx, bidID, userID, req.NewDeadline, req.Reason)
		if err != nil {
			return serviceErrorResponse(err)
		}

		response := dto.ExtensionResponse{
			ID:               extension.ID,
			BidID:            extension.BidID,
			PreviousDeadline: extension.PreviousDeadline,
			NewDeadline:      extension.NewDeadline,
			Reason:           extension.Reason,
			ExtendedBy:       extension.ExtendedBy,
			CreatedAt:        extension.CreatedAt,
		}

		if bid, err := h.bidService.GetByID(ctx, bidID); err == nil {
			h.hub.Broadcast(bid.GroupID, events.TypeDeadlineExtended, response)
		}

		return 200, response
	})
}

func (h *BidHandler) Extensions(c *drift.Context) {
	bidID, err := uuid.Parse(c.Param("bidId"))
	if err != nil {
		c.BadRequest("invalid bid id")
		return
	}

	ctx := context.Background()

	extensions, err := h.bidService.GetExtensions(ctx, bidID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response := make([]dto.ExtensionResponse, len(extensions))
	for i, e := range extensions {
		response[i] = dto.ExtensionResponse{
			ID:               e.ID,
			BidID:            e.BidID,
			PreviousDeadline: e.PreviousDeadline,
			NewDeadline:      e.NewDeadline,
			Reason:           e.Reason,
			ExtendedBy:       e.ExtendedBy,
			CreatedAt:        e.CreatedAt,
		}
	}

	_ = c.JSON(200, response)
}
