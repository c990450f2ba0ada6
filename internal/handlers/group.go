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

type GroupHandler struct {
	groupService      GroupServiceInterface
	settlementService SettlementServiceInterface
	idempotency       IdempotencyStoreInterface
	hub               HubInterface
}

func NewGroupHandler(
	groupService GroupServiceInterface,
	settlementService SettlementServiceInterface,
	idempotency IdempotencyStoreInterface,
	hub HubInterface,
) *GroupHandler {
	return &GroupHandler{
		groupService:      groupService,
		settlementService: settlementService,
		idempotency:       idempotency,
		hub:               hub,
	}
}

func (h *GroupHandler) Create(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	var req dto.CreateGroupRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}

	if req.Name == "" {
		c.BadRequest("name is required")
		return
	}
	if req.Category == "" {
		c.BadRequest("category is required")
		return
	}
	if req.MinMembers < 1 || req.MaxMembers < req.MinMembers {
		c.BadRequest("invalid member bounds")
		return
	}
	if !req.BidDeadline.After(req.FormationDeadline) {
		c.BadRequest("bid deadline must fall after the formation deadline")
		return
	}

	criteria := make([]models.JoiningCriterion, len(req.Criteria))
	for i, cr := range req.Criteria {
		criteria[i] = models.JoiningCriterion{
			Name:       cr.Name,
			Kind:       cr.Kind,
			Field:      cr.Field,
			Required:   cr.Required,
			MinValue:   cr.MinValue,
			MaxValue:   cr.MaxValue,
			BoolValue:  cr.BoolValue,
			TextValue:  cr.TextValue,
			DateAfter:  cr.DateAfter,
			DateBefore: cr.DateBefore,
		}
	}

	withIdempotency(c, h.idempotency, func(ctx context.Context) (int, any) {
		group, err := h.groupService.Create(ctx, services.CreateGroupSpec{
			Name:              req.Name,
			Category:          req.Category,
			Region:            req.Region,
			ZipCode:           req.ZipCode,
			RadiusKm:          req.RadiusKm,
			MinMembers:        req.MinMembers,
			MaxMembers:        req.MaxMembers,
			TargetSavingsPct:  req.TargetSavingsPct,
			FormationDeadline: req.FormationDeadline,
			BidDeadline:       req.BidDeadline,
			AutoClose:         req.AutoClose,
			CreatedBy:         userID,
			Criteria:          criteria,
		})
		if err != nil {
			return 400, map[string]string{"error": err.Error()}
		}
		return 201, toGroupResponse(group)
	})
}

func (h *GroupHandler) Get(c *drift.Context) {
	groupID, err := uuid.Parse(c.Param("groupId"))
	if err != nil {
		c.BadRequest("invalid group id")
		return
	}

	ctx := context.Background()

	group, err := h.groupService.GetByID(ctx, groupID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	_ = c.JSON(200, toGroupResponse(group))
}

func (h *GroupHandler) GetCriteria(c *drift.Context) {
	groupID, err := uuid.Parse(c.Param("groupId"))
	if err != nil {
		c.BadRequest("invalid group id")
		return
	}

	ctx := context.Background()

	criteria, err := h.groupService.GetCriteria(ctx, groupID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response := make([]dto.CriterionRequest, len(criteria))
	for i, cr := range criteria {
		response[i] = dto.CriterionRequest{
			Name:       cr.Name,
			Kind:       cr.Kind,
			Field:      cr.Field,
			Required:   cr.Required,
			MinValue:   cr.MinValue,
			MaxValue:   cr.MaxValue,
			BoolValue:  cr.BoolValue,
			TextValue:  cr.TextValue,
			DateAfter:  cr.DateAfter,
			DateBefore: cr.DateBefore,
		}
	}

	_ = c.JSON(200, response)
}

// CloseFormation freezes membership so contractors bid against a fixed
// roster.
func (h *GroupHandler) CloseFormation(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	groupID, err := uuid.Parse(c.Param("groupId"))
	if err != nil {
		c.BadRequest("invalid group id")
		return
	}

	withIdempotency(c, h.idempotency, func(ctx context.Context) (int, any) {
		group, err := h.groupService.CloseFormation(ctx, groupID, userID)
		if err != nil {
			return serviceErrorResponse(err)
		}

		h.hub.Broadcast(group.ID, events.TypeFormationClosed, toGroupResponse(group))
		return 200, toGroupResponse(group)
	})
}

func (h *GroupHandler) Dissolve(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	groupID, err := uuid.Parse(c.Param("groupId"))
	if err != nil {
		c.BadRequest("invalid group id")
		return
	}

	var req dto.DissolveGroupRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}

	withIdempotency(c, h.idempotency, func(ctx context.Context) (int, any) {
		result, err := h.groupService.Dissolve(ctx, groupID, userID, req.Reason)
		if err != nil {
			return serviceErrorResponse(err)
		}

		// Refunds go out after the terminal transition committed.
		h.settlementService.Compensate(ctx, result.CancelledRefs)
		h.hub.Broadcast(result.Group.ID, events.TypeGroupDissolved, toGroupResponse(result.Group))

		return 200, dto.DissolveGroupResponse{
			Group:         toGroupResponse(result.Group),
			WithdrawnBids: result.WithdrawnBids,
			RefundsIssued: len(result.CancelledRefs),
		}
	})
}
