package handlers

import (
	"context"
	"strconv"

	"github.com/bidpool/bidpool-api/internal/events"
	"github.com/bidpool/bidpool-api/internal/middleware"
	"github.com/bidpool/bidpool-api/internal/projects"
	"github.com/bidpool/bidpool-api/pkg/dto"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
)

type MemberHandler struct {
	membershipService MembershipServiceInterface
	recommender       projects.Recommender
	idempotency       IdempotencyStoreInterface
	hub               HubInterface
}

func NewMemberHandler(
	membershipService MembershipServiceInterface,
	recommender projects.Recommender,
	idempotency IdempotencyStoreInterface,
	hub HubInterface,
) *MemberHandler {
	return &MemberHandler{
		membershipService: membershipService,
		recommender:       recommender,
		idempotency:       idempotency,
		hub:               hub,
	}
}

// Evaluate is the read-only dry run of Join: same criteria, no side effects.
func (h *MemberHandler) Evaluate(c *drift.Context) {
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

	var req dto.EvaluateJoinRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}
	if req.ProjectID == uuid.Nil {
		c.BadRequest("project_id is required")
		return
	}

	ctx := context.Background()

	eval, err := h.membershipService.EvaluateJoin(ctx, groupID, req.ProjectID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	_ = c.JSON(200, dto.EvaluationResponse{
		Admit:            eval.Admit,
		FailingCriterion: eval.FailingCriterion,
		Warnings:         eval.Warnings,
	})
}

func (h *MemberHandler) Join(c *drift.Context) {
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

	var req dto.JoinGroupRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}
	if req.ProjectID == uuid.Nil {
		c.BadRequest("project_id is required")
		return
	}

	withIdempotency(c, h.idempotency, func(ctx context.Context) (int, any) {
		member, created, err := h.membershipService.Join(ctx, groupID, req.ProjectID, userID)
		if err != nil {
			return serviceErrorResponse(err)
		}

		if created {
			h.hub.Broadcast(groupID, events.TypeMemberJoined, toMemberResponse(member))
			return 201, toMemberResponse(member)
		}
		return 200, toMemberResponse(member)
	})
}

func (h *MemberHandler) Leave(c *drift.Context) {
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
		if err := h.membershipService.Leave(ctx, groupID, userID); err != nil {
			return serviceErrorResponse(err)
		}

		h.hub.Broadcast(groupID, events.TypeMemberLeft, map[string]any{
			"group_id": groupID,
			"user_id":  userID,
		})

		return 200, map[string]string{"message": "left group"}
	})
}

func (h *MemberHandler) List(c *drift.Context) {
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

	ctx := context.Background()

	members, err := h.membershipService.GetMembers(ctx, groupID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response := make([]dto.MemberResponse, 0, len(members))
	for i := range members {
		if !members[i].Visible {
			continue
		}
		response = append(response, toMemberResponse(&members[i]))
	}

	_ = c.JSON(200, response)
}

// Candidates surfaces the recommender's ranked projects for a forming
// group, each annotated with this engine's own admit decision.
func (h *MemberHandler) Candidates(c *drift.Context) {
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

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			c.BadRequest("limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	ctx := context.Background()

	candidates, err := h.membershipService.Candidates(ctx, h.recommender, groupID, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	response := make([]dto.CandidateResponse, len(candidates))
	for i, candidate := range candidates {
		response[i] = dto.CandidateResponse{
			ProjectID: candidate.ProjectID,
			Evaluation: dto.EvaluationResponse{
				Admit:            candidate.Evaluation.Admit,
				FailingCriterion: candidate.Evaluation.FailingCriterion,
				Warnings:         candidate.Evaluation.Warnings,
			},
		}
	}

	_ = c.JSON(200, response)
}
