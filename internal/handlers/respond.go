package handlers

import (
	"errors"

	"github.com/bidpool/bidpool-api/internal/models"
	"github.com/bidpool/bidpool-api/internal/services"
	"github.com/bidpool/bidpool-api/pkg/dto"
	"github.com/m1z23r/drift/pkg/drift"
)

// serviceErrorResponse maps the services error surface onto a status and
// body. State conflicts carry the fresh aggregate status so clients can
// resynchronize without a second round trip.
func serviceErrorResponse(err error) (int, any) {
	var criteriaErr *services.CriteriaError
	if errors.As(err, &criteriaErr) {
		return 422, map[string]any{
			"code":      "CRITERIA_NOT_MET",
			"message":   criteriaErr.Error(),
			"criterion": criteriaErr.Criterion,
		}
	}

	var stateErr *services.StateError
	if errors.As(err, &stateErr) {
		return 409, map[string]any{
			"code":           "STATE_CONFLICT",
			"message":        stateErr.Error(),
			"current_status": stateErr.CurrentStatus,
		}
	}

	switch {
	case errors.Is(err, services.ErrGroupNotFound):
		return 404, map[string]string{"error": "group not found"}
	case errors.Is(err, services.ErrBidNotFound):
		return 404, map[string]string{"error": "bid not found"}
	case errors.Is(err, services.ErrMemberNotFound):
		return 404, map[string]string{"error": "membership not found"}
	case errors.Is(err, services.ErrAcceptanceNotFound):
		return 404, map[string]string{"error": "acceptance not found"}
	case errors.Is(err, services.ErrNotGroupAdmin):
		return 403, map[string]string{"error": "only the group admin can do this"}
	case errors.Is(err, services.ErrDuplicateAcceptance):
		return 409, map[string]any{
			"code":    "DUPLICATE_ACCEPTANCE",
			"message": "member already has a live acceptance on this bid",
		}
	case errors.Is(err, services.ErrInsufficientMembers),
		errors.Is(err, services.ErrIncompleteCoverage),
		errors.Is(err, services.ErrInvalidExtension):
		return 400, map[string]string{"error": err.Error()}
	default:
		return 500, map[string]string{"error": "internal error"}
	}
}

func respondServiceError(c *drift.Context, err error) {
	status, body := serviceErrorResponse(err)
	_ = c.JSON(status, body)
}

func toGroupResponse(g *models.Group) dto.GroupResponse {
	return dto.GroupResponse{
		ID:                g.ID,
		Name:              g.Name,
		Category:          g.Category,
		Region:            g.Region,
		ZipCode:           g.ZipCode,
		RadiusKm:          g.RadiusKm,
		MinMembers:        g.MinMembers,
		MaxMembers:        g.MaxMembers,
		CurrentMembers:    g.CurrentMembers,
		TargetSavingsPct:  g.TargetSavingsPct,
		Status:            g.Status,
		FormationDeadline: g.FormationDeadline,
		BidDeadline:       g.BidDeadline,
		AutoClose:         g.AutoClose,
		AcceptedBidID:     g.AcceptedBidID,
		AdminID:           g.AdminID,
		CreatedAt:         g.CreatedAt,
	}
}

func toMemberResponse(m *models.Member) dto.MemberResponse {
	return dto.MemberResponse{
		ID:           m.ID,
		GroupID:      m.GroupID,
		ProjectID:    m.ProjectID,
		UserID:       m.UserID,
		Status:       m.Status,
		IsAdmin:      m.IsAdmin,
		IsFounding:   m.IsFounding,
		SavingsCents: m.SavingsCents,
		Visible:      m.Visible,
		CreatedAt:    m.CreatedAt,
	}
}

func toBidResponse(b *models.GroupBid) dto.BidResponse {
	return dto.BidResponse{
		ID:                    b.ID,
		GroupID:               b.GroupID,
		ContractorID:          b.ContractorID,
		Status:                b.Status,
		GroupPriceCents:       b.GroupPriceCents,
		PerMemberPriceCents:   b.PerMemberPriceCents,
		SavingsPct:            b.SavingsPct,
		RequiredAcceptances:   b.RequiredAcceptances,
		RequiredAcceptancePct: b.RequiredAcceptancePct,
		CurrentAcceptances:    b.CurrentAcceptances,
		AcceptanceDeadline:    b.AcceptanceDeadline,
		FinalOffer:            b.FinalOffer,
		CreatedAt:             b.CreatedAt,
	}
}

func toAcceptanceResponse(a *models.Acceptance) dto.AcceptanceResponse {
	return dto.AcceptanceResponse{
		ID:              a.ID,
		BidID:           a.BidID,
		MemberID:        a.MemberID,
		Status:          a.Status,
		AmountCents:     a.AmountCents,
		PaymentRef:      a.PaymentRef,
		PaymentAttempts: a.PaymentAttempts,
		FailureReason:   a.FailureReason,
		ConfirmedAt:     a.ConfirmedAt,
		CreatedAt:       a.CreatedAt,
	}
}
