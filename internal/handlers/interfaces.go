package handlers

import (
	"context"
	"time"

	"github.com/bidpool/bidpool-api/internal/cache"
	"github.com/bidpool/bidpool-api/internal/events"
	"github.com/bidpool/bidpool-api/internal/models"
	"github.com/bidpool/bidpool-api/internal/projects"
	"github.com/bidpool/bidpool-api/internal/services"
	"github.com/google/uuid"
)

// GroupServiceInterface defines the methods used by handlers from GroupService
type GroupServiceInterface interface {
	Create(ctx context.Context, spec services.CreateGroupSpec) (*models.Group, error)
	GetByID(ctx context.Context, groupID uuid.UUID) (*models.Group, error)
	GetCriteria(ctx context.Context, groupID uuid.UUID) ([]models.JoiningCriterion, error)
	CloseFormation(ctx context.Context, groupID, actorID uuid.UUID) (*models.Group, error)
	Dissolve(ctx context.Context, groupID, actorID uuid.UUID, reason string) (*services.DissolveResult, error)
}

// MembershipServiceInterface defines the methods used by handlers from MembershipService
type MembershipServiceInterface interface {
	EvaluateJoin(ctx context.Context, groupID, projectID uuid.UUID) (*services.JoinEvaluation, error)
	Join(ctx context.Context, groupID, projectID, userID uuid.UUID) (*models.Member, bool, error)
	Leave(ctx context.Context, groupID, userID uuid.UUID) error
	GetMembers(ctx context.Context, groupID uuid.UUID) ([]models.Member, error)
	GetActiveMember(ctx context.Context, groupID, userID uuid.UUID) (*models.Member, error)
	Candidates(ctx context.Context, recommender projects.Recommender, groupID uuid.UUID, limit int) ([]services.Candidate, error)
}

// BidServiceInterface defines the methods used by handlers from BidService
type BidServiceInterface interface {
	Submit(ctx context.Context, groupID, contractorID uuid.UUID, spec services.SubmitBidSpec) (*services.SubmitResult, error)
	Invalidate(ctx context.Context, bidID, actorID uuid.UUID) (*services.InvalidateResult, error)
	ExtendDeadline(ctx context.Context, bidID, actorID uuid.UUID, newDeadline time.Time, reason string) (*models.Extension, error)
	GetByID(ctx context.Context, bidID uuid.UUID) (*models.GroupBid, error)
	ListForGroup(ctx context.Context, groupID uuid.UUID) ([]models.GroupBid, error)
	GetQuorum(ctx context.Context, bidID uuid.UUID) (*services.QuorumStatus, error)
	GetSpecifics(ctx context.Context, bidID uuid.UUID) ([]models.ProjectSpecific, error)
	GetItems(ctx context.Context, bidID uuid.UUID) ([]models.BidItem, error)
	GetExtensions(ctx context.Context, bidID uuid.UUID) ([]models.Extension, error)
}

// AcceptanceServiceInterface defines the methods used by handlers from AcceptanceService
type AcceptanceServiceInterface interface {
	Accept(ctx context.Context, bidID, userID uuid.UUID) (*models.Acceptance, error)
	ConfirmPayment(ctx context.Context, pendingRef string) (*services.ConfirmResult, error)
	FailPayment(ctx context.Context, pendingRef, reason string) (*models.Acceptance, error)
	Revoke(ctx context.Context, bidID, userID uuid.UUID) (*services.RevokeResult, error)
	GetForBid(ctx context.Context, bidID uuid.UUID) ([]models.Acceptance, error)
}

// SettlementServiceInterface defines the methods used by handlers from SettlementService
type SettlementServiceInterface interface {
	Compensate(ctx context.Context, refs []string)
}

// HubInterface defines the methods used by handlers from the Hub
type HubInterface interface {
	Register(client *events.Client)
	Unregister(client *events.Client)
	Broadcast(groupID uuid.UUID, eventType string, data any)
}

// IdempotencyStoreInterface defines the methods used by handlers from the
// idempotency store
type IdempotencyStoreInterface interface {
	Reserve(ctx context.Context, token string) (bool, error)
	Complete(ctx context.Context, token string, status int, body []byte) error
	Lookup(ctx context.Context, token string) (*cache.StoredResponse, bool, error)
}
