package testutil

import (
	"context"
	"time"

	"github.com/bidpool/bidpool-api/internal/cache"
	"github.com/bidpool/bidpool-api/internal/events"
	"github.com/bidpool/bidpool-api/internal/models"
	"github.com/bidpool/bidpool-api/internal/projects"
	"github.com/bidpool/bidpool-api/internal/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockGroupService mocks the GroupService
type MockGroupService struct {
	mock.Mock
}

func (m *MockGroupService) Create(ctx context.Context, spec services.CreateGroupSpec) (*models.Group, error) {
	args := m.Called(ctx, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Group), args.Error(1)
}

func (m *MockGroupService) GetByID(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Group), args.Error(1)
}

func (m *MockGroupService) GetCriteria(ctx context.Context, groupID uuid.UUID) ([]models.JoiningCriterion, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.JoiningCriterion), args.Error(1)
}

func (m *MockGroupService) CloseFormation(ctx context.Context, groupID, actorID uuid.UUID) (*models.Group, error) {
	args := m.Called(ctx, groupID, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Group), args.Error(1)
}

func (m *MockGroupService) Dissolve(ctx context.Context, groupID, actorID uuid.UUID, reason string) (*services.DissolveResult, error) {
	args := m.Called(ctx, groupID, actorID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.DissolveResult), args.Error(1)
}

// MockMembershipService mocks the MembershipService
type MockMembershipService struct {
	mock.Mock
}

func (m *MockMembershipService) EvaluateJoin(ctx context.Context, groupID, projectID uuid.UUID) (*services.JoinEvaluation, error) {
	args := m.Called(ctx, groupID, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.JoinEvaluation), args.Error(1)
}

func (m *MockMembershipService) Join(ctx context.Context, groupID, projectID, userID uuid.UUID) (*models.Member, bool, error) {
	args := m.Called(ctx, groupID, projectID, userID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Member), args.Bool(1), args.Error(2)
}

func (m *MockMembershipService) Leave(ctx context.Context, groupID, userID uuid.UUID) error {
	args := m.Called(ctx, groupID, userID)
	return args.Error(0)
}

func (m *MockMembershipService) GetMembers(ctx context.Context, groupID uuid.UUID) ([]models.Member, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Member), args.Error(1)
}

func (m *MockMembershipService) GetActiveMember(ctx context.Context, groupID, userID uuid.UUID) (*models.Member, error) {
	args := m.Called(ctx, groupID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Member), args.Error(1)
}

func (m *MockMembershipService) Candidates(ctx context.Context, recommender projects.Recommender, groupID uuid.UUID, limit int) ([]services.Candidate, error) {
	args := m.Called(ctx, recommender, groupID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.Candidate), args.Error(1)
}

// MockBidService mocks the BidService
type MockBidService struct {
	mock.Mock
}

func (m *MockBidService) Submit(ctx context.Context, groupID, contractorID uuid.UUID, spec services.SubmitBidSpec) (*services.SubmitResult, error) {
	args := m.Called(ctx, groupID, contractorID, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SubmitResult), args.Error(1)
}

func (m *MockBidService) Invalidate(ctx context.Context, bidID, actorID uuid.UUID) (*services.InvalidateResult, error) {
	args := m.Called(ctx, bidID, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.InvalidateResult), args.Error(1)
}

func (m *MockBidService) ExtendDeadline(ctx context.Context, bidID, actorID uuid.UUID, newDeadline time.Time, reason string) (*models.Extension, error) {
	args := m.Called(ctx, bidID, actorID, newDeadline, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Extension), args.Error(1)
}

func (m *MockBidService) GetByID(ctx context.Context, bidID uuid.UUID) (*models.GroupBid, error) {
	args := m.Called(ctx, bidID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GroupBid), args.Error(1)
}

func (m *MockBidService) ListForGroup(ctx context.Context, groupID uuid.UUID) ([]models.GroupBid, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.GroupBid), args.Error(1)
}

func (m *MockBidService) GetQuorum(ctx context.Context, bidID uuid.UUID) (*services.QuorumStatus, error) {
	args := m.Called(ctx, bidID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.QuorumStatus), args.Error(1)
}

func (m *MockBidService) GetSpecifics(ctx context.Context, bidID uuid.UUID) ([]models.ProjectSpecific, error) {
	args := m.Called(ctx, bidID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ProjectSpecific), args.Error(1)
}

func (m *MockBidService) GetItems(ctx context.Context, bidID uuid.UUID) ([]models.BidItem, error) {
	args := m.Called(ctx, bidID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BidItem), args.Error(1)
}

func (m *MockBidService) GetExtensions(ctx context.Context, bidID uuid.UUID) ([]models.Extension, error) {
	args := m.Called(ctx, bidID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Extension), args.Error(1)
}

// MockAcceptanceService mocks the AcceptanceService
type MockAcceptanceService struct {
	mock.Mock
}

func (m *MockAcceptanceService) Accept(ctx context.Context, bidID, userID uuid.UUID) (*models.Acceptance, error) {
	args := m.Called(ctx, bidID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Acceptance), args.Error(1)
}

func (m *MockAcceptanceService) ConfirmPayment(ctx context.Context, pendingRef string) (*services.ConfirmResult, error) {
	args := m.Called(ctx, pendingRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ConfirmResult), args.Error(1)
}

func (m *MockAcceptanceService) FailPayment(ctx context.Context, pendingRef, reason string) (*models.Acceptance, error) {
	args := m.Called(ctx, pendingRef, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Acceptance), args.Error(1)
}

func (m *MockAcceptanceService) Revoke(ctx context.Context, bidID, userID uuid.UUID) (*services.RevokeResult, error) {
	args := m.Called(ctx, bidID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RevokeResult), args.Error(1)
}

func (m *MockAcceptanceService) GetForBid(ctx context.Context, bidID uuid.UUID) ([]models.Acceptance, error) {
	args := m.Called(ctx, bidID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Acceptance), args.Error(1)
}

// MockSettlementService mocks the SettlementService
type MockSettlementService struct {
	mock.Mock
}

func (m *MockSettlementService) Compensate(ctx context.Context, refs []string) {
	m.Called(ctx, refs)
}

// MockHub mocks the events hub
type MockHub struct {
	mock.Mock
}

func (m *MockHub) Register(client *events.Client) {
	m.Called(client)
}

func (m *MockHub) Unregister(client *events.Client) {
	m.Called(client)
}

func (m *MockHub) Broadcast(groupID uuid.UUID, eventType string, data any) {
	m.Called(groupID, eventType, data)
}

// MockGateway mocks the payment gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Initiate(ctx context.Context, memberID, bidID uuid.UUID, amountCents int64) (string, error) {
	args := m.Called(ctx, memberID, bidID, amountCents)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) Reverse(ctx context.Context, pendingRef string) error {
	args := m.Called(ctx, pendingRef)
	return args.Error(0)
}

// MockBidCardReader mocks the bid-card service client
type MockBidCardReader struct {
	mock.Mock
}

func (m *MockBidCardReader) GetBidCard(ctx context.Context, projectID uuid.UUID) (*projects.BidCard, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*projects.BidCard), args.Error(1)
}

// MockRecommender mocks the recommender service client
type MockRecommender struct {
	mock.Mock
}

func (m *MockRecommender) CandidatesForGroup(ctx context.Context, groupID uuid.UUID, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, groupID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

// MockIdempotencyStore mocks the idempotency store
type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) Reserve(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) Complete(ctx context.Context, token string, status int, body []byte) error {
	args := m.Called(ctx, token, status, body)
	return args.Error(0)
}

func (m *MockIdempotencyStore) Lookup(ctx context.Context, token string) (*cache.StoredResponse, bool, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*cache.StoredResponse), args.Bool(1), args.Error(2)
}
