package integration

import (
	"context"
	"testing"
	"time"

	"github.com/bidpool/bidpool-api/internal/models"
	"github.com/bidpool/bidpool-api/internal/projects"
	"github.com/bidpool/bidpool-api/internal/services"
	"github.com/bidpool/bidpool-api/tests/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// engineEnv wires the real services against the test database, with the
// platform clients mocked out.
type engineEnv struct {
	bidCards    *testutil.MockBidCardReader
	gateway     *testutil.MockGateway
	groups      *services.GroupService
	membership  *services.MembershipService
	bids        *services.BidService
	settlement  *services.SettlementService
	acceptances *services.AcceptanceService
}

func newEngineEnv(tdb *testutil.TestDB) *engineEnv {
	bidCards := new(testutil.MockBidCardReader)
	gateway := new(testutil.MockGateway)

	groups := services.NewGroupService(tdb.DB)
	membership := services.NewMembershipService(tdb.DB, groups, bidCards)
	bids := services.NewBidService(tdb.DB)
	settlement := services.NewSettlementService(tdb.DB, gateway, zap.NewNop(), 3)
	acceptances := services.NewAcceptanceService(tdb.DB, settlement)

	return &engineEnv{
		bidCards:    bidCards,
		gateway:     gateway,
		groups:      groups,
		membership:  membership,
		bids:        bids,
		settlement:  settlement,
		acceptances: acceptances,
	}
}

func (e *engineEnv) stubBidCard(projectID, ownerID uuid.UUID, category string) {
	e.bidCards.On("GetBidCard", mock.Anything, projectID).Return(&projects.BidCard{
		ID:       projectID,
		OwnerID:  ownerID,
		Category: category,
		ZipCode:  "98101",
	}, nil)
}

func TestEngine_Integration_SettlementHappyPath(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb := setupTest(t)
	env := newEngineEnv(tdb)
	ctx := context.Background()

	adminID := uuid.New()
	group, err := env.groups.Create(ctx, services.CreateGroupSpec{
		Name:              "Maple Street Roofs",
		Category:          "roofing",
		Region:            "pacific-northwest",
		ZipCode:           "98101",
		RadiusKm:          25,
		MinMembers:        2,
		MaxMembers:        5,
		TargetSavingsPct:  15,
		FormationDeadline: time.Now().Add(24 * time.Hour),
		BidDeadline:       time.Now().Add(72 * time.Hour),
		CreatedBy:         adminID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.GroupStatusForming, group.Status)

	// Three homeowners join with matching bid cards.
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	members := make([]*models.Member, 0, len(users))
	for _, userID := range users {
		projectID := uuid.New()
		env.stubBidCard(projectID, userID, "roofing")

		member, created, err := env.membership.Join(ctx, group.ID, projectID, userID)
		require.NoError(t, err)
		assert.True(t, created)
		members = append(members, member)
	}

	// Membership freezes before contractors bid.
	group, err = env.groups.CloseFormation(ctx, group.ID, adminID)
	require.NoError(t, err)
	assert.Equal(t, models.GroupStatusFormed, group.Status)
	assert.Equal(t, 3, group.CurrentMembers)

	specifics := make([]models.ProjectSpecific, len(members))
	for i, member := range members {
		specifics[i] = models.ProjectSpecific{
			MemberID:     member.ID,
			PriceCents:   250_000,
			Scope:        "30yr shingles, full tear-off",
			TimelineDays: 5,
		}
	}

	submitted, err := env.bids.Submit(ctx, group.ID, uuid.New(), services.SubmitBidSpec{
		GroupPriceCents:     750_000,
		PerMemberPriceCents: 250_000,
		SavingsPct:          15,
		RequiredAcceptances: 2,
		AcceptanceDeadline:  time.Now().Add(48 * time.Hour),
		Specifics:           specifics,
	})
	require.NoError(t, err)
	bid := submitted.Bid
	assert.Equal(t, models.BidStatusActive, bid.Status)
	assert.Nil(t, submitted.SupersededBid)

	env.gateway.On("Initiate", mock.Anything, mock.Anything, mock.Anything, int64(250_000)).
		Return("pend_u1", nil).Once()
	env.gateway.On("Initiate", mock.Anything, mock.Anything, mock.Anything, int64(250_000)).
		Return("pend_u2", nil).Once()

	first, err := env.acceptances.Accept(ctx, bid.ID, users[0])
	require.NoError(t, err)
	assert.Equal(t, models.AcceptanceStatusPendingPayment, first.Status)
	require.NotNil(t, first.PaymentRef)

	second, err := env.acceptances.Accept(ctx, bid.ID, users[1])
	require.NoError(t, err)
	require.NotNil(t, second.PaymentRef)

	// First confirmation lands below quorum.
	result, err := env.acceptances.ConfirmPayment(ctx, *first.PaymentRef)
	require.NoError(t, err)
	assert.Equal(t, services.ConfirmApplied, result.Outcome)
	assert.Equal(t, 1, result.ConfirmedCount)
	assert.Equal(t, 2, result.Threshold)
	assert.False(t, result.QuorumReached)

	// Second confirmation crosses the threshold and binds the bid.
	result, err = env.acceptances.ConfirmPayment(ctx, *second.PaymentRef)
	require.NoError(t, err)
	assert.Equal(t, services.ConfirmApplied, result.Outcome)
	assert.True(t, result.QuorumReached)

	bid, err = env.bids.GetByID(ctx, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidStatusAccepted, bid.Status)
	assert.Equal(t, 2, bid.CurrentAcceptances)

	group, err = env.groups.GetByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GroupStatusSettled, group.Status)
	require.NotNil(t, group.AcceptedBidID)
	assert.Equal(t, bid.ID, *group.AcceptedBidID)

	// Committed members carry their realized savings; the holdout does not.
	all, err := env.membership.GetMembers(ctx, group.ID)
	require.NoError(t, err)
	savingsByID := make(map[uuid.UUID]*int64, len(all))
	for i := range all {
		savingsByID[all[i].ID] = all[i].SavingsCents
	}
	require.NotNil(t, savingsByID[members[0].ID])
	assert.Equal(t, int64(37_500), *savingsByID[members[0].ID])
	require.NotNil(t, savingsByID[members[1].ID])
	assert.Nil(t, savingsByID[members[2].ID])

	env.gateway.AssertExpectations(t)
}

func TestMembership_Integration_CategoryMismatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb := setupTest(t)
	env := newEngineEnv(tdb)
	fixtures := testutil.NewFixtures(tdb.DB)
	ctx := context.Background()

	group := fixtures.CreateGroup(t, testutil.WithCategory("roofing"))

	projectID := uuid.New()
	userID := uuid.New()
	env.stubBidCard(projectID, userID, "siding")

	_, _, err := env.membership.Join(ctx, group.ID, projectID, userID)

	var criteriaErr *services.CriteriaError
	require.ErrorAs(t, err, &criteriaErr)
	assert.Equal(t, "category", criteriaErr.Criterion)
}

func TestMembership_Integration_JoinIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb := setupTest(t)
	env := newEngineEnv(tdb)
	fixtures := testutil.NewFixtures(tdb.DB)
	ctx := context.Background()

	group := fixtures.CreateGroup(t)
	projectID := uuid.New()
	userID := uuid.New()
	env.stubBidCard(projectID, userID, "roofing")

	first, created, err := env.membership.Join(ctx, group.ID, projectID, userID)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := env.membership.Join(ctx, group.ID, projectID, userID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	refreshed, err := env.groups.GetByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed.CurrentMembers)
}

func TestAcceptance_Integration_DuplicateRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb := setupTest(t)
	env := newEngineEnv(tdb)
	fixtures := testutil.NewFixtures(tdb.DB)
	ctx := context.Background()

	group := fixtures.CreateGroup(t, testutil.WithStatus(models.GroupStatusBidding))
	member := fixtures.CreateMember(t, group.ID)
	bid := fixtures.CreateBid(t, group.ID)

	env.gateway.On("Initiate", mock.Anything, member.ID, bid.ID, mock.Anything).
		Return("pend_dup", nil).Once()

	_, err := env.acceptances.Accept(ctx, bid.ID, member.UserID)
	require.NoError(t, err)

	_, err = env.acceptances.Accept(ctx, bid.ID, member.UserID)
	assert.ErrorIs(t, err, services.ErrDuplicateAcceptance)
}

func TestAcceptance_Integration_ConfirmReplay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb := setupTest(t)
	env := newEngineEnv(tdb)
	fixtures := testutil.NewFixtures(tdb.DB)
	ctx := context.Background()

	group := fixtures.CreateGroup(t, testutil.WithStatus(models.GroupStatusBidding))
	member := fixtures.CreateMember(t, group.ID)
	fixtures.CreateMember(t, group.ID)
	fixtures.CreateMember(t, group.ID)
	bid := fixtures.CreateBid(t, group.ID, testutil.WithQuorum(2, 0))

	ref := "pend_replay"
	fixtures.CreateAcceptance(t, bid.ID, member.ID, models.AcceptanceStatusPendingPayment, &ref)

	result, err := env.acceptances.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, services.ConfirmApplied, result.Outcome)

	// The gateway redelivers; the second delivery must not double count.
	result, err = env.acceptances.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, services.ConfirmReplay, result.Outcome)

	bid, err = env.bids.GetByID(ctx, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, bid.CurrentAcceptances)
}

func TestGroup_Integration_DissolveCancelsLiveCommitments(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb := setupTest(t)
	env := newEngineEnv(tdb)
	fixtures := testutil.NewFixtures(tdb.DB)
	ctx := context.Background()

	adminID := uuid.New()
	group := fixtures.CreateGroup(t,
		testutil.WithStatus(models.GroupStatusBidding),
		testutil.WithAdmin(adminID))
	member := fixtures.CreateMember(t, group.ID)
	bid := fixtures.CreateBid(t, group.ID)

	ref := "pend_dissolve"
	fixtures.CreateAcceptance(t, bid.ID, member.ID, models.AcceptanceStatusConfirmed, &ref)

	result, err := env.groups.Dissolve(ctx, group.ID, adminID, "neighborhood lost interest")
	require.NoError(t, err)

	assert.Equal(t, models.GroupStatusDissolved, result.Group.Status)
	assert.Equal(t, []uuid.UUID{bid.ID}, result.WithdrawnBids)
	assert.Equal(t, []string{ref}, result.CancelledRefs)

	bid, err = env.bids.GetByID(ctx, bid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidStatusWithdrawn, bid.Status)
}

func TestBid_Integration_SupersedeOwnOffer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb := setupTest(t)
	env := newEngineEnv(tdb)
	fixtures := testutil.NewFixtures(tdb.DB)
	ctx := context.Background()

	group := fixtures.CreateGroup(t, testutil.WithStatus(models.GroupStatusFormed))
	memberA := fixtures.CreateMember(t, group.ID)
	memberB := fixtures.CreateMember(t, group.ID)
	contractorID := uuid.New()

	spec := services.SubmitBidSpec{
		GroupPriceCents:     500_000,
		PerMemberPriceCents: 250_000,
		SavingsPct:          10,
		RequiredAcceptances: 2,
		AcceptanceDeadline:  time.Now().Add(48 * time.Hour),
		Specifics: []models.ProjectSpecific{
			{MemberID: memberA.ID, PriceCents: 250_000, Scope: "full scope", TimelineDays: 7},
			{MemberID: memberB.ID, PriceCents: 250_000, Scope: "full scope", TimelineDays: 7},
		},
	}

	first, err := env.bids.Submit(ctx, group.ID, contractorID, spec)
	require.NoError(t, err)

	spec.GroupPriceCents = 460_000
	spec.PerMemberPriceCents = 230_000
	spec.Specifics[0].PriceCents = 230_000
	spec.Specifics[1].PriceCents = 230_000

	second, err := env.bids.Submit(ctx, group.ID, contractorID, spec)
	require.NoError(t, err)

	require.NotNil(t, second.SupersededBid)
	assert.Equal(t, first.Bid.ID, *second.SupersededBid)

	old, err := env.bids.GetByID(ctx, first.Bid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidStatusSuperseded, old.Status)
}
