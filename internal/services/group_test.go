package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bidpool/bidpool-api/internal/database"
	"github.com/bidpool/bidpool-api/internal/models"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var groupCols = []string{
	"id", "name", "category", "region", "zip_code", "radius_km",
	"min_members", "max_members", "current_members", "target_savings_pct", "status",
	"formation_deadline", "bid_deadline", "auto_close", "accepted_bid_id",
	"created_by", "admin_id", "created_at", "updated_at",
}

func groupRows(g *models.Group) *pgxmock.Rows {
	return pgxmock.NewRows(groupCols).AddRow(
		g.ID, g.Name, g.Category, g.Region, g.ZipCode, g.RadiusKm,
		g.MinMembers, g.MaxMembers, g.CurrentMembers, g.TargetSavingsPct, g.Status,
		g.FormationDeadline, g.BidDeadline, g.AutoClose, g.AcceptedBidID,
		g.CreatedBy, g.AdminID, g.CreatedAt, g.UpdatedAt,
	)
}

func testGroup(status string) *models.Group {
	now := time.Now()
	adminID := uuid.New()
	return &models.Group{
		ID:                uuid.New(),
		Name:              "Maple Street Roofs",
		Category:          "roofing",
		Region:            "pacific-northwest",
		ZipCode:           "98101",
		RadiusKm:          25,
		MinMembers:        3,
		MaxMembers:        10,
		CurrentMembers:    5,
		TargetSavingsPct:  15,
		Status:            status,
		FormationDeadline: now.Add(24 * time.Hour),
		BidDeadline:       now.Add(72 * time.Hour),
		CreatedBy:         adminID,
		AdminID:           adminID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func setupGroupService(t *testing.T) (*GroupService, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	db := &database.DB{Pool: mock}
	return NewGroupService(db), mock
}

func TestGroupService_Create(t *testing.T) {
	svc, mock := setupGroupService(t)
	ctx := context.Background()
	group := testGroup(models.GroupStatusForming)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO groups`).
		WithArgs(group.Name, group.Category, group.Region, group.ZipCode, group.RadiusKm,
			group.MinMembers, group.MaxMembers, group.TargetSavingsPct,
			group.FormationDeadline, group.BidDeadline, false, group.CreatedBy).
		WillReturnRows(groupRows(group))
	mock.ExpectExec(`INSERT INTO joining_criteria`).
		WithArgs(group.ID, "min budget", models.CriterionKindRange, "budget_cents", true,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	minBudget := 500000.0
	created, err := svc.Create(ctx, CreateGroupSpec{
		Name:              group.Name,
		Category:          group.Category,
		Region:            group.Region,
		ZipCode:           group.ZipCode,
		RadiusKm:          group.RadiusKm,
		MinMembers:        group.MinMembers,
		MaxMembers:        group.MaxMembers,
		TargetSavingsPct:  group.TargetSavingsPct,
		FormationDeadline: group.FormationDeadline,
		BidDeadline:       group.BidDeadline,
		CreatedBy:         group.CreatedBy,
		Criteria: []models.JoiningCriterion{
			{Name: "min budget", Kind: models.CriterionKindRange, Field: "budget_cents", Required: true, MinValue: &minBudget},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, group.ID, created.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupService_Create_InvalidBounds(t *testing.T) {
	svc, mock := setupGroupService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateGroupSpec{
		MinMembers:        5,
		MaxMembers:        3,
		FormationDeadline: time.Now().Add(time.Hour),
		BidDeadline:       time.Now().Add(2 * time.Hour),
	})

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupService_Create_BidDeadlineBeforeFormation(t *testing.T) {
	svc, mock := setupGroupService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateGroupSpec{
		MinMembers:        2,
		MaxMembers:        5,
		FormationDeadline: time.Now().Add(2 * time.Hour),
		BidDeadline:       time.Now().Add(time.Hour),
	})

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupService_CloseFormation(t *testing.T) {
	svc, mock := setupGroupService(t)
	ctx := context.Background()
	group := testGroup(models.GroupStatusForming)

	mock.ExpectQuery(`SELECT .+ FROM groups WHERE id`).
		WithArgs(group.ID).
		WillReturnRows(groupRows(group))

	closed := *group
	closed.Status = models.GroupStatusFormed
	mock.ExpectQuery(`UPDATE groups SET status`).
		WithArgs(models.GroupStatusFormed, group.ID, models.GroupStatusForming).
		WillReturnRows(groupRows(&closed))

	updated, err := svc.CloseFormation(ctx, group.ID, group.AdminID)

	require.NoError(t, err)
	assert.Equal(t, models.GroupStatusFormed, updated.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupService_CloseFormation_NotAdmin(t *testing.T) {
	svc, mock := setupGroupService(t)
	ctx := context.Background()
	group := testGroup(models.GroupStatusForming)

	mock.ExpectQuery(`SELECT .+ FROM groups WHERE id`).
		WithArgs(group.ID).
		WillReturnRows(groupRows(group))

	_, err := svc.CloseFormation(ctx, group.ID, uuid.New())

	assert.ErrorIs(t, err, ErrNotGroupAdmin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupService_CloseFormation_InsufficientMembers(t *testing.T) {
	svc, mock := setupGroupService(t)
	ctx := context.Background()
	group := testGroup(models.GroupStatusForming)
	group.CurrentMembers = 2

	mock.ExpectQuery(`SELECT .+ FROM groups WHERE id`).
		WithArgs(group.ID).
		WillReturnRows(groupRows(group))

	_, err := svc.CloseFormation(ctx, group.ID, group.AdminID)

	assert.ErrorIs(t, err, ErrInsufficientMembers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupService_CloseFormation_AlreadyClosed(t *testing.T) {
	svc, mock := setupGroupService(t)
	ctx := context.Background()
	group := testGroup(models.GroupStatusFormed)

	mock.ExpectQuery(`SELECT .+ FROM groups WHERE id`).
		WithArgs(group.ID).
		WillReturnRows(groupRows(group))

	_, err := svc.CloseFormation(ctx, group.ID, group.AdminID)

	assert.ErrorIs(t, err, ErrGroupNotForming)

	var stateErr *StateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, models.GroupStatusFormed, stateErr.CurrentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupService_Dissolve_CascadesBidsAndAcceptances(t *testing.T) {
	svc, mock := setupGroupService(t)
	ctx := context.Background()
	group := testGroup(models.GroupStatusBidding)
	bidID := uuid.New()
	ref := "pend_123"

	mock.ExpectQuery(`SELECT .+ FROM groups WHERE id`).
		WithArgs(group.ID).
		WillReturnRows(groupRows(group))

	mock.ExpectBegin()

	dissolved := *group
	dissolved.Status = models.GroupStatusDissolved
	mock.ExpectQuery(`UPDATE groups SET status`).
		WithArgs(models.GroupStatusDissolved, group.ID,
			models.GroupStatusSettled, models.GroupStatusDissolved, models.GroupStatusExpired).
		WillReturnRows(groupRows(&dissolved))

	mock.ExpectQuery(`UPDATE group_bids SET status`).
		WithArgs(models.BidStatusWithdrawn, group.ID, models.BidStatusSubmitted, models.BidStatusActive).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(bidID))

	mock.ExpectQuery(`UPDATE acceptances SET status`).
		WithArgs(models.AcceptanceStatusRevoked, bidID,
			models.AcceptanceStatusPendingPayment, models.AcceptanceStatusConfirmed).
		WillReturnRows(pgxmock.NewRows([]string{"payment_ref"}).AddRow(&ref))

	mock.ExpectExec(`UPDATE group_bids SET current_acceptances = 0`).
		WithArgs(bidID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	mock.ExpectCommit()

	result, err := svc.Dissolve(ctx, group.ID, group.AdminID, "owners changed their minds")

	require.NoError(t, err)
	assert.Equal(t, models.GroupStatusDissolved, result.Group.Status)
	assert.Equal(t, []uuid.UUID{bidID}, result.WithdrawnBids)
	assert.Equal(t, []string{ref}, result.CancelledRefs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupService_Dissolve_Terminal(t *testing.T) {
	svc, mock := setupGroupService(t)
	ctx := context.Background()
	group := testGroup(models.GroupStatusSettled)

	mock.ExpectQuery(`SELECT .+ FROM groups WHERE id`).
		WithArgs(group.ID).
		WillReturnRows(groupRows(group))

	_, err := svc.Dissolve(ctx, group.ID, group.AdminID, "too late")

	assert.ErrorIs(t, err, ErrGroupTerminal)
	assert.NoError(t, mock.ExpectationsWereMet())
}
