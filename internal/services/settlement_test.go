package services

import (
	"context"
	"testing"
	"time"

	"github.com/bidpool/bidpool-api/internal/database"
	"github.com/bidpool/bidpool-api/internal/models"
	"github.com/bidpool/bidpool-api/internal/payments"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupSettlementService(t *testing.T) (*SettlementService, pgxmock.PgxPoolIface, *mockGateway) {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	gateway := new(mockGateway)
	svc := NewSettlementService(&database.DB{Pool: pool}, gateway, zap.NewNop(), 3)
	return svc, pool, gateway
}

func TestSettlementService_RequestPayment(t *testing.T) {
	svc, pool, gateway := setupSettlementService(t)
	ctx := context.Background()
	acceptance := &models.Acceptance{
		ID:          uuid.New(),
		BidID:       uuid.New(),
		MemberID:    uuid.New(),
		Status:      models.AcceptanceStatusPendingPayment,
		AmountCents: 250_000,
	}

	gateway.On("Initiate", mock.Anything, acceptance.MemberID, acceptance.BidID, int64(250_000)).
		Return("pend_xyz", nil)
	pool.ExpectExec(`UPDATE acceptances`).
		WithArgs("pend_xyz", acceptance.ID, models.AcceptanceStatusPendingPayment).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := svc.RequestPayment(ctx, acceptance)

	require.NoError(t, err)
	require.NotNil(t, acceptance.PaymentRef)
	assert.Equal(t, "pend_xyz", *acceptance.PaymentRef)
	assert.Equal(t, 1, acceptance.PaymentAttempts)
	gateway.AssertExpectations(t)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSettlementService_RequestPayment_GatewayDown(t *testing.T) {
	svc, pool, gateway := setupSettlementService(t)
	ctx := context.Background()
	acceptance := &models.Acceptance{
		ID:          uuid.New(),
		BidID:       uuid.New(),
		MemberID:    uuid.New(),
		Status:      models.AcceptanceStatusPendingPayment,
		AmountCents: 250_000,
	}

	gateway.On("Initiate", mock.Anything, acceptance.MemberID, acceptance.BidID, int64(250_000)).
		Return("", payments.ErrGatewayUnavailable)
	pool.ExpectExec(`UPDATE acceptances`).
		WithArgs(3, models.AcceptanceStatusFailed, payments.ErrGatewayUnavailable.Error(),
			acceptance.ID, models.AcceptanceStatusPendingPayment).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := svc.RequestPayment(ctx, acceptance)

	require.NoError(t, err)
	assert.Nil(t, acceptance.PaymentRef)
	gateway.AssertExpectations(t)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSettlementService_RequestPayment_UntrackedHoldReversed(t *testing.T) {
	svc, pool, gateway := setupSettlementService(t)
	ctx := context.Background()
	acceptance := &models.Acceptance{
		ID:          uuid.New(),
		BidID:       uuid.New(),
		MemberID:    uuid.New(),
		Status:      models.AcceptanceStatusPendingPayment,
		AmountCents: 100_000,
	}

	gateway.On("Initiate", mock.Anything, acceptance.MemberID, acceptance.BidID, int64(100_000)).
		Return("pend_orphan", nil)
	pool.ExpectExec(`UPDATE acceptances`).
		WithArgs("pend_orphan", acceptance.ID, models.AcceptanceStatusPendingPayment).
		WillReturnError(assert.AnError)
	gateway.On("Reverse", mock.Anything, "pend_orphan").Return(nil)

	err := svc.RequestPayment(ctx, acceptance)

	assert.Error(t, err)
	gateway.AssertExpectations(t)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSettlementService_Compensate(t *testing.T) {
	svc, _, gateway := setupSettlementService(t)
	ctx := context.Background()

	gateway.On("Reverse", mock.Anything, "pend_1").Return(nil)
	gateway.On("Reverse", mock.Anything, "pend_2").Return(payments.ErrGatewayUnavailable)

	// Empty refs are skipped; a failed reversal does not stop the rest.
	svc.Compensate(ctx, []string{"pend_1", "", "pend_2"})

	gateway.AssertNumberOfCalls(t, "Reverse", 2)
}

func TestSettlementService_FailStale(t *testing.T) {
	svc, pool, _ := setupSettlementService(t)
	ctx := context.Background()
	ref := "pend_stale"

	pool.ExpectQuery(`UPDATE acceptances`).
		WithArgs(models.AcceptanceStatusFailed, models.AcceptanceStatusPendingPayment,
			pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"payment_ref"}).AddRow(&ref).AddRow((*string)(nil)))

	refs, err := svc.FailStale(ctx, 30*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, []string{ref}, refs)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestSettlementService_RetryUnreferenced(t *testing.T) {
	svc, pool, gateway := setupSettlementService(t)
	ctx := context.Background()
	acceptance := models.Acceptance{
		ID:              uuid.New(),
		BidID:           uuid.New(),
		MemberID:        uuid.New(),
		Status:          models.AcceptanceStatusPendingPayment,
		AmountCents:     250_000,
		PaymentAttempts: 1,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	pool.ExpectQuery(`SELECT id, bid_id, member_id`).
		WithArgs(models.AcceptanceStatusPendingPayment, 3).
		WillReturnRows(acceptanceRows(&acceptance))

	gateway.On("Initiate", mock.Anything, acceptance.MemberID, acceptance.BidID, int64(250_000)).
		Return("pend_retry", nil)
	pool.ExpectExec(`UPDATE acceptances`).
		WithArgs("pend_retry", acceptance.ID, models.AcceptanceStatusPendingPayment).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := svc.RetryUnreferenced(ctx)

	require.NoError(t, err)
	gateway.AssertExpectations(t)
	assert.NoError(t, pool.ExpectationsWereMet())
}
