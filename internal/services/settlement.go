package services

import (
	"context"
	"time"

	"github.com/bidpool/bidpool-api/internal/database"
	"github.com/bidpool/bidpool-api/internal/models"
	"github.com/bidpool/bidpool-api/internal/payments"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SettlementService couples the acceptance protocol to the escrow gateway.
// Initiation happens outside any aggregate lock; the outcome is applied
// later when the gateway's webhook lands.
type SettlementService struct {
	db         *database.DB
	gateway    payments.Gateway
	logger     *zap.Logger
	maxRetries int
}

func NewSettlementService(db *database.DB, gateway payments.Gateway, logger *zap.Logger, maxRetries int) *SettlementService {
	return &SettlementService{
		db:         db,
		gateway:    gateway,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// RequestPayment asks the gateway to initiate escrow for the acceptance and
// records the pending ref. A gateway failure leaves the acceptance pending
// with the attempt counted; once the attempts are exhausted it is failed for
// manual intervention.
func (s *SettlementService) RequestPayment(ctx context.Context, acceptance *models.Acceptance) error {
	ref, err := s.gateway.Initiate(ctx, acceptance.MemberID, acceptance.BidID, acceptance.AmountCents)
	if err != nil {
		s.logger.Warn("escrow initiate failed",
			zap.String("acceptance_id", acceptance.ID.String()),
			zap.Int("attempt", acceptance.PaymentAttempts+1),
			zap.Error(err))
		return s.recordFailedAttempt(ctx, acceptance.ID, err.Error())
	}

	_, err = s.db.Pool.Exec(ctx, `
		UPDATE acceptances
		SET payment_ref = $1, payment_attempts = payment_attempts + 1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, ref, acceptance.ID, models.AcceptanceStatusPendingPayment)
	if err != nil {
		// The escrow hold exists but we could not record it; unwind it
		// rather than leave money parked against an untracked ref.
		if revErr := s.gateway.Reverse(ctx, ref); revErr != nil {
			s.logger.Error("failed to reverse untracked escrow hold",
				zap.String("pending_ref", ref), zap.Error(revErr))
		}
		return err
	}

	acceptance.PaymentAttempts++
	acceptance.PaymentRef = &ref
	return nil
}

func (s *SettlementService) recordFailedAttempt(ctx context.Context, acceptanceID uuid.UUID, reason string) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE acceptances
		SET payment_attempts = payment_attempts + 1,
			status = CASE WHEN payment_attempts + 1 >= $1 THEN $2 ELSE status END,
			failure_reason = $3,
			updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, s.maxRetries, models.AcceptanceStatusFailed, reason,
		acceptanceID, models.AcceptanceStatusPendingPayment)
	return err
}

// RetryUnreferenced re-initiates escrow for pending acceptances whose
// initiate call never produced a ref, up to the bounded retry count. Driven
// by the sweeper.
func (s *SettlementService) RetryUnreferenced(ctx context.Context) error {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, bid_id, member_id, status, amount_cents, payment_ref,
			payment_attempts, failure_reason, confirmed_at, created_at, updated_at
		FROM acceptances
		WHERE status = $1 AND payment_ref IS NULL AND payment_attempts < $2
	`, models.AcceptanceStatusPendingPayment, s.maxRetries)
	if err != nil {
		return err
	}
	defer rows.Close()

	var pending []models.Acceptance
	for rows.Next() {
		var a models.Acceptance
		if err := rows.Scan(
			&a.ID, &a.BidID, &a.MemberID, &a.Status, &a.AmountCents, &a.PaymentRef,
			&a.PaymentAttempts, &a.FailureReason, &a.ConfirmedAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return err
		}
		pending = append(pending, a)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range pending {
		if err := s.RequestPayment(ctx, &pending[i]); err != nil {
			s.logger.Warn("payment retry failed",
				zap.String("acceptance_id", pending[i].ID.String()), zap.Error(err))
		}
	}
	return nil
}

// Compensate reverses the given pending refs. Best effort: a failed reversal
// is logged and surfaced to operators, never silently dropped.
func (s *SettlementService) Compensate(ctx context.Context, refs []string) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := s.gateway.Reverse(ctx, ref); err != nil {
			s.logger.Error("compensating reversal failed",
				zap.String("pending_ref", ref), zap.Error(err))
		}
	}
}

// FailStale fails pending acceptances that have waited on payment longer
// than the bounded window and returns the refs that need reversing.
func (s *SettlementService) FailStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx, `
		UPDATE acceptances
		SET status = $1, failure_reason = 'payment confirmation timed out', updated_at = NOW()
		WHERE status = $2 AND created_at < $3
		RETURNING payment_ref
	`, models.AcceptanceStatusFailed, models.AcceptanceStatusPendingPayment,
		time.Now().Add(-olderThan))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref *string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		if ref != nil {
			refs = append(refs, *ref)
		}
	}
	return refs, rows.Err()
}
