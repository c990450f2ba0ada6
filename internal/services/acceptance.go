package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bidpool/bidpool-api/internal/database"
	"github.com/bidpool/bidpool-api/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const acceptanceColumns = `id, bid_id, member_id, status, amount_cents,
	payment_ref, payment_attempts, failure_reason, confirmed_at, created_at, updated_at`

func scanAcceptance(row pgx.Row) (*models.Acceptance, error) {
	var a models.Acceptance
	err := row.Scan(
		&a.ID, &a.BidID, &a.MemberID, &a.Status, &a.AmountCents,
		&a.PaymentRef, &a.PaymentAttempts, &a.FailureReason, &a.ConfirmedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Confirmation outcomes. A confirmation is applied at most once per
// acceptance; replays and late arrivals are explicit outcomes, not errors.
const (
	ConfirmApplied = "applied"
	ConfirmReplay  = "replay"
	ConfirmLate    = "late"
)

// ConfirmResult describes what applying a payment confirmation did.
type ConfirmResult struct {
	Outcome        string
	AcceptanceID   uuid.UUID
	BidID          uuid.UUID
	GroupID        uuid.UUID
	MemberID       uuid.UUID
	ConfirmedCount int
	Threshold      int
	QuorumReached  bool
	// RefundRef is set on a late confirmation: the payment went through
	// after the acceptance stopped being pending, so it must be reversed.
	RefundRef string
}

// RevokeResult describes a cancelled acceptance and the refund it owes.
type RevokeResult struct {
	AcceptanceID uuid.UUID
	BidID        uuid.UUID
	GroupID      uuid.UUID
	WasConfirmed bool
	RefundRef    string
}

// ExpireResult describes a bid expiry cascade.
type ExpireResult struct {
	Bid          *models.GroupBid
	RefundRefs   []string
	PromotedBid  *models.GroupBid
	GroupExpired bool
}

// AcceptanceService implements the threshold commitment protocol: members
// accept the group's active bid, payments confirm asynchronously, and the
// bid becomes binding the moment the quorum is crossed.
type AcceptanceService struct {
	db         *database.DB
	settlement *SettlementService
}

func NewAcceptanceService(db *database.DB, settlement *SettlementService) *AcceptanceService {
	return &AcceptanceService{db: db, settlement: settlement}
}

// Accept records the member's commitment as pending_payment and requests
// escrow. The quorum counter is untouched here; it only moves when the
// payment confirms.
func (s *AcceptanceService) Accept(ctx context.Context, bidID, userID uuid.UUID) (*models.Acceptance, error) {
	bid, err := scanBid(s.db.Pool.QueryRow(ctx, `
		SELECT `+bidColumns+` FROM group_bids WHERE id = $1
	`, bidID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBidNotFound
	}
	if err != nil {
		return nil, err
	}

	if bid.Status == models.BidStatusAccepted {
		return nil, stateErr(ErrBidAlreadyAccepted, bid.Status)
	}
	if bid.Status != models.BidStatusActive {
		return nil, stateErr(ErrBidNotActive, bid.Status)
	}
	// Deadlines are re-validated at the moment of use; a missed sweep
	// cycle must never let a late accept through.
	if time.Now().After(bid.AcceptanceDeadline) {
		return nil, stateErr(ErrAcceptanceDeadlinePassed, bid.Status)
	}

	var member models.Member
	err = s.db.Pool.QueryRow(ctx, `
		SELECT `+memberColumns+` FROM group_members
		WHERE group_id = $1 AND user_id = $2 AND status = $3
	`, bid.GroupID, userID, models.MemberStatusActive).Scan(
		&member.ID, &member.GroupID, &member.ProjectID, &member.UserID, &member.Status,
		&member.IsAdmin, &member.IsFounding, &member.SavingsCents, &member.Visible,
		&member.CreatedAt, &member.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}

	amount := bid.PerMemberPriceCents
	var specificPrice int64
	err = s.db.Pool.QueryRow(ctx, `
		SELECT price_cents FROM project_specifics WHERE bid_id = $1 AND member_id = $2
	`, bidID, member.ID).Scan(&specificPrice)
	if err == nil {
		amount = specificPrice
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	acceptance, err := scanAcceptance(s.db.Pool.QueryRow(ctx, `
		INSERT INTO acceptances (bid_id, member_id, amount_cents)
		VALUES ($1, $2, $3)
		RETURNING `+acceptanceColumns+`
	`, bidID, member.ID, amount))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateAcceptance
		}
		return nil, fmt.Errorf("failed to create acceptance: %w", err)
	}

	// Escrow initiation happens outside any aggregate transaction; the
	// confirmation reacquires the rows when it arrives.
	if err := s.settlement.RequestPayment(ctx, acceptance); err != nil {
		return acceptance, err
	}

	return acceptance, nil
}

// ConfirmPayment applies an asynchronous payment confirmation. Exactly one
// call per acceptance flips it to confirmed and moves the counter; replays
// are no-ops and confirmations that lost a race (bid already resolved,
// acceptance revoked or failed) come back as late with a refund to issue.
func (s *AcceptanceService) ConfirmPayment(ctx context.Context, pendingRef string) (*ConfirmResult, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Guarded transition: only a pending acceptance on the active bid can
	// confirm. This is the at-most-once point for the quorum increment.
	var acceptanceID, bidID, memberID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE acceptances a
		SET status = $1, confirmed_at = NOW(), updated_at = NOW()
		FROM group_bids b
		WHERE a.payment_ref = $2 AND a.status = $3
			AND b.id = a.bid_id AND b.status = $4
		RETURNING a.id, a.bid_id, a.member_id
	`, models.AcceptanceStatusConfirmed, pendingRef,
		models.AcceptanceStatusPendingPayment, models.BidStatusActive).
		Scan(&acceptanceID, &bidID, &memberID)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.diagnoseConfirm(ctx, pendingRef)
	}
	if err != nil {
		return nil, err
	}

	var confirmedCount, requiredCount, requiredPct, savingsPct int
	var groupID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE group_bids
		SET current_acceptances = current_acceptances + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING current_acceptances, required_acceptances, required_acceptance_pct, savings_pct, group_id
	`, bidID, models.BidStatusActive).
		Scan(&confirmedCount, &requiredCount, &requiredPct, &savingsPct, &groupID)
	if err != nil {
		return nil, err
	}

	var currentMembers int
	if err := tx.QueryRow(ctx, `
		SELECT current_members FROM groups WHERE id = $1
	`, groupID).Scan(&currentMembers); err != nil {
		return nil, err
	}

	quorumBid := models.GroupBid{
		RequiredAcceptances:   requiredCount,
		RequiredAcceptancePct: requiredPct,
	}
	threshold := quorumBid.Threshold(currentMembers)

	result := &ConfirmResult{
		Outcome:        ConfirmApplied,
		AcceptanceID:   acceptanceID,
		BidID:          bidID,
		GroupID:        groupID,
		MemberID:       memberID,
		ConfirmedCount: confirmedCount,
		Threshold:      threshold,
	}

	// Quorum is evaluated at the confirming event, not on a timer: the bid
	// binds the instant the threshold is crossed.
	if confirmedCount >= threshold {
		if _, err := tx.Exec(ctx, `
			UPDATE group_bids SET status = $1, updated_at = NOW()
			WHERE id = $2 AND status = $3
		`, models.BidStatusAccepted, bidID, models.BidStatusActive); err != nil {
			return nil, err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE groups SET status = $1, accepted_bid_id = $2, updated_at = NOW()
			WHERE id = $3 AND status NOT IN ($4, $5, $6)
		`, models.GroupStatusSettled, bidID, groupID,
			models.GroupStatusSettled, models.GroupStatusDissolved, models.GroupStatusExpired); err != nil {
			return nil, err
		}

		// Settlement finalization: stamp each committed member's realized
		// savings.
		if _, err := tx.Exec(ctx, `
			UPDATE group_members gm
			SET savings_cents = a.amount_cents * $1 / 100, updated_at = NOW()
			FROM acceptances a
			WHERE a.bid_id = $2 AND a.status = $3 AND a.member_id = gm.id
		`, savingsPct, bidID, models.AcceptanceStatusConfirmed); err != nil {
			return nil, err
		}

		result.QuorumReached = true
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// diagnoseConfirm classifies a confirmation that matched no pending row:
// either a replay of an already-applied confirmation, a late arrival owing
// a refund, or an unknown ref.
func (s *AcceptanceService) diagnoseConfirm(ctx context.Context, pendingRef string) (*ConfirmResult, error) {
	var acceptanceID, bidID, memberID uuid.UUID
	var acceptanceStatus, bidStatus string
	var groupID uuid.UUID
	err := s.db.Pool.QueryRow(ctx, `
		SELECT a.id, a.bid_id, a.member_id, a.status, b.status, b.group_id
		FROM acceptances a
		JOIN group_bids b ON b.id = a.bid_id
		WHERE a.payment_ref = $1
	`, pendingRef).Scan(&acceptanceID, &bidID, &memberID, &acceptanceStatus, &bidStatus, &groupID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAcceptanceNotFound
	}
	if err != nil {
		return nil, err
	}

	result := &ConfirmResult{
		AcceptanceID: acceptanceID,
		BidID:        bidID,
		GroupID:      groupID,
		MemberID:     memberID,
	}

	if acceptanceStatus == models.AcceptanceStatusConfirmed {
		result.Outcome = ConfirmReplay
		return result, nil
	}

	// The payment settled but the acceptance window closed underneath it:
	// the member missed the bid, the money goes back.
	result.Outcome = ConfirmLate
	result.RefundRef = pendingRef
	return result, nil
}

// FailPayment applies an asynchronous payment failure. Idempotent: only a
// pending acceptance transitions.
func (s *AcceptanceService) FailPayment(ctx context.Context, pendingRef, reason string) (*models.Acceptance, error) {
	acceptance, err := scanAcceptance(s.db.Pool.QueryRow(ctx, `
		UPDATE acceptances SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE payment_ref = $3 AND status = $4
		RETURNING `+acceptanceColumns+`
	`, models.AcceptanceStatusFailed, reason, pendingRef, models.AcceptanceStatusPendingPayment))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return acceptance, nil
}

// Revoke cancels the caller's acceptance while the bid has not been
// accepted. A confirmed acceptance decrements the counter and is refunded;
// a pending one has its in-flight payment reversed. A confirmation racing
// the revoke is settled by whichever row transition lands first.
func (s *AcceptanceService) Revoke(ctx context.Context, bidID, userID uuid.UUID) (*RevokeResult, error) {
	bid, err := scanBid(s.db.Pool.QueryRow(ctx, `
		SELECT `+bidColumns+` FROM group_bids WHERE id = $1
	`, bidID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBidNotFound
	}
	if err != nil {
		return nil, err
	}
	if bid.Status == models.BidStatusAccepted {
		return nil, stateErr(ErrBidAlreadyAccepted, bid.Status)
	}

	var memberID uuid.UUID
	err = s.db.Pool.QueryRow(ctx, `
		SELECT id FROM group_members WHERE group_id = $1 AND user_id = $2 AND status = $3
	`, bid.GroupID, userID, models.MemberStatusActive).Scan(&memberID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The unlocked read above can go stale against a confirmation crossing
	// quorum; the locked re-read inside the transaction is authoritative.
	// A revoke that loses that race must not touch a binding acceptance.
	var bidStatus string
	if err := tx.QueryRow(ctx, `
		SELECT status FROM group_bids WHERE id = $1 FOR UPDATE
	`, bidID).Scan(&bidStatus); err != nil {
		return nil, err
	}
	if bidStatus == models.BidStatusAccepted {
		return nil, stateErr(ErrBidAlreadyAccepted, bidStatus)
	}

	result := &RevokeResult{BidID: bidID, GroupID: bid.GroupID}

	var ref *string
	err = tx.QueryRow(ctx, `
		UPDATE acceptances SET status = $1, updated_at = NOW()
		WHERE bid_id = $2 AND member_id = $3 AND status = $4
		RETURNING id, payment_ref
	`, models.AcceptanceStatusRevoked, bidID, memberID,
		models.AcceptanceStatusConfirmed).Scan(&result.AcceptanceID, &ref)
	if err == nil {
		result.WasConfirmed = true
		if _, err := tx.Exec(ctx, `
			UPDATE group_bids SET current_acceptances = current_acceptances - 1, updated_at = NOW()
			WHERE id = $1 AND current_acceptances > 0
		`, bidID); err != nil {
			return nil, err
		}
	} else if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx, `
			UPDATE acceptances SET status = $1, updated_at = NOW()
			WHERE bid_id = $2 AND member_id = $3 AND status = $4
			RETURNING id, payment_ref
		`, models.AcceptanceStatusRevoked, bidID, memberID,
			models.AcceptanceStatusPendingPayment).Scan(&result.AcceptanceID, &ref)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAcceptanceNotFound
		}
		if err != nil {
			return nil, err
		}
	} else {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if ref != nil {
		result.RefundRef = *ref
	}
	return result, nil
}

// ExpireBid resolves a bid whose acceptance deadline passed below quorum:
// the bid expires, confirmed acceptances are refunded, and the next waiting
// bid (if any) opens. The stored deadline is re-checked inside the guarded
// UPDATE so an extension committed after the caller selected the bid keeps
// it alive. Returns nil when the bid already resolved or its deadline moved.
func (s *AcceptanceService) ExpireBid(ctx context.Context, bidID uuid.UUID, grace time.Duration) (*ExpireResult, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	expired, err := scanBid(tx.QueryRow(ctx, `
		UPDATE group_bids SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4) AND acceptance_deadline <= $5
		RETURNING `+bidColumns+`
	`, models.BidStatusExpired, bidID, models.BidStatusSubmitted, models.BidStatusActive,
		time.Now().Add(-grace)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	refs, err := cancelLiveAcceptances(ctx, tx, bidID)
	if err != nil {
		return nil, err
	}

	result := &ExpireResult{Bid: expired, RefundRefs: refs}

	// Past the group's own bid deadline with nothing accepted, the group
	// itself expires; otherwise it stays open for the next offer.
	tag, err := tx.Exec(ctx, `
		UPDATE groups SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4) AND bid_deadline <= NOW() AND accepted_bid_id IS NULL
	`, models.GroupStatusExpired, expired.GroupID,
		models.GroupStatusFormed, models.GroupStatusBidding)
	if err != nil {
		return nil, err
	}
	result.GroupExpired = tag.RowsAffected() > 0

	if !result.GroupExpired {
		promoted, err := promoteNextBid(ctx, tx, expired.GroupID)
		if err != nil {
			return nil, err
		}
		result.PromotedBid = promoted
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// GetForBid lists a bid's acceptances, newest first.
func (s *AcceptanceService) GetForBid(ctx context.Context, bidID uuid.UUID) ([]models.Acceptance, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+acceptanceColumns+` FROM acceptances
		WHERE bid_id = $1
		ORDER BY created_at DESC
	`, bidID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var acceptances []models.Acceptance
	for rows.Next() {
		var a models.Acceptance
		if err := rows.Scan(
			&a.ID, &a.BidID, &a.MemberID, &a.Status, &a.AmountCents,
			&a.PaymentRef, &a.PaymentAttempts, &a.FailureReason, &a.ConfirmedAt,
			&a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		acceptances = append(acceptances, a)
	}
	return acceptances, rows.Err()
}
