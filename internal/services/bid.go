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

const bidColumns = `id, group_id, contractor_id, status, group_price_cents,
	per_member_price_cents, savings_pct, required_acceptances,
	required_acceptance_pct, current_acceptances, acceptance_deadline,
	final_offer, created_at, updated_at`

func scanBid(row pgx.Row) (*models.GroupBid, error) {
	var b models.GroupBid
	err := row.Scan(
		&b.ID, &b.GroupID, &b.ContractorID, &b.Status, &b.GroupPriceCents,
		&b.PerMemberPriceCents, &b.SavingsPct, &b.RequiredAcceptances,
		&b.RequiredAcceptancePct, &b.CurrentAcceptances, &b.AcceptanceDeadline,
		&b.FinalOffer, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// SubmitBidSpec is a contractor's offer to a formed group, including the
// per-member variance every member must be able to see before accepting.
type SubmitBidSpec struct {
	GroupPriceCents       int64
	PerMemberPriceCents   int64
	SavingsPct            int
	RequiredAcceptances   int
	RequiredAcceptancePct int
	AcceptanceDeadline    time.Time
	FinalOffer            bool
	Items                 []models.BidItem
	Specifics             []models.ProjectSpecific
}

// SubmitResult reports the created bid plus any compensations owed because
// the contractor superseded an earlier offer that had live acceptances.
type SubmitResult struct {
	Bid           *models.GroupBid
	SupersededBid *uuid.UUID
	CancelledRefs []string
}

// QuorumStatus is the query surface for a bid's acceptance progress.
type QuorumStatus struct {
	BidID              uuid.UUID `json:"bid_id"`
	Status             string    `json:"status"`
	ConfirmedCount     int       `json:"confirmed_count"`
	Threshold          int       `json:"threshold"`
	CurrentMembers     int       `json:"current_members"`
	AcceptanceDeadline time.Time `json:"acceptance_deadline"`
}

type BidService struct {
	db *database.DB
}

func NewBidService(db *database.DB) *BidService {
	return &BidService{db: db}
}

// Submit attaches a contractor's offer to a biddable group. The offer must
// carry a ProjectSpecific for every active member. A contractor resubmitting
// supersedes their own open bid; its live acceptances are cancelled and the
// refs returned for refunding. The new bid opens as active only when no
// other open bid exists, otherwise it waits in submitted.
func (s *BidService) Submit(ctx context.Context, groupID, contractorID uuid.UUID, spec SubmitBidSpec) (*SubmitResult, error) {
	if spec.RequiredAcceptances < 1 && spec.RequiredAcceptancePct < 1 {
		return nil, fmt.Errorf("bid must specify an acceptance count or percentage")
	}
	if !spec.AcceptanceDeadline.After(time.Now()) {
		return nil, fmt.Errorf("acceptance deadline must be in the future")
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	group, err := scanGroup(tx.QueryRow(ctx, `
		SELECT `+groupColumns+` FROM groups WHERE id = $1 FOR UPDATE
	`, groupID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	if !group.IsBiddable() {
		return nil, stateErr(ErrGroupNotBiddable, group.Status)
	}
	if time.Now().After(group.BidDeadline) {
		return nil, stateErr(ErrGroupNotBiddable, group.Status)
	}

	// Coverage: every active member needs its own concrete price/scope.
	memberRows, err := tx.Query(ctx, `
		SELECT id FROM group_members WHERE group_id = $1 AND status = $2
	`, groupID, models.MemberStatusActive)
	if err != nil {
		return nil, err
	}
	activeMembers := make(map[uuid.UUID]bool)
	for memberRows.Next() {
		var id uuid.UUID
		if err := memberRows.Scan(&id); err != nil {
			memberRows.Close()
			return nil, err
		}
		activeMembers[id] = true
	}
	memberRows.Close()
	if err := memberRows.Err(); err != nil {
		return nil, err
	}

	covered := make(map[uuid.UUID]bool, len(spec.Specifics))
	for _, specific := range spec.Specifics {
		covered[specific.MemberID] = true
	}
	for memberID := range activeMembers {
		if !covered[memberID] {
			return nil, ErrIncompleteCoverage
		}
	}
	for memberID := range covered {
		if !activeMembers[memberID] {
			return nil, fmt.Errorf("project specific references non-member %s", memberID)
		}
	}

	result := &SubmitResult{}

	// Supersede the contractor's own open bid, cancelling whatever was
	// already committed against it.
	oldBid, err := scanBid(tx.QueryRow(ctx, `
		UPDATE group_bids SET status = $1, updated_at = NOW()
		WHERE group_id = $2 AND contractor_id = $3 AND status IN ($4, $5)
		RETURNING `+bidColumns+`
	`, models.BidStatusSuperseded, groupID, contractorID,
		models.BidStatusSubmitted, models.BidStatusActive))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if oldBid != nil {
		result.SupersededBid = &oldBid.ID
		refs, err := cancelLiveAcceptances(ctx, tx, oldBid.ID)
		if err != nil {
			return nil, err
		}
		result.CancelledRefs = refs
	}

	var openExists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM group_bids WHERE group_id = $1 AND status = $2)
	`, groupID, models.BidStatusActive).Scan(&openExists); err != nil {
		return nil, err
	}
	status := models.BidStatusActive
	if openExists {
		status = models.BidStatusSubmitted
	}

	bid, err := scanBid(tx.QueryRow(ctx, `
		INSERT INTO group_bids (group_id, contractor_id, status,
			group_price_cents, per_member_price_cents, savings_pct,
			required_acceptances, required_acceptance_pct,
			acceptance_deadline, final_offer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+bidColumns+`
	`, groupID, contractorID, status,
		spec.GroupPriceCents, spec.PerMemberPriceCents, spec.SavingsPct,
		spec.RequiredAcceptances, spec.RequiredAcceptancePct,
		spec.AcceptanceDeadline, spec.FinalOffer))
	if err != nil {
		return nil, fmt.Errorf("failed to create bid: %w", err)
	}

	for _, item := range spec.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO bid_items (bid_id, description, quantity, price_cents)
			VALUES ($1, $2, $3, $4)
		`, bid.ID, item.Description, item.Quantity, item.PriceCents); err != nil {
			return nil, fmt.Errorf("failed to create bid item: %w", err)
		}
	}

	for _, specific := range spec.Specifics {
		if _, err := tx.Exec(ctx, `
			INSERT INTO project_specifics (bid_id, member_id, price_cents, scope, timeline_days)
			VALUES ($1, $2, $3, $4, $5)
		`, bid.ID, specific.MemberID, specific.PriceCents, specific.Scope, specific.TimelineDays); err != nil {
			return nil, fmt.Errorf("failed to create project specific: %w", err)
		}
	}

	// First bid moves the group from formed into bidding.
	if _, err := tx.Exec(ctx, `
		UPDATE groups SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.GroupStatusBidding, groupID, models.GroupStatusFormed); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	result.Bid = bid
	return result, nil
}

// InvalidateResult reports the cancelled bid, the refunds it owes, and the
// waiting bid promoted in its place, if any.
type InvalidateResult struct {
	Bid           *models.GroupBid
	CancelledRefs []string
	PromotedBid   *models.GroupBid
}

// Invalidate withdraws the group's open bid so a new one can open. All of
// its live acceptances are cancelled; confirmed ones are refunded.
func (s *BidService) Invalidate(ctx context.Context, bidID, actorID uuid.UUID) (*InvalidateResult, error) {
	bid, err := s.GetByID(ctx, bidID)
	if err != nil {
		return nil, err
	}

	var adminID uuid.UUID
	if err := s.db.Pool.QueryRow(ctx, `
		SELECT admin_id FROM groups WHERE id = $1
	`, bid.GroupID).Scan(&adminID); err != nil {
		return nil, err
	}
	if actorID != uuid.Nil && adminID != actorID {
		return nil, ErrNotGroupAdmin
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	withdrawn, err := scanBid(tx.QueryRow(ctx, `
		UPDATE group_bids SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)
		RETURNING `+bidColumns+`
	`, models.BidStatusWithdrawn, bidID, models.BidStatusSubmitted, models.BidStatusActive))
	if errors.Is(err, pgx.ErrNoRows) {
		fresh, ferr := s.GetByID(ctx, bidID)
		if ferr != nil {
			return nil, ferr
		}
		return nil, stateErr(ErrBidNotActive, fresh.Status)
	}
	if err != nil {
		return nil, err
	}

	refs, err := cancelLiveAcceptances(ctx, tx, bidID)
	if err != nil {
		return nil, err
	}

	promoted, err := promoteNextBid(ctx, tx, withdrawn.GroupID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &InvalidateResult{Bid: withdrawn, CancelledRefs: refs, PromotedBid: promoted}, nil
}

// promoteNextBid opens the eldest waiting bid once no bid is active for the
// group. Returns nil when nothing is waiting.
func promoteNextBid(ctx context.Context, tx pgx.Tx, groupID uuid.UUID) (*models.GroupBid, error) {
	promoted, err := scanBid(tx.QueryRow(ctx, `
		UPDATE group_bids SET status = $1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM group_bids
			WHERE group_id = $2 AND status = $3 AND acceptance_deadline > NOW()
			ORDER BY created_at
			LIMIT 1
		)
		RETURNING `+bidColumns+`
	`, models.BidStatusActive, groupID, models.BidStatusSubmitted))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// ExtendDeadline appends an Extension record and moves the bid's acceptance
// deadline forward. Extensions are the only path that mutates the deadline.
func (s *BidService) ExtendDeadline(ctx context.Context, bidID, actorID uuid.UUID, newDeadline time.Time, reason string) (*models.Extension, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	bid, err := scanBid(tx.QueryRow(ctx, `
		SELECT `+bidColumns+` FROM group_bids WHERE id = $1 FOR UPDATE
	`, bidID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBidNotFound
	}
	if err != nil {
		return nil, err
	}
	if !bid.IsOpen() {
		return nil, stateErr(ErrBidNotActive, bid.Status)
	}
	if !newDeadline.After(bid.AcceptanceDeadline) {
		return nil, ErrInvalidExtension
	}

	var adminID uuid.UUID
	if err := tx.QueryRow(ctx, `
		SELECT admin_id FROM groups WHERE id = $1
	`, bid.GroupID).Scan(&adminID); err != nil {
		return nil, err
	}
	if actorID != uuid.Nil && adminID != actorID {
		return nil, ErrNotGroupAdmin
	}

	var extension models.Extension
	err = tx.QueryRow(ctx, `
		INSERT INTO bid_extensions (bid_id, previous_deadline, new_deadline, reason, extended_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, bid_id, previous_deadline, new_deadline, reason, extended_by, created_at
	`, bidID, bid.AcceptanceDeadline, newDeadline, reason, actorID).Scan(
		&extension.ID, &extension.BidID, &extension.PreviousDeadline,
		&extension.NewDeadline, &extension.Reason, &extension.ExtendedBy, &extension.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record extension: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE group_bids SET acceptance_deadline = $1, updated_at = NOW()
		WHERE id = $2
	`, newDeadline, bidID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &extension, nil
}

func (s *BidService) GetByID(ctx context.Context, bidID uuid.UUID) (*models.GroupBid, error) {
	bid, err := scanBid(s.db.Pool.QueryRow(ctx, `
		SELECT `+bidColumns+` FROM group_bids WHERE id = $1
	`, bidID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBidNotFound
	}
	if err != nil {
		return nil, err
	}
	return bid, nil
}

func (s *BidService) ListForGroup(ctx context.Context, groupID uuid.UUID) ([]models.GroupBid, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+bidColumns+` FROM group_bids
		WHERE group_id = $1
		ORDER BY created_at DESC
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []models.GroupBid
	for rows.Next() {
		var b models.GroupBid
		if err := rows.Scan(
			&b.ID, &b.GroupID, &b.ContractorID, &b.Status, &b.GroupPriceCents,
			&b.PerMemberPriceCents, &b.SavingsPct, &b.RequiredAcceptances,
			&b.RequiredAcceptancePct, &b.CurrentAcceptances, &b.AcceptanceDeadline,
			&b.FinalOffer, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (s *BidService) GetQuorum(ctx context.Context, bidID uuid.UUID) (*QuorumStatus, error) {
	bid, err := s.GetByID(ctx, bidID)
	if err != nil {
		return nil, err
	}

	var currentMembers int
	if err := s.db.Pool.QueryRow(ctx, `
		SELECT current_members FROM groups WHERE id = $1
	`, bid.GroupID).Scan(&currentMembers); err != nil {
		return nil, err
	}

	return &QuorumStatus{
		BidID:              bid.ID,
		Status:             bid.Status,
		ConfirmedCount:     bid.CurrentAcceptances,
		Threshold:          bid.Threshold(currentMembers),
		CurrentMembers:     currentMembers,
		AcceptanceDeadline: bid.AcceptanceDeadline,
	}, nil
}

func (s *BidService) GetSpecifics(ctx context.Context, bidID uuid.UUID) ([]models.ProjectSpecific, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, bid_id, member_id, price_cents, scope, timeline_days, created_at
		FROM project_specifics WHERE bid_id = $1
		ORDER BY created_at
	`, bidID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var specifics []models.ProjectSpecific
	for rows.Next() {
		var p models.ProjectSpecific
		if err := rows.Scan(&p.ID, &p.BidID, &p.MemberID, &p.PriceCents, &p.Scope, &p.TimelineDays, &p.CreatedAt); err != nil {
			return nil, err
		}
		specifics = append(specifics, p)
	}
	return specifics, rows.Err()
}

func (s *BidService) GetItems(ctx context.Context, bidID uuid.UUID) ([]models.BidItem, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, bid_id, description, quantity, price_cents, created_at
		FROM bid_items WHERE bid_id = $1
		ORDER BY created_at
	`, bidID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.BidItem
	for rows.Next() {
		var item models.BidItem
		if err := rows.Scan(&item.ID, &item.BidID, &item.Description, &item.Quantity, &item.PriceCents, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetExtensions returns the audit trail of deadline pushes for a bid.
func (s *BidService) GetExtensions(ctx context.Context, bidID uuid.UUID) ([]models.Extension, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, bid_id, previous_deadline, new_deadline, reason, extended_by, created_at
		FROM bid_extensions WHERE bid_id = $1
		ORDER BY created_at
	`, bidID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var extensions []models.Extension
	for rows.Next() {
		var e models.Extension
		if err := rows.Scan(&e.ID, &e.BidID, &e.PreviousDeadline, &e.NewDeadline, &e.Reason, &e.ExtendedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		extensions = append(extensions, e)
	}
	return extensions, rows.Err()
}
