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

const groupColumns = `id, name, category, region, zip_code, radius_km,
	min_members, max_members, current_members, target_savings_pct, status,
	formation_deadline, bid_deadline, auto_close, accepted_bid_id,
	created_by, admin_id, created_at, updated_at`

func scanGroup(row pgx.Row) (*models.Group, error) {
	var g models.Group
	err := row.Scan(
		&g.ID, &g.Name, &g.Category, &g.Region, &g.ZipCode, &g.RadiusKm,
		&g.MinMembers, &g.MaxMembers, &g.CurrentMembers, &g.TargetSavingsPct, &g.Status,
		&g.FormationDeadline, &g.BidDeadline, &g.AutoClose, &g.AcceptedBidID,
		&g.CreatedBy, &g.AdminID, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateGroupSpec describes a new group and its joining criteria.
type CreateGroupSpec struct {
	Name              string
	Category          string
	Region            string
	ZipCode           string
	RadiusKm          int
	MinMembers        int
	MaxMembers        int
	TargetSavingsPct  int
	FormationDeadline time.Time
	BidDeadline       time.Time
	AutoClose         bool
	CreatedBy         uuid.UUID
	Criteria          []models.JoiningCriterion
}

// DissolveResult lists what the cascade touched so the caller can request
// compensations and emit events after the transaction commits.
type DissolveResult struct {
	Group         *models.Group
	WithdrawnBids []uuid.UUID
	CancelledRefs []string
}

type GroupService struct {
	db *database.DB
}

func NewGroupService(db *database.DB) *GroupService {
	return &GroupService{db: db}
}

func (s *GroupService) Create(ctx context.Context, spec CreateGroupSpec) (*models.Group, error) {
	if spec.MinMembers < 1 || spec.MaxMembers < spec.MinMembers {
		return nil, fmt.Errorf("invalid member bounds: min=%d max=%d", spec.MinMembers, spec.MaxMembers)
	}
	if !spec.BidDeadline.After(spec.FormationDeadline) {
		return nil, fmt.Errorf("bid deadline must fall after the formation deadline")
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	group, err := scanGroup(tx.QueryRow(ctx, `
		INSERT INTO groups (name, category, region, zip_code, radius_km,
			min_members, max_members, target_savings_pct,
			formation_deadline, bid_deadline, auto_close, created_by, admin_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING `+groupColumns+`
	`, spec.Name, spec.Category, spec.Region, spec.ZipCode, spec.RadiusKm,
		spec.MinMembers, spec.MaxMembers, spec.TargetSavingsPct,
		spec.FormationDeadline, spec.BidDeadline, spec.AutoClose, spec.CreatedBy))
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	for _, criterion := range spec.Criteria {
		_, err = tx.Exec(ctx, `
			INSERT INTO joining_criteria (group_id, name, kind, field, required,
				min_value, max_value, bool_value, text_value, date_after, date_before)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, group.ID, criterion.Name, criterion.Kind, criterion.Field, criterion.Required,
			criterion.MinValue, criterion.MaxValue, criterion.BoolValue, criterion.TextValue,
			criterion.DateAfter, criterion.DateBefore)
		if err != nil {
			return nil, fmt.Errorf("failed to create criterion %q: %w", criterion.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return group, nil
}

func (s *GroupService) GetByID(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	group, err := scanGroup(s.db.Pool.QueryRow(ctx, `
		SELECT `+groupColumns+` FROM groups WHERE id = $1
	`, groupID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (s *GroupService) GetCriteria(ctx context.Context, groupID uuid.UUID) ([]models.JoiningCriterion, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, group_id, name, kind, field, required,
			min_value, max_value, bool_value, text_value, date_after, date_before, created_at
		FROM joining_criteria WHERE group_id = $1
		ORDER BY created_at
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var criteria []models.JoiningCriterion
	for rows.Next() {
		var c models.JoiningCriterion
		if err := rows.Scan(
			&c.ID, &c.GroupID, &c.Name, &c.Kind, &c.Field, &c.Required,
			&c.MinValue, &c.MaxValue, &c.BoolValue, &c.TextValue,
			&c.DateAfter, &c.DateBefore, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		criteria = append(criteria, c)
	}
	return criteria, rows.Err()
}

// CloseFormation transitions forming -> formed. Joining criteria are frozen
// from here on because joins are only admitted while the group is forming.
func (s *GroupService) CloseFormation(ctx context.Context, groupID, actorID uuid.UUID) (*models.Group, error) {
	group, err := s.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if actorID != uuid.Nil && group.AdminID != actorID {
		return nil, ErrNotGroupAdmin
	}
	if group.Status != models.GroupStatusForming {
		return nil, stateErr(ErrGroupNotForming, group.Status)
	}
	if group.CurrentMembers < group.MinMembers {
		return nil, ErrInsufficientMembers
	}

	updated, err := scanGroup(s.db.Pool.QueryRow(ctx, `
		UPDATE groups SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3 AND current_members >= min_members
		RETURNING `+groupColumns+`
	`, models.GroupStatusFormed, groupID, models.GroupStatusForming))
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost a race against another transition; report the fresh state.
		fresh, ferr := s.GetByID(ctx, groupID)
		if ferr != nil {
			return nil, ferr
		}
		return nil, stateErr(ErrGroupNotForming, fresh.Status)
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Dissolve is terminal. Open bids become withdrawn and every live acceptance
// on them is cancelled; the returned refs are the payments to reverse.
func (s *GroupService) Dissolve(ctx context.Context, groupID, actorID uuid.UUID, reason string) (*DissolveResult, error) {
	group, err := s.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if actorID != uuid.Nil && group.AdminID != actorID {
		return nil, ErrNotGroupAdmin
	}
	if group.IsTerminal() {
		return nil, stateErr(ErrGroupTerminal, group.Status)
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	dissolved, err := scanGroup(tx.QueryRow(ctx, `
		UPDATE groups SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ($3, $4, $5)
		RETURNING `+groupColumns+`
	`, models.GroupStatusDissolved, groupID,
		models.GroupStatusSettled, models.GroupStatusDissolved, models.GroupStatusExpired))
	if errors.Is(err, pgx.ErrNoRows) {
		fresh, ferr := s.GetByID(ctx, groupID)
		if ferr != nil {
			return nil, ferr
		}
		return nil, stateErr(ErrGroupTerminal, fresh.Status)
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		UPDATE group_bids SET status = $1, updated_at = NOW()
		WHERE group_id = $2 AND status IN ($3, $4)
		RETURNING id
	`, models.BidStatusWithdrawn, groupID, models.BidStatusSubmitted, models.BidStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to withdraw bids: %w", err)
	}
	var withdrawn []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		withdrawn = append(withdrawn, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var refs []string
	for _, bidID := range withdrawn {
		bidRefs, err := cancelLiveAcceptances(ctx, tx, bidID)
		if err != nil {
			return nil, err
		}
		refs = append(refs, bidRefs...)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &DissolveResult{
		Group:         dissolved,
		WithdrawnBids: withdrawn,
		CancelledRefs: refs,
	}, nil
}

// cancelLiveAcceptances revokes every pending or confirmed acceptance on the
// bid and returns the payment refs that need reversing. Runs inside the
// caller's transaction; the counter is zeroed with the rows it counts.
func cancelLiveAcceptances(ctx context.Context, tx pgx.Tx, bidID uuid.UUID) ([]string, error) {
	rows, err := tx.Query(ctx, `
		UPDATE acceptances SET status = $1, updated_at = NOW()
		WHERE bid_id = $2 AND status IN ($3, $4)
		RETURNING payment_ref
	`, models.AcceptanceStatusRevoked, bidID,
		models.AcceptanceStatusPendingPayment, models.AcceptanceStatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel acceptances: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE group_bids SET current_acceptances = 0, updated_at = NOW() WHERE id = $1
	`, bidID); err != nil {
		return nil, err
	}

	return refs, nil
}
