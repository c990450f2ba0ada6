package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/bidpool/bidpool-api/internal/database"
	"github.com/bidpool/bidpool-api/internal/models"
	"github.com/bidpool/bidpool-api/internal/projects"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const memberColumns = `id, group_id, project_id, user_id, status, is_admin,
	is_founding, savings_cents, visible, created_at, updated_at`

func scanMember(row pgx.Row) (*models.Member, error) {
	var m models.Member
	err := row.Scan(
		&m.ID, &m.GroupID, &m.ProjectID, &m.UserID, &m.Status, &m.IsAdmin,
		&m.IsFounding, &m.SavingsCents, &m.Visible, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// JoinEvaluation is the outcome of running a candidate bid card through a
// group's joining criteria. Advisory (non-required) misses are surfaced but
// do not block admission.
type JoinEvaluation struct {
	Admit            bool     `json:"admit"`
	FailingCriterion string   `json:"failing_criterion,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

type MembershipService struct {
	db       *database.DB
	groups   *GroupService
	bidCards projects.BidCardReader
}

func NewMembershipService(db *database.DB, groups *GroupService, bidCards projects.BidCardReader) *MembershipService {
	return &MembershipService{db: db, groups: groups, bidCards: bidCards}
}

// EvaluateJoin runs the candidate through the group's criteria without
// touching membership. Required criteria are AND-combined; the first failure
// is reported.
func (s *MembershipService) EvaluateJoin(ctx context.Context, groupID, projectID uuid.UUID) (*JoinEvaluation, error) {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	card, err := s.bidCards.GetBidCard(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate project: %w", err)
	}

	if group.Category != "" && card.Category != group.Category {
		return &JoinEvaluation{Admit: false, FailingCriterion: "category"}, nil
	}

	criteria, err := s.groups.GetCriteria(ctx, groupID)
	if err != nil {
		return nil, err
	}

	eval := &JoinEvaluation{Admit: true}
	for i := range criteria {
		criterion := &criteria[i]
		value, ok := card.Attributes[criterion.Field]
		matched := ok && criterion.Matches(value)
		if matched {
			continue
		}
		if criterion.Required {
			eval.Admit = false
			eval.FailingCriterion = criterion.Name
			return eval, nil
		}
		eval.Warnings = append(eval.Warnings, criterion.Name)
	}
	return eval, nil
}

// Join admits the candidate project into the group. Idempotent per
// (group, project): repeat calls return the existing active membership. The
// member-count bound is enforced by a conditional increment on the group row
// so concurrent joins can never push past max_members.
func (s *MembershipService) Join(ctx context.Context, groupID, projectID, userID uuid.UUID) (*models.Member, bool, error) {
	existing, err := s.findMembership(ctx, groupID, projectID)
	if err != nil && !errors.Is(err, ErrMemberNotFound) {
		return nil, false, err
	}
	if existing != nil && existing.Status == models.MemberStatusActive {
		return existing, false, nil
	}

	eval, err := s.EvaluateJoin(ctx, groupID, projectID)
	if err != nil {
		return nil, false, err
	}
	if !eval.Admit {
		return nil, false, &CriteriaError{Criterion: eval.FailingCriterion}
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The bound check and the increment are one atomic statement; this is
	// the per-group serialization point for racing joins.
	tag, err := tx.Exec(ctx, `
		UPDATE groups SET current_members = current_members + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND current_members < max_members
	`, groupID, models.GroupStatusForming)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 0 {
		group, gerr := s.groups.GetByID(ctx, groupID)
		if gerr != nil {
			return nil, false, gerr
		}
		if group.Status != models.GroupStatusForming {
			return nil, false, stateErr(ErrGroupNotForming, group.Status)
		}
		return nil, false, stateErr(ErrGroupFull, group.Status)
	}

	isFounding := false
	var memberCount int
	if err := tx.QueryRow(ctx, `
		SELECT current_members FROM groups WHERE id = $1
	`, groupID).Scan(&memberCount); err != nil {
		return nil, false, err
	}
	if memberCount == 1 {
		isFounding = true
	}

	var member *models.Member
	if existing != nil {
		// Rejoin after leaving: reactivate the old row to keep the
		// (group, project) uniqueness intact.
		member, err = scanMember(tx.QueryRow(ctx, `
			UPDATE group_members SET status = $1, updated_at = NOW()
			WHERE id = $2
			RETURNING `+memberColumns+`
		`, models.MemberStatusActive, existing.ID))
	} else {
		member, err = scanMember(tx.QueryRow(ctx, `
			INSERT INTO group_members (group_id, project_id, user_id, is_founding)
			VALUES ($1, $2, $3, $4)
			RETURNING `+memberColumns+`
		`, groupID, projectID, userID, isFounding))
	}
	if err != nil {
		if isUniqueViolation(err) {
			// Raced another join for the same project; the winner's
			// membership is the answer.
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				return nil, false, rbErr
			}
			winner, ferr := s.findMembership(ctx, groupID, projectID)
			if ferr != nil {
				return nil, false, ferr
			}
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("failed to create membership: %w", err)
	}

	// Reaching max_members closes formation automatically when the group
	// opted in.
	if _, err := tx.Exec(ctx, `
		UPDATE groups SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3 AND auto_close AND current_members >= max_members
	`, models.GroupStatusFormed, groupID, models.GroupStatusForming); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return member, true, nil
}

// Leave marks the membership left and frees the seat while the group is
// still forming or bidding. Members bound by an accepted bid cannot leave.
func (s *MembershipService) Leave(ctx context.Context, groupID, userID uuid.UUID) error {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	if group.Status == models.GroupStatusSettled {
		return stateErr(ErrGroupTerminal, group.Status)
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE group_members SET status = $1, updated_at = NOW()
		WHERE group_id = $2 AND user_id = $3 AND status = $4
	`, models.MemberStatusLeft, groupID, userID, models.MemberStatusActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}

	if _, err := tx.Exec(ctx, `
		UPDATE groups SET current_members = current_members - 1, updated_at = NOW()
		WHERE id = $1 AND current_members > 0
	`, groupID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *MembershipService) GetMembers(ctx context.Context, groupID uuid.UUID) ([]models.Member, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+memberColumns+` FROM group_members
		WHERE group_id = $1 AND status = $2
		ORDER BY created_at
	`, groupID, models.MemberStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(
			&m.ID, &m.GroupID, &m.ProjectID, &m.UserID, &m.Status, &m.IsAdmin,
			&m.IsFounding, &m.SavingsCents, &m.Visible, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetActiveMember resolves the caller's active membership in the group.
func (s *MembershipService) GetActiveMember(ctx context.Context, groupID, userID uuid.UUID) (*models.Member, error) {
	member, err := scanMember(s.db.Pool.QueryRow(ctx, `
		SELECT `+memberColumns+` FROM group_members
		WHERE group_id = $1 AND user_id = $2 AND status = $3
	`, groupID, userID, models.MemberStatusActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (s *MembershipService) findMembership(ctx context.Context, groupID, projectID uuid.UUID) (*models.Member, error) {
	member, err := scanMember(s.db.Pool.QueryRow(ctx, `
		SELECT `+memberColumns+` FROM group_members
		WHERE group_id = $1 AND project_id = $2
	`, groupID, projectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return member, nil
}

// Candidates returns the recommender's ranked candidate projects for a
// forming group, annotated with this engine's admit/reject evaluation.
type Candidate struct {
	ProjectID  uuid.UUID       `json:"project_id"`
	Evaluation *JoinEvaluation `json:"evaluation"`
}

func (s *MembershipService) Candidates(ctx context.Context, recommender projects.Recommender, groupID uuid.UUID, limit int) ([]Candidate, error) {
	ids, err := recommender.CandidatesForGroup(ctx, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}

	candidates := make([]Candidate, 0, len(ids))
	for _, projectID := range ids {
		eval, err := s.EvaluateJoin(ctx, groupID, projectID)
		if err != nil {
			// A single unreadable bid card should not hide the rest of
			// the ranked list.
			continue
		}
		candidates = append(candidates, Candidate{ProjectID: projectID, Evaluation: eval})
	}
	return candidates, nil
}
