package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bidpool/bidpool-api/internal/database"
	"github.com/bidpool/bidpool-api/internal/models"
	"github.com/google/uuid"
)

// Fixtures provides factory methods for creating test data
type Fixtures struct {
	db      *database.DB
	counter int
}

// NewFixtures creates a new fixtures factory
func NewFixtures(db *database.DB) *Fixtures {
	return &Fixtures{db: db}
}

// GroupOption configures a test group
type GroupOption func(*models.Group)

func WithStatus(status string) GroupOption {
	return func(g *models.Group) { g.Status = status }
}

func WithMemberBounds(min, max int) GroupOption {
	return func(g *models.Group) {
		g.MinMembers = min
		g.MaxMembers = max
	}
}

func WithDeadlines(formation, bid time.Time) GroupOption {
	return func(g *models.Group) {
		g.FormationDeadline = formation
		g.BidDeadline = bid
	}
}

func WithAutoClose(autoClose bool) GroupOption {
	return func(g *models.Group) { g.AutoClose = autoClose }
}

func WithAdmin(adminID uuid.UUID) GroupOption {
	return func(g *models.Group) {
		g.CreatedBy = adminID
		g.AdminID = adminID
	}
}

func WithCategory(category string) GroupOption {
	return func(g *models.Group) { g.Category = category }
}

// CreateGroup creates a test group with sane defaults: forming, 2-10
// members, deadlines well in the future.
func (f *Fixtures) CreateGroup(t *testing.T, opts ...GroupOption) *models.Group {
	t.Helper()
	f.counter++

	group := &models.Group{
		Name:              fmt.Sprintf("Test Group %d", f.counter),
		Category:          "roofing",
		Region:            "pacific-northwest",
		ZipCode:           "98101",
		RadiusKm:          25,
		MinMembers:        2,
		MaxMembers:        10,
		TargetSavingsPct:  15,
		Status:            models.GroupStatusForming,
		FormationDeadline: time.Now().Add(24 * time.Hour),
		BidDeadline:       time.Now().Add(72 * time.Hour),
		AutoClose:         false,
		CreatedBy:         uuid.New(),
	}
	group.AdminID = group.CreatedBy

	for _, opt := range opts {
		opt(group)
	}

	ctx := context.Background()
	err := f.db.Pool.QueryRow(ctx, `
		INSERT INTO groups (name, category, region, zip_code, radius_km,
			min_members, max_members, target_savings_pct, status,
			formation_deadline, bid_deadline, auto_close, created_by, admin_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, current_members, created_at, updated_at
	`, group.Name, group.Category, group.Region, group.ZipCode, group.RadiusKm,
		group.MinMembers, group.MaxMembers, group.TargetSavingsPct, group.Status,
		group.FormationDeadline, group.BidDeadline, group.AutoClose,
		group.CreatedBy, group.AdminID).Scan(
		&group.ID, &group.CurrentMembers, &group.CreatedAt, &group.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("failed to create group: %v", err)
	}

	return group
}

// CreateMember adds an active member to the group and bumps the counter the
// way a real join does.
func (f *Fixtures) CreateMember(t *testing.T, groupID uuid.UUID) *models.Member {
	t.Helper()
	f.counter++

	member := &models.Member{
		GroupID:   groupID,
		ProjectID: uuid.New(),
		UserID:    uuid.New(),
	}

	ctx := context.Background()
	err := f.db.Pool.QueryRow(ctx, `
		INSERT INTO group_members (group_id, project_id, user_id)
		VALUES ($1, $2, $3)
		RETURNING id, status, is_admin, is_founding, visible, created_at, updated_at
	`, member.GroupID, member.ProjectID, member.UserID).Scan(
		&member.ID, &member.Status, &member.IsAdmin, &member.IsFounding,
		&member.Visible, &member.CreatedAt, &member.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("failed to create member: %v", err)
	}

	if _, err := f.db.Pool.Exec(ctx, `
		UPDATE groups SET current_members = current_members + 1 WHERE id = $1
	`, groupID); err != nil {
		t.Fatalf("failed to bump member count: %v", err)
	}

	return member
}

// BidOption configures a test bid
type BidOption func(*models.GroupBid)

func WithBidStatus(status string) BidOption {
	return func(b *models.GroupBid) { b.Status = status }
}

func WithQuorum(count, pct int) BidOption {
	return func(b *models.GroupBid) {
		b.RequiredAcceptances = count
		b.RequiredAcceptancePct = pct
	}
}

func WithAcceptanceDeadline(deadline time.Time) BidOption {
	return func(b *models.GroupBid) { b.AcceptanceDeadline = deadline }
}

func WithContractor(contractorID uuid.UUID) BidOption {
	return func(b *models.GroupBid) { b.ContractorID = contractorID }
}

// CreateBid creates an active bid on the group with a far-off deadline.
func (f *Fixtures) CreateBid(t *testing.T, groupID uuid.UUID, opts ...BidOption) *models.GroupBid {
	t.Helper()
	f.counter++

	bid := &models.GroupBid{
		GroupID:               groupID,
		ContractorID:          uuid.New(),
		Status:                models.BidStatusActive,
		GroupPriceCents:       1_000_000,
		PerMemberPriceCents:   250_000,
		SavingsPct:            15,
		RequiredAcceptances:   2,
		RequiredAcceptancePct: 0,
		AcceptanceDeadline:    time.Now().Add(48 * time.Hour),
	}

	for _, opt := range opts {
		opt(bid)
	}

	ctx := context.Background()
	err := f.db.Pool.QueryRow(ctx, `
		INSERT INTO group_bids (group_id, contractor_id, status,
			group_price_cents, per_member_price_cents, savings_pct,
			required_acceptances, required_acceptance_pct,
			acceptance_deadline, final_offer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, current_acceptances, created_at, updated_at
	`, bid.GroupID, bid.ContractorID, bid.Status,
		bid.GroupPriceCents, bid.PerMemberPriceCents, bid.SavingsPct,
		bid.RequiredAcceptances, bid.RequiredAcceptancePct,
		bid.AcceptanceDeadline, bid.FinalOffer).Scan(
		&bid.ID, &bid.CurrentAcceptances, &bid.CreatedAt, &bid.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("failed to create bid: %v", err)
	}

	return bid
}

// CreateSpecific attaches a per-member price to the bid.
func (f *Fixtures) CreateSpecific(t *testing.T, bidID, memberID uuid.UUID, priceCents int64) {
	t.Helper()

	ctx := context.Background()
	_, err := f.db.Pool.Exec(ctx, `
		INSERT INTO project_specifics (bid_id, member_id, price_cents, scope, timeline_days)
		VALUES ($1, $2, $3, $4, $5)
	`, bidID, memberID, priceCents, "full scope", 14)
	if err != nil {
		t.Fatalf("failed to create project specific: %v", err)
	}
}

// CreateAcceptance records an acceptance directly in the given status.
func (f *Fixtures) CreateAcceptance(t *testing.T, bidID, memberID uuid.UUID, status string, paymentRef *string) *models.Acceptance {
	t.Helper()

	acceptance := &models.Acceptance{
		BidID:       bidID,
		MemberID:    memberID,
		Status:      status,
		AmountCents: 250_000,
		PaymentRef:  paymentRef,
	}

	ctx := context.Background()
	err := f.db.Pool.QueryRow(ctx, `
		INSERT INTO acceptances (bid_id, member_id, status, amount_cents, payment_ref)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, acceptance.BidID, acceptance.MemberID, acceptance.Status,
		acceptance.AmountCents, acceptance.PaymentRef).Scan(
		&acceptance.ID, &acceptance.CreatedAt, &acceptance.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("failed to create acceptance: %v", err)
	}

	if status == models.AcceptanceStatusConfirmed {
		if _, err := f.db.Pool.Exec(ctx, `
			UPDATE group_bids SET current_acceptances = current_acceptances + 1 WHERE id = $1
		`, bidID); err != nil {
			t.Fatalf("failed to bump acceptance count: %v", err)
		}
	}

	return acceptance
}
