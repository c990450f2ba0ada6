package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	BidStatusSubmitted  = "submitted"
	BidStatusActive     = "active"
	BidStatusAccepted   = "accepted"
	BidStatusExpired    = "expired"
	BidStatusWithdrawn  = "withdrawn"
	BidStatusSuperseded = "superseded"
)

// GroupBid is one contractor's offer to an entire formed group. At most one
// bid per group is open for acceptance (active) at a time; later submissions
// wait in submitted until the open one resolves or is invalidated.
type GroupBid struct {
	ID                    uuid.UUID `json:"id"`
	GroupID               uuid.UUID `json:"group_id"`
	ContractorID          uuid.UUID `json:"contractor_id"`
	Status                string    `json:"status"`
	GroupPriceCents       int64     `json:"group_price_cents"`
	PerMemberPriceCents   int64     `json:"per_member_price_cents"`
	SavingsPct            int       `json:"savings_pct"`
	RequiredAcceptances   int       `json:"required_acceptances"`
	RequiredAcceptancePct int       `json:"required_acceptance_pct"`
	CurrentAcceptances    int       `json:"current_acceptances"`
	AcceptanceDeadline    time.Time `json:"acceptance_deadline"`
	FinalOffer            bool      `json:"final_offer"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// IsOpen reports whether the bid still participates in the protocol.
func (b *GroupBid) IsOpen() bool {
	return b.Status == BidStatusSubmitted || b.Status == BidStatusActive
}

// Threshold is the number of confirmed acceptances required for the bid to
// become binding, given the group's current member count: the larger of the
// absolute count and the percentage quorum (rounded up).
func (b *GroupBid) Threshold(currentMembers int) int {
	required := b.RequiredAcceptances
	if b.RequiredAcceptancePct > 0 {
		pct := (b.RequiredAcceptancePct*currentMembers + 99) / 100
		if pct > required {
			required = pct
		}
	}
	if required < 1 {
		required = 1
	}
	return required
}

// BidItem is one line item on a group bid.
type BidItem struct {
	ID          uuid.UUID `json:"id"`
	BidID       uuid.UUID `json:"bid_id"`
	Description string    `json:"description"`
	Quantity    int       `json:"quantity"`
	PriceCents  int64     `json:"price_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProjectSpecific carries the per-member price/scope/timeline variance of a
// bid. Exactly one exists per (bid, member); a submission that does not cover
// every active member is rejected.
type ProjectSpecific struct {
	ID           uuid.UUID `json:"id"`
	BidID        uuid.UUID `json:"bid_id"`
	MemberID     uuid.UUID `json:"member_id"`
	PriceCents   int64     `json:"price_cents"`
	Scope        string    `json:"scope"`
	TimelineDays int       `json:"timeline_days"`
	CreatedAt    time.Time `json:"created_at"`
}

// Extension is the append-only audit record of a deadline push. Writing one
// is the only sanctioned way to move a bid's acceptance deadline.
type Extension struct {
	ID               uuid.UUID `json:"id"`
	BidID            uuid.UUID `json:"bid_id"`
	PreviousDeadline time.Time `json:"previous_deadline"`
	NewDeadline      time.Time `json:"new_deadline"`
	Reason           string    `json:"reason"`
	ExtendedBy       uuid.UUID `json:"extended_by"`
	CreatedAt        time.Time `json:"created_at"`
}
