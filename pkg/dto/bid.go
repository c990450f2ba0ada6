package dto

import (
	"time"

	"github.com/google/uuid"
)

type BidItemRequest struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	PriceCents  int64  `json:"price_cents"`
}

type ProjectSpecificRequest struct {
	MemberID     uuid.UUID `json:"member_id"`
	PriceCents   int64     `json:"price_cents"`
	Scope        string    `json:"scope"`
	TimelineDays int       `json:"timeline_days"`
}

type SubmitBidRequest struct {
	GroupPriceCents       int64                    `json:"group_price_cents"`
	PerMemberPriceCents   int64                    `json:"per_member_price_cents"`
	SavingsPct            int                      `json:"savings_pct"`
	RequiredAcceptances   int                      `json:"required_acceptances"`
	RequiredAcceptancePct int                      `json:"required_acceptance_pct"`
	AcceptanceDeadline    time.Time                `json:"acceptance_deadline"`
	FinalOffer            bool                     `json:"final_offer"`
	Items                 []BidItemRequest         `json:"items,omitempty"`
	Specifics             []ProjectSpecificRequest `json:"specifics"`
}

type BidResponse struct {
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
}

type SubmitBidResponse struct {
	Bid           BidResponse `json:"bid"`
	SupersededBid *uuid.UUID  `json:"superseded_bid,omitempty"`
}

type QuorumResponse struct {
	BidID              uuid.UUID `json:"bid_id"`
	Status             string    `json:"status"`
	ConfirmedCount     int       `json:"confirmed_count"`
	Threshold          int       `json:"threshold"`
	CurrentMembers     int       `json:"current_members"`
	AcceptanceDeadline time.Time `json:"acceptance_deadline"`
}

type ExtendDeadlineRequest struct {
	NewDeadline time.Time `json:"new_deadline"`
	Reason      string    `json:"reason"`
}

type ExtensionResponse struct {
	ID               uuid.UUID `json:"id"`
	BidID            uuid.UUID `json:"bid_id"`
	PreviousDeadline time.Time `json:"previous_deadline"`
	NewDeadline      time.Time `json:"new_deadline"`
	Reason           string    `json:"reason"`
	ExtendedBy       uuid.UUID `json:"extended_by"`
	CreatedAt        time.Time `json:"created_at"`
}

type ProjectSpecificResponse struct {
	MemberID     uuid.UUID `json:"member_id"`
	PriceCents   int64     `json:"price_cents"`
	Scope        string    `json:"scope"`
	TimelineDays int       `json:"timeline_days"`
}

type BidItemResponse struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	PriceCents  int64  `json:"price_cents"`
}

type BidDetailResponse struct {
	Bid       BidResponse               `json:"bid"`
	Items     []BidItemResponse         `json:"items,omitempty"`
	Specifics []ProjectSpecificResponse `json:"specifics,omitempty"`
}
