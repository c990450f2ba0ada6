package dto

import (
	"time"

	"github.com/google/uuid"
)

type CriterionRequest struct {
	Name       string     `json:"name"`
	Kind       string     `json:"kind"`
	Field      string     `json:"field"`
	Required   bool       `json:"required"`
	MinValue   *float64   `json:"min_value,omitempty"`
	MaxValue   *float64   `json:"max_value,omitempty"`
	BoolValue  *bool      `json:"bool_value,omitempty"`
	TextValue  *string    `json:"text_value,omitempty"`
	DateAfter  *time.Time `json:"date_after,omitempty"`
	DateBefore *time.Time `json:"date_before,omitempty"`
}

type CreateGroupRequest struct {
	Name              string             `json:"name"`
	Category          string             `json:"category"`
	Region            string             `json:"region"`
	ZipCode           string             `json:"zip_code"`
	RadiusKm          int                `json:"radius_km"`
	MinMembers        int                `json:"min_members"`
	MaxMembers        int                `json:"max_members"`
	TargetSavingsPct  int                `json:"target_savings_pct"`
	FormationDeadline time.Time          `json:"formation_deadline"`
	BidDeadline       time.Time          `json:"bid_deadline"`
	AutoClose         bool               `json:"auto_close"`
	Criteria          []CriterionRequest `json:"criteria,omitempty"`
}

type GroupResponse struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	Category          string     `json:"category"`
	Region            string     `json:"region"`
	ZipCode           string     `json:"zip_code"`
	RadiusKm          int        `json:"radius_km"`
	MinMembers        int        `json:"min_members"`
	MaxMembers        int        `json:"max_members"`
	CurrentMembers    int        `json:"current_members"`
	TargetSavingsPct  int        `json:"target_savings_pct"`
	Status            string     `json:"status"`
	FormationDeadline time.Time  `json:"formation_deadline"`
	BidDeadline       time.Time  `json:"bid_deadline"`
	AutoClose         bool       `json:"auto_close"`
	AcceptedBidID     *uuid.UUID `json:"accepted_bid_id,omitempty"`
	AdminID           uuid.UUID  `json:"admin_id"`
	CreatedAt         time.Time  `json:"created_at"`
}

type DissolveGroupRequest struct {
	Reason string `json:"reason"`
}

type DissolveGroupResponse struct {
	Group         GroupResponse `json:"group"`
	WithdrawnBids []uuid.UUID   `json:"withdrawn_bids,omitempty"`
	RefundsIssued int           `json:"refunds_issued"`
}
