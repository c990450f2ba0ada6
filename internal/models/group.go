package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	GroupStatusForming   = "forming"
	GroupStatusFormed    = "formed"
	GroupStatusBidding   = "bidding"
	GroupStatusSettled   = "settled"
	GroupStatusDissolved = "dissolved"
	GroupStatusExpired   = "expired"
)

type Group struct {
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
	CreatedBy         uuid.UUID  `json:"created_by"`
	AdminID           uuid.UUID  `json:"admin_id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsBiddable reports whether contractors may still attach offers to the group.
func (g *Group) IsBiddable() bool {
	return g.Status == GroupStatusFormed || g.Status == GroupStatusBidding
}

func (g *Group) IsTerminal() bool {
	switch g.Status {
	case GroupStatusSettled, GroupStatusDissolved, GroupStatusExpired:
		return true
	}
	return false
}
