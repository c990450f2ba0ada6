package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AcceptanceStatusPendingPayment = "pending_payment"
	AcceptanceStatusConfirmed      = "confirmed"
	AcceptanceStatusFailed         = "failed"
	AcceptanceStatusRevoked        = "revoked"
)

// Acceptance is one member's payment-backed commitment to a group bid. Only
// confirmed acceptances count toward quorum, and a member holds at most one
// live (pending or confirmed) acceptance per bid.
type Acceptance struct {
	ID              uuid.UUID  `json:"id"`
	BidID           uuid.UUID  `json:"bid_id"`
	MemberID        uuid.UUID  `json:"member_id"`
	Status          string     `json:"status"`
	AmountCents     int64      `json:"amount_cents"`
	PaymentRef      *string    `json:"payment_ref,omitempty"`
	PaymentAttempts int        `json:"payment_attempts"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (a *Acceptance) IsLive() bool {
	return a.Status == AcceptanceStatusPendingPayment || a.Status == AcceptanceStatusConfirmed
}
