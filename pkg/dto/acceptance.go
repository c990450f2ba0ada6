package dto

import (
	"time"

	"github.com/google/uuid"
)

type AcceptanceResponse struct {
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
}

// PaymentWebhookRequest is the gateway's asynchronous settlement callback.
type PaymentWebhookRequest struct {
	PendingRef string `json:"pending_ref"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}
