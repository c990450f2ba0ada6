package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MemberStatusActive  = "active"
	MemberStatusLeft    = "left"
	MemberStatusRemoved = "removed"
)

// Member binds one candidate bid card (and its owning user) to a group.
type Member struct {
	ID           uuid.UUID `json:"id"`
	GroupID      uuid.UUID `json:"group_id"`
	ProjectID    uuid.UUID `json:"project_id"`
	UserID       uuid.UUID `json:"user_id"`
	Status       string    `json:"status"`
	IsAdmin      bool      `json:"is_admin"`
	IsFounding   bool      `json:"is_founding"`
	SavingsCents *int64    `json:"savings_cents,omitempty"`
	Visible      bool      `json:"visible"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
