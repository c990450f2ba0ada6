package dto

import (
	"time"

	"github.com/google/uuid"
)

type JoinGroupRequest struct {
	ProjectID uuid.UUID `json:"project_id"`
}

type EvaluateJoinRequest struct {
	ProjectID uuid.UUID `json:"project_id"`
}

type EvaluationResponse struct {
	Admit            bool     `json:"admit"`
	FailingCriterion string   `json:"failing_criterion,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

type MemberResponse struct {
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
}

type CandidateResponse struct {
	ProjectID  uuid.UUID          `json:"project_id"`
	Evaluation EvaluationResponse `json:"evaluation"`
}
