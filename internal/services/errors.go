package services

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrGroupNotFound      = errors.New("group not found")
	ErrBidNotFound        = errors.New("group bid not found")
	ErrMemberNotFound     = errors.New("member not found")
	ErrAcceptanceNotFound = errors.New("acceptance not found")

	// Validation errors: rejected synchronously, no state change.
	ErrInsufficientMembers = errors.New("group has fewer members than its minimum")
	ErrIncompleteCoverage  = errors.New("bid does not cover every group member")
	ErrDuplicateAcceptance = errors.New("member already holds a live acceptance for this bid")
	ErrInvalidExtension    = errors.New("extension must move the deadline forward")

	// State-conflict errors: the caller raced a transition; the handler
	// returns the current authoritative state alongside these.
	ErrGroupNotForming          = errors.New("group is no longer forming")
	ErrGroupFull                = errors.New("group is at its member limit")
	ErrGroupNotBiddable         = errors.New("group is not open for bids")
	ErrGroupTerminal            = errors.New("group is in a terminal state")
	ErrBidNotActive             = errors.New("bid is not open for acceptance")
	ErrBidAlreadyAccepted       = errors.New("bid has already been accepted")
	ErrAcceptanceDeadlinePassed = errors.New("acceptance deadline has passed")
	ErrNotGroupAdmin            = errors.New("caller is not the group admin")
)

// CriteriaError reports the first required joining criterion the candidate
// failed.
type CriteriaError struct {
	Criterion string
}

func (e *CriteriaError) Error() string {
	return fmt.Sprintf("candidate does not satisfy criterion %q", e.Criterion)
}

// StateError wraps a state-conflict sentinel with the authoritative state at
// the time of rejection so the caller can refresh.
type StateError struct {
	Err           error
	CurrentStatus string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s (current status: %s)", e.Err, e.CurrentStatus)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

func stateErr(err error, status string) error {
	return &StateError{Err: err, CurrentStatus: status}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
