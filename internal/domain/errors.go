package domain

import "errors"

// Error kinds surfaced to callers. Handlers map them with errors.Is, so wrap with %w.
var (
	ErrInvalidTransition  = errors.New("Invalid transition")
	ErrUnauthorized       = errors.New("Unauthorized")
	ErrInsufficientFunds  = errors.New("Insufficient funds")
	ErrDuplicateReference = errors.New("Duplicate reference")
	ErrNotReviewable      = errors.New("Deliverable is not reviewable in the current project state")
	ErrBusy               = errors.New("Resource busy, retry")

	ErrNotFound       = errors.New("Not found")
	ErrInvalidInput   = errors.New("Invalid input")
	ErrUnbalanced     = errors.New("Posting does not balance")
	ErrAlreadySettled = errors.New("Escrow already settled for this project")
	ErrAccountFrozen  = errors.New("Account is frozen pending consistency review")
	ErrConsistency    = errors.New("Ledger consistency alarm")
)
