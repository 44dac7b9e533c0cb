package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("campaign state conflict")
)

// User-facing guard messages. Tests and API consumers match on these
// exact strings.
const (
	MsgScheduleInFuture = "Scheduled time must be in the future"
	MsgUpdateSent       = "Cannot update a sent campaign"
	MsgDeleteSending    = "Cannot delete a campaign that is currently being sent"
)
