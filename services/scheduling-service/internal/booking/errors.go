package booking

import "errors"

// Domain errors returned by the booking service. Handlers map these to HTTP
// statuses; anything else is an infrastructure failure and surfaces as a 500
// without automatic retry (a blind retry of a booking write risks duplicates).
var (
	// ErrValidation marks malformed input, rejected before any store access.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a referenced practitioner/patient/area/appointment that
	// does not exist or does not belong to the caller's tenant.
	ErrNotFound = errors.New("not found")

	// ErrSlotUnavailable marks an overlap with an existing booking, detected
	// either by the pre-check or by the storage constraints. Surfaced
	// distinctly so callers can offer a "pick another time" flow.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrInvalidTransition marks a status change that is not in the lifecycle
	// table. The appointment is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrForbidden marks a caller lacking the role or relationship the action
	// requires.
	ErrForbidden = errors.New("forbidden")
)
