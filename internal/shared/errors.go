package shared

import "errors"

// Error kinds shared by every module. Domain errors wrap one of these so the
// HTTP layer can map them without knowing each package's sentinels.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates the caller supplied an unusable request.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the request collides with existing state.
	ErrConflict = errors.New("conflict")
)
