package booking

import "errors"

// Every failing operation leaves the collection unchanged. Callers match with errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("offer not found")
	ErrCapacityExceeded = errors.New("ride full")
	ErrInvalidState     = errors.New("invalid offer state")
)
