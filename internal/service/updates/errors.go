package updates

import "errors"

// Sentinel errors for the updates service layer.
var (
	ErrNotFound         = errors.New("update not found")
	ErrForbidden        = errors.New("update is owned by another user")
	ErrAlreadyProcessed = errors.New("update has already been processed")
)
