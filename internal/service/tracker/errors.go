package tracker

import "errors"

// Sentinel errors for the tracker service layer.
var (
	ErrNotFound      = errors.New("tracker not found")
	ErrRowNotFound   = errors.New("tracker row not found")
	ErrForbidden     = errors.New("tracker is owned by another user")
	ErrDuplicateSlug = errors.New("a tracker with this slug already exists")
)
