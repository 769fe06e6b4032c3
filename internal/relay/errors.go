package relay

import "errors"

var (
	ErrMissingField = errors.New("register message missing required field")
	ErrUnknownRole  = errors.New("unknown role, want driver or viewer")
)
