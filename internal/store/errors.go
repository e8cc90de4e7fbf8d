package store

import "errors"

// ErrUnavailable is returned when the activity database could not be opened.
var ErrUnavailable = errors.New("activity store unavailable")
