package shared

import "errors"

// ErrSessionUnavailable indicates the session backend could not be reached.
var ErrSessionUnavailable = errors.New("session store unavailable")
