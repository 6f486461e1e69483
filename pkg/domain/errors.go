package domain

import "errors"

// ErrGeneratorStopped is returned when an ID is requested from a generator that is not running.
var ErrGeneratorStopped = errors.New("session id generator is not running")

// ErrInvalidSessionID is returned when a session ID is empty or malformed.
var ErrInvalidSessionID = errors.New("invalid session id")

// ErrSessionInvalid is returned when an operation targets an invalidated or expired session.
var ErrSessionInvalid = errors.New("session is no longer valid")

// ErrStoreUnavailable wraps failures talking to the remote session store.
var ErrStoreUnavailable = errors.New("remote session store unavailable")
