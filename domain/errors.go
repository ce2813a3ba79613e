package domain

import "errors"

// Session store outcomes shared by the key-value and relational stores.
var (
	// ErrUnknownSession means no stored record exists for the session.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionExpired means the record exists but its end time has passed.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionCreationFailed wraps store failures while writing a new session.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSessionDeletionFailed wraps store failures while invalidating or deleting a session.
	ErrSessionDeletionFailed = errors.New("session deletion failed")
)
