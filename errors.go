package arxivauth

import (
	"errors"

	"github.com/arxiv/arxiv-auth/domain"
	"github.com/arxiv/arxiv-auth/internal/rate"
	"github.com/arxiv/arxiv-auth/jwt"
	"github.com/arxiv/arxiv-auth/legacy"
	"github.com/arxiv/arxiv-auth/session"
)

// The error taxonomy shared by every component. Errors returned from this
// package and its sub-packages match these with errors.Is.
var (
	// ErrInvalidToken marks a claims or pointer token that failed signature or
	// structural checks, or whose stored record does not match it.
	ErrInvalidToken = jwt.ErrInvalidToken
	// ErrInvalidCookie marks a malformed or tampered classic cookie.
	ErrInvalidCookie = legacy.ErrInvalidCookie
	// ErrUnknownSession means no record exists for the session.
	ErrUnknownSession = domain.ErrUnknownSession
	// ErrSessionExpired means the record exists but has ended.
	ErrSessionExpired = domain.ErrSessionExpired
	// ErrSessionCreationFailed is a store failure while creating a session.
	ErrSessionCreationFailed = domain.ErrSessionCreationFailed
	// ErrSessionDeletionFailed is a store failure while ending or removing a session.
	ErrSessionDeletionFailed = domain.ErrSessionDeletionFailed
	// ErrUnavailable means the classic database could not be reached.
	ErrUnavailable = legacy.ErrUnavailable
	// ErrRedisUnavailable means the key-value session store could not be reached.
	ErrRedisUnavailable = session.ErrRedisUnavailable
	// ErrAuthenticationFailed is returned by a UserStore for bad credentials.
	ErrAuthenticationFailed = legacy.ErrAuthenticationFailed

	// ErrMissingPrincipal marks a decoded session with neither a user nor a client.
	ErrMissingPrincipal = errors.New("session has no principal")
	// ErrLoginThrottled is returned by Login after too many failed attempts.
	ErrLoginThrottled = rate.ErrRateLimited
	// ErrAccountUnverified is returned by Login for users who have not verified their email.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrConfig marks invalid configuration.
	ErrConfig = errors.New("invalid configuration")
)

const (
	// ReasonExpired is the client-visible reason for an ended session.
	ReasonExpired = "session expired"
	// ReasonNotAuthenticated is the client-visible reason for every other failure.
	ReasonNotAuthenticated = "not authenticated"
)

// PublicReason maps err to the reason shown to clients. Only expiry is
// distinguished; forged, unknown and malformed credentials all read the same.
func PublicReason(err error) string {
	if errors.Is(err, ErrSessionExpired) {
		return ReasonExpired
	}
	return ReasonNotAuthenticated
}

// IsUnavailable reports whether err is a store outage rather than a
// credential problem.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRedisUnavailable)
}
