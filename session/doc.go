// Package session provides the Redis-backed session store.
//
// # Storage
//
// Each session is stored as the JSON form of [domain.SessionRecord] under its session ID
// (optionally prefixed), with no key expiry. Expiry is decided at load time from the
// record's end_time and the pointer cookie's expires claim; stale records stay until an
// explicit [Store.Delete].
//
// # Cookies
//
// [Store.Create] returns a signed pointer cookie ({user_id|client_id, session_id, nonce,
// expires}). The nonce in the cookie must match the stored record exactly.
//
// # Load order
//
// decode, then existence ([domain.ErrUnknownSession]), then integrity
// ([jwt.ErrInvalidToken]), then expiry ([domain.ErrSessionExpired] joined with
// [jwt.ErrInvalidToken]).
//
// # What this package must NOT do
//
//   - Import the root arxivauth package or legacy (no upward or sideways imports).
//   - Retry writes.
package session
