// Package legacy bridges the classic relational session system.
//
// It owns three things:
//
//   - [CookieCodec]: the six-field colon-delimited classic cookie
//     (session_id:user_id:ip:issued_at:capabilities:signature).
//   - [Store]: classic session rows in tapir_sessions plus their
//     tapir_sessions_audit companion, created in one transaction.
//   - [Users]: the classic user store (salted SHA-1 passwords).
//
// Issued-at values are UNIX seconds measured from the epoch expressed in
// US/Eastern; decoded times carry that location. An end_time of 0 marks an
// open session.
//
// Connection-level database failures are reported as [ErrUnavailable] so
// callers can fall back to the key-value session store. Only loads are
// retried; writes never are.
package legacy
