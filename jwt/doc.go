// Package jwt signs and verifies the two token shapes carried by arXiv session cookies
// and headers: the full claims token (every field of a [domain.Session]) and the small
// pointer token ({user_id|client_id, session_id, nonce, expires}) that references a
// server-side session record.
//
// Both use HS256 with an allow-list of one algorithm and strict base64 decoding, so a
// single flipped character in any segment fails verification. Every failure is reported
// as [ErrInvalidToken]; a token never decodes to a partially populated session.
package jwt
