// Package arxivauth ties the arXiv session components together.
//
// Two session stores back one logical session concept: the key-value store
// in package session (primary) and the classic relational store in package
// legacy (a compatibility bridge, optional). [Service.Login] writes to both;
// [Resolver] reads from the request in a fixed order:
//
//  1. Authorization: Bearer <claims token>, verified by package jwt.
//  2. The session pointer cookie, loaded from the key-value store.
//  3. Each classic cookie present, loaded from the classic store; the first
//     that validates wins.
//
// # Errors
//
// The error taxonomy is re-exported here ([ErrInvalidToken],
// [ErrUnknownSession], [ErrSessionExpired], [ErrUnavailable], ...).
// [PublicReason] gives the only text that may reach a client: expiry is
// distinguishable, every other failure is "not authenticated".
//
// # Construction
//
// Use [New] and [Builder.Build]; configuration comes from [LoadConfig].
package arxivauth
