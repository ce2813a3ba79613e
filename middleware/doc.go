// Package middleware adapts [arxivauth.Resolver] to net/http.
//
//   - [Authenticate] resolves every request and attaches the result.
//   - [RequireAuth] rejects anonymous requests with 401 {"reason": ...}.
//   - [RequireScope] additionally requires a scope, answering 403 without it.
//
// # What this package must NOT do
//
//   - Parse tokens or cookies itself (the Resolver does).
//   - Tell clients why a credential failed beyond arxivauth.PublicReason.
package middleware
