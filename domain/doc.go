// Package domain defines the session value types shared by every arXiv auth component:
// [Session], its principals ([User], [Client]) and its [Authorizations].
//
// # Wire mapping
//
// Each value type has one declared record type (SessionRecord, UserRecord, ...) carrying the
// JSON field names used on the wire and in the key-value store. Conversion is explicit in both
// directions; nothing is inferred reflectively. [FromRecord] rejects structurally malformed
// records with [ErrMalformedRecord] instead of returning a partially populated session.
//
// # What this package must NOT do
//
//   - Perform I/O or sign anything.
//   - Import jwt, session, legacy, or the root package.
package domain
