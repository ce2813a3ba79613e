// Package internal contains helpers that are private to the arxiv-auth module:
// nonce and salt generation.
//
// # Sub-packages
//
//   - logging: zap logger construction shared by the CLI and tests
//   - rate: Redis fixed-window throttle for failed logins
//   - audit: buffered delivery of login and logout events
//
// Types from audit reach the public API only through aliases in the root
// package.
package internal
