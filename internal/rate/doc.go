// Package rate throttles failed logins with Redis fixed-window counters.
//
// Each failure runs INCR, and EXPIRE on the first hit of a window. Keys:
//   - al:<username>  failures per login name
//   - ali:<ip>       failures per client address, when PerIP is set
//
// A login is refused once a counter reaches MaxAttempts and until its
// window expires.
package rate
