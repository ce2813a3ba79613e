package rate

import "errors"

var (
	// ErrRateLimited is returned once a login failure budget is used up.
	ErrRateLimited = errors.New("too many failed logins")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
