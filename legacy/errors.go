package legacy

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
)

var (
	// ErrInvalidCookie is returned for malformed or tampered classic cookies.
	ErrInvalidCookie = errors.New("invalid classic cookie")
	// ErrUnavailable means the classic database could not be reached.
	ErrUnavailable = errors.New("classic database unavailable")
	// ErrAuthenticationFailed is returned when credentials do not match a usable account.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrNoSuchUser is returned when a user ID has no account.
	ErrNoSuchUser = errors.New("no such user")
	// ErrUnsupportedPasswordStorage is returned, wrapped with
	// ErrAuthenticationFailed, for password rows not in the salted SHA-1 format.
	ErrUnsupportedPasswordStorage = errors.New("unsupported password storage")
)

const (
	mysqlTooManyConnections = 1040
	mysqlServerShutdown     = 1053
	mysqlLockWaitTimeout    = 1205
	sqliteBusy              = 5
	sqliteLocked            = 6
)

// isUnavailable reports whether err is a connection-level failure rather than
// a query or data problem.
func isUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlTooManyConnections, mysqlServerShutdown, mysqlLockWaitTimeout:
			return true
		}
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		}
	}
	return false
}

// classify wraps err with kind, adding ErrUnavailable for connection failures.
func classify(kind, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%w: %w: %v", kind, ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", kind, err)
}

// readErr wraps a failed read: connection failures become ErrUnavailable.
func readErr(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return fmt.Errorf("legacy: %s: %w", op, err)
}
