package engine

import (
	"errors"
	"fmt"

	sqlite3 "modernc.org/sqlite/lib"
)

// Error is a failure reported by the SQLite library. Code is the extended
// result code when the handle had extended codes enabled (always the case
// for connections opened through this package), Loc names the call that
// failed, and Msg is the engine's diagnostic message at the time of the
// failure.
type Error struct {
	Code int
	Loc  string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("engine: %s: error code %d", e.Loc, e.Code)
	}
	return fmt.Sprintf("engine: %s: %s (%d)", e.Loc, e.Msg, e.Code)
}

// Primary returns the primary result code, with any extended bits stripped.
func (e *Error) Primary() int { return e.Code & 0xff }

func code(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Primary()
	}
	return 0
}

// IsBusy reports whether err is the engine's SQLITE_BUSY response: another
// connection holds a conflicting lock. Retryable by the caller.
func IsBusy(err error) bool { return code(err) == sqlite3.SQLITE_BUSY }

// IsLocked reports whether err is the engine's SQLITE_LOCKED response.
// Like busy, it signals contention and is retryable by the caller.
func IsLocked(err error) bool { return code(err) == sqlite3.SQLITE_LOCKED }

// IsContention reports whether err is either busy or locked.
func IsContention(err error) bool { return IsBusy(err) || IsLocked(err) }

// IsConstraint reports whether err is a constraint violation. This is an
// expected application-level condition and is never retried by this module.
func IsConstraint(err error) bool { return code(err) == sqlite3.SQLITE_CONSTRAINT }

// IsReadOnly reports whether err signals an attempted write through a
// read-only connection.
func IsReadOnly(err error) bool { return code(err) == sqlite3.SQLITE_READONLY }
