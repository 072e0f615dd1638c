package db

import (
	"github.com/go-pkgz/lgr"
)

// logger is the process-wide log destination for this module. It defaults
// to lgr's standard logger and is shared by the db and pool packages.
var logger lgr.L = lgr.Default()

// SetLogger replaces the process-wide logger. There is a single
// registration point and no implicit reset; the replacement stays in effect
// until the next call. Replacing the logger is not itself thread-safe
// against concurrent logging calls; install it during initialization,
// before connections or pools are in use.
func SetLogger(l lgr.L) { logger = l }

// Logf writes to the module's logger with lgr's level-in-brackets
// convention, e.g. Logf("[WARN] ..."). Exported for the pool package and
// for callers that want their diagnostics routed the same way.
func Logf(format string, args ...interface{}) { logger.Logf(format, args...) }
