// Package engine is the low-level boundary to the embedded SQLite library.
// It wraps the pure-Go translation in modernc.org/sqlite/lib with a small,
// typed surface: opening and closing database handles, compiling and
// stepping statements, binding parameters, reading columns, and the
// diagnostic accessors the layers above need (last error code/message,
// autocommit state, read-only state, busy timeout).
//
// Nothing in this package is synchronized; a Conn and the Stmts compiled
// from it must be used by one goroutine at a time. Higher layers (db, pool)
// own that contract.
package engine
