// Package db layers connection management over the engine boundary: a Conn
// owns one open engine handle together with a statement cache and a nested
// transaction coordinator built on savepoints.
//
// A Conn and everything compiled from it belong to exactly one caller at a
// time. The cache and the coordinator are deliberately unsynchronized;
// sharing a Conn between goroutines without external ordering corrupts
// statement state at the engine level. The pool package enforces this
// contract by handing each borrowed connection to a single borrower.
//
// Errors split into two tiers. Engine failures (busy, locked, constraint,
// I/O) are returned verbatim as *engine.Error and can be classified with
// the engine package helpers. Misuse, such as ending a transaction that was
// never begun or operating on a closed connection, is returned as one of the
// sentinel errors in this package, or raised as a panic when strict mode is
// enabled once per connection.
package db
