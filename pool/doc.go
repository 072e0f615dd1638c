// Package pool manages a bounded set of connections opened lazily against
// one database file, for multi-goroutine use. The single-writer nature of
// the engine is reflected in the pool's shape: one writable slot, plus
// read-only slots up to the configured capacity.
//
// Borrowed connections belong to exactly one borrower at a time; the
// statement cache and transaction coordinator attached to them are not
// synchronized. Writable borrows are serviced in strict arrival order;
// read-only borrows carry no ordering guarantee relative to each other.
//
// The pool's registry lock covers only O(1) slot bookkeeping, never a
// connection open, compile, or step.
package pool
