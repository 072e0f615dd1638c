package db

import (
	"fmt"
)

// Hooks are optional per-connection callbacks dispatched synchronously by
// the transaction coordinator. Commit runs after the outermost
// transaction commits; Rollback runs after it rolls back. Nested savepoint
// releases and rollbacks do not fire hooks.
type Hooks struct {
	Commit   func()
	Rollback func()
}

// BeginTransaction opens a nested transaction level. At depth zero with
// immediate=true it issues BEGIN IMMEDIATE, grabbing the write lock up
// front; deferred transactions acquire locks lazily on first access. Every
// level is bracketed by a savepoint named sp_<depth>, so inner levels can
// roll back without disturbing the work of enclosing ones.
//
// On success the depth increases by exactly one. If the savepoint fails at
// depth zero after an immediate BEGIN, the BEGIN is rolled back before the
// error returns, leaving no partial state.
func (c *Conn) BeginTransaction(immediate bool) error {
	if c.closed {
		return c.misuse(ErrClosed)
	}
	if c.txnDepth == 0 {
		if immediate {
			if !c.eng.Autocommit() {
				return c.misuse(ErrAlreadyInTransaction)
			}
			if err := c.execControl("BEGIN IMMEDIATE"); err != nil {
				return err
			}
		}
		c.txnImmediate = immediate
	}

	if err := c.execControl(fmt.Sprintf("SAVEPOINT sp_%d", c.txnDepth+1)); err != nil {
		if c.txnDepth == 0 && immediate {
			if rbErr := c.execControl("ROLLBACK"); rbErr != nil {
				Logf("[WARN] db: rollback after failed savepoint: %v", rbErr)
			}
		}
		return err
	}
	c.txnDepth++
	return nil
}

// EndTransaction closes the innermost transaction level. With commit=false
// it first issues ROLLBACK TO SAVEPOINT, which undoes the level's changes
// but leaves the savepoint on the stack, then releases it; with commit=true
// only the release runs. Depth decreases by exactly one.
//
// When the outermost level closes and it was begun immediate, a final
// COMMIT or ROLLBACK ends the real transaction. If that COMMIT fails the
// depth is raised back to one and the error surfaces: the transaction is
// still open from the caller's point of view, because nothing was
// persisted.
//
// Calling EndTransaction at depth zero is a programming error and fails
// with ErrUnderflow.
func (c *Conn) EndTransaction(commit bool) error {
	if c.closed {
		return c.misuse(ErrClosed)
	}
	if c.txnDepth == 0 {
		return c.misuse(ErrUnderflow)
	}

	if !commit {
		// ROLLBACK TO restarts the savepoint but does not pop it; the
		// RELEASE below is still required. https://sqlite.org/lang_savepoint.html
		if err := c.execControl(fmt.Sprintf("ROLLBACK TO SAVEPOINT sp_%d", c.txnDepth)); err != nil {
			return err
		}
	}
	if err := c.execControl(fmt.Sprintf("RELEASE SAVEPOINT sp_%d", c.txnDepth)); err != nil {
		return err
	}

	c.txnDepth--
	if c.txnDepth == 0 {
		if c.txnImmediate {
			cmd := "ROLLBACK"
			if commit {
				cmd = "COMMIT"
			}
			if err := c.execControl(cmd); err != nil {
				c.txnDepth++
				return err
			}
		}
		if commit {
			if c.hooks.Commit != nil {
				c.hooks.Commit()
			}
		} else if c.hooks.Rollback != nil {
			c.hooks.Rollback()
		}
	}
	return nil
}

// execControl runs one transaction-control statement through the statement
// cache. The control strings repeat per depth level, so caching them saves
// recompilation on every nested begin/end.
func (c *Conn) execControl(sql string) error {
	cs, err := c.cache.Compile(sql)
	if err != nil {
		return err
	}
	defer cs.Release()
	return cs.Exec()
}

// Transaction is a scoped guard over one begin/end pair. Acquire it with
// Begin, then either Commit explicitly or let a deferred Rollback undo the
// level:
//
//	tx, err := conn.Begin(true)
//	if err != nil { return err }
//	defer tx.Rollback()
//	...
//	return tx.Commit()
//
// A single-use flag guarantees the underlying end runs at most once, so the
// deferred Rollback is a no-op after a successful Commit.
type Transaction struct {
	c    *Conn
	done bool
}

// Begin opens a transaction level and returns its guard.
func (c *Conn) Begin(immediate bool) (*Transaction, error) {
	if err := c.BeginTransaction(immediate); err != nil {
		return nil, err
	}
	return &Transaction{c: c}, nil
}

// Commit ends the level keeping its changes.
func (t *Transaction) Commit() error {
	if t.done {
		return t.c.misuse(ErrUnderflow)
	}
	t.done = true
	return t.c.EndTransaction(true)
}

// Rollback ends the level discarding its changes. After Commit, or after a
// prior Rollback, it is a no-op, which makes it safe to defer
// unconditionally.
func (t *Transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.c.EndTransaction(false)
}
