package pool

import (
	"context"

	"github.com/viant/sqlite-pool/db"
)

// InTransaction borrows the writable connection, opens a transaction
// (immediate unless Options.DeferredDefault is set), and runs fn inside it.
// A nil error from fn commits; a non-nil error or a panic rolls back.
// The connection goes back to the pool on every exit path, so abandoned
// scopes cannot leak the writable slot.
func (p *Pool) InTransaction(ctx context.Context, fn func(conn *db.Conn) error) error {
	conn, err := p.BorrowWritable(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)

	tx, err := conn.Begin(!p.opts.DeferredDefault)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(conn); err != nil {
		return err
	}
	return tx.Commit()
}

// View borrows a read-only connection and runs fn with it, returning it to
// the pool afterwards. No transaction is opened; reads see whatever state
// the engine exposes at each statement.
func (p *Pool) View(ctx context.Context, fn func(conn *db.Conn) error) error {
	conn, err := p.Borrow(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return fn(conn)
}
