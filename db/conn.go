package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/viant/sqlite-pool/engine"
)

// Misuse-tier errors. These report programming mistakes, not transient
// conditions; they are never worth retrying.
var (
	// ErrClosed is returned by every operation on a closed connection.
	ErrClosed = errors.New("db: connection is closed")

	// ErrUnderflow is returned by EndTransaction without a matching begin.
	ErrUnderflow = errors.New("db: transaction underflow")

	// ErrAlreadyInTransaction is returned when an immediate begin finds a
	// transaction already open on the engine handle outside the
	// coordinator's tracking. It signals the handle was mutated behind the
	// coordinator's back.
	ErrAlreadyInTransaction = errors.New("db: already in a transaction")
)

// IsMisuse reports whether err belongs to the misuse tier.
func IsMisuse(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrUnderflow) ||
		errors.Is(err, ErrAlreadyInTransaction)
}

// DefaultBusyTimeout is applied to every new connection unless overridden.
const DefaultBusyTimeout = 5 * time.Second

// OpenOptions configure a single connection.
type OpenOptions struct {
	// Flags for the engine open call. Zero means read-write, create if
	// missing, URI filenames allowed.
	Flags engine.OpenFlags

	// VFS names an alternative VFS module; empty for the default.
	VFS string

	// BusyTimeout bounds the engine's internal wait on a conflicting lock
	// before a busy error surfaces. Zero means DefaultBusyTimeout; negative
	// disables the wait entirely.
	BusyTimeout time.Duration

	// PanicOnMisuse converts misuse-tier errors into panics for callers who
	// prefer that discipline. Engine errors are always returned.
	PanicOnMisuse bool
}

func (o *OpenOptions) flags() engine.OpenFlags {
	if o.Flags == 0 {
		return engine.OpenReadWrite | engine.OpenCreate | engine.OpenURI
	}
	return o.Flags
}

func (o *OpenOptions) busyTimeout() time.Duration {
	switch {
	case o.BusyTimeout == 0:
		return DefaultBusyTimeout
	case o.BusyTimeout < 0:
		return 0
	default:
		return o.BusyTimeout
	}
}

// Conn is one managed connection: an engine handle plus the statement cache
// and transaction state attached to it. Use Open to create one, or borrow
// one from a pool.
type Conn struct {
	eng   *engine.Conn
	cache *StmtCache

	writable bool
	closed   bool

	txnDepth     int
	txnImmediate bool

	hooks         Hooks
	panicOnMisuse bool
}

// Open opens a connection against path (a file path or URI). opts may be
// nil for defaults.
func Open(path string, opts *OpenOptions) (*Conn, error) {
	if opts == nil {
		opts = &OpenOptions{}
	}
	eng, err := engine.Open(path, opts.flags(), opts.VFS)
	if err != nil {
		return nil, err
	}
	if d := opts.busyTimeout(); d > 0 {
		if err := eng.BusyTimeout(d); err != nil {
			_ = eng.Close()
			return nil, err
		}
	}
	c := &Conn{
		eng:           eng,
		writable:      !eng.ReadOnly(),
		panicOnMisuse: opts.PanicOnMisuse,
	}
	c.cache = newStmtCache(c)
	return c, nil
}

// Close invalidates the statement cache, finalizing every compiled
// statement, and then closes the engine handle. The invalidation happens
// synchronously before the engine close, which refuses to run while
// statements are live. Close is idempotent.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	err := c.cache.invalidate()
	if cerr := c.eng.Close(); cerr != nil {
		// The handle is still usable; don't mark closed on a failed close.
		if err != nil {
			Logf("[WARN] db: statement finalize during close: %v", err)
		}
		return cerr
	}
	c.closed = true
	return err
}

// Closed reports whether Close has completed.
func (c *Conn) Closed() bool { return c.closed }

// Writable reports whether this connection can write: it was opened
// read-write and the database file permits writes.
func (c *Conn) Writable() bool { return c.writable }

// TransactionDepth returns the number of BeginTransaction calls not yet
// balanced by EndTransaction.
func (c *Conn) TransactionDepth() int { return c.txnDepth }

// InTransaction reports the engine's own view: whether the handle is inside
// any explicit transaction, including one opened outside the coordinator.
func (c *Conn) InTransaction() bool {
	return !c.closed && !c.eng.Autocommit()
}

// SetHooks installs the per-connection hook table. Pass the zero Hooks to
// remove all hooks.
func (c *Conn) SetHooks(h Hooks) { c.hooks = h }

// SetPanicOnMisuse toggles strict mode: misuse-tier errors panic instead of
// being returned. Configure once, before use.
func (c *Conn) SetPanicOnMisuse(on bool) { c.panicOnMisuse = on }

// misuse routes a misuse-tier error through the connection's configured
// policy.
func (c *Conn) misuse(err error) error {
	if c.panicOnMisuse {
		panic(err)
	}
	return err
}

// BusyTimeout adjusts the engine's lock-wait bound for this connection.
func (c *Conn) BusyTimeout(d time.Duration) error {
	if c.closed {
		return c.misuse(ErrClosed)
	}
	return c.eng.BusyTimeout(d)
}

// Compile returns a compiled statement for sql, reusing the cached handle
// when one exists. The statement comes back with bindings cleared and
// cursor reset; call Release when done to return it to the cache.
func (c *Conn) Compile(sql string) (*CachedStmt, error) {
	return c.cache.Compile(sql)
}

// Exec compiles sql through the statement cache, binds args, and runs it to
// completion.
func (c *Conn) Exec(sql string, args ...interface{}) error {
	cs, err := c.cache.Compile(sql)
	if err != nil {
		return err
	}
	defer cs.Release()
	if err := cs.Bind(args...); err != nil {
		return err
	}
	return cs.Exec()
}

// ExecScript runs a multi-statement SQL script directly, bypassing the
// cache. Useful for schema setup.
func (c *Conn) ExecScript(sql string) error {
	if c.closed {
		return c.misuse(ErrClosed)
	}
	return c.eng.Exec(sql)
}

// Query compiles sql through the cache, binds args, and returns the
// statement positioned before the first row. Step through it and Release it
// when done.
func (c *Conn) Query(sql string, args ...interface{}) (*CachedStmt, error) {
	cs, err := c.cache.Compile(sql)
	if err != nil {
		return nil, err
	}
	if err := cs.Bind(args...); err != nil {
		cs.Release()
		return nil, err
	}
	return cs, nil
}

// SelectInt64 runs a query expected to produce at most one integer value.
// ok is false when the query produced no rows.
func (c *Conn) SelectInt64(sql string, args ...interface{}) (v int64, ok bool, err error) {
	cs, err := c.Query(sql, args...)
	if err != nil {
		return 0, false, err
	}
	defer cs.Release()
	row, err := cs.Step()
	if err != nil || !row {
		return 0, false, err
	}
	return cs.ColumnInt64(0), true, nil
}

// SelectText runs a query expected to produce at most one text value.
func (c *Conn) SelectText(sql string, args ...interface{}) (v string, ok bool, err error) {
	cs, err := c.Query(sql, args...)
	if err != nil {
		return "", false, err
	}
	defer cs.Release()
	row, err := cs.Step()
	if err != nil || !row {
		return "", false, err
	}
	return cs.ColumnText(0), true, nil
}

// LastInsertRowID returns the rowid of the most recent successful insert on
// this connection.
func (c *Conn) LastInsertRowID() int64 {
	if c.closed {
		return 0
	}
	return c.eng.LastInsertRowID()
}

// Changes returns the row count of the most recent statement.
func (c *Conn) Changes() int {
	if c.closed {
		return 0
	}
	return c.eng.Changes()
}

// TotalChanges returns the rows modified over the connection's lifetime.
func (c *Conn) TotalChanges() int {
	if c.closed {
		return 0
	}
	return c.eng.TotalChanges()
}

// Engine exposes the underlying engine handle for boundary operations this
// package does not wrap. The single-caller contract still applies.
func (c *Conn) Engine() *engine.Conn { return c.eng }

// String identifies the connection in logs.
func (c *Conn) String() string {
	mode := "ro"
	if c.writable {
		mode = "rw"
	}
	return fmt.Sprintf("db.Conn(%s, depth=%d)", mode, c.txnDepth)
}
