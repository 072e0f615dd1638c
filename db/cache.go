package db

import (
	"github.com/hashicorp/go-multierror"

	"github.com/viant/sqlite-pool/engine"
)

// StmtCache maps exact SQL text to a compiled statement handle owned by one
// connection. Entries are created on first compile and reused afterwards;
// the cache grows without bound, which is the intended shape for callers
// that run a small fixed set of statements. All handles are finalized
// atomically when the owning connection closes.
type StmtCache struct {
	conn  *Conn
	stmts map[string]*cacheEntry
}

type cacheEntry struct {
	stmt  *engine.Stmt
	inUse bool
}

// CachedStmt is a compiled statement checked out of the cache. It embeds
// the engine statement, so bind/step/column accessors are available
// directly. Release returns it to the cache (or finalizes it, for the
// transient statements handed out while the cached handle is busy).
type CachedStmt struct {
	*engine.Stmt
	entry    *cacheEntry // nil for transient statements
	released bool
}

func newStmtCache(c *Conn) *StmtCache {
	return &StmtCache{conn: c, stmts: make(map[string]*cacheEntry)}
}

// Compile returns a statement for sql, compiled on first use and cached by
// the exact text. A cached handle is handed out with its cursor reset and
// all bindings cleared. If the cached handle is already checked out, so
// that two live statements for the same text are needed, a fresh transient
// statement is compiled instead and the shared handle is never aliased.
func (sc *StmtCache) Compile(sql string) (*CachedStmt, error) {
	if sc.conn.closed {
		return nil, sc.conn.misuse(ErrClosed)
	}
	if e, ok := sc.stmts[sql]; ok {
		if e.inUse {
			stmt, err := sc.conn.eng.Prepare(sql)
			if err != nil {
				return nil, err
			}
			return &CachedStmt{Stmt: stmt}, nil
		}
		if err := e.stmt.Reset(); err != nil {
			return nil, err
		}
		if err := e.stmt.ClearBindings(); err != nil {
			return nil, err
		}
		e.inUse = true
		return &CachedStmt{Stmt: e.stmt, entry: e}, nil
	}

	stmt, err := sc.conn.eng.Prepare(sql)
	if err != nil {
		return nil, err
	}
	e := &cacheEntry{stmt: stmt, inUse: true}
	sc.stmts[sql] = e
	return &CachedStmt{Stmt: stmt, entry: e}, nil
}

// Len returns the number of distinct SQL texts currently cached.
func (sc *StmtCache) Len() int { return len(sc.stmts) }

// invalidate finalizes every cached handle. Called by Conn.Close before the
// engine handle is closed; the engine refuses to close earlier.
func (sc *StmtCache) invalidate() error {
	var result *multierror.Error
	for _, e := range sc.stmts {
		if err := e.stmt.Finalize(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	sc.stmts = make(map[string]*cacheEntry)
	return result.ErrorOrNil()
}

// Release resets the statement, freeing any locks its cursor held, and
// returns it to the cache. Transient statements are finalized instead.
// Release is idempotent.
func (cs *CachedStmt) Release() error {
	if cs.released {
		return nil
	}
	cs.released = true
	if cs.entry == nil {
		return cs.Stmt.Finalize()
	}
	err := cs.Stmt.Reset()
	cs.entry.inUse = false
	return err
}
