package engine

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"modernc.org/libc"
	"modernc.org/libc/sys/types"
	sqlite3 "modernc.org/sqlite/lib"
)

// OpenFlags select how a database handle is opened. Values mirror the
// engine's SQLITE_OPEN_* constants and may be OR-ed together.
type OpenFlags int32

const (
	OpenReadOnly  OpenFlags = sqlite3.SQLITE_OPEN_READONLY
	OpenReadWrite OpenFlags = sqlite3.SQLITE_OPEN_READWRITE
	OpenCreate    OpenFlags = sqlite3.SQLITE_OPEN_CREATE
	OpenURI       OpenFlags = sqlite3.SQLITE_OPEN_URI
	OpenMemory    OpenFlags = sqlite3.SQLITE_OPEN_MEMORY
	OpenNoMutex   OpenFlags = sqlite3.SQLITE_OPEN_NOMUTEX
	OpenFullMutex OpenFlags = sqlite3.SQLITE_OPEN_FULLMUTEX
)

const ptrSize = unsafe.Sizeof(uintptr(0))

// Conn is one open engine handle. It owns a libc thread-local-storage
// instance for the lifetime of the handle and is not safe for concurrent
// use, with the exception of Interrupt.
type Conn struct {
	tls *libc.TLS
	db  uintptr

	// Guards db against the race between Close and Interrupt, which may be
	// invoked from another goroutine to cancel a blocked step.
	mu sync.Mutex
}

// Open opens a database handle against path with the given flags. vfs names
// an alternative VFS module and is usually empty. Extended result codes are
// enabled on the returned handle so Error.Code carries the full diagnostic.
func Open(path string, flags OpenFlags, vfs string) (conn *Conn, err error) {
	c := &Conn{tls: libc.NewTLS()}

	var zPath, zVfs, ppDB uintptr
	defer func() {
		c.free(zPath)
		c.free(zVfs)
		c.free(ppDB)
		if err != nil && c.tls != nil {
			c.tls.Close()
		}
	}()

	if zPath, err = libc.CString(path); err != nil {
		return nil, err
	}
	if vfs != "" {
		if zVfs, err = libc.CString(vfs); err != nil {
			return nil, err
		}
	}
	if ppDB, err = c.malloc(int(ptrSize)); err != nil {
		return nil, err
	}

	if rc := sqlite3.Xsqlite3_open_v2(c.tls, zPath, ppDB, int32(flags), zVfs); rc != sqlite3.SQLITE_OK {
		// A handle may be allocated even on failure; it carries the message.
		db := *(*uintptr)(unsafe.Pointer(ppDB))
		err = &Error{Code: int(rc), Loc: "open", Msg: c.errmsgAt(db)}
		if db != 0 {
			sqlite3.Xsqlite3_close_v2(c.tls, db)
		}
		return nil, err
	}
	c.db = *(*uintptr)(unsafe.Pointer(ppDB))

	if rc := sqlite3.Xsqlite3_extended_result_codes(c.tls, c.db, 1); rc != sqlite3.SQLITE_OK {
		err = c.error(rc, "extended result codes")
		sqlite3.Xsqlite3_close_v2(c.tls, c.db)
		c.db = 0
		return nil, err
	}
	return c, nil
}

// Close closes the handle. The engine refuses to close while compiled
// statements remain live; in that case Close fails with a busy Error and
// the handle stays usable. Callers must finalize all statements first;
// the db layer's statement cache does this as part of its invalidation.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == 0 {
		return nil
	}
	// Plain sqlite3_close, not _v2: _v2 would silently defer the close past
	// live statements and break the invalidate-before-close ordering.
	if rc := sqlite3.Xsqlite3_close(c.tls, c.db); rc != sqlite3.SQLITE_OK {
		return c.error(rc, "close")
	}
	c.db = 0
	c.tls.Close()
	c.tls = nil
	return nil
}

// Closed reports whether Close has completed on this handle.
func (c *Conn) Closed() bool { return c.db == 0 }

// Exec compiles and runs sql without a statement cache. It accepts scripts
// of multiple statements separated by semicolons and discards any rows.
// The transaction coordinator routes single control statements (SAVEPOINT,
// RELEASE, COMMIT, ...) through the cache instead; Exec is the fallback for
// one-shot and multi-statement work.
func (c *Conn) Exec(sql string) error {
	zSQL, err := libc.CString(sql)
	if err != nil {
		return err
	}
	defer c.free(zSQL)

	next := zSQL
	for *(*byte)(unsafe.Pointer(next)) != 0 {
		pstmt, err := c.prepare(&next)
		if err != nil {
			return err
		}
		if pstmt == 0 { // comment or whitespace
			continue
		}
		for {
			rc := sqlite3.Xsqlite3_step(c.tls, pstmt)
			if rc == sqlite3.SQLITE_ROW {
				continue
			}
			if rc != sqlite3.SQLITE_DONE {
				err = c.error(rc, "step")
			}
			break
		}
		if ferr := c.finalize(pstmt); err == nil {
			err = ferr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Prepare compiles a single statement. Trailing content after the first
// statement is rejected, since a compiled-and-cached statement handle can
// only represent one statement.
func (c *Conn) Prepare(sql string) (*Stmt, error) {
	zSQL, err := libc.CString(sql)
	if err != nil {
		return nil, err
	}
	next := zSQL
	pstmt, err := c.prepare(&next)
	if err != nil {
		c.free(zSQL)
		return nil, err
	}
	if pstmt == 0 || *(*byte)(unsafe.Pointer(next)) != 0 {
		if pstmt != 0 {
			_ = c.finalize(pstmt)
		}
		c.free(zSQL)
		return nil, fmt.Errorf("engine: Prepare wants exactly one statement: %q", sql)
	}
	return &Stmt{c: c, psql: zSQL, pstmt: pstmt, sql: sql}, nil
}

// prepare compiles the statement at *zSQL and advances *zSQL past it.
// Returns pstmt 0 (and no error) when the input held no statement.
func (c *Conn) prepare(zSQL *uintptr) (uintptr, error) {
	ppstmt, err := c.malloc(int(ptrSize))
	if err != nil {
		return 0, err
	}
	defer c.free(ppstmt)
	pptail, err := c.malloc(int(ptrSize))
	if err != nil {
		return 0, err
	}
	defer c.free(pptail)

	if rc := sqlite3.Xsqlite3_prepare_v2(c.tls, c.db, *zSQL, -1, ppstmt, pptail); rc != sqlite3.SQLITE_OK {
		return 0, c.error(rc, "prepare")
	}
	*zSQL = *(*uintptr)(unsafe.Pointer(pptail))
	return *(*uintptr)(unsafe.Pointer(ppstmt)), nil
}

func (c *Conn) finalize(pstmt uintptr) error {
	if rc := sqlite3.Xsqlite3_finalize(c.tls, pstmt); rc != sqlite3.SQLITE_OK {
		return c.error(rc, "finalize")
	}
	return nil
}

// BusyTimeout installs the engine's built-in busy handler: steps that hit a
// conflicting lock retry internally for up to d before surfacing busy.
func (c *Conn) BusyTimeout(d time.Duration) error {
	if rc := sqlite3.Xsqlite3_busy_timeout(c.tls, c.db, int32(d.Milliseconds())); rc != sqlite3.SQLITE_OK {
		return c.error(rc, "busy timeout")
	}
	return nil
}

// Autocommit reports whether the handle is outside any explicit
// transaction. It is the defensive check the transaction coordinator uses
// to detect state opened behind its back.
func (c *Conn) Autocommit() bool {
	return sqlite3.Xsqlite3_get_autocommit(c.tls, c.db) != 0
}

// ReadOnly reports whether the main database is read-only, either because
// the handle was opened that way or because the file is not writable.
func (c *Conn) ReadOnly() bool {
	zMain, err := libc.CString("main")
	if err != nil {
		return false
	}
	defer c.free(zMain)
	return sqlite3.Xsqlite3_db_readonly(c.tls, c.db, zMain) == 1
}

// LastInsertRowID returns the rowid of the most recent successful insert.
func (c *Conn) LastInsertRowID() int64 {
	return sqlite3.Xsqlite3_last_insert_rowid(c.tls, c.db)
}

// Changes returns the number of rows modified by the most recent statement.
func (c *Conn) Changes() int {
	return int(sqlite3.Xsqlite3_changes(c.tls, c.db))
}

// TotalChanges returns the number of rows modified since the handle opened.
func (c *Conn) TotalChanges() int {
	return int(sqlite3.Xsqlite3_total_changes(c.tls, c.db))
}

// LastErrorCode returns the extended result code of the most recent failure.
func (c *Conn) LastErrorCode() int {
	return int(sqlite3.Xsqlite3_extended_errcode(c.tls, c.db))
}

// LastErrorMessage returns the engine's most recent diagnostic message.
func (c *Conn) LastErrorMessage() string { return c.errmsgAt(c.db) }

// Interrupt aborts any statement currently stepping on this handle. It is
// the only method safe to call from another goroutine.
func (c *Conn) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != 0 {
		sqlite3.Xsqlite3_interrupt(c.tls, c.db)
	}
}

// error builds an *Error from a result code, folding in the handle's
// extended code and message when available.
func (c *Conn) error(rc int32, loc string) error {
	code := int(rc)
	if c.db != 0 {
		if ext := sqlite3.Xsqlite3_extended_errcode(c.tls, c.db); ext&0xff == rc&0xff {
			code = int(ext)
		}
	}
	msg := c.errmsgAt(c.db)
	if msg == "" {
		msg = libc.GoString(sqlite3.Xsqlite3_errstr(c.tls, rc))
	}
	return &Error{Code: code, Loc: loc, Msg: msg}
}

func (c *Conn) errmsgAt(db uintptr) string {
	if db == 0 {
		return ""
	}
	return libc.GoString(sqlite3.Xsqlite3_errmsg(c.tls, db))
}

func (c *Conn) malloc(n int) (uintptr, error) {
	if p := libc.Xmalloc(c.tls, types.Size_t(n)); p != 0 || n == 0 {
		return p, nil
	}
	return 0, fmt.Errorf("engine: cannot allocate %d bytes", n)
}

func (c *Conn) free(p uintptr) {
	if p != 0 {
		libc.Xfree(c.tls, p)
	}
}
