package engine

import (
	"fmt"
	"math"
	"time"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// Stmt is one compiled statement. It owns the C copy of its SQL text and
// any C strings bound into it; both are released by Finalize. A Stmt is
// reusable: Reset rewinds the cursor, ClearBindings drops parameter values.
type Stmt struct {
	c     *Conn
	sql   string
	psql  uintptr
	pstmt uintptr

	// C allocations for text/blob bindings, freed on ClearBindings or
	// Finalize. Bindings survive Reset, so the allocations must too.
	allocs []uintptr
}

// SQL returns the exact text the statement was compiled from.
func (s *Stmt) SQL() string { return s.sql }

// Step advances execution. It returns row=true when a result row is
// available, row=false on completion. Lock contention surfaces as a busy or
// locked Error after the connection's busy timeout elapses.
func (s *Stmt) Step() (row bool, err error) {
	switch rc := sqlite3.Xsqlite3_step(s.c.tls, s.pstmt); rc {
	case sqlite3.SQLITE_ROW:
		return true, nil
	case sqlite3.SQLITE_DONE:
		return false, nil
	default:
		return false, s.c.error(rc, "step")
	}
}

// Exec steps the statement to completion, discarding rows, and resets it.
func (s *Stmt) Exec() error {
	for {
		row, err := s.Step()
		if err != nil {
			_ = s.Reset()
			return err
		}
		if !row {
			return s.Reset()
		}
	}
}

// Reset rewinds the statement so it can run again. Parameter bindings are
// retained, per the engine's contract.
func (s *Stmt) Reset() error {
	if rc := sqlite3.Xsqlite3_reset(s.c.tls, s.pstmt); rc != sqlite3.SQLITE_OK {
		return s.c.error(rc, "reset")
	}
	return nil
}

// ClearBindings sets every parameter back to NULL and releases the C memory
// backing text and blob bindings.
func (s *Stmt) ClearBindings() error {
	rc := sqlite3.Xsqlite3_clear_bindings(s.c.tls, s.pstmt)
	for _, p := range s.allocs {
		s.c.free(p)
	}
	s.allocs = s.allocs[:0]
	if rc != sqlite3.SQLITE_OK {
		return s.c.error(rc, "clear bindings")
	}
	return nil
}

// Finalize destroys the compiled statement and releases all C memory it
// owns. The Stmt must not be used afterwards.
func (s *Stmt) Finalize() error {
	if s.pstmt == 0 {
		return nil
	}
	for _, p := range s.allocs {
		s.c.free(p)
	}
	s.allocs = nil
	err := s.c.finalize(s.pstmt)
	s.pstmt = 0
	s.c.free(s.psql)
	s.psql = 0
	return err
}

// BindParameterCount returns the number of parameters in the statement.
func (s *Stmt) BindParameterCount() int {
	return int(sqlite3.Xsqlite3_bind_parameter_count(s.c.tls, s.pstmt))
}

// BindNull binds NULL to the 1-based parameter i.
func (s *Stmt) BindNull(i int) error {
	if rc := sqlite3.Xsqlite3_bind_null(s.c.tls, s.pstmt, int32(i)); rc != sqlite3.SQLITE_OK {
		return s.c.error(rc, "bind null")
	}
	return nil
}

// BindInt64 binds v to the 1-based parameter i.
func (s *Stmt) BindInt64(i int, v int64) error {
	if rc := sqlite3.Xsqlite3_bind_int64(s.c.tls, s.pstmt, int32(i), v); rc != sqlite3.SQLITE_OK {
		return s.c.error(rc, "bind int64")
	}
	return nil
}

// BindDouble binds v to the 1-based parameter i.
func (s *Stmt) BindDouble(i int, v float64) error {
	if rc := sqlite3.Xsqlite3_bind_double(s.c.tls, s.pstmt, int32(i), v); rc != sqlite3.SQLITE_OK {
		return s.c.error(rc, "bind double")
	}
	return nil
}

// BindText binds v to the 1-based parameter i. The C copy of v lives until
// the bindings are cleared or the statement is finalized.
func (s *Stmt) BindText(i int, v string) error {
	p, err := libc.CString(v)
	if err != nil {
		return err
	}
	if rc := sqlite3.Xsqlite3_bind_text(s.c.tls, s.pstmt, int32(i), p, int32(len(v)), 0); rc != sqlite3.SQLITE_OK {
		s.c.free(p)
		return s.c.error(rc, "bind text")
	}
	s.allocs = append(s.allocs, p)
	return nil
}

// BindBlob binds v to the 1-based parameter i. Like BindText, the C copy is
// owned by the statement until bindings are cleared.
func (s *Stmt) BindBlob(i int, v []byte) error {
	if len(v) == 0 {
		// Zero-length blob, distinct from NULL.
		if rc := sqlite3.Xsqlite3_bind_blob(s.c.tls, s.pstmt, int32(i), 0, 0, 0); rc != sqlite3.SQLITE_OK {
			return s.c.error(rc, "bind blob")
		}
		return nil
	}
	p, err := s.c.malloc(len(v))
	if err != nil {
		return err
	}
	copy((*libc.RawMem)(unsafe.Pointer(p))[:len(v):len(v)], v)
	if rc := sqlite3.Xsqlite3_bind_blob(s.c.tls, s.pstmt, int32(i), p, int32(len(v)), 0); rc != sqlite3.SQLITE_OK {
		s.c.free(p)
		return s.c.error(rc, "bind blob")
	}
	s.allocs = append(s.allocs, p)
	return nil
}

// Bind binds args to parameters 1..len(args), converting basic Go types.
// Richer host-type marshaling is deliberately out of scope; callers needing
// it should convert before binding.
func (s *Stmt) Bind(args ...interface{}) error {
	for i, arg := range args {
		var err error
		switch v := arg.(type) {
		case nil:
			err = s.BindNull(i + 1)
		case int:
			err = s.BindInt64(i+1, int64(v))
		case int32:
			err = s.BindInt64(i+1, int64(v))
		case int64:
			err = s.BindInt64(i+1, v)
		case uint32:
			err = s.BindInt64(i+1, int64(v))
		case uint64:
			if v > math.MaxInt64 {
				return fmt.Errorf("engine: uint64 value %d overflows parameter %d", v, i+1)
			}
			err = s.BindInt64(i+1, int64(v))
		case bool:
			n := int64(0)
			if v {
				n = 1
			}
			err = s.BindInt64(i+1, n)
		case float64:
			err = s.BindDouble(i+1, v)
		case float32:
			err = s.BindDouble(i+1, float64(v))
		case string:
			err = s.BindText(i+1, v)
		case []byte:
			err = s.BindBlob(i+1, v)
		case time.Time:
			err = s.BindInt64(i+1, v.Unix())
		default:
			return fmt.Errorf("engine: unsupported bind type %T for parameter %d", arg, i+1)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ColumnCount returns the number of columns in the current result row.
func (s *Stmt) ColumnCount() int {
	return int(sqlite3.Xsqlite3_column_count(s.c.tls, s.pstmt))
}

// ColumnName returns the name of the 0-based column i.
func (s *Stmt) ColumnName(i int) string {
	return libc.GoString(sqlite3.Xsqlite3_column_name(s.c.tls, s.pstmt, int32(i)))
}

// ColumnType returns the engine type code (SQLITE_INTEGER, ...) of column i.
func (s *Stmt) ColumnType(i int) int {
	return int(sqlite3.Xsqlite3_column_type(s.c.tls, s.pstmt, int32(i)))
}

// ColumnIsNull reports whether column i of the current row is NULL.
func (s *Stmt) ColumnIsNull(i int) bool {
	return s.ColumnType(i) == sqlite3.SQLITE_NULL
}

// ColumnInt64 returns column i of the current row as an int64.
func (s *Stmt) ColumnInt64(i int) int64 {
	return sqlite3.Xsqlite3_column_int64(s.c.tls, s.pstmt, int32(i))
}

// ColumnDouble returns column i of the current row as a float64.
func (s *Stmt) ColumnDouble(i int) float64 {
	return sqlite3.Xsqlite3_column_double(s.c.tls, s.pstmt, int32(i))
}

// ColumnText returns column i of the current row as a string. The bytes are
// copied out of engine memory before the next Step can invalidate them.
func (s *Stmt) ColumnText(i int) string {
	p := sqlite3.Xsqlite3_column_text(s.c.tls, s.pstmt, int32(i))
	n := int(sqlite3.Xsqlite3_column_bytes(s.c.tls, s.pstmt, int32(i)))
	if p == 0 || n == 0 {
		return ""
	}
	b := make([]byte, n)
	copy(b, (*libc.RawMem)(unsafe.Pointer(p))[:n:n])
	return string(b)
}

// ColumnBlob returns a copy of column i of the current row.
func (s *Stmt) ColumnBlob(i int) []byte {
	p := sqlite3.Xsqlite3_column_blob(s.c.tls, s.pstmt, int32(i))
	n := int(sqlite3.Xsqlite3_column_bytes(s.c.tls, s.pstmt, int32(i)))
	if p == 0 || n == 0 {
		return nil
	}
	b := make([]byte, n)
	copy(b, (*libc.RawMem)(unsafe.Pointer(p))[:n:n])
	return b
}
