package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viant/sqlite-pool/engine"
)

func openTest(t *testing.T) *Conn {
	t.Helper()
	c, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOpenDefaults(t *testing.T) {
	c := openTest(t)
	require.True(t, c.Writable())
	require.False(t, c.Closed())
	require.Zero(t, c.TransactionDepth())
	require.False(t, c.InTransaction())
}

func TestExecAndSelect(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.ExecScript("CREATE TABLE kv(k TEXT PRIMARY KEY, v TEXT)"))
	require.NoError(t, c.Exec("INSERT INTO kv(k, v) VALUES (?, ?)", "a", "1"))
	require.NoError(t, c.Exec("INSERT INTO kv(k, v) VALUES (?, ?)", "b", "2"))

	v, ok, err := c.SelectText("SELECT v FROM kv WHERE k = ?", "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", v)

	n, ok, err := c.SelectInt64("SELECT count(*) FROM kv")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	_, ok, err = c.SelectText("SELECT v FROM kv WHERE k = ?", "absent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueryIteration(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.ExecScript("CREATE TABLE t(x INTEGER)"))
	for i := 1; i <= 3; i++ {
		require.NoError(t, c.Exec("INSERT INTO t(x) VALUES (?)", i))
	}

	cs, err := c.Query("SELECT x FROM t ORDER BY x")
	require.NoError(t, err)
	defer cs.Release()

	var got []int64
	for {
		row, err := cs.Step()
		require.NoError(t, err)
		if !row {
			break
		}
		got = append(got, cs.ColumnInt64(0))
	}
	require.Equal(t, []int64{1, 2, 3}, got)
}

func TestCloseInvalidatesCacheFirst(t *testing.T) {
	c, err := Open(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, c.ExecScript("CREATE TABLE t(x)"))

	// Leave statements checked out of the cache; Close must still succeed
	// because invalidation finalizes them before the engine close runs.
	_, err = c.Compile("SELECT x FROM t")
	require.NoError(t, err)
	_, err = c.Compile("INSERT INTO t VALUES (1)")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.True(t, c.Closed())

	// Idempotent.
	require.NoError(t, c.Close())
}

func TestOperationsAfterClose(t *testing.T) {
	c, err := Open(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.ErrorIs(t, c.Exec("SELECT 1"), ErrClosed)
	require.ErrorIs(t, c.ExecScript("SELECT 1"), ErrClosed)
	_, err = c.Compile("SELECT 1")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, c.BeginTransaction(true), ErrClosed)
	require.ErrorIs(t, c.EndTransaction(true), ErrClosed)
}

func TestReadOnlyConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")

	rw, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, rw.ExecScript("CREATE TABLE t(x); INSERT INTO t VALUES (9)"))
	require.NoError(t, rw.Close())

	ro, err := Open(path, &OpenOptions{Flags: engine.OpenReadOnly | engine.OpenURI})
	require.NoError(t, err)
	defer ro.Close()

	require.False(t, ro.Writable())
	v, ok, err := ro.SelectInt64("SELECT x FROM t")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), v)

	err = ro.Exec("INSERT INTO t VALUES (1)")
	require.Error(t, err)
	require.True(t, engine.IsReadOnly(err))
}

func TestPanicOnMisuse(t *testing.T) {
	c, err := Open(":memory:", &OpenOptions{PanicOnMisuse: true})
	require.NoError(t, err)
	defer c.Close()

	require.Panics(t, func() { _ = c.EndTransaction(true) })
	// Engine errors stay errors even in strict mode.
	require.NotPanics(t, func() {
		require.Error(t, c.Exec("NOT VALID SQL"))
	})
}

func TestIsMisuse(t *testing.T) {
	require.True(t, IsMisuse(ErrClosed))
	require.True(t, IsMisuse(ErrUnderflow))
	require.True(t, IsMisuse(ErrAlreadyInTransaction))
	require.False(t, IsMisuse(nil))
}
