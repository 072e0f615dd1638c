package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/viant/sqlite-pool/engine"
)

func TestCacheReusesHandle(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.ExecScript("CREATE TABLE t(x)"))

	cs1, err := c.Compile("INSERT INTO t(x) VALUES (?)")
	require.NoError(t, err)
	first := cs1.Stmt
	require.NoError(t, cs1.Release())

	cs2, err := c.Compile("INSERT INTO t(x) VALUES (?)")
	require.NoError(t, err)
	require.Same(t, first, cs2.Stmt)
	require.NoError(t, cs2.Release())

	require.Equal(t, 1, c.cache.Len())
}

func TestCacheDistinctTexts(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.ExecScript("CREATE TABLE t(x)"))

	// Texts differing only in whitespace are distinct keys.
	cs1, err := c.Compile("SELECT x FROM t")
	require.NoError(t, err)
	require.NoError(t, cs1.Release())
	cs2, err := c.Compile("SELECT  x  FROM  t")
	require.NoError(t, err)
	require.NoError(t, cs2.Release())

	require.Equal(t, 2, c.cache.Len())
}

func TestCacheBindingIndependence(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.ExecScript("CREATE TABLE t(x)"))
	require.NoError(t, c.Exec("INSERT INTO t(x) VALUES (?)", "first"))

	// A recheckout of the same text must not observe the earlier binding.
	cs, err := c.Compile("INSERT INTO t(x) VALUES (?)")
	require.NoError(t, err)
	require.NoError(t, cs.Exec())
	require.NoError(t, cs.Release())

	v, ok, err := c.SelectText("SELECT x FROM t ORDER BY rowid LIMIT 1 OFFSET 1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, v) // NULL, not "first"
}

func TestCacheTransientOnConcurrentCheckout(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.ExecScript("CREATE TABLE t(x)"))
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Exec("INSERT INTO t(x) VALUES (?)", i))
	}

	const q = "SELECT x FROM t ORDER BY x"
	outer, err := c.Compile(q)
	require.NoError(t, err)

	// Second checkout of the same text while the first is live gets its own
	// handle with an independent cursor.
	inner, err := c.Compile(q)
	require.NoError(t, err)
	require.NotSame(t, outer.Stmt, inner.Stmt)

	row, err := outer.Step()
	require.NoError(t, err)
	require.True(t, row)
	require.Equal(t, int64(0), outer.ColumnInt64(0))

	row, err = inner.Step()
	require.NoError(t, err)
	require.True(t, row)
	require.Equal(t, int64(0), inner.ColumnInt64(0))

	require.NoError(t, inner.Release())
	require.Equal(t, 1, c.cache.Len())

	// The outer cursor is unaffected by the transient's release.
	row, err = outer.Step()
	require.NoError(t, err)
	require.True(t, row)
	require.Equal(t, int64(1), outer.ColumnInt64(0))
	require.NoError(t, outer.Release())
}

func TestCacheReleaseIdempotent(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.ExecScript("CREATE TABLE t(x)"))

	cs, err := c.Compile("SELECT x FROM t")
	require.NoError(t, err)
	require.NoError(t, cs.Release())
	require.NoError(t, cs.Release())

	// The handle is available again after the first release.
	again, err := c.Compile("SELECT x FROM t")
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestCacheMalformedSQL(t *testing.T) {
	c := openTest(t)

	_, err := c.Compile("SELEKT 1")
	require.Error(t, err)
	var e *engine.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "prepare", e.Loc)
	require.Zero(t, c.cache.Len())
}

func TestCacheCompileAfterClose(t *testing.T) {
	c, err := Open(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Compile("SELECT 1")
	require.ErrorIs(t, err, ErrClosed)
}
