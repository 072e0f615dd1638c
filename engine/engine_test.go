package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Conn {
	t.Helper()
	c, err := Open(":memory:", OpenReadWrite|OpenCreate, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOpenAndExec(t *testing.T) {
	c := openTest(t)

	require.NoError(t, c.Exec("CREATE TABLE t(x INTEGER)"))
	require.NoError(t, c.Exec("INSERT INTO t(x) VALUES (1),(2),(3)"))
	require.Equal(t, 3, c.Changes())
}

func TestExecScript(t *testing.T) {
	c := openTest(t)

	// Multiple statements, comments and blank lines in one script.
	err := c.Exec(`
		CREATE TABLE a(x);
		-- a comment between statements
		CREATE TABLE b(y);
		INSERT INTO a VALUES (42);
	`)
	require.NoError(t, err)
	require.NoError(t, c.Exec("INSERT INTO b SELECT x FROM a"))
}

func TestExecMalformedSQL(t *testing.T) {
	c := openTest(t)

	err := c.Exec("CREATE TABEL t(x)")
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.NotZero(t, e.Code)
	require.NotEmpty(t, e.Msg)
	require.Equal(t, "prepare", e.Loc)
}

func TestPrepareSingleStatementOnly(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.Exec("CREATE TABLE t(x)"))

	_, err := c.Prepare("INSERT INTO t VALUES (1); INSERT INTO t VALUES (2)")
	require.Error(t, err)
}

func TestCloseRefusesWithLiveStatement(t *testing.T) {
	c, err := Open(":memory:", OpenReadWrite|OpenCreate, "")
	require.NoError(t, err)
	require.NoError(t, c.Exec("CREATE TABLE t(x)"))

	stmt, err := c.Prepare("SELECT x FROM t")
	require.NoError(t, err)

	err = c.Close()
	require.Error(t, err)
	require.True(t, IsBusy(err), "close with a live statement should report busy, got %v", err)
	require.False(t, c.Closed())

	// Finalizing the statement unblocks the close.
	require.NoError(t, stmt.Finalize())
	require.NoError(t, c.Close())
	require.True(t, c.Closed())
}

func TestAutocommitTracksTransactions(t *testing.T) {
	c := openTest(t)

	require.True(t, c.Autocommit())
	require.NoError(t, c.Exec("BEGIN IMMEDIATE"))
	require.False(t, c.Autocommit())
	require.NoError(t, c.Exec("COMMIT"))
	require.True(t, c.Autocommit())
}

func TestReadOnlyHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.db")

	rw, err := Open(path, OpenReadWrite|OpenCreate, "")
	require.NoError(t, err)
	require.NoError(t, rw.Exec("CREATE TABLE t(x)"))
	require.False(t, rw.ReadOnly())
	require.NoError(t, rw.Close())

	ro, err := Open(path, OpenReadOnly, "")
	require.NoError(t, err)
	defer ro.Close()
	require.True(t, ro.ReadOnly())

	err = ro.Exec("INSERT INTO t VALUES (1)")
	require.Error(t, err)
	require.True(t, IsReadOnly(err), "want read-only error, got %v", err)
}

func TestOpenMissingFileReadOnly(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.db"), OpenReadOnly, "")
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "open", e.Loc)
}

func TestConstraintClassification(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.Exec("CREATE TABLE t(x INTEGER PRIMARY KEY)"))
	require.NoError(t, c.Exec("INSERT INTO t VALUES (1)"))

	err := c.Exec("INSERT INTO t VALUES (1)")
	require.Error(t, err)
	require.True(t, IsConstraint(err), "want constraint violation, got %v", err)
	require.False(t, IsBusy(err))
}

func TestLastInsertRowID(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.Exec("CREATE TABLE t(x)"))
	require.NoError(t, c.Exec("INSERT INTO t VALUES ('a')"))
	first := c.LastInsertRowID()
	require.NoError(t, c.Exec("INSERT INTO t VALUES ('b')"))
	require.Equal(t, first+1, c.LastInsertRowID())
	require.Equal(t, 2, c.TotalChanges())
}
