package executor

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) Printf(format string, v ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, format)
}

func (c *captureLogger) contains(s string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if strings.Contains(l, s) {
			return true
		}
	}
	return false
}

func newMockExecutor(t *testing.T, logger Logger) (*SQLExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ex, err := NewSQLExecutor(context.Background(), db, logger)
	require.NoError(t, err)
	return ex, mock
}

func TestExecuteStatementsAutoTransactionCommits(t *testing.T) {
	ex, mock := newMockExecutor(t, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "main"`)).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "main"`)).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := ex.ExecuteStatements(context.Background(), []string{`DELETE FROM "main"`, `INSERT INTO "main" ("a") (SELECT 1)`})
	require.NoError(t, err)
	require.NoError(t, ex.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteStatementsRollsBackOnFailure(t *testing.T) {
	ex, mock := newMockExecutor(t, nil)

	cause := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectExec("DELETE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT").WillReturnError(cause)
	mock.ExpectRollback()

	err := ex.ExecuteStatements(context.Background(), []string{"DELETE FROM t", "INSERT INTO t SELECT 1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "statement 2")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackFailureIsLoggedNotReturned(t *testing.T) {
	logger := &captureLogger{}
	ex, mock := newMockExecutor(t, logger)

	cause := errors.New("constraint violated")
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnError(cause)
	mock.ExpectRollback().WillReturnError(errors.New("connection lost"))

	err := ex.ExecuteStatements(context.Background(), []string{"UPDATE t SET a = 1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.NotContains(t, err.Error(), "connection lost")
	assert.True(t, logger.contains("rollback failed"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCallerManagedTransaction(t *testing.T) {
	ex, mock := newMockExecutor(t, nil)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	require.NoError(t, ex.BeginTransaction(ctx))
	require.Error(t, ex.BeginTransaction(ctx), "nested begin must fail")

	n, err := ex.ExecuteStatement(ctx, "UPDATE t SET a = 1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, ex.ExecuteStatements(ctx, []string{"INSERT INTO t SELECT 1"}))
	require.NoError(t, ex.RevertTransaction(ctx))
	require.NoError(t, ex.RevertTransaction(ctx), "revert without a transaction is a no-op")
	require.Error(t, ex.CommitTransaction(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteQueryMaterializesRows(t *testing.T) {
	ex, mock := newMockExecutor(t, nil)

	rows := sqlmock.NewRows([]string{"id", "name"}).
		AddRow(int64(1), []byte("a")).
		AddRow(int64(2), nil)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id","name" FROM "t"`)).WillReturnRows(rows)

	data, err := ex.ExecuteQuery(context.Background(), `SELECT "id","name" FROM "t"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, data.Columns)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, "a", data.Rows[0]["name"])
	assert.Nil(t, data.Rows[1]["name"])
	assert.Equal(t, int64(1), data.FirstValue())
	assert.Equal(t, "a", data.Value("name"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseIsIdempotentAndRollsBack(t *testing.T) {
	ex, mock := newMockExecutor(t, nil)

	mock.ExpectBegin()
	mock.ExpectRollback()

	require.NoError(t, ex.BeginTransaction(context.Background()))
	require.NoError(t, ex.Close())
	require.NoError(t, ex.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPlaceholders(t *testing.T) {
	t.Parallel()

	sql := `SELECT * FROM t WHERE s >= {DATA_SPLIT_LOWER_BOUND_PLACEHOLDER} AND s <= {DATA_SPLIT_UPPER_BOUND_PLACEHOLDER} AND x = '{KEEP}'`
	got := ApplyPlaceholders(sql, map[string]string{
		"DATA_SPLIT_LOWER_BOUND_PLACEHOLDER": "2",
		"DATA_SPLIT_UPPER_BOUND_PLACEHOLDER": "3",
	})
	assert.Equal(t, `SELECT * FROM t WHERE s >= 2 AND s <= 3 AND x = '{KEEP}'`, got)
	assert.Equal(t, "x", ApplyPlaceholders("x", nil))

	all := ApplyPlaceholdersAll([]string{"{A}", "{B}"}, map[string]string{"A": "1", "B": "2"})
	assert.Equal(t, []string{"1", "2"}, all)
}
