package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SQLExecutor implements Executor over database/sql.
//
// When to use:
//   - Any sink whose driver registers with database/sql (sqlite, sqlserver,
//     mysql/memsql, snowflake, h2 via a bridge).
//
// Edge cases:
//   - One *sql.Conn is pinned for the executor's lifetime so that session
//     state (temp tables, transactions) is consistent across statements.
//   - Close is idempotent and safe to call after a failed statement; an open
//     transaction is rolled back first.
//
// Errors:
//   - Statement errors are returned wrapped with the failing SQL position.
//   - Rollback failures are logged, never returned, so the original cause
//     reaches the caller.
type SQLExecutor struct {
	conn   dbConn
	tx     txConn
	logger Logger

	closeOnce sync.Once
	closeErr  error
}

// NewSQLExecutor pins a connection from db.
//
// The caller keeps ownership of db; Close releases only the pinned
// connection.
func NewSQLExecutor(ctx context.Context, db *sql.DB, logger Logger) (*SQLExecutor, error) {
	if db == nil {
		return nil, fmt.Errorf("executor: nil *sql.DB")
	}
	c, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("executor: acquire connection: %w", err)
	}
	return newSQLExecutor(&sqlConn{c: c}, logger), nil
}

func newSQLExecutor(c dbConn, logger Logger) *SQLExecutor {
	return &SQLExecutor{conn: c, logger: LoggerOrDiscard(logger)}
}

// BeginTransaction starts a caller-managed transaction.
func (e *SQLExecutor) BeginTransaction(ctx context.Context) error {
	if e.tx != nil {
		return fmt.Errorf("executor: transaction already open")
	}
	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("executor: begin: %w", err)
	}
	e.tx = tx
	return nil
}

// CommitTransaction commits the open transaction.
func (e *SQLExecutor) CommitTransaction(context.Context) error {
	if e.tx == nil {
		return fmt.Errorf("executor: no open transaction")
	}
	tx := e.tx
	e.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("executor: commit: %w", err)
	}
	return nil
}

// RevertTransaction rolls back the open transaction. It is a no-op when no
// transaction is open.
func (e *SQLExecutor) RevertTransaction(context.Context) error {
	if e.tx == nil {
		return nil
	}
	tx := e.tx
	e.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("executor: rollback: %w", err)
	}
	return nil
}

// ExecuteStatement runs one statement, inside the open transaction if any.
func (e *SQLExecutor) ExecuteStatement(ctx context.Context, stmt string) (int64, error) {
	return e.ExecuteStatementArgs(ctx, stmt)
}

// ExecuteStatementArgs runs one statement with bind arguments.
func (e *SQLExecutor) ExecuteStatementArgs(ctx context.Context, stmt string, args ...any) (int64, error) {
	start := time.Now()
	res, err := e.execer().ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("executor: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		n = 0
	}
	e.logger.Printf("stage=exec ok rows=%d duration=%s", n, durMS(start))
	return n, nil
}

// ExecuteStatements runs stmts in order. Outside a caller-managed
// transaction the batch is wrapped in its own transaction.
func (e *SQLExecutor) ExecuteStatements(ctx context.Context, stmts []string) error {
	if len(stmts) == 0 {
		return nil
	}
	if e.tx != nil {
		for i, s := range stmts {
			if _, err := e.tx.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("executor: statement %d: %w", i+1, err)
			}
		}
		return nil
	}

	start := time.Now()
	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("executor: begin: %w", err)
	}
	for i, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				e.logger.Printf("stage=exec rollback failed err=%v", rbErr)
			}
			return fmt.Errorf("executor: statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("executor: commit: %w", err)
	}
	e.logger.Printf("stage=exec ok statements=%d duration=%s", len(stmts), durMS(start))
	return nil
}

// ExecuteQuery runs a query and materializes every row.
func (e *SQLExecutor) ExecuteQuery(ctx context.Context, query string) (TabularData, error) {
	rows, err := e.execer().QueryContext(ctx, query)
	if err != nil {
		return TabularData{}, fmt.Errorf("executor: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return TabularData{}, fmt.Errorf("executor: columns: %w", err)
	}
	out := TabularData{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return TabularData{}, fmt.Errorf("executor: scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return TabularData{}, fmt.Errorf("executor: rows: %w", err)
	}
	return out, nil
}

// Close rolls back any open transaction and releases the connection.
func (e *SQLExecutor) Close() error {
	e.closeOnce.Do(func() {
		if e.tx != nil {
			if err := e.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				e.logger.Printf("stage=close rollback failed err=%v", err)
			}
			e.tx = nil
		}
		e.closeErr = e.conn.Close()
	})
	return e.closeErr
}

func (e *SQLExecutor) execer() execer {
	if e.tx != nil {
		return e.tx
	}
	return e.conn
}

// durMS truncates a duration to milliseconds for log lines.
func durMS(start time.Time) time.Duration {
	return time.Since(start).Truncate(time.Millisecond)
}

// ---- database/sql seam types ----

// execer is the statement surface shared by connections and transactions.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// dbConn is a small interface over *sql.Conn used to make this package
// testable.
type dbConn interface {
	execer
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	execer
	Commit() error
	Rollback() error
}

// sqlConn wraps *sql.Conn to implement dbConn.
type sqlConn struct {
	c *sql.Conn
}

func (s *sqlConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.c.ExecContext(ctx, query, args...)
}

func (s *sqlConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.c.QueryContext(ctx, query, args...)
}

func (s *sqlConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.c.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlConn) Close() error { return s.c.Close() }

// compile-time sanity checks (no runtime cost).
var (
	_ dbConn      = (*sqlConn)(nil)
	_ txConn      = (*sql.Tx)(nil)
	_ Executor    = (*SQLExecutor)(nil)
	_ ArgExecutor = (*SQLExecutor)(nil)
)
