package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingest/internal/executor"
)

/*
Executor implements executor.Executor on one connection acquired from a
pgx pool.

It provides:
  - auto-transaction batches (each ExecuteStatements call commits or rolls
    back as a unit when no transaction is open)
  - caller-managed transactions via BeginTransaction
  - bind arguments for bulk inserts (executor.ArgExecutor)

The connection is pinned so temp tables and transactions see one session.
*/
type Executor struct {
	conn   pgConn
	pool   *pgxpool.Pool // set only when the executor owns the pool
	tx     pgTx
	logger executor.Logger

	closeOnce sync.Once
}

var (
	_ executor.Executor    = (*Executor)(nil)
	_ executor.ArgExecutor = (*Executor)(nil)
)

// NewExecutor acquires a connection from pool. The caller keeps ownership
// of pool; Close releases only the connection.
func NewExecutor(ctx context.Context, pool *pgxpool.Pool, logger executor.Logger) (*Executor, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres: nil pool")
	}
	c, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire connection: %w", err)
	}
	return newExecutor(&poolConn{c: c}, logger), nil
}

// Open creates a pool for dsn and an executor that closes it on Close.
func Open(ctx context.Context, dsn string, logger executor.Logger) (*Executor, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	e, err := NewExecutor(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	e.pool = pool
	return e, nil
}

func newExecutor(c pgConn, logger executor.Logger) *Executor {
	return &Executor{conn: c, logger: executor.LoggerOrDiscard(logger)}
}

func (e *Executor) BeginTransaction(ctx context.Context) error {
	if e.tx != nil {
		return fmt.Errorf("postgres: transaction already open")
	}
	tx, err := e.conn.begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	e.tx = tx
	return nil
}

func (e *Executor) CommitTransaction(ctx context.Context) error {
	if e.tx == nil {
		return fmt.Errorf("postgres: no open transaction")
	}
	tx := e.tx
	e.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (e *Executor) RevertTransaction(ctx context.Context) error {
	if e.tx == nil {
		return nil
	}
	tx := e.tx
	e.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

func (e *Executor) ExecuteStatement(ctx context.Context, sql string) (int64, error) {
	return e.ExecuteStatementArgs(ctx, sql)
}

func (e *Executor) ExecuteStatementArgs(ctx context.Context, sql string, args ...any) (int64, error) {
	start := time.Now()
	tag, err := e.querier().Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: exec: %w", err)
	}
	e.logger.Printf("stage=exec ok rows=%d duration=%s", tag.RowsAffected(), durMS(start))
	return tag.RowsAffected(), nil
}

func (e *Executor) ExecuteStatements(ctx context.Context, sqls []string) error {
	if len(sqls) == 0 {
		return nil
	}
	if e.tx != nil {
		for i, s := range sqls {
			if _, err := e.tx.Exec(ctx, s); err != nil {
				return fmt.Errorf("postgres: statement %d: %w", i+1, err)
			}
		}
		return nil
	}

	start := time.Now()
	tx, err := e.conn.begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	for i, s := range sqls {
		if _, err := tx.Exec(ctx, s); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				e.logger.Printf("stage=exec rollback failed err=%v", rbErr)
			}
			return fmt.Errorf("postgres: statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	e.logger.Printf("stage=exec ok statements=%d duration=%s", len(sqls), durMS(start))
	return nil
}

func (e *Executor) ExecuteQuery(ctx context.Context, sql string) (executor.TabularData, error) {
	rows, err := e.querier().Query(ctx, sql)
	if err != nil {
		return executor.TabularData{}, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	var out executor.TabularData
	for _, fd := range rows.FieldDescriptions() {
		out.Columns = append(out.Columns, fd.Name)
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return executor.TabularData{}, fmt.Errorf("postgres: scan: %w", err)
		}
		row := make(map[string]any, len(out.Columns))
		for i, c := range out.Columns {
			if i < len(vals) {
				row[c] = vals[i]
			}
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return executor.TabularData{}, fmt.Errorf("postgres: rows: %w", err)
	}
	return out, nil
}

// Close rolls back an open transaction, releases the connection and closes
// the pool when the executor created it.
func (e *Executor) Close() error {
	e.closeOnce.Do(func() {
		if e.tx != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := e.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
				e.logger.Printf("stage=close rollback failed err=%v", err)
			}
			cancel()
			e.tx = nil
		}
		e.conn.release()
		if e.pool != nil {
			e.pool.Close()
		}
	})
	return nil
}

func (e *Executor) querier() querier {
	if e.tx != nil {
		return e.tx
	}
	return e.conn
}

func durMS(start time.Time) time.Duration {
	return time.Since(start).Truncate(time.Millisecond)
}

// ---- pgx seam types ----

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgTx interface {
	querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type pgConn interface {
	querier
	begin(ctx context.Context) (pgTx, error)
	release()
}

type poolConn struct {
	c *pgxpool.Conn
}

func (p *poolConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.c.Exec(ctx, sql, args...)
}

func (p *poolConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.c.Query(ctx, sql, args...)
}

func (p *poolConn) begin(ctx context.Context) (pgTx, error) {
	return p.c.Begin(ctx)
}

func (p *poolConn) release() { p.c.Release() }
