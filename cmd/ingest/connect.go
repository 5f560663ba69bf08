package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ingest/internal/config"
	"ingest/internal/executor"
	"ingest/internal/sink/bigquery"
	"ingest/internal/sink/memsql"
	"ingest/internal/sink/mssql"
	"ingest/internal/sink/postgres"
	"ingest/internal/sink/sqlite"
)

// connect opens an executor for the configured sink. The returned func
// releases everything connect opened.
func connect(ctx context.Context, in config.Ingestion, logger executor.Logger) (executor.Executor, func() error, error) {
	switch in.SinkName {
	case "sqlite":
		db, err := sqlite.Open(ctx, in.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: open: %w", err)
		}
		return pinned(ctx, db, logger)
	case "mssql":
		db, err := mssql.Open(in.DSN)
		if err != nil {
			return nil, nil, err
		}
		return pinned(ctx, db, logger)
	case "memsql":
		db, err := memsql.Open(in.DSN)
		if err != nil {
			return nil, nil, err
		}
		return pinned(ctx, db, logger)
	case "postgres":
		ex, err := postgres.Open(ctx, in.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return ex, ex.Close, nil
	case "bigquery":
		ex, err := bigquery.Open(ctx, in.Project, logger)
		if err != nil {
			return nil, nil, err
		}
		return ex, ex.Close, nil
	}
	return nil, nil, fmt.Errorf("sink %s has no driver in this binary; use plan to render its SQL", in.SinkName)
}

func pinned(ctx context.Context, db *sql.DB, logger executor.Logger) (executor.Executor, func() error, error) {
	ex, err := executor.NewSQLExecutor(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return ex, func() error { return errors.Join(ex.Close(), db.Close()) }, nil
}
