// Package all registers every sink dialect. Import it for side effects:
//
//	import _ "ingest/internal/sink/all"
package all

import (
	_ "ingest/internal/sink/ansi"
	_ "ingest/internal/sink/bigquery"
	_ "ingest/internal/sink/h2"
	_ "ingest/internal/sink/memsql"
	_ "ingest/internal/sink/mssql"
	_ "ingest/internal/sink/postgres"
	_ "ingest/internal/sink/snowflake"
	_ "ingest/internal/sink/sqlite"
)
