package sqlite

import (
	"context"
	"fmt"
	"strings"

	"ingest/internal/catalog"
	"ingest/internal/executor"
	"ingest/internal/logical"
	"ingest/internal/physical"
)

// Pragma implements catalog.Introspector with SQLite's table-valued pragma
// functions. The ref's group, when set, names an attached schema; the
// database part is ignored.
type Pragma struct {
	Exec executor.Executor
}

var _ catalog.Introspector = (*Pragma)(nil)

func pragmaArgs(name string, ref logical.DatasetRef) string {
	args := physical.QuoteString(name)
	if ref.Group != "" {
		args += ", " + physical.QuoteString(ref.Group)
	}
	return args
}

func (p *Pragma) DoesTableExist(ctx context.Context, ref logical.DatasetRef) (bool, error) {
	q := "SELECT COUNT(*) as cnt FROM pragma_table_info(" + pragmaArgs(ref.Name, ref) + ")"
	data, err := p.Exec.ExecuteQuery(ctx, q)
	if err != nil {
		return false, fmt.Errorf("sqlite: table exists %s: %w", ref, err)
	}
	n, _ := catalog.AsInt64(data.FirstValue())
	return n > 0, nil
}

func (p *Pragma) GetColumns(ctx context.Context, ref logical.DatasetRef) ([]catalog.Column, error) {
	q := `SELECT cid, name, type, "notnull" as not_null FROM pragma_table_info(` + pragmaArgs(ref.Name, ref) + `) ORDER BY cid`
	data, err := p.Exec.ExecuteQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: columns %s: %w", ref, err)
	}
	out := make([]catalog.Column, 0, len(data.Rows))
	for _, r := range data.Rows {
		cid, _ := catalog.AsInt64(r["cid"])
		notNull, _ := catalog.AsInt64(r["not_null"])
		out = append(out, catalog.Column{
			Name:     catalog.AsString(r["name"]),
			TypeName: catalog.AsString(r["type"]),
			Nullable: notNull == 0,
			Ordinal:  int(cid) + 1,
		})
	}
	return out, nil
}

func (p *Pragma) GetPrimaryKeys(ctx context.Context, ref logical.DatasetRef) ([]string, error) {
	q := "SELECT name FROM pragma_table_info(" + pragmaArgs(ref.Name, ref) + ") WHERE pk > 0 ORDER BY pk"
	data, err := p.Exec.ExecuteQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: primary keys %s: %w", ref, err)
	}
	out := make([]string, 0, len(data.Rows))
	for _, r := range data.Rows {
		out = append(out, catalog.AsString(r["name"]))
	}
	return out, nil
}

// GetIndexInfo lists secondary and UNIQUE indexes. The automatic index
// backing the primary key is skipped.
func (p *Pragma) GetIndexInfo(ctx context.Context, ref logical.DatasetRef) ([]catalog.IndexInfo, error) {
	q := `SELECT name, "unique" as is_unique, origin FROM pragma_index_list(` + pragmaArgs(ref.Name, ref) + `) ORDER BY seq`
	data, err := p.Exec.ExecuteQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: indexes %s: %w", ref, err)
	}
	var out []catalog.IndexInfo
	for _, r := range data.Rows {
		if strings.EqualFold(catalog.AsString(r["origin"]), "pk") {
			continue
		}
		name := catalog.AsString(r["name"])
		unique, _ := catalog.AsInt64(r["is_unique"])
		cols, err := p.Exec.ExecuteQuery(ctx, "SELECT name FROM pragma_index_info("+pragmaArgs(name, ref)+") ORDER BY seqno")
		if err != nil {
			return nil, fmt.Errorf("sqlite: index %s columns: %w", name, err)
		}
		ix := catalog.IndexInfo{Name: name, Unique: unique == 1}
		for _, c := range cols.Rows {
			ix.Columns = append(ix.Columns, catalog.AsString(c["name"]))
		}
		out = append(out, ix)
	}
	return out, nil
}
