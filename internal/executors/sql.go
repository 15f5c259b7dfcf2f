package executors

import (
	"context"
	"database/sql"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/kordes/nodeflow/pkg/schema"
)

// SQLConfig configures the SqlQuery executor.
type SQLConfig struct {
	// DefaultDSN is used when a node omits config.dsn.
	DefaultDSN string
}

// sqlQueryExecutor runs a statement against a libsql database. Mode "query"
// (default) returns rows as []map[string]any on the "rows" port; mode "exec"
// returns rowsAffected.
type sqlQueryExecutor struct {
	cfg SQLConfig
}

func (sqlQueryExecutor) Type() string { return "SqlQuery" }

func (e sqlQueryExecutor) Execute(ctx context.Context, in ExecInput) (*schema.Result, error) {
	query := stringParam(in.Node.Config, "query", "")
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "SqlQuery requires config.query")
	}
	dsn := stringParam(in.Node.Config, "dsn", e.cfg.DefaultDSN)
	if dsn == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "SqlQuery requires config.dsn or an engine-level default DSN")
	}

	// Positional statement arguments from the "params" input.
	var args []any
	if v, ok := in.Inputs["params"]; ok {
		if arr, ok := v.([]any); ok {
			args = arr
		}
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "SqlQuery: open %q: %s", dsn, err.Error()).WithCause(err)
	}
	defer db.Close()

	if stringParam(in.Node.Config, "mode", "query") == "exec" {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "SqlQuery: exec: %s", err.Error()).WithCause(err)
		}
		affected, _ := res.RowsAffected()
		return schema.Continue(map[string]any{"rowsAffected": affected}), nil
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "SqlQuery: query: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "SqlQuery: columns: %s", err.Error()).WithCause(err)
	}

	out := make([]map[string]any, 0, 16)
	for rows.Next() {
		values := make([]any, len(cols))
		scan := make([]any, len(cols))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "SqlQuery: scan: %s", err.Error()).WithCause(err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution, "SqlQuery: rows: %s", err.Error()).WithCause(err)
	}

	return schema.Continue(map[string]any{
		"rows":     out,
		"rowCount": len(out),
	}), nil
}
