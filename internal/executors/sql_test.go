package executors

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kordes/nodeflow/pkg/schema"
)

func TestSqlQueryRequiresQuery(t *testing.T) {
	e := sqlQueryExecutor{}
	_, err := e.Execute(context.Background(), ExecInput{
		Node: execNode("sql", "SqlQuery", nil),
		Run:  newStubRun(t.TempDir()),
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestSqlQueryRequiresDSN(t *testing.T) {
	e := sqlQueryExecutor{}
	_, err := e.Execute(context.Background(), ExecInput{
		Node: execNode("sql", "SqlQuery", map[string]any{"query": "SELECT 1"}),
		Run:  newStubRun(t.TempDir()),
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestSqlQueryExecAndQueryRoundTrip(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	e := sqlQueryExecutor{cfg: SQLConfig{DefaultDSN: dsn}}
	run := newStubRun(t.TempDir())

	for _, stmt := range []string{
		"CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)",
		"INSERT INTO users (name) VALUES ('ada'), ('grace')",
	} {
		_, err := e.Execute(context.Background(), ExecInput{
			Node: execNode("sql", "SqlQuery", map[string]any{"query": stmt, "mode": "exec"}),
			Run:  run,
		})
		require.NoError(t, err)
	}

	result, err := e.Execute(context.Background(), ExecInput{
		Node: execNode("sql", "SqlQuery", map[string]any{
			"query": "SELECT name FROM users WHERE name = ? ORDER BY id",
		}),
		Inputs: map[string]any{"params": []any{"ada"}},
		Run:    run,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Outputs()["rowCount"])
	rows, ok := result.Outputs()["rows"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "ada", rows[0]["name"])
}

func TestSqlQueryExecReportsRowsAffected(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	e := sqlQueryExecutor{cfg: SQLConfig{DefaultDSN: dsn}}
	run := newStubRun(t.TempDir())

	_, err := e.Execute(context.Background(), ExecInput{
		Node: execNode("sql", "SqlQuery", map[string]any{
			"query": "CREATE TABLE t (v INTEGER)",
			"mode":  "exec",
		}),
		Run: run,
	})
	require.NoError(t, err)

	result, err := e.Execute(context.Background(), ExecInput{
		Node: execNode("sql", "SqlQuery", map[string]any{
			"query": "INSERT INTO t (v) VALUES (1), (2), (3)",
			"mode":  "exec",
		}),
		Run: run,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, result.Outputs()["rowsAffected"])
}

func TestSqlQueryBadStatement(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	e := sqlQueryExecutor{cfg: SQLConfig{DefaultDSN: dsn}}

	_, err := e.Execute(context.Background(), ExecInput{
		Node: execNode("sql", "SqlQuery", map[string]any{"query": "SELEC nope"}),
		Run:  newStubRun(t.TempDir()),
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNodeExecution, schema.CodeOf(err))
}
