// Package query runs SQL text against a single borrowed connection and
// materializes the full result set into the shape returned at the JSON
// boundary.
package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/larderapp/larder/pkg/dberr"
	"github.com/larderapp/larder/pkg/values"
)

// changes() keeps the count of the last write on the connection, so a read
// would report it again. total_changes() brackets the statement to tell
// whether it wrote anything itself.
const (
	totalQuery   = "SELECT total_changes()"
	counterQuery = "SELECT changes(), last_insert_rowid(), total_changes()"
)

// Conn is the subset of *sql.Conn the executor needs. Both calls must reach
// the same underlying connection or the counters are meaningless.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Statement is SQL text plus positional arguments for its ? placeholders.
type Statement struct {
	SQL  string `json:"sql" yaml:"sql"`
	Args []any  `json:"args,omitempty" yaml:"args,omitempty"`
}

// Result is a fully drained statement result.
type Result struct {
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	RowsAffected    uint64   `json:"rows_affected"`
	LastInsertRowID int64    `json:"last_insert_rowid"`
}

// Execute binds args positionally, runs sqlText and drains every row.
// Engine errors come back as dberr.KindExecution with the engine message intact.
func Execute(ctx context.Context, conn Conn, sqlText string, args []any) (*Result, error) {
	res, err := execute(ctx, conn, sqlText, args)
	if err != nil {
		return nil, dberr.NewExecutionError("execute", err)
	}
	return res, nil
}

// Batch executes statements in order on one connection and stops at the first
// failure. Nothing is wrapped in a transaction: statements before the failing
// one keep their effects unless the batch itself contains BEGIN/COMMIT.
func Batch(ctx context.Context, conn Conn, stmts []Statement) ([]*Result, error) {
	results := make([]*Result, 0, len(stmts))
	for i, stmt := range stmts {
		res, err := execute(ctx, conn, stmt.SQL, stmt.Args)
		if err != nil {
			return nil, dberr.New(dberr.KindExecution, "batch", fmt.Sprintf("statement %d", i), err)
		}
		results = append(results, res)
	}
	return results, nil
}

func execute(ctx context.Context, conn Conn, sqlText string, args []any) (*Result, error) {
	params := make([]any, len(args))
	for i, v := range values.ToSQLAll(args) {
		params[i] = v.Driver()
	}

	var before int64
	if err := conn.QueryRowContext(ctx, totalQuery).Scan(&before); err != nil {
		return nil, fmt.Errorf("read connection counters: %w", err)
	}

	rows, err := conn.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, err
	}

	result, err := drain(rows)
	if err != nil {
		return nil, err
	}

	var changes, lastID, after int64
	if err := conn.QueryRowContext(ctx, counterQuery).Scan(&changes, &lastID, &after); err != nil {
		return nil, fmt.Errorf("read connection counters: %w", err)
	}
	if after != before && changes > 0 {
		result.RowsAffected = uint64(changes)
	}
	result.LastInsertRowID = lastID

	return result, nil
}

// drain reads the column schema before the first row, then every row to completion.
func drain(rows *sql.Rows) (*Result, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Result{
		Columns: columns,
		Rows:    [][]any{},
	}

	cells := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range cells {
		dest[i] = &cells[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]any, len(columns))
		for i, c := range cells {
			row[i] = values.ToExternal(values.FromDriver(c))
			cells[i] = nil
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	return result, nil
}
