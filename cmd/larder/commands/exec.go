package commands

import (
	"bytes"
	"fmt"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/larderapp/larder/pkg/query"
	"github.com/larderapp/larder/pkg/stores"
)

func newExecCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec SQL [ARG...]",
		Short: "Run one statement and print its result",
		Long: `Run a single SQL statement, binding ARGs to its ? placeholders in order.

Each ARG is read as JSON when it parses as JSON (numbers, true/false, null,
quoted strings, arrays, objects) and as a plain string otherwise.`,
		Example: `  larder exec "SELECT name, icon FROM categories ORDER BY name"
  larder exec "INSERT INTO categories (name, icon) VALUES (?, ?)" Garden leaf
  larder exec "SELECT ?" '"42"'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := parseArgs(args[1:])
			return withApp(cmd.Context(), version, false, func(a *app, _ stores.Outcome) error {
				res, err := a.store.Execute(cmd.Context(), args[0], params)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				printResult(cmd, res)
				return nil
			})
		},
	}

	return cmd
}

// parseArgs turns command-line words into bind values.
func parseArgs(words []string) []any {
	out := make([]any, len(words))
	for i, w := range words {
		out[i] = parseArg(w)
	}
	return out
}

func parseArg(word string) any {
	dec := gojson.NewDecoder(strings.NewReader(word))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return word
	}
	return v
}

func printResult(cmd *cobra.Command, res *query.Result) {
	w := cmd.OutOrStdout()
	if len(res.Columns) > 0 {
		fmt.Fprintln(w, strings.Join(res.Columns, "\t"))
		for _, row := range res.Rows {
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i] = formatCell(c)
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
	}
	fmt.Fprintf(w, "rows_affected=%d last_insert_rowid=%d\n", res.RowsAffected, res.LastInsertRowID)
}

func formatCell(c any) string {
	switch v := c.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	default:
		var buf bytes.Buffer
		if err := gojson.NewEncoder(&buf).Encode(v); err != nil {
			return fmt.Sprint(v)
		}
		return strings.TrimSpace(buf.String())
	}
}
