package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/larderapp/larder/pkg/ipc/protocol"
	"github.com/larderapp/larder/pkg/query"
	"github.com/larderapp/larder/pkg/stores"
)

func newBatchCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Run a list of statements in order",
		Long: `Run statements from FILE in order on one connection, stopping at the
first failure. Statements before the failure keep their effects; wrap the
list in BEGIN and COMMIT for all-or-nothing.

FILE holds a list of {sql, args} entries as JSON, or as YAML when it ends
in .yaml or .yml. Use - to read JSON from stdin.`,
		Example: `  larder batch seed.yaml
  echo '[{"sql":"DELETE FROM categories WHERE id = ?","args":[9]}]' | larder batch -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stmts, err := readStatements(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), version, false, func(a *app, _ stores.Outcome) error {
				results, err := a.store.Batch(cmd.Context(), stmts)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), protocol.BatchResult{Results: results})
				}
				for i, res := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "-- statement %d\n", i)
					printResult(cmd, res)
				}
				return nil
			})
		},
	}

	return cmd
}

// readStatements loads a batch file. stdin is used when path is "-".
func readStatements(path string, stdin io.Reader) ([]query.Statement, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	var stmts []query.Statement
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &stmts); err != nil {
			return nil, fmt.Errorf("failed to parse batch file: %w", err)
		}
	default:
		if err := protocol.ParseParams(data, &stmts); err != nil {
			return nil, fmt.Errorf("failed to parse batch file: %w", err)
		}
	}

	params := protocol.BatchParams{Statements: stmts}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return stmts, nil
}
