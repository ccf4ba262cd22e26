package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseArg(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"42", json.Number("42")},
		{"1.5", json.Number("1.5")},
		{"null", nil},
		{"true", true},
		{`"42"`, "42"},
		{"hello", "hello"},
		{"12 monkeys", "12 monkeys"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseArg(tt.in); got != tt.want {
				t.Errorf("parseArg(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestReadStatements(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		t.Helper()
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		stdin   string
		want    int
		wantErr bool
	}{
		{
			name: "json",
			path: write("b.json", `[{"sql":"SELECT ?","args":[1]},{"sql":"SELECT 2"}]`),
			want: 2,
		},
		{
			name: "yaml",
			path: write("b.yaml", "- sql: SELECT ?\n  args: [1]\n- sql: SELECT 2\n- sql: SELECT 3\n"),
			want: 3,
		},
		{
			name:  "stdin",
			path:  "-",
			stdin: `[{"sql":"SELECT 1"}]`,
			want:  1,
		},
		{
			name:    "missing sql",
			path:    write("bad.json", `[{"args":[1]}]`),
			wantErr: true,
		},
		{
			name:    "not a list",
			path:    write("obj.yml", "sql: SELECT 1\n"),
			wantErr: true,
		},
		{
			name:    "missing file",
			path:    filepath.Join(dir, "nope.json"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmts, err := readStatements(tt.path, strings.NewReader(tt.stdin))
			if (err != nil) != tt.wantErr {
				t.Fatalf("readStatements() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(stmts) != tt.want {
				t.Errorf("got %d statements, want %d", len(stmts), tt.want)
			}
		})
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, dataDir, jsonOutput = "", "", false

	var out bytes.Buffer
	root := newRootCommand("test", "none", "today")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLILocalWorkflow(t *testing.T) {
	t.Setenv("LARDER_DATABASE_URL", "")
	t.Setenv("LARDER_AUTH_TOKEN", "")
	t.Setenv("LARDER_TRACE_EXPORTER", "none")
	t.Setenv("LARDER_METRICS_ENABLED", "false")
	dir := t.TempDir()

	out, err := runCLI(t, "--data-dir", dir, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.HasPrefix(out, "local ") {
		t.Errorf("init output = %q", out)
	}

	out, err = runCLI(t, "--data-dir", dir, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "version 3") {
		t.Errorf("migrate output = %q", out)
	}

	out, err = runCLI(t, "--data-dir", dir, "--json", "exec", "SELECT name FROM categories WHERE id = ?", "1")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	var res struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("exec output is not JSON: %v\n%s", err, out)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != "Beauty" {
		t.Errorf("rows = %v", res.Rows)
	}

	out, err = runCLI(t, "--data-dir", dir, "exec", "INSERT INTO categories (name, icon) VALUES (?, ?)", "Garden", "leaf")
	if err != nil {
		t.Fatalf("exec insert: %v", err)
	}
	if !strings.Contains(out, "rows_affected=1") {
		t.Errorf("insert output = %q", out)
	}

	out, err = runCLI(t, "--data-dir", dir, "exec", "SELECT name, icon FROM categories ORDER BY name")
	if err != nil {
		t.Fatalf("exec select: %v", err)
	}
	if !strings.Contains(out, "Garden\tleaf\n") || !strings.Contains(out, "rows_affected=0") {
		t.Errorf("select output = %q", out)
	}

	if _, err := runCLI(t, "--data-dir", dir, "sync"); err == nil {
		t.Error("sync on a local database should fail")
	}

	if _, err := os.Stat(filepath.Join(dir, "local.db")); err != nil {
		t.Errorf("database file: %v", err)
	}
}
