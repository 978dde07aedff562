package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConvertDir(t *testing.T) {
	sourceDir := t.TempDir()
	targetDir := t.TempDir()

	files := map[string]string{
		"V1__create.sql":        "CREATE TABLE dbo.Orders (ID int IDENTITY(1,1), Name nvarchar(max))\nGO\n",
		"V2__index.sql":         "DROP INDEX IX_Old ON dbo.Orders\nGO\nSELECT GETDATE()\n",
		"nested/V3__nested.sql": "SELECT NEWID()\n",
		"bad.sql":               "SELECT 'unterminated\n",
		"notes.txt":             "not a script",
	}
	for name, content := range files {
		path := filepath.Join(sourceDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	summary, err := convertDir(sourceDir, targetDir, 2, testRules(t))
	if err != nil {
		t.Fatalf("convertDir: %v", err)
	}

	if summary.Converted != 3 {
		t.Errorf("Converted = %d, want 3", summary.Converted)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	if summary.TotalChanges == 0 {
		t.Error("no changes counted")
	}

	// Results come back sorted by name regardless of worker scheduling.
	var names []string
	for _, res := range summary.Files {
		names = append(names, res.Name)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("results not sorted: %v", names)
		}
	}

	// Converted files land under the target dir with their relative paths.
	out, err := os.ReadFile(filepath.Join(targetDir, "V1__create.sql"))
	if err != nil {
		t.Fatalf("converted file missing: %v", err)
	}
	for _, want := range []string{"Orders", "GENERATED ALWAYS AS IDENTITY", "TEXT"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("V1 output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(string(out), "dbo.") {
		t.Errorf("dbo prefix survived:\n%s", out)
	}

	if _, err := os.Stat(filepath.Join(targetDir, "nested", "V3__nested.sql")); err != nil {
		t.Errorf("nested output missing: %v", err)
	}

	// The failed file must not be written at all.
	if _, err := os.Stat(filepath.Join(targetDir, "bad.sql")); !os.IsNotExist(err) {
		t.Errorf("failed file was written anyway")
	}
	// Non-SQL files are ignored entirely.
	if _, err := os.Stat(filepath.Join(targetDir, "notes.txt")); !os.IsNotExist(err) {
		t.Errorf("non-sql file was copied")
	}
}
