package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTypeCategory(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"int", "integer"},
		{"integer", "integer"},
		{"bigint", "integer"},
		{"tinyint", "integer"},
		{"decimal", "decimal"},
		{"double precision", "decimal"},
		{"money", "decimal"},
		{"bit", "bool"},
		{"boolean", "bool"},
		{"nvarchar", "text"},
		{"character varying", "text"},
		{"ntext", "text"},
		{"varbinary", "binary"},
		{"bytea", "binary"},
		{"datetime2", "temporal"},
		{"timestamp with time zone", "temporal"},
		{"uniqueidentifier", "uuid"},
		{"uuid", "uuid"},
		{"xml", "xml"},
		{"geography", "other"},
	}
	for _, tt := range tests {
		if got := typeCategory(tt.in); got != tt.want {
			t.Errorf("typeCategory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVerifyReportOK(t *testing.T) {
	ok := &VerifyReport{Tables: []TableVerify{
		{Table: "public.a", Exists: true, Matched: 3, RowsEqual: true},
	}}
	if !ok.OK() {
		t.Error("clean report reported not-OK")
	}

	tests := []struct {
		name string
		tv   TableVerify
	}{
		{"missing table", TableVerify{Table: "public.a", Exists: false, RowsEqual: true}},
		{"column issue", TableVerify{Table: "public.a", Exists: true, RowsEqual: true,
			Issues: []ColumnIssue{{Column: "x", Reason: "missing on target"}}}},
		{"row mismatch", TableVerify{Table: "public.a", Exists: true, RowsEqual: false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &VerifyReport{Tables: []TableVerify{tt.tv}}
			if r.OK() {
				t.Error("defective report reported OK")
			}
		})
	}
}

func TestWriteVerifyReport(t *testing.T) {
	dir := t.TempDir()
	report := &VerifyReport{
		GeneratedAt: time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
		Tables: []TableVerify{
			{Table: "public.orders", Exists: true, SourceCols: 4, TargetCols: 4, Matched: 4, RowsEqual: true},
		},
	}

	if err := writeVerifyReport(report, dir); err != nil {
		t.Fatalf("writeVerifyReport: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	var loaded VerifyReport
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if len(loaded.Tables) != 1 || loaded.Tables[0].Table != "public.orders" {
		t.Errorf("round-tripped report = %+v", loaded)
	}
}
