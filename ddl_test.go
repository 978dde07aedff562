package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func testTypeSnapshot(t *testing.T) *TypeMapSnapshot {
	t.Helper()
	tm, err := LoadTypeMappings(filepath.Join(t.TempDir(), "type_mappings.json"))
	if err != nil {
		t.Fatal(err)
	}
	return tm.Snapshot()
}

func strPtr(s string) *string { return &s }

func TestGenerateCreateTable(t *testing.T) {
	types := testTypeSnapshot(t)
	table := &Table{
		SourceSchema: "dbo", SourceName: "Orders",
		PGSchema: "public", PGName: "orders",
		Columns: []Column{
			{SourceName: "OrderID", PGName: "orderid", DataType: "int", Identity: true},
			{SourceName: "CustomerName", PGName: "customername", DataType: "nvarchar", CharMaxLen: 200},
			{SourceName: "Notes", PGName: "notes", DataType: "nvarchar", CharMaxLen: -1, Nullable: true},
			{SourceName: "Total", PGName: "total", DataType: "decimal", Precision: 18, Scale: 2},
			{SourceName: "CreatedAt", PGName: "createdat", DataType: "datetime2", Default: strPtr("(getdate())")},
			{SourceName: "RowGuid", PGName: "rowguid", DataType: "uniqueidentifier", Default: strPtr("(newid())")},
		},
	}

	ddl, warnings, err := generateCreateTable(table, false, types)
	if err != nil {
		t.Fatalf("generateCreateTable: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}

	wants := []string{
		"CREATE TABLE public.orders (",
		"orderid BIGINT GENERATED BY DEFAULT AS IDENTITY NOT NULL",
		"customername VARCHAR(200) NOT NULL",
		"notes TEXT",
		"total DECIMAL(18,2) NOT NULL",
		"createdat TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP",
		"rowguid UUID NOT NULL DEFAULT gen_random_uuid()",
	}
	for _, want := range wants {
		if !strings.Contains(ddl, want) {
			t.Errorf("DDL missing %q:\n%s", want, ddl)
		}
	}
	if strings.Contains(ddl, "notes TEXT NOT NULL") {
		t.Errorf("nullable column rendered NOT NULL:\n%s", ddl)
	}
}

func TestGenerateCreateTableIdentityAlways(t *testing.T) {
	types := testTypeSnapshot(t)
	table := &Table{
		PGSchema: "public", PGName: "orders",
		Columns: []Column{
			{SourceName: "ID", PGName: "id", DataType: "bigint", Identity: true},
		},
	}

	ddl, _, err := generateCreateTable(table, true, types)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ddl, "GENERATED ALWAYS AS IDENTITY") {
		t.Errorf("identity_always not honored:\n%s", ddl)
	}
}

func TestGenerateCreateTableSkipsUnmappable(t *testing.T) {
	types := testTypeSnapshot(t)
	table := &Table{
		SourceSchema: "dbo", SourceName: "Places",
		PGSchema: "public", PGName: "places",
		Columns: []Column{
			{SourceName: "ID", PGName: "id", DataType: "int"},
			{SourceName: "Location", PGName: "location", DataType: "geography"},
		},
	}

	ddl, warnings, err := generateCreateTable(table, false, types)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(ddl, "location") {
		t.Errorf("unmappable column emitted:\n%s", ddl)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "Location") {
		t.Errorf("expected a skip warning for Location, got %v", warnings)
	}
}

func TestGenerateCreateTableAllUnmappable(t *testing.T) {
	types := testTypeSnapshot(t)
	table := &Table{
		PGSchema: "public", PGName: "places",
		Columns: []Column{
			{SourceName: "Location", PGName: "location", DataType: "geography"},
		},
	}

	if _, _, err := generateCreateTable(table, false, types); err == nil {
		t.Fatal("table without mappable columns must fail")
	}
}

func TestMapDefaultExpression(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		known bool
	}{
		{"(getdate())", "CURRENT_TIMESTAMP", true},
		{"(sysutcdatetime())", "CURRENT_TIMESTAMP", true},
		{"(newid())", "gen_random_uuid()", true},
		{"(newsequentialid())", "gen_random_uuid()", true},
		{"(suser_sname())", "CURRENT_USER", true},
		{"((0))", "0", true},
		{"((-1))", "-1", true},
		{"('pending')", "'pending'", true},
		{"(next value for dbo.seq)", "next value for dbo.seq", false},
	}
	for _, tt := range tests {
		got, known := mapDefaultExpression(tt.in)
		if got != tt.want || known != tt.known {
			t.Errorf("mapDefaultExpression(%q) = %q, %t; want %q, %t", tt.in, got, known, tt.want, tt.known)
		}
	}
}

func TestShortenedIdents(t *testing.T) {
	longCol := strings.Repeat("VeryLongColumnName", 5)
	tbl := &Table{
		SourceSchema: "dbo",
		SourceName:   "Orders",
		PGSchema:     "public",
		PGName:       "orders",
		Columns: []Column{
			{SourceName: "Id", PGName: "id"},
			{SourceName: longCol, PGName: shortenIdent(normalizeName(longCol), "dbo.Orders."+longCol)},
		},
	}

	got := shortenedIdents(tbl)
	if len(got) != 1 {
		t.Fatalf("shortenedIdents returned %d entries, want 1: %v", len(got), got)
	}
	if !strings.Contains(got[0], longCol) || !strings.Contains(got[0], "renamed to") {
		t.Errorf("unexpected rename message %q", got[0])
	}

	tbl.Columns = tbl.Columns[:1]
	if got := shortenedIdents(tbl); len(got) != 0 {
		t.Errorf("expected no renames, got %v", got)
	}
}
