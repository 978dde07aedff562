package main

import (
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	stmts, err := splitStatements("CREATE TABLE a (id INTEGER);\nCREATE TABLE b (id INTEGER);\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(stmts) != 2 || stmts[0] != "CREATE TABLE a (id INTEGER)" {
		t.Errorf("stmts = %q", stmts)
	}
}

func TestSplitStatementsDollarQuotedBlock(t *testing.T) {
	sql := "DO $$ BEGIN IF EXISTS (SELECT 1 FROM t) THEN DELETE FROM t WHERE id = 1; END IF; END $$;\nSELECT 2;"
	stmts, err := splitStatements(sql)
	if err != nil {
		t.Fatal(err)
	}
	if len(stmts) != 2 {
		t.Fatalf("stmts = %q, want 2 entries", stmts)
	}
	// The block body's semicolons must not split the DO statement.
	if !strings.HasPrefix(stmts[0], "DO $$") || !strings.HasSuffix(stmts[0], "END $$") {
		t.Errorf("DO block split apart: %q", stmts[0])
	}
	if stmts[1] != "SELECT 2" {
		t.Errorf("second statement = %q", stmts[1])
	}
}

func TestSplitStatementsTaggedDollarQuote(t *testing.T) {
	stmts, err := splitStatements("DO $body$ BEGIN PERFORM 1; END $body$; SELECT 1;")
	if err != nil {
		t.Fatal(err)
	}
	if len(stmts) != 2 || !strings.HasSuffix(stmts[0], "END $body$") {
		t.Errorf("stmts = %q", stmts)
	}
}

func TestSplitStatementsIgnoresQuotedAndComments(t *testing.T) {
	tests := []struct {
		sql  string
		want int
	}{
		{"INSERT INTO t VALUES ('a;b'); SELECT 1", 2},
		{"SELECT 1; -- note; still the same line\nSELECT 2;", 2},
		{"SELECT 1; /* one; two;\nthree; */ SELECT 2;", 2},
		{"-- just a comment\n", 0},
		{"  \n\t", 0},
	}
	for _, tt := range tests {
		stmts, err := splitStatements(tt.sql)
		if err != nil {
			t.Fatalf("splitStatements(%q): %v", tt.sql, err)
		}
		if len(stmts) != tt.want {
			t.Errorf("splitStatements(%q) = %q, want %d entries", tt.sql, stmts, tt.want)
		}
	}
}

func TestSplitStatementsUnterminatedLiteral(t *testing.T) {
	if _, err := splitStatements("SELECT 'oops"); err == nil {
		t.Error("expected an error for an unterminated literal")
	}
}
