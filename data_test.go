package main

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
)

func TestBuildSelect(t *testing.T) {
	table := &Table{
		SourceSchema: "dbo", SourceName: "Order Details",
		PGSchema: "public", PGName: "order_details",
	}
	cols := []Column{
		{SourceName: "OrderID", PGName: "orderid"},
		{SourceName: "Unit]Price", PGName: "unit_price"},
	}

	got := buildSelect(table, cols)
	want := "SELECT [OrderID], [Unit]]Price] FROM [dbo].[Order Details]"
	if got != want {
		t.Errorf("buildSelect = %q, want %q", got, want)
	}
}

func TestBuildInsert(t *testing.T) {
	table := &Table{PGSchema: "public", PGName: "orders"}
	cols := []Column{
		{PGName: "id"},
		{PGName: "user"},
		{PGName: "total"},
	}

	got := buildInsert(table, cols, false)
	want := `INSERT INTO public.orders (id, "user", total) VALUES ($1, $2, $3)`
	if got != want {
		t.Errorf("buildInsert = %q, want %q", got, want)
	}

	withOverride := buildInsert(table, cols, true)
	want = `INSERT INTO public.orders (id, "user", total) OVERRIDING SYSTEM VALUE VALUES ($1, $2, $3)`
	if withOverride != want {
		t.Errorf("buildInsert(identity_always) = %q, want %q", withOverride, want)
	}
}

func TestTransferColumns(t *testing.T) {
	tm, err := LoadTypeMappings(filepath.Join(t.TempDir(), "type_mappings.json"))
	if err != nil {
		t.Fatal(err)
	}
	snap := tm.Snapshot()

	table := &Table{
		Columns: []Column{
			{SourceName: "ID", PGName: "id", DataType: "int", Identity: true},
			{SourceName: "Name", PGName: "name", DataType: "nvarchar", CharMaxLen: 50},
			{SourceName: "Location", PGName: "location", DataType: "geography"},
		},
	}

	cols := transferColumns(table, snap)
	if len(cols) != 2 {
		t.Fatalf("got %d columns, want 2 (unmappable skipped)", len(cols))
	}
	if cols[0].PGName != "id" || cols[1].PGName != "name" {
		t.Errorf("columns = %v", cols)
	}
}

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "dial tcp: timeout" }
func (fakeNetError) Timeout() bool   { return true }
func (fakeNetError) Temporary() bool { return true }

var _ net.Error = fakeNetError{}

func TestClassifyConnectivity(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"net error", fmt.Errorf("select: %w", fakeNetError{}), true},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"reset by message", errors.New("write: connection reset by peer"), true},
		{"refused by message", errors.New("dial: connection refused"), true},
		{"constraint violation", errors.New("duplicate key value violates unique constraint"), false},
		{"syntax error", errors.New("syntax error at or near"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyConnectivity("postgres", tt.err)
			var connErr *ConnectivityError
			isConn := errors.As(got, &connErr)
			if isConn != tt.retryable {
				t.Fatalf("classifyConnectivity(%v) retryable = %t, want %t", tt.err, isConn, tt.retryable)
			}
			if isConn && connErr.System != "postgres" {
				t.Errorf("system = %q", connErr.System)
			}
		})
	}

	if got := classifyConnectivity("mssql", nil); got != nil {
		t.Errorf("nil error must stay nil, got %v", got)
	}
}
