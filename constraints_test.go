package main

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func tableWithFK(schemaName, name string, refs ...string) Table {
	t := Table{SourceSchema: "dbo", SourceName: name, PGSchema: schemaName, PGName: name}
	for _, ref := range refs {
		t.ForeignKeys = append(t.ForeignKeys, ForeignKey{
			Name:        "fk_" + name + "_" + ref,
			RefPGSchema: schemaName,
			RefPGTable:  ref,
		})
	}
	return t
}

func orderedKeys(order []*Table) []string {
	keys := make([]string, len(order))
	for i, t := range order {
		keys[i] = t.PGKey()
	}
	return keys
}

func TestTopoOrderRespectsDependencies(t *testing.T) {
	schema := &Schema{Tables: []Table{
		tableWithFK("public", "order_items", "orders", "products"),
		tableWithFK("public", "orders", "customers"),
		tableWithFK("public", "customers"),
		tableWithFK("public", "products"),
	}}

	order, err := topoOrder(schema)
	if err != nil {
		t.Fatalf("topoOrder: %v", err)
	}

	pos := make(map[string]int)
	for i, tbl := range order {
		pos[tbl.PGName] = i
	}
	if pos["customers"] > pos["orders"] {
		t.Errorf("customers must precede orders: %v", orderedKeys(order))
	}
	if pos["orders"] > pos["order_items"] || pos["products"] > pos["order_items"] {
		t.Errorf("order_items must come last: %v", orderedKeys(order))
	}
}

func TestTopoOrderDeterministic(t *testing.T) {
	schema := &Schema{Tables: []Table{
		tableWithFK("public", "zebra"),
		tableWithFK("public", "alpha"),
		tableWithFK("public", "mango"),
	}}

	first, err := topoOrder(schema)
	if err != nil {
		t.Fatal(err)
	}
	// Independent tables come out lexicographically, every run.
	want := []string{"public.alpha", "public.mango", "public.zebra"}
	if got := orderedKeys(first); !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	for i := 0; i < 5; i++ {
		again, err := topoOrder(schema)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(orderedKeys(again), orderedKeys(first)) {
			t.Fatalf("order changed between runs: %v vs %v", orderedKeys(again), orderedKeys(first))
		}
	}
}

func TestTopoOrderSelfReference(t *testing.T) {
	schema := &Schema{Tables: []Table{
		tableWithFK("public", "employees", "employees"),
	}}

	order, err := topoOrder(schema)
	if err != nil {
		t.Fatalf("self-reference must not count as a cycle: %v", err)
	}
	if len(order) != 1 {
		t.Errorf("got %d tables", len(order))
	}
}

func TestTopoOrderCycle(t *testing.T) {
	schema := &Schema{Tables: []Table{
		tableWithFK("public", "a", "b"),
		tableWithFK("public", "b", "c"),
		tableWithFK("public", "c", "a"),
		tableWithFK("public", "standalone"),
	}}

	_, err := topoOrder(schema)
	var cyc *CyclicConstraintError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicConstraintError, got %v", err)
	}
	want := []string{"public.a", "public.b", "public.c"}
	if !reflect.DeepEqual(cyc.Tables, want) {
		t.Errorf("cycle tables = %v, want %v", cyc.Tables, want)
	}
}

func TestTopoOrderExternalReference(t *testing.T) {
	// A FK pointing outside the migrated set must not deadlock the sort.
	schema := &Schema{Tables: []Table{
		tableWithFK("public", "orders", "not_migrated"),
	}}

	order, err := topoOrder(schema)
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 1 {
		t.Errorf("got %d tables", len(order))
	}
}

func TestConvertInlinePredicate(t *testing.T) {
	table := &Table{
		Columns: []Column{
			{SourceName: "Quantity", PGName: "quantity"},
			{SourceName: "EndDate", PGName: "enddate"},
		},
	}

	tests := []struct {
		in, want string
	}{
		{"[Quantity] > 0", "quantity > 0"},
		{"[EndDate] IS NOT NULL", "enddate IS NOT NULL"},
		{"[Quantity] > 0 AND [EndDate] > getdate()", "quantity > 0 AND enddate > CURRENT_TIMESTAMP"},
		{"Status = N'open'", "Status = 'open'"},
		{"[Unknown-Col] = 1", "unknown_col = 1"},
	}
	for _, tt := range tests {
		got, err := convertInlinePredicate(tt.in, table)
		if err != nil {
			t.Fatalf("convertInlinePredicate(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("convertInlinePredicate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConvertInlinePredicateUnterminated(t *testing.T) {
	_, err := convertInlinePredicate("[Status] = 'open", &Table{})
	if err == nil || !strings.Contains(err.Error(), "unterminated") {
		t.Fatalf("expected unterminated literal error, got %v", err)
	}
}

func TestTopoOrderCycleExcludesDownstream(t *testing.T) {
	// d sits behind the a<->b cycle but is not on it.
	schema := &Schema{Tables: []Table{
		tableWithFK("public", "a", "b"),
		tableWithFK("public", "b", "a"),
		tableWithFK("public", "d", "a"),
	}}

	_, err := topoOrder(schema)
	var cyc *CyclicConstraintError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicConstraintError, got %v", err)
	}
	want := []string{"public.a", "public.b"}
	if !reflect.DeepEqual(cyc.Tables, want) {
		t.Errorf("cycle tables = %v, want %v", cyc.Tables, want)
	}
}
