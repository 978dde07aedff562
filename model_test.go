package main

import (
	"errors"
	"testing"
)

func TestRunStatusExitCode(t *testing.T) {
	tests := []struct {
		status RunStatus
		code   int
		str    string
	}{
		{StatusOK, 0, "ok"},
		{StatusPartial, 2, "partial"},
		{StatusFatal, 1, "fatal"},
	}
	for _, tt := range tests {
		if got := tt.status.ExitCode(); got != tt.code {
			t.Errorf("%v.ExitCode() = %d, want %d", tt.status, got, tt.code)
		}
		if got := tt.status.String(); got != tt.str {
			t.Errorf("String() = %q, want %q", got, tt.str)
		}
	}
}

func TestStepResultStatus(t *testing.T) {
	clean := &StepResult{Units: []UnitResult{{Name: "a"}, {Name: "b", Rows: 10}}}
	if clean.Status() != StatusOK {
		t.Errorf("clean step = %v", clean.Status())
	}

	partial := &StepResult{Units: []UnitResult{{Name: "a"}, {Name: "b", Err: errors.New("boom")}}}
	if partial.Status() != StatusPartial {
		t.Errorf("partial step = %v", partial.Status())
	}
	if failed := partial.Failed(); len(failed) != 1 || failed[0].Name != "b" {
		t.Errorf("Failed() = %v", failed)
	}

	fatal := &StepResult{Fatal: errors.New("down"), Units: []UnitResult{{Name: "a"}}}
	if fatal.Status() != StatusFatal {
		t.Errorf("fatal step = %v", fatal.Status())
	}
}

func TestSchemaTableByPGKey(t *testing.T) {
	s := &Schema{Tables: []Table{
		{PGSchema: "public", PGName: "orders"},
		{PGSchema: "sales", PGName: "invoices"},
	}}
	if got := s.TableByPGKey("sales.invoices"); got == nil || got.PGName != "invoices" {
		t.Errorf("TableByPGKey = %v", got)
	}
	if got := s.TableByPGKey("public.missing"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
