package main

import (
	"strings"
	"testing"
)

func TestMapSchemaName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"dbo", "public"},
		{"DBO", "public"},
		{"Sales", "sales"},
		{"audit-log", "audit_log"},
	}
	for _, tt := range tests {
		got := mapSchemaName(tt.in)
		if got != tt.want {
			t.Errorf("mapSchemaName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"OrderID", "orderid"},
		{"Customer-Name", "customer_name"},
		{"already_fine", "already_fine"},
	}
	for _, tt := range tests {
		got := normalizeName(tt.in)
		if got != tt.want {
			t.Errorf("normalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShortenIdent(t *testing.T) {
	short := "order_id"
	if got := shortenIdent(short, "dbo.Orders.OrderID"); got != short {
		t.Errorf("short identifier changed: %q", got)
	}

	long := strings.Repeat("a", 80)
	got := shortenIdent(long, "dbo.Orders."+long)
	if len(got) > pgMaxIdentLen {
		t.Errorf("shortened identifier still %d bytes", len(got))
	}
	if !strings.HasPrefix(got, strings.Repeat("a", 40)) {
		t.Errorf("shortened identifier lost its prefix: %q", got)
	}

	// Same input must shorten identically across calls.
	if again := shortenIdent(long, "dbo.Orders."+long); again != got {
		t.Errorf("shortening not deterministic: %q vs %q", got, again)
	}

	// Same truncated prefix but different qualified origin must differ.
	other := shortenIdent(long, "dbo.Invoices."+long)
	if other == got {
		t.Errorf("identifiers from different origins collided: %q", got)
	}
}

func TestPgIdent(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"user", `"user"`},
		{"order", `"order"`},
		{"table", `"table"`},
		{"orders", "orders"},
		{"order_id", "order_id"},
		{"has space", `"has space"`},
		{"Upper", `"Upper"`},
		{"0start", `"0start"`},
		{"with-hyphen", `"with-hyphen"`},
	}
	for _, tt := range tests {
		got := pgIdent(tt.in)
		if got != tt.want {
			t.Errorf("pgIdent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuotedColumnList(t *testing.T) {
	got := quotedColumnList([]string{"id", "user", "order_id"})
	want := `id, "user", order_id`
	if got != want {
		t.Errorf("quotedColumnList = %q, want %q", got, want)
	}
}
