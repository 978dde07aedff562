package main

import (
	"strings"
	"testing"
)

func TestTokenizeSQLLossless(t *testing.T) {
	inputs := []string{
		"SELECT * FROM dbo.Orders WHERE Name = 'O''Brien'",
		`CREATE TABLE [Order Details] ([ID] int, "Total" decimal(10,2))`,
		"-- a comment\nSELECT 1 /* block\ncomment */ + 2",
		"INSERT INTO t VALUES (N'text with -- no comment', '[not an ident]')",
		"   \t mixed   whitespace\n\n",
	}
	for _, in := range inputs {
		tokens, err := tokenizeSQL(in)
		if err != nil {
			t.Fatalf("tokenizeSQL(%q): %v", in, err)
		}
		if got := joinTokens(tokens); got != in {
			t.Errorf("round trip changed text:\n in: %q\nout: %q", in, got)
		}
	}
}

func TestTokenizeSQLKinds(t *testing.T) {
	tokens, err := tokenizeSQL("SELECT [Col]] x], \"q\"\"id\", N'it''s' -- done")
	if err != nil {
		t.Fatal(err)
	}

	var bracket, quoted, str, comment *sqlToken
	for i := range tokens {
		switch tokens[i].Kind {
		case tokBracketIdent:
			bracket = &tokens[i]
		case tokQuotedIdent:
			quoted = &tokens[i]
		case tokString:
			str = &tokens[i]
		case tokLineComment:
			comment = &tokens[i]
		}
	}

	if bracket == nil || bracket.Ident() != "Col] x" {
		t.Errorf("bracket ident = %+v", bracket)
	}
	if quoted == nil || quoted.Ident() != `q"id` {
		t.Errorf("quoted ident = %+v", quoted)
	}
	if str == nil || str.Text != "N'it''s'" {
		t.Errorf("string = %+v", str)
	}
	if comment == nil || !strings.HasPrefix(comment.Text, "--") {
		t.Errorf("comment = %+v", comment)
	}
}

func TestTokenizeSQLUnterminated(t *testing.T) {
	tests := []string{
		"SELECT 'open",
		"SELECT N'open",
		`SELECT "open`,
		"SELECT [open",
	}
	for _, in := range tests {
		if _, err := tokenizeSQL(in); err == nil {
			t.Errorf("tokenizeSQL(%q) expected error", in)
		}
	}
}

func TestTokenizeSQLWordBoundaries(t *testing.T) {
	tokens, err := tokenizeSQL("nvarchar(50) not null")
	if err != nil {
		t.Fatal(err)
	}
	var words []string
	for _, tok := range tokens {
		if tok.Kind == tokWord {
			words = append(words, tok.Text)
		}
	}
	want := []string{"nvarchar", "50", "not", "null"}
	if len(words) != len(want) {
		t.Fatalf("words = %v, want %v", words, want)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("word %d = %q, want %q", i, words[i], want[i])
		}
	}
}

func TestNextPrevNonSpace(t *testing.T) {
	tokens, err := tokenizeSQL("a  /* c */ b")
	if err != nil {
		t.Fatal(err)
	}
	if j := nextNonSpace(tokens, 0); j == -1 || tokens[j].Text != "b" {
		t.Errorf("nextNonSpace skipped to %d", j)
	}
	if j := prevNonSpace(tokens, len(tokens)-1); j != 0 {
		t.Errorf("prevNonSpace = %d, want 0", j)
	}
}

func TestTokenizeSQLLineCommentEndsAtNewline(t *testing.T) {
	in := "-- header\nSELECT 1 -- tail\nFROM t"
	tokens, err := tokenizeSQL(in)
	if err != nil {
		t.Fatal(err)
	}
	if got := joinTokens(tokens); got != in {
		t.Fatalf("round trip changed text:\n in: %q\nout: %q", in, got)
	}

	var comments []string
	var words []string
	for _, tok := range tokens {
		switch tok.Kind {
		case tokLineComment:
			if strings.Contains(tok.Text, "\n") {
				t.Errorf("comment token crossed the newline: %q", tok.Text)
			}
			comments = append(comments, tok.Text)
		case tokWord:
			words = append(words, tok.Text)
		}
	}
	if len(comments) != 2 || comments[0] != "-- header" || comments[1] != "-- tail" {
		t.Errorf("comments = %q", comments)
	}
	// Code after a comment line must stay visible as plain tokens.
	joined := strings.Join(words, " ")
	if !strings.Contains(joined, "SELECT") || !strings.Contains(joined, "FROM") {
		t.Errorf("code after comment not tokenized: %q", joined)
	}
}
