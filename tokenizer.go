package main

import (
	"fmt"
	"strings"
)

// Token kinds produced by tokenizeSQL. The tokenizer is lossless: joining
// the Text of every token reproduces the input byte for byte, so rewrite
// rules can touch single tokens without disturbing anything else.
type tokenKind int

const (
	tokOther tokenKind = iota
	tokWord
	tokString       // '...' with doubled-quote escapes, optional N prefix
	tokQuotedIdent  // "..."
	tokBracketIdent // [...] with doubled-bracket escapes
	tokLineComment  // -- to end of line, newline excluded
	tokBlockComment // /* ... */
	tokWhitespace
)

type sqlToken struct {
	Kind tokenKind
	Text string
}

// Ident returns the identifier inside a bracketed or double-quoted token
// with escape sequences undone.
func (t sqlToken) Ident() string {
	switch t.Kind {
	case tokBracketIdent:
		inner := t.Text[1 : len(t.Text)-1]
		return strings.ReplaceAll(inner, "]]", "]")
	case tokQuotedIdent:
		inner := t.Text[1 : len(t.Text)-1]
		return strings.ReplaceAll(inner, `""`, `"`)
	default:
		return t.Text
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b == '@' || b == '#' || b == '$' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// tokenizeSQL splits one line or fragment of T-SQL into tokens. String
// literals, quoted identifiers and comments come back as single tokens so
// callers never rewrite inside them. An unterminated literal or bracket is
// an error; unterminated block comments are tolerated because they can
// legitimately span lines.
func tokenizeSQL(s string) ([]sqlToken, error) {
	var tokens []sqlToken
	i := 0
	for i < len(s) {
		b := s[i]
		switch {
		case b == '\'' || (b == 'N' || b == 'n') && i+1 < len(s) && s[i+1] == '\'':
			start := i
			if b != '\'' {
				i++ // N prefix
			}
			i++ // opening quote
			closed := false
			for i < len(s) {
				if s[i] == '\'' {
					if i+1 < len(s) && s[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string literal at offset %d", start)
			}
			tokens = append(tokens, sqlToken{tokString, s[start:i]})

		case b == '"':
			start := i
			i++
			closed := false
			for i < len(s) {
				if s[i] == '"' {
					if i+1 < len(s) && s[i+1] == '"' {
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated quoted identifier at offset %d", start)
			}
			tokens = append(tokens, sqlToken{tokQuotedIdent, s[start:i]})

		case b == '[':
			start := i
			i++
			closed := false
			for i < len(s) {
				if s[i] == ']' {
					if i+1 < len(s) && s[i+1] == ']' {
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated bracketed identifier at offset %d", start)
			}
			tokens = append(tokens, sqlToken{tokBracketIdent, s[start:i]})

		case b == '-' && i+1 < len(s) && s[i+1] == '-':
			start := i
			for i < len(s) && s[i] != '\n' {
				i++
			}
			// The newline stays outside the token so line boundaries
			// survive for rules that inspect them.
			tokens = append(tokens, sqlToken{tokLineComment, s[start:i]})

		case b == '/' && i+1 < len(s) && s[i+1] == '*':
			start := i
			i += 2
			for i < len(s) && !(s[i] == '*' && i+1 < len(s) && s[i+1] == '/') {
				i++
			}
			if i < len(s) {
				i += 2
			}
			tokens = append(tokens, sqlToken{tokBlockComment, s[start:i]})

		case b == ' ' || b == '\t' || b == '\r' || b == '\n':
			start := i
			for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r' || s[i] == '\n') {
				i++
			}
			tokens = append(tokens, sqlToken{tokWhitespace, s[start:i]})

		case isWordByte(b):
			start := i
			for i < len(s) && isWordByte(s[i]) {
				i++
			}
			// Dotted names like dbo.Orders tokenize as separate words so
			// rules can treat the schema prefix on its own.
			tokens = append(tokens, sqlToken{tokWord, s[start:i]})

		default:
			tokens = append(tokens, sqlToken{tokOther, string(b)})
			i++
		}
	}
	return tokens, nil
}

// joinTokens reassembles a token slice into text.
func joinTokens(tokens []sqlToken) string {
	var out strings.Builder
	for _, t := range tokens {
		out.WriteString(t.Text)
	}
	return out.String()
}

// nextNonSpace returns the index of the next token after i that is not
// whitespace or a comment, or -1.
func nextNonSpace(tokens []sqlToken, i int) int {
	for j := i + 1; j < len(tokens); j++ {
		switch tokens[j].Kind {
		case tokWhitespace, tokLineComment, tokBlockComment:
			continue
		}
		return j
	}
	return -1
}

// prevNonSpace returns the index of the previous token before i that is not
// whitespace or a comment, or -1.
func prevNonSpace(tokens []sqlToken, i int) int {
	for j := i - 1; j >= 0; j-- {
		switch tokens[j].Kind {
		case tokWhitespace, tokLineComment, tokBlockComment:
			continue
		}
		return j
	}
	return -1
}
