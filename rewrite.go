package main

import (
	"strconv"
	"strings"
)

// ChangeRecord documents one rewrite: which rule fired, on which line, and
// the before/after text of the affected span.
type ChangeRecord struct {
	RuleID string `json:"rule"`
	Line   int    `json:"line"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// FileResult is the conversion outcome for one script file.
type FileResult struct {
	Name    string         `json:"name"`
	Changes []ChangeRecord `json:"changes,omitempty"`
	Err     error          `json:"-"`
}

// sqlDoc is a tokenized script. Rules splice the token slice; joining the
// tokens back always yields valid text because the tokenizer is lossless.
type sqlDoc struct {
	tokens []sqlToken
}

func parseSQLDoc(text string) (*sqlDoc, error) {
	tokens, err := tokenizeSQL(text)
	if err != nil {
		return nil, err
	}
	return &sqlDoc{tokens: tokens}, nil
}

func (d *sqlDoc) String() string {
	return joinTokens(d.tokens)
}

// lineAt returns the 1-based line number the token at index i starts on.
func (d *sqlDoc) lineAt(i int) int {
	line := 1
	for j := 0; j < i && j < len(d.tokens); j++ {
		line += strings.Count(d.tokens[j].Text, "\n")
	}
	return line
}

// splice replaces tokens[from:to] with repl and returns a change record for
// the span.
func (d *sqlDoc) splice(ruleID string, from, to int, repl []sqlToken) ChangeRecord {
	rec := ChangeRecord{
		RuleID: ruleID,
		Line:   d.lineAt(from),
		Before: joinTokens(d.tokens[from:to]),
		After:  joinTokens(repl),
	}
	out := make([]sqlToken, 0, len(d.tokens)-(to-from)+len(repl))
	out = append(out, d.tokens[:from]...)
	out = append(out, repl...)
	out = append(out, d.tokens[to:]...)
	d.tokens = out
	return rec
}

func word(text string) sqlToken  { return sqlToken{tokWord, text} }
func other(text string) sqlToken { return sqlToken{tokOther, text} }

func isWordToken(t sqlToken, lower string) bool {
	return t.Kind == tokWord && strings.EqualFold(t.Text, lower)
}

// matchParenGroup returns the index just past the closing paren of the group
// opening at tokens[open], or -1. tokens[open] must be "(".
func matchParenGroup(tokens []sqlToken, open int) int {
	depth := 0
	for i := open; i < len(tokens); i++ {
		if tokens[i].Kind != tokOther {
			continue
		}
		switch tokens[i].Text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// ConversionRule is one rewrite applied to a whole script. Rules run in a
// fixed order; each reports the spans it changed.
type ConversionRule struct {
	ID          string
	Description string
	Apply       func(d *sqlDoc) []ChangeRecord
}

// conversionRules builds the full pipeline in its fixed order. The type and
// collation rules come from the mapping snapshots so edited tables apply to
// conversion runs the same way they apply to migrations.
func conversionRules(types *TypeMapSnapshot, collations map[string]string, skipCollations bool) []ConversionRule {
	rules := []ConversionRule{
		{"go-batch", "GO separators become statement boundaries", ruleGoBatch},
		{"dbo-prefix", "drop dbo. qualification", ruleDboPrefix},
		{"bracket-ident", "bracketed identifiers become quoted", ruleBracketIdent},
		{"data-types", "map data type tokens", ruleDataTypes(types)},
		{"functions", "map builtin function calls", ruleFunctions},
		{"identity", "IDENTITY(s,i) becomes a generated column", ruleIdentity},
		{"if-exists-guard", "IF EXISTS guards become DO blocks", ruleIfExistsGuard},
		{"drop-index", "DROP INDEX loses its ON clause", ruleDropIndex},
	}
	if !skipCollations {
		rules = append(rules, ConversionRule{
			"collations", "map COLLATE clauses", ruleCollations(collations),
		})
	}
	return rules
}

// ruleGoBatch replaces each GO separator line with a statement terminator.
// A GO with no statement before it, a GO whose preceding statement already
// ends in a semicolon, and a trailing GO with nothing after it are removed
// instead so no empty statement appears.
func ruleGoBatch(d *sqlDoc) []ChangeRecord {
	var changes []ChangeRecord
	for i := 0; i < len(d.tokens); i++ {
		if !isWordToken(d.tokens[i], "go") || !onOwnLine(d.tokens, i) {
			continue
		}
		end := i + 1
		// Batch repeat counts ("GO 5") go away with the separator.
		if j := nextNonSpace(d.tokens, i); j != -1 && d.tokens[j].Kind == tokWord && isDigits(d.tokens[j].Text) && sameLine(d.tokens, i, j) {
			end = j + 1
		}

		prev := prevNonSpace(d.tokens, i)
		next := nextNonSpace(d.tokens, end-1)
		if next == -1 || prev == -1 || strings.HasSuffix(d.tokens[prev].Text, ";") {
			changes = append(changes, d.splice("go-batch", i, end, nil))
		} else {
			changes = append(changes, d.splice("go-batch", i, end, []sqlToken{other(";")}))
		}
	}
	return changes
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// onOwnLine reports whether no non-space token shares a line with tokens[i]
// on its left.
func onOwnLine(tokens []sqlToken, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch tokens[j].Kind {
		case tokWhitespace:
			if strings.Contains(tokens[j].Text, "\n") {
				return true
			}
		case tokLineComment, tokBlockComment:
			continue
		default:
			return false
		}
	}
	return true
}

// sameLine reports whether tokens i..j have no newline between them.
func sameLine(tokens []sqlToken, i, j int) bool {
	for k := i + 1; k < j; k++ {
		if strings.Contains(tokens[k].Text, "\n") {
			return false
		}
	}
	return true
}

// ruleDboPrefix removes dbo. schema qualification, bracketed or bare.
func ruleDboPrefix(d *sqlDoc) []ChangeRecord {
	var changes []ChangeRecord
	for i := 0; i < len(d.tokens); i++ {
		t := d.tokens[i]
		isDbo := (t.Kind == tokWord && strings.EqualFold(t.Text, "dbo")) ||
			(t.Kind == tokBracketIdent && strings.EqualFold(t.Ident(), "dbo"))
		if !isDbo || i+1 >= len(d.tokens) || d.tokens[i+1].Text != "." {
			continue
		}
		changes = append(changes, d.splice("dbo-prefix", i, i+2, nil))
		i--
	}
	return changes
}

// ruleBracketIdent turns remaining [name] identifiers into "name".
func ruleBracketIdent(d *sqlDoc) []ChangeRecord {
	var changes []ChangeRecord
	for i := 0; i < len(d.tokens); i++ {
		if d.tokens[i].Kind != tokBracketIdent {
			continue
		}
		quoted := `"` + strings.ReplaceAll(d.tokens[i].Ident(), `"`, `""`) + `"`
		changes = append(changes, d.splice("bracket-ident", i, i+1, []sqlToken{{tokQuotedIdent, quoted}}))
	}
	return changes
}

// ruleDataTypes maps type tokens through the active mapping snapshot.
// Signatures with arguments win over bare names, so nvarchar(max) becomes
// TEXT while nvarchar(50) becomes VARCHAR(50).
func ruleDataTypes(types *TypeMapSnapshot) func(d *sqlDoc) []ChangeRecord {
	return func(d *sqlDoc) []ChangeRecord {
		var changes []ChangeRecord
		for i := 0; i < len(d.tokens); i++ {
			t := d.tokens[i]
			if t.Kind != tokWord {
				continue
			}
			// Qualified names are never type references.
			if p := prevNonSpace(d.tokens, i); p != -1 && d.tokens[p].Text == "." {
				continue
			}
			lower := strings.ToLower(t.Text)

			open := nextNonSpace(d.tokens, i)
			if open != -1 && d.tokens[open].Text == "(" {
				if end := matchParenGroup(d.tokens, open); end != -1 {
					args := strings.ToLower(strings.TrimSpace(joinTokens(d.tokens[open+1 : end-1])))
					if target, ok := types.Lookup(lower + "(" + args + ")"); ok {
						changes = append(changes, d.splice("data-types", i, end, []sqlToken{word(target)}))
						continue
					}
					if target, ok := types.Lookup(lower); ok {
						if strings.Contains(target, "(") || dropsTypeArgs(lower) {
							changes = append(changes, d.splice("data-types", i, end, []sqlToken{word(target)}))
						} else if target != t.Text {
							changes = append(changes, d.splice("data-types", i, i+1, []sqlToken{word(target)}))
						}
						continue
					}
				}
			}
			if target, ok := types.Lookup(lower); ok && target != t.Text {
				changes = append(changes, d.splice("data-types", i, i+1, []sqlToken{word(target)}))
			}
		}
		return changes
	}
}

// dropsTypeArgs lists source types whose precision argument has no
// equivalent on the mapped target type.
func dropsTypeArgs(lower string) bool {
	switch lower {
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset":
		return true
	}
	return false
}

// scalarFunctionMappings are zero-argument MSSQL builtins and their
// PostgreSQL spellings. The call parentheses are consumed because the
// replacements are expressions, not functions.
var scalarFunctionMappings = map[string]string{
	"getdate":         "CURRENT_TIMESTAMP",
	"getutcdate":      "CURRENT_TIMESTAMP",
	"sysdatetime":     "CURRENT_TIMESTAMP",
	"sysutcdatetime":  "CURRENT_TIMESTAMP",
	"newid":           "gen_random_uuid()",
	"newsequentialid": "gen_random_uuid()",
	"suser_sname":     "CURRENT_USER",
	"original_login":  "CURRENT_USER",
}

// renamedFunctionMappings keep their argument lists.
var renamedFunctionMappings = map[string]string{
	"isnull": "COALESCE",
	"len":    "LENGTH",
}

// applyFunctionTokens rewrites builtin function calls in a token slice and
// returns the result with the number of changes. Shared by the script
// rewriter and the inline predicate converter.
func applyFunctionTokens(tokens []sqlToken) ([]sqlToken, int) {
	d := &sqlDoc{tokens: tokens}
	changes := ruleFunctions(d)
	return d.tokens, len(changes)
}

func ruleFunctions(d *sqlDoc) []ChangeRecord {
	var changes []ChangeRecord
	for i := 0; i < len(d.tokens); i++ {
		t := d.tokens[i]
		if t.Kind != tokWord {
			continue
		}
		lower := strings.ToLower(t.Text)

		if repl, ok := scalarFunctionMappings[lower]; ok {
			end := i + 1
			if open := nextNonSpace(d.tokens, i); open != -1 && d.tokens[open].Text == "(" {
				if closed := matchParenGroup(d.tokens, open); closed != -1 && closed == open+2 {
					end = closed
				}
			}
			if t.Text == repl && end == i+1 {
				continue
			}
			changes = append(changes, d.splice("functions", i, end, []sqlToken{word(repl)}))
			continue
		}

		if repl, ok := renamedFunctionMappings[lower]; ok {
			if open := nextNonSpace(d.tokens, i); open != -1 && d.tokens[open].Text == "(" {
				changes = append(changes, d.splice("functions", i, i+1, []sqlToken{word(repl)}))
			}
		}
	}
	return changes
}

// ruleIdentity rewrites IDENTITY and IDENTITY(seed,increment) column
// attributes as identity column clauses.
func ruleIdentity(d *sqlDoc) []ChangeRecord {
	var changes []ChangeRecord
	for i := 0; i < len(d.tokens); i++ {
		if !isWordToken(d.tokens[i], "identity") {
			continue
		}
		// Only a column attribute, never a qualified reference.
		if p := prevNonSpace(d.tokens, i); p != -1 && d.tokens[p].Text == "." {
			continue
		}
		end := i + 1
		if open := nextNonSpace(d.tokens, i); open != -1 && d.tokens[open].Text == "(" {
			if closed := matchParenGroup(d.tokens, open); closed != -1 && identityArgsOnly(d.tokens[open+1:closed-1]) {
				end = closed
			}
		}
		changes = append(changes, d.splice("identity", i, end,
			[]sqlToken{word("GENERATED"), {tokWhitespace, " "}, word("ALWAYS"), {tokWhitespace, " "}, word("AS"), {tokWhitespace, " "}, word("IDENTITY")}))
		i += 6
	}
	return changes
}

// identityArgsOnly accepts "seed, increment" argument lists and nothing
// else, so IDENTITY_INSERT style usages stay untouched.
func identityArgsOnly(tokens []sqlToken) bool {
	seen := 0
	for _, t := range tokens {
		switch t.Kind {
		case tokWhitespace:
		case tokWord:
			if _, err := strconv.Atoi(strings.TrimPrefix(t.Text, "-")); err != nil {
				return false
			}
			seen++
		case tokOther:
			if t.Text != "," && t.Text != "-" {
				return false
			}
		default:
			return false
		}
	}
	return seen > 0
}

// ruleIfExistsGuard converts the two common T-SQL existence guards:
//
//	IF OBJECT_ID('t', 'U') IS NOT NULL DROP TABLE t  →  DROP TABLE IF EXISTS t
//	IF EXISTS (...) BEGIN ... END                    →  DO $$ BEGIN IF EXISTS (...) THEN ... END IF; END $$;
func ruleIfExistsGuard(d *sqlDoc) []ChangeRecord {
	var changes []ChangeRecord
	for i := 0; i < len(d.tokens); i++ {
		if !isWordToken(d.tokens[i], "if") {
			continue
		}
		next := nextNonSpace(d.tokens, i)
		if next == -1 {
			continue
		}
		switch {
		case isWordToken(d.tokens[next], "object_id"):
			if rec, ok := rewriteObjectIDGuard(d, i, next); ok {
				changes = append(changes, rec)
			}
		case isWordToken(d.tokens[next], "exists"):
			recs, ok := rewriteExistsGuard(d, i, next)
			if ok {
				changes = append(changes, recs...)
			}
		}
	}
	return changes
}

func rewriteObjectIDGuard(d *sqlDoc, ifIdx, fnIdx int) (ChangeRecord, bool) {
	open := nextNonSpace(d.tokens, fnIdx)
	if open == -1 || d.tokens[open].Text != "(" {
		return ChangeRecord{}, false
	}
	closed := matchParenGroup(d.tokens, open)
	if closed == -1 {
		return ChangeRecord{}, false
	}
	isIdx := nextNonSpace(d.tokens, closed-1)
	if isIdx == -1 || !isWordToken(d.tokens[isIdx], "is") {
		return ChangeRecord{}, false
	}
	notIdx := nextNonSpace(d.tokens, isIdx)
	if notIdx == -1 || !isWordToken(d.tokens[notIdx], "not") {
		return ChangeRecord{}, false
	}
	nullIdx := nextNonSpace(d.tokens, notIdx)
	if nullIdx == -1 || !isWordToken(d.tokens[nullIdx], "null") {
		return ChangeRecord{}, false
	}
	dropIdx := nextNonSpace(d.tokens, nullIdx)
	if dropIdx == -1 || !isWordToken(d.tokens[dropIdx], "drop") {
		return ChangeRecord{}, false
	}
	tableIdx := nextNonSpace(d.tokens, dropIdx)
	if tableIdx == -1 || !isWordToken(d.tokens[tableIdx], "table") {
		return ChangeRecord{}, false
	}
	nameStart := nextNonSpace(d.tokens, tableIdx)
	if nameStart == -1 {
		return ChangeRecord{}, false
	}
	nameEnd := endOfName(d.tokens, nameStart)

	repl := []sqlToken{word("DROP"), {tokWhitespace, " "}, word("TABLE"), {tokWhitespace, " "},
		word("IF"), {tokWhitespace, " "}, word("EXISTS"), {tokWhitespace, " "}}
	repl = append(repl, d.tokens[nameStart:nameEnd]...)
	return d.splice("if-exists-guard", ifIdx, nameEnd, repl), true
}

// endOfName consumes a possibly qualified identifier starting at i.
func endOfName(tokens []sqlToken, i int) int {
	end := i
	for end < len(tokens) {
		switch tokens[end].Kind {
		case tokWord, tokQuotedIdent, tokBracketIdent:
			end++
			if end < len(tokens) && tokens[end].Text == "." {
				end++
				continue
			}
			return end
		default:
			return end
		}
	}
	return end
}

func rewriteExistsGuard(d *sqlDoc, ifIdx, existsIdx int) ([]ChangeRecord, bool) {
	open := nextNonSpace(d.tokens, existsIdx)
	if open == -1 || d.tokens[open].Text != "(" {
		return nil, false
	}
	closed := matchParenGroup(d.tokens, open)
	if closed == -1 {
		return nil, false
	}
	beginIdx := nextNonSpace(d.tokens, closed-1)
	if beginIdx == -1 || !isWordToken(d.tokens[beginIdx], "begin") {
		return nil, false
	}

	depth := 1
	endIdx := -1
	for j := beginIdx + 1; j < len(d.tokens); j++ {
		if isWordToken(d.tokens[j], "begin") {
			depth++
		} else if isWordToken(d.tokens[j], "end") {
			depth--
			if depth == 0 {
				endIdx = j
				break
			}
		}
	}
	if endIdx == -1 {
		return nil, false
	}

	// Splice back to front so earlier indexes stay valid.
	var changes []ChangeRecord
	changes = append(changes, d.splice("if-exists-guard", endIdx, endIdx+1,
		[]sqlToken{word("END"), {tokWhitespace, " "}, word("IF"), other(";"), {tokWhitespace, " "}, word("END"), {tokWhitespace, " "}, other("$$;")}))
	changes = append(changes, d.splice("if-exists-guard", beginIdx, beginIdx+1, []sqlToken{word("THEN")}))
	changes = append(changes, d.splice("if-exists-guard", ifIdx, ifIdx+1,
		[]sqlToken{word("DO"), {tokWhitespace, " "}, other("$$"), {tokWhitespace, " "}, word("BEGIN"), {tokWhitespace, " "}, word("IF")}))
	return changes, true
}

// ruleDropIndex rewrites DROP INDEX name ON table to the PostgreSQL form,
// which takes no table and tolerates a missing index.
func ruleDropIndex(d *sqlDoc) []ChangeRecord {
	var changes []ChangeRecord
	for i := 0; i < len(d.tokens); i++ {
		if !isWordToken(d.tokens[i], "drop") {
			continue
		}
		idxKw := nextNonSpace(d.tokens, i)
		if idxKw == -1 || !isWordToken(d.tokens[idxKw], "index") {
			continue
		}

		nameStart := nextNonSpace(d.tokens, idxKw)
		if nameStart == -1 {
			continue
		}
		hasGuard := false
		if isWordToken(d.tokens[nameStart], "if") {
			existsIdx := nextNonSpace(d.tokens, nameStart)
			if existsIdx == -1 || !isWordToken(d.tokens[existsIdx], "exists") {
				continue
			}
			hasGuard = true
			nameStart = nextNonSpace(d.tokens, existsIdx)
			if nameStart == -1 {
				continue
			}
		}
		nameEnd := endOfName(d.tokens, nameStart)
		onIdx := nextNonSpace(d.tokens, nameEnd-1)
		if onIdx == -1 || !isWordToken(d.tokens[onIdx], "on") {
			continue
		}
		tableStart := nextNonSpace(d.tokens, onIdx)
		if tableStart == -1 {
			continue
		}
		tableEnd := endOfName(d.tokens, tableStart)

		changes = append(changes, d.splice("drop-index", nameEnd, tableEnd, nil))
		if !hasGuard {
			changes = append(changes, d.splice("drop-index", nameStart, nameStart,
				[]sqlToken{word("IF"), {tokWhitespace, " "}, word("EXISTS"), {tokWhitespace, " "}}))
		}
	}
	return changes
}

// ruleCollations maps COLLATE clauses through the collation table's first
// real candidates. A clause whose collation only resolves to the default
// marker is dropped entirely.
func ruleCollations(pairs map[string]string) func(d *sqlDoc) []ChangeRecord {
	return func(d *sqlDoc) []ChangeRecord {
		var changes []ChangeRecord
		for i := 0; i < len(d.tokens); i++ {
			if !isWordToken(d.tokens[i], "collate") {
				continue
			}
			nameIdx := nextNonSpace(d.tokens, i)
			if nameIdx == -1 || d.tokens[nameIdx].Kind != tokWord {
				continue
			}
			target, ok := pairs[strings.ToLower(d.tokens[nameIdx].Text)]
			if !ok {
				// Unknown source collation: drop the clause rather than
				// carry an invalid name to the target.
				changes = append(changes, d.splice("collations", i, nameIdx+1, nil))
				i--
				continue
			}
			quoted := `"` + target + `"`
			changes = append(changes, d.splice("collations", nameIdx, nameIdx+1, []sqlToken{{tokQuotedIdent, quoted}}))
		}
		return changes
	}
}
