package main

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// pgMaxIdentLen is PostgreSQL's identifier length limit (NAMEDATALEN-1).
const pgMaxIdentLen = 63

// pgReservedWords are PostgreSQL reserved words that must be quoted as identifiers.
var pgReservedWords = map[string]bool{
	"all": true, "analyse": true, "analyze": true, "and": true, "any": true,
	"array": true, "as": true, "asc": true, "authorization": true, "between": true,
	"binary": true, "both": true, "case": true, "cast": true, "check": true,
	"collate": true, "column": true, "constraint": true, "create": true, "cross": true,
	"current_date": true, "current_role": true, "current_time": true,
	"current_timestamp": true, "current_user": true, "default": true, "deferrable": true,
	"desc": true, "distinct": true, "do": true, "else": true, "end": true, "except": true,
	"false": true, "fetch": true, "for": true, "foreign": true, "freeze": true,
	"from": true, "full": true, "grant": true, "group": true, "having": true,
	"ilike": true, "in": true, "initially": true, "inner": true, "intersect": true,
	"into": true, "is": true, "isnull": true, "join": true, "lateral": true,
	"leading": true, "left": true, "like": true, "limit": true, "localtime": true,
	"localtimestamp": true, "natural": true, "not": true, "notnull": true, "null": true,
	"offset": true, "on": true, "only": true, "or": true, "order": true, "outer": true,
	"overlaps": true, "placing": true, "primary": true, "references": true,
	"returning": true, "right": true, "select": true, "session_user": true,
	"similar": true, "some": true, "symmetric": true, "table": true, "then": true,
	"to": true, "trailing": true, "true": true, "union": true, "unique": true,
	"user": true, "using": true, "variadic": true, "verbose": true, "when": true,
	"where": true, "window": true, "with": true,
}

// mapSchemaName maps a SQL Server schema to its PostgreSQL counterpart.
// dbo becomes public, everything else is normalized as-is.
func mapSchemaName(sourceSchema string) string {
	if strings.EqualFold(sourceSchema, "dbo") {
		return "public"
	}
	return normalizeName(sourceSchema)
}

// normalizeName lowercases an identifier and replaces hyphens with
// underscores so it survives PostgreSQL's default case folding unquoted.
func normalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "-", "_"))
}

// shortenIdent truncates an identifier to PostgreSQL's 63-byte limit.
// The qualified original name is hashed so two long names that share a
// prefix cannot collide after truncation; the suffix is stable across runs.
func shortenIdent(name, qualifiedOriginal string) string {
	if len(name) <= pgMaxIdentLen {
		return name
	}
	sum := sha1.Sum([]byte(qualifiedOriginal))
	suffix := "_" + hex.EncodeToString(sum[:3])
	return name[:pgMaxIdentLen-len(suffix)] + suffix
}

// pgNeedsQuoting reports whether a PG identifier needs quoting beyond
// reserved-word checks (e.g. contains hyphens, spaces, uppercase, etc.).
func pgNeedsQuoting(name string) bool {
	for i, r := range name {
		if r >= 'a' && r <= 'z' || r == '_' {
			continue
		}
		if i > 0 && (r >= '0' && r <= '9' || r == '$') {
			continue
		}
		return true
	}
	return false
}

// pgIdent returns a PG-safe identifier, quoting reserved words and names
// that contain characters invalid in unquoted identifiers.
func pgIdent(name string) string {
	if pgReservedWords[name] || pgNeedsQuoting(name) {
		return `"` + name + `"`
	}
	return name
}

// quotedColumnList joins column names with proper quoting.
func quotedColumnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgIdent(c)
	}
	return strings.Join(quoted, ", ")
}
