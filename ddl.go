package main

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// createTables generates and executes CREATE TABLE DDL for all tables. DDL
// issuance is serialized; only data transfer runs in parallel. A table that
// already exists on the target is handled per onTableExists: "skip" leaves
// it untouched, "fail" aborts the run. Tables are never dropped implicitly.
func createTables(ctx context.Context, db pgDDLExecutor, schema *Schema, cfg *MigrationConfig, types *TypeMapSnapshot) ([]UnitResult, error) {
	createdSchemas := map[string]bool{"public": true}
	var results []UnitResult

	for i := range schema.Tables {
		t := &schema.Tables[i]

		if !createdSchemas[t.PGSchema] {
			if _, err := db.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgIdent(t.PGSchema))); err != nil {
				return results, fmt.Errorf("create schema %s: %w", t.PGSchema, err)
			}
			createdSchemas[t.PGSchema] = true
		}

		exists, err := tableExists(ctx, db, t.PGSchema, t.PGName)
		if err != nil {
			return results, fmt.Errorf("check table %s: %w", t.PGKey(), err)
		}
		if exists {
			switch cfg.OnTableExists {
			case "skip":
				log.Printf("  %s already exists, skipping (on_table_exists=skip)", t.PGKey())
				results = append(results, UnitResult{Name: t.PGKey()})
				continue
			default:
				return results, fmt.Errorf("table %s already exists in target database (on_table_exists=fail)", t.PGKey())
			}
		}

		ddl, warnings, err := generateCreateTable(t, cfg.IdentityAlways, types)
		if err != nil {
			return results, fmt.Errorf("generate DDL for %s: %w", t.PGKey(), err)
		}
		for _, w := range warnings {
			log.Printf("  WARN: %s", w)
		}
		for _, r := range shortenedIdents(t) {
			log.Printf("  WARN: %s", r)
		}

		log.Printf("  creating %s", t.PGKey())
		if _, err := db.Exec(ctx, ddl); err != nil {
			return results, fmt.Errorf("create table %s: %w\nDDL: %s", t.PGKey(), err, ddl)
		}
		results = append(results, UnitResult{Name: t.PGKey()})
	}
	return results, nil
}

// pgDDLExecutor combines execution with existence checks for DDL.
type pgDDLExecutor interface {
	pgExecutor
	pgQuerier
}

func tableExists(ctx context.Context, q pgQuerier, schema, table string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		schema, table).Scan(&exists)
	return exists, err
}

// generateCreateTable produces a CREATE TABLE statement for one table.
// Columns with no resolvable type mapping are skipped with a warning rather
// than failing the table; a table whose every column is unmappable fails.
func generateCreateTable(t *Table, identityAlways bool, types *TypeMapSnapshot) (string, []string, error) {
	var (
		defs     []string
		warnings []string
	)

	for _, col := range t.Columns {
		def, warn, err := columnDefinition(col, identityAlways, types)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s.%s: %v, column skipped", t.SourceKey(), col.SourceName, err))
			continue
		}
		if warn != "" {
			warnings = append(warnings, warn)
		}
		defs = append(defs, "  "+def)
	}

	if len(defs) == 0 {
		return "", warnings, fmt.Errorf("no mappable columns")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s.%s (\n", pgIdent(t.PGSchema), pgIdent(t.PGName))
	b.WriteString(strings.Join(defs, ",\n"))
	b.WriteString("\n)")
	return b.String(), warnings, nil
}

func columnDefinition(col Column, identityAlways bool, types *TypeMapSnapshot) (string, string, error) {
	var warn string

	if col.Identity {
		// Identity columns are regenerated on the target, widened to BIGINT.
		generation := "BY DEFAULT"
		if identityAlways {
			generation = "ALWAYS"
		}
		return fmt.Sprintf("%s BIGINT GENERATED %s AS IDENTITY NOT NULL", pgIdent(col.PGName), generation), "", nil
	}

	pgType, err := types.ResolveColumn(col)
	if err != nil {
		return "", "", err
	}

	def := pgIdent(col.PGName) + " " + pgType
	if !col.Nullable {
		def += " NOT NULL"
	}
	if col.Default != nil {
		mapped, known := mapDefaultExpression(*col.Default)
		if !known {
			warn = fmt.Sprintf("%s: default %q passed through verbatim", col.SourceName, mapped)
		}
		def += " DEFAULT " + mapped
	}
	return def, warn, nil
}

// mapDefaultExpression translates known MSSQL default-value function calls
// to their PostgreSQL equivalents. Unrecognized expressions pass through
// verbatim; the second return reports whether the expression was recognized.
func mapDefaultExpression(raw string) (string, bool) {
	expr := strings.TrimSpace(raw)
	// MSSQL wraps defaults in one or more layers of parentheses.
	for strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")") {
		expr = strings.TrimSpace(expr[1 : len(expr)-1])
	}

	switch strings.ToLower(expr) {
	case "getdate()", "sysdatetime()", "getutcdate()", "sysutcdatetime()", "current_timestamp":
		return "CURRENT_TIMESTAMP", true
	case "newid()", "newsequentialid()":
		return "gen_random_uuid()", true
	case "suser_sname()", "user_name()":
		return "CURRENT_USER", true
	}

	// Numeric and string literals survive unwrapping unchanged.
	if isSimpleLiteral(expr) {
		return expr, true
	}
	return expr, false
}

func isSimpleLiteral(expr string) bool {
	if expr == "" {
		return false
	}
	if strings.HasPrefix(expr, "'") && strings.HasSuffix(expr, "'") {
		return true
	}
	for i, r := range expr {
		if r >= '0' && r <= '9' || r == '.' {
			continue
		}
		if i == 0 && (r == '-' || r == '+') {
			continue
		}
		return false
	}
	return true
}

// shortenedIdents reports every identifier on the table that had to be
// truncated to fit PostgreSQL's 63-byte limit, so renames are visible in
// the run log.
func shortenedIdents(t *Table) []string {
	var out []string
	if t.PGName != normalizeName(t.SourceName) {
		out = append(out, fmt.Sprintf("table %s renamed to %s (identifier too long)", t.SourceName, t.PGName))
	}
	for i := range t.Columns {
		c := &t.Columns[i]
		if c.PGName != normalizeName(c.SourceName) {
			out = append(out, fmt.Sprintf("column %s.%s renamed to %s (identifier too long)", t.SourceName, c.SourceName, c.PGName))
		}
	}
	return out
}
