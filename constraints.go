package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// applyConstraints runs the constraint and index step: primary keys and
// unique constraints for every table, then foreign keys in dependency
// order, then check constraints and filtered indexes. Each statement is
// independent; failures are collected per unit and the step carries on.
// Only an unresolvable dependency cycle is fatal.
func applyConstraints(ctx context.Context, pool *pgxpool.Pool, schema *Schema, cfg *MigrationConfig) ([]UnitResult, error) {
	order, err := topoOrder(schema)
	if err != nil {
		return nil, err
	}

	var results []UnitResult
	exec := func(name, query string) {
		err := execConstraintSQL(ctx, pool, name, query)
		if err != nil {
			log.Printf("  FAILED %s: %v", name, err)
		}
		results = append(results, UnitResult{Name: name, Err: err})
	}

	log.Printf("  primary keys and unique constraints...")
	for _, t := range order {
		if t.PrimaryKey != nil {
			q := fmt.Sprintf("ALTER TABLE %s.%s ADD CONSTRAINT %s PRIMARY KEY (%s)",
				pgIdent(t.PGSchema), pgIdent(t.PGName),
				pgIdent(t.PrimaryKey.Name), quotedColumnList(t.PrimaryKey.Columns))
			exec(t.PrimaryKey.Name, q)
		}
		for _, u := range t.Uniques {
			q := fmt.Sprintf("ALTER TABLE %s.%s ADD CONSTRAINT %s UNIQUE (%s)",
				pgIdent(t.PGSchema), pgIdent(t.PGName),
				pgIdent(u.Name), quotedColumnList(u.Columns))
			exec(u.Name, q)
		}
	}

	log.Printf("  foreign keys...")
	for _, t := range order {
		for _, fk := range t.ForeignKeys {
			q := fmt.Sprintf(
				"ALTER TABLE %s.%s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s.%s (%s) ON UPDATE %s ON DELETE %s",
				pgIdent(t.PGSchema), pgIdent(t.PGName),
				pgIdent(fk.Name),
				quotedColumnList(fk.Columns),
				pgIdent(fk.RefPGSchema), pgIdent(fk.RefPGTable),
				quotedColumnList(fk.RefColumns),
				fk.UpdateRule, fk.DeleteRule,
			)
			exec(fk.Name, q)
		}
	}

	log.Printf("  check constraints...")
	for _, t := range order {
		for _, c := range t.Checks {
			pred, convErr := convertInlinePredicate(c.CheckText, t)
			if convErr != nil {
				results = append(results, UnitResult{Name: c.Name, Err: convErr})
				continue
			}
			q := fmt.Sprintf("ALTER TABLE %s.%s ADD CONSTRAINT %s CHECK (%s)",
				pgIdent(t.PGSchema), pgIdent(t.PGName), pgIdent(c.Name), pred)
			exec(c.Name, q)
		}
	}

	log.Printf("  filtered indexes...")
	for _, t := range order {
		for _, idx := range t.Indexes {
			pred, convErr := convertInlinePredicate(idx.WhereClause, t)
			if convErr != nil {
				results = append(results, UnitResult{Name: idx.Name, Err: convErr})
				continue
			}
			unique := ""
			if idx.Unique {
				unique = "UNIQUE "
			}
			q := fmt.Sprintf("CREATE %sINDEX %s ON %s.%s (%s) WHERE %s",
				unique, pgIdent(idx.Name),
				pgIdent(t.PGSchema), pgIdent(t.PGName),
				quotedColumnList(idx.Columns), pred)
			exec(idx.Name, q)
		}
	}

	return results, nil
}

func execConstraintSQL(ctx context.Context, pool *pgxpool.Pool, desc, query string) error {
	if _, err := pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("%s: %w\nSQL: %s", desc, err, query)
	}
	return nil
}

// topoOrder sorts tables so every table comes after the tables it
// references. Kahn's algorithm with a sorted ready set keeps the order
// deterministic across runs. Self-references do not count as edges. A
// genuine cycle is reported with every table still on it.
func topoOrder(schema *Schema) ([]*Table, error) {
	byKey := make(map[string]*Table, len(schema.Tables))
	for i := range schema.Tables {
		byKey[schema.Tables[i].PGKey()] = &schema.Tables[i]
	}

	indegree := make(map[string]int, len(byKey))
	dependents := make(map[string][]string, len(byKey))
	for key := range byKey {
		indegree[key] = 0
	}
	for key, t := range byKey {
		seen := make(map[string]bool)
		for _, fk := range t.ForeignKeys {
			refKey := fk.RefPGSchema + "." + fk.RefPGTable
			if refKey == key || seen[refKey] {
				continue
			}
			if _, ok := byKey[refKey]; !ok {
				// Reference outside the migrated set; no ordering needed.
				continue
			}
			seen[refKey] = true
			indegree[key]++
			dependents[refKey] = append(dependents[refKey], key)
		}
	}

	var ready []string
	for key, deg := range indegree {
		if deg == 0 {
			ready = append(ready, key)
		}
	}
	sort.Strings(ready)

	order := make([]*Table, 0, len(byKey))
	for len(ready) > 0 {
		key := ready[0]
		ready = ready[1:]
		order = append(order, byKey[key])

		var unlocked []string
		for _, dep := range dependents[key] {
			indegree[dep]--
			if indegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sort.Strings(ready)
		}
	}

	if len(order) < len(byKey) {
		// Everything Kahn could not place is blocked, but tables merely
		// downstream of a cycle are not on it. Keep only the tables that
		// can reach themselves through the blocked set.
		residual := make(map[string]bool)
		for key, deg := range indegree {
			if deg > 0 {
				residual[key] = true
			}
		}
		var cycle []string
		for key := range residual {
			if onCycle(key, dependents, residual) {
				cycle = append(cycle, key)
			}
		}
		sort.Strings(cycle)
		return nil, &CyclicConstraintError{Tables: cycle}
	}
	return order, nil
}

// onCycle reports whether start can reach itself through edges between
// blocked tables.
func onCycle(start string, dependents map[string][]string, residual map[string]bool) bool {
	visited := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		key := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range dependents[key] {
			if !residual[dep] {
				continue
			}
			if dep == start {
				return true
			}
			if !visited[dep] {
				visited[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return false
}

// convertInlinePredicate rewrites a SQL Server predicate for use inside a
// PostgreSQL CHECK constraint or partial index. Bracketed identifiers are
// mapped to the table's target column names, N'' string prefixes are
// dropped and known function calls are swapped. The predicate must not
// contain an unterminated literal.
func convertInlinePredicate(pred string, t *Table) (string, error) {
	tokens, err := tokenizeSQL(pred)
	if err != nil {
		return "", fmt.Errorf("predicate %q: %w", pred, err)
	}
	tokens, _ = applyFunctionTokens(tokens)

	var out strings.Builder
	for _, tok := range tokens {
		switch tok.Kind {
		case tokBracketIdent:
			out.WriteString(pgIdent(targetColumnName(t, tok.Ident())))
		case tokString:
			// Strip the national-character prefix, keep the literal intact.
			if strings.HasPrefix(tok.Text, "N'") || strings.HasPrefix(tok.Text, "n'") {
				out.WriteString(tok.Text[1:])
			} else {
				out.WriteString(tok.Text)
			}
		default:
			out.WriteString(tok.Text)
		}
	}
	return out.String(), nil
}

// targetColumnName maps a source column name to its migrated name, falling
// back to plain normalization for names outside the column list.
func targetColumnName(t *Table, source string) string {
	for _, col := range t.Columns {
		if strings.EqualFold(col.SourceName, source) {
			return col.PGName
		}
	}
	return normalizeName(source)
}
