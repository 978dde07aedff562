package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// loadAndExecSQLFiles reads each SQL file, expands {{schema}} to the default
// target schema, and executes every statement.
func loadAndExecSQLFiles(ctx context.Context, pool *pgxpool.Pool, cfg *MigrationConfig, files []string, phase string) error {
	if len(files) == 0 {
		return nil
	}
	log.Printf("  running %s hooks (%d files)...", phase, len(files))

	for _, f := range files {
		path := cfg.resolvePath(f)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("hook %s: read %s: %w", phase, f, err)
		}

		sql := strings.ReplaceAll(string(data), "{{schema}}", mapSchemaName("dbo"))
		stmts, err := splitStatements(sql)
		if err != nil {
			return fmt.Errorf("hook %s: parse %s: %w", phase, f, err)
		}

		log.Printf("    %s: %d statements", f, len(stmts))
		for i, stmt := range stmts {
			if _, err := pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("hook %s: %s: statement %d: %w\nSQL: %s", phase, f, i+1, err, stmt)
			}
		}
	}
	return nil
}

// splitStatements splits SQL text into statements on the semicolons that
// sit outside strings, comments and dollar-quoted blocks. A DO $$ ... $$;
// body therefore stays one statement, and a semicolon inside a comment
// never splits. Fragments holding only whitespace and comments are dropped.
func splitStatements(sql string) ([]string, error) {
	tokens, err := tokenizeSQL(sql)
	if err != nil {
		return nil, err
	}

	var stmts []string
	var current []sqlToken
	hasCode := false
	dollarTag := ""

	flush := func() {
		if hasCode {
			stmts = append(stmts, strings.TrimSpace(joinTokens(current)))
		}
		current = current[:0]
		hasCode = false
	}

	for _, t := range tokens {
		if t.Kind == tokWord && isDollarTag(t.Text) {
			if dollarTag == "" {
				dollarTag = t.Text
			} else if t.Text == dollarTag {
				dollarTag = ""
			}
		}
		if dollarTag == "" && t.Kind == tokOther && t.Text == ";" {
			flush()
			continue
		}
		current = append(current, t)
		switch t.Kind {
		case tokWhitespace, tokLineComment, tokBlockComment:
		default:
			hasCode = true
		}
	}
	flush()
	return stmts, nil
}

// isDollarTag reports whether a word token is a dollar-quote delimiter
// such as $$ or $body$.
func isDollarTag(s string) bool {
	return len(s) >= 2 && s[0] == '$' && s[len(s)-1] == '$'
}
