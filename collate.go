package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// collatableTypes are the MSSQL types whose columns carry a collation worth
// transferring.
var collatableTypes = map[string]bool{
	"char": true, "nchar": true, "varchar": true, "nvarchar": true,
	"text": true, "ntext": true,
}

// applyCollations resolves every text column's source collation against the
// collations installed on the target and rewrites the column accordingly.
// The installed set is probed once and reused for the whole run. A column
// whose collation resolves to the default marker keeps the database
// default; an unresolvable collation is a warning, never fatal.
func applyCollations(ctx context.Context, pool *pgxpool.Pool, schema *Schema, types *TypeMapSnapshot, colls *CollationSnapshot) ([]UnitResult, error) {
	installed, err := queryInstalledCollations(ctx, pool)
	if err != nil {
		return nil, err
	}
	log.Printf("  %d collations installed on target", len(installed))

	resolved := make(map[string]string)
	var results []UnitResult

	for i := range schema.Tables {
		t := &schema.Tables[i]
		for _, col := range t.Columns {
			if col.Collation == "" || !collatableTypes[col.DataType] {
				continue
			}
			unit := fmt.Sprintf("%s.%s", t.PGKey(), col.PGName)

			target, ok := resolved[col.Collation]
			if !ok {
				target, err = colls.Resolve(col.Collation, installed)
				if err != nil {
					var unres *CollationUnresolvedError
					if errors.As(err, &unres) {
						log.Printf("  WARNING %s: no installed candidate for %s", unit, col.Collation)
						results = append(results, UnitResult{Name: unit, Err: err})
						continue
					}
					return results, err
				}
				resolved[col.Collation] = target
			}
			if target == collationDefaultMarker {
				continue
			}

			pgType, err := types.ResolveColumn(col)
			if err != nil {
				results = append(results, UnitResult{Name: unit, Err: err})
				continue
			}
			q := fmt.Sprintf(`ALTER TABLE %s.%s ALTER COLUMN %s TYPE %s COLLATE "%s"`,
				pgIdent(t.PGSchema), pgIdent(t.PGName), pgIdent(col.PGName),
				pgType, strings.ReplaceAll(target, `"`, `""`))
			if _, err := pool.Exec(ctx, q); err != nil {
				err = fmt.Errorf("collate %s: %w", unit, err)
				log.Printf("  FAILED %v", err)
				results = append(results, UnitResult{Name: unit, Err: err})
				continue
			}
			results = append(results, UnitResult{Name: unit})
		}
	}
	return results, nil
}
