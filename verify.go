package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ColumnIssue describes one column discrepancy found during verification.
type ColumnIssue struct {
	Column     string `json:"column"`
	SourceType string `json:"source_type,omitempty"`
	TargetType string `json:"target_type,omitempty"`
	Reason     string `json:"reason"`
}

// TableVerify is the verification outcome for one table.
type TableVerify struct {
	Table      string        `json:"table"`
	Exists     bool          `json:"exists"`
	SourceCols int           `json:"source_columns"`
	TargetCols int           `json:"target_columns"`
	Matched    int           `json:"matched"`
	Issues     []ColumnIssue `json:"issues,omitempty"`
	SourceRows int64         `json:"source_rows"`
	TargetRows int64         `json:"target_rows"`
	RowsEqual  bool          `json:"rows_equal"`
}

// VerifyReport is the JSON artifact produced by the verify step.
type VerifyReport struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Tables      []TableVerify `json:"tables"`
}

// OK reports whether every table exists with all columns matched and, when
// row counts were compared, equal counts.
func (r *VerifyReport) OK() bool {
	for _, t := range r.Tables {
		if !t.Exists || len(t.Issues) > 0 || !t.RowsEqual {
			return false
		}
	}
	return true
}

// verifySchema compares the introspected source schema against the live
// target. Read-only: discrepancies are reported, never repaired. Row counts
// are compared only when data migration ran.
func verifySchema(ctx context.Context, sourceDB *sql.DB, pool *pgxpool.Pool, schema *Schema, cfg *MigrationConfig) (*VerifyReport, []UnitResult, error) {
	report := &VerifyReport{GeneratedAt: time.Now().UTC()}
	var results []UnitResult

	for i := range schema.Tables {
		t := &schema.Tables[i]
		tv, err := verifyTable(ctx, sourceDB, pool, t, cfg.MigrateData)
		if err != nil {
			results = append(results, UnitResult{Name: t.PGKey(), Err: err})
			continue
		}
		report.Tables = append(report.Tables, *tv)

		switch {
		case !tv.Exists:
			results = append(results, UnitResult{Name: t.PGKey(), Err: fmt.Errorf("table missing on target")})
		case len(tv.Issues) > 0:
			results = append(results, UnitResult{Name: t.PGKey(), Err: fmt.Errorf("%d column issues", len(tv.Issues))})
		case !tv.RowsEqual:
			results = append(results, UnitResult{
				Name: t.PGKey(),
				Err:  fmt.Errorf("row count mismatch: source %d, target %d", tv.SourceRows, tv.TargetRows),
			})
		default:
			results = append(results, UnitResult{Name: t.PGKey(), Rows: tv.TargetRows})
		}
	}
	return report, results, nil
}

func verifyTable(ctx context.Context, sourceDB *sql.DB, pool *pgxpool.Pool, t *Table, compareRows bool) (*TableVerify, error) {
	tv := &TableVerify{Table: t.PGKey(), SourceCols: len(t.Columns), RowsEqual: true}

	targetCols, err := queryTargetColumns(ctx, pool, t.PGSchema, t.PGName)
	if err != nil {
		return nil, err
	}
	if targetCols == nil {
		tv.Exists = false
		return tv, nil
	}
	tv.Exists = true
	tv.TargetCols = len(targetCols)

	for _, col := range t.Columns {
		targetType, ok := targetCols[col.PGName]
		if !ok {
			tv.Issues = append(tv.Issues, ColumnIssue{
				Column: col.PGName, SourceType: col.DataType, Reason: "missing on target",
			})
			continue
		}
		srcCat := typeCategory(col.DataType)
		tgtCat := typeCategory(targetType)
		if srcCat != tgtCat {
			tv.Issues = append(tv.Issues, ColumnIssue{
				Column: col.PGName, SourceType: col.DataType, TargetType: targetType,
				Reason: fmt.Sprintf("category mismatch: %s vs %s", srcCat, tgtCat),
			})
			continue
		}
		tv.Matched++
	}

	if compareRows {
		srcCount, err := countSourceRows(ctx, sourceDB, t)
		if err != nil {
			return nil, err
		}
		tgtCount, err := countTargetRows(ctx, pool, t)
		if err != nil {
			return nil, err
		}
		tv.SourceRows = srcCount
		tv.TargetRows = tgtCount
		tv.RowsEqual = srcCount == tgtCount
	}
	return tv, nil
}

// queryTargetColumns returns column name to data type for a target table,
// or nil when the table does not exist.
func queryTargetColumns(ctx context.Context, pool *pgxpool.Pool, pgSchema, pgName string) (map[string]string, error) {
	rows, err := pool.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2`, pgSchema, pgName)
	if err != nil {
		return nil, fmt.Errorf("query target columns for %s.%s: %w", pgSchema, pgName, err)
	}
	defer rows.Close()

	var cols map[string]string
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, fmt.Errorf("scan target columns: %w", err)
		}
		if cols == nil {
			cols = make(map[string]string)
		}
		cols[name] = dataType
	}
	return cols, rows.Err()
}

func countSourceRows(ctx context.Context, db *sql.DB, t *Table) (int64, error) {
	var count int64
	q := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s.%s", mssqlQuoteIdent(t.SourceSchema), mssqlQuoteIdent(t.SourceName))
	if err := db.QueryRowContext(ctx, q).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", t.SourceKey(), err)
	}
	return count, nil
}

func countTargetRows(ctx context.Context, pool *pgxpool.Pool, t *Table) (int64, error) {
	var count int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", pgIdent(t.PGSchema), pgIdent(t.PGName))
	if err := pool.QueryRow(ctx, q).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", t.PGKey(), err)
	}
	return count, nil
}

// typeCategory buckets a type name from either dialect so source and
// target columns can be compared without an exact mapping table.
func typeCategory(typeName string) string {
	switch strings.ToLower(strings.TrimSpace(typeName)) {
	case "bigint", "int", "integer", "smallint", "tinyint":
		return "integer"
	case "decimal", "numeric", "money", "smallmoney", "float", "real", "double precision":
		return "decimal"
	case "bit", "boolean":
		return "bool"
	case "char", "nchar", "varchar", "nvarchar", "text", "ntext", "character", "character varying":
		return "text"
	case "binary", "varbinary", "image", "bytea":
		return "binary"
	case "date", "time", "datetime", "datetime2", "smalldatetime", "datetimeoffset",
		"timestamp with time zone", "timestamp without time zone", "time without time zone", "time with time zone":
		return "temporal"
	case "uniqueidentifier", "uuid":
		return "uuid"
	case "xml":
		return "xml"
	default:
		return "other"
	}
}

// writeVerifyReport persists the report as a JSON artifact in the log
// directory.
func writeVerifyReport(report *VerifyReport, logDir string) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(logDir, fmt.Sprintf("verify_%s.json", report.GeneratedAt.Format("20060102_150405")))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal verify report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write verify report: %w", err)
	}
	log.Printf("  report written to %s", path)
	return nil
}
