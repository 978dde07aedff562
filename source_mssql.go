package main

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
)

// openSourceDB opens the SQL Server connection used for introspection and
// data reads. Introspection is strictly read-only.
func openSourceDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver: %w", err)
	}
	return db, nil
}

// mssqlQuoteIdent quotes a SQL Server identifier for use in queries.
func mssqlQuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// introspectSchema reads all base tables with their columns, keys,
// constraints and filtered indexes. Table order follows the source catalog;
// dependency ordering is the constraint migrator's job.
func introspectSchema(db *sql.DB, schemaFilter string) (*Schema, error) {
	tables, err := introspectTables(db, schemaFilter)
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}

	for i := range tables {
		t := &tables[i]
		cols, err := introspectColumns(db, t.SourceSchema, t.SourceName)
		if err != nil {
			return nil, fmt.Errorf("introspect columns for %s: %w", t.SourceKey(), err)
		}
		t.Columns = cols
	}

	schema := &Schema{Tables: tables}
	if err := attachKeyConstraints(db, schema); err != nil {
		return nil, fmt.Errorf("introspect key constraints: %w", err)
	}
	if err := attachForeignKeys(db, schema); err != nil {
		return nil, fmt.Errorf("introspect foreign keys: %w", err)
	}
	if err := attachCheckConstraints(db, schema); err != nil {
		return nil, fmt.Errorf("introspect check constraints: %w", err)
	}
	if err := attachFilteredIndexes(db, schema); err != nil {
		return nil, fmt.Errorf("introspect filtered indexes: %w", err)
	}
	return schema, nil
}

func introspectTables(db *sql.DB, schemaFilter string) ([]Table, error) {
	query := `SELECT TABLE_SCHEMA, TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'`
	args := []any{}
	if schemaFilter != "" {
		query += " AND TABLE_SCHEMA = @p1"
		args = append(args, schemaFilter)
	}
	query += " ORDER BY TABLE_SCHEMA, TABLE_NAME"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var schema, name string
		if err := rows.Scan(&schema, &name); err != nil {
			return nil, err
		}
		tables = append(tables, Table{
			SourceSchema: schema,
			SourceName:   name,
			PGSchema:     mapSchemaName(schema),
			PGName:       shortenIdent(normalizeName(name), schema+"."+name),
		})
	}
	return tables, rows.Err()
}

func introspectColumns(db *sql.DB, schema, table string) ([]Column, error) {
	rows, err := db.Query(`SELECT
			c.COLUMN_NAME,
			c.DATA_TYPE,
			ISNULL(c.CHARACTER_MAXIMUM_LENGTH, 0),
			ISNULL(c.NUMERIC_PRECISION, 0),
			ISNULL(c.NUMERIC_SCALE, 0),
			c.IS_NULLABLE,
			c.COLUMN_DEFAULT,
			ISNULL(c.COLLATION_NAME, ''),
			ISNULL(COLUMNPROPERTY(OBJECT_ID(c.TABLE_SCHEMA + '.' + c.TABLE_NAME), c.COLUMN_NAME, 'IsIdentity'), 0),
			c.ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.COLUMNS c
		WHERE c.TABLE_SCHEMA = @p1 AND c.TABLE_NAME = @p2
		ORDER BY c.ORDINAL_POSITION`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			col        Column
			nullable   string
			identity   int
			defaultVal sql.NullString
		)
		if err := rows.Scan(&col.SourceName, &col.DataType, &col.CharMaxLen, &col.Precision,
			&col.Scale, &nullable, &defaultVal, &col.Collation, &identity, &col.OrdinalPos); err != nil {
			return nil, err
		}
		col.DataType = strings.ToLower(col.DataType)
		col.Nullable = nullable == "YES"
		col.Identity = identity == 1
		if defaultVal.Valid {
			d := defaultVal.String
			col.Default = &d
		}
		col.PGName = shortenIdent(normalizeName(col.SourceName), schema+"."+table+"."+col.SourceName)
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// attachKeyConstraints loads PRIMARY KEY and UNIQUE constraints for the
// whole database in two catalog passes.
func attachKeyConstraints(db *sql.DB, schema *Schema) error {
	for _, kind := range []string{"PRIMARY KEY", "UNIQUE"} {
		rows, err := db.Query(`SELECT
				tc.TABLE_SCHEMA,
				tc.TABLE_NAME,
				tc.CONSTRAINT_NAME,
				STRING_AGG(kcu.COLUMN_NAME, ',') WITHIN GROUP (ORDER BY kcu.ORDINAL_POSITION)
			FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
			JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
				ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
				AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
				AND tc.TABLE_NAME = kcu.TABLE_NAME
			WHERE tc.CONSTRAINT_TYPE = @p1
			GROUP BY tc.TABLE_SCHEMA, tc.TABLE_NAME, tc.CONSTRAINT_NAME
			ORDER BY tc.TABLE_SCHEMA, tc.TABLE_NAME`, kind)
		if err != nil {
			return err
		}

		for rows.Next() {
			var tableSchema, tableName, constraintName, colList string
			if err := rows.Scan(&tableSchema, &tableName, &constraintName, &colList); err != nil {
				rows.Close()
				return err
			}
			t := findTable(schema, tableSchema, tableName)
			if t == nil {
				continue
			}
			c := Constraint{
				SourceName: constraintName,
				Name:       shortenIdent(normalizeName(constraintName), tableSchema+"."+tableName+"."+constraintName),
				Columns:    mapColumnNames(t, strings.Split(colList, ",")),
			}
			if kind == "PRIMARY KEY" {
				pk := c
				t.PrimaryKey = &pk
			} else {
				t.Uniques = append(t.Uniques, c)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}
	return nil
}

func attachForeignKeys(db *sql.DB, schema *Schema) error {
	rows, err := db.Query(`SELECT
			fk.name,
			OBJECT_SCHEMA_NAME(fk.parent_object_id),
			OBJECT_NAME(fk.parent_object_id),
			STRING_AGG(COL_NAME(fkc.parent_object_id, fkc.parent_column_id), ',')
				WITHIN GROUP (ORDER BY fkc.constraint_column_id),
			OBJECT_SCHEMA_NAME(fk.referenced_object_id),
			OBJECT_NAME(fk.referenced_object_id),
			STRING_AGG(COL_NAME(fkc.referenced_object_id, fkc.referenced_column_id), ',')
				WITHIN GROUP (ORDER BY fkc.constraint_column_id),
			fk.delete_referential_action_desc,
			fk.update_referential_action_desc
		FROM sys.foreign_keys fk
		INNER JOIN sys.foreign_key_columns fkc
			ON fk.object_id = fkc.constraint_object_id
		GROUP BY
			fk.name,
			fk.parent_object_id,
			fk.referenced_object_id,
			fk.delete_referential_action_desc,
			fk.update_referential_action_desc
		ORDER BY OBJECT_SCHEMA_NAME(fk.parent_object_id), OBJECT_NAME(fk.parent_object_id), fk.name`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name, tableSchema, tableName, colList string
			refSchema, refTable, refColList       string
			deleteRule, updateRule                string
		)
		if err := rows.Scan(&name, &tableSchema, &tableName, &colList,
			&refSchema, &refTable, &refColList, &deleteRule, &updateRule); err != nil {
			return err
		}
		t := findTable(schema, tableSchema, tableName)
		if t == nil {
			continue
		}
		ref := findTable(schema, refSchema, refTable)
		fk := ForeignKey{
			SourceName:  name,
			Name:        shortenIdent(normalizeName(name), tableSchema+"."+tableName+"."+name),
			Columns:     mapColumnNames(t, strings.Split(colList, ",")),
			RefSchema:   refSchema,
			RefTable:    refTable,
			RefPGSchema: mapSchemaName(refSchema),
			RefPGTable:  shortenIdent(normalizeName(refTable), refSchema+"."+refTable),
			UpdateRule:  mapReferentialAction(updateRule),
			DeleteRule:  mapReferentialAction(deleteRule),
		}
		if ref != nil {
			fk.RefColumns = mapColumnNames(ref, strings.Split(refColList, ","))
		} else {
			fk.RefColumns = normalizeAll(strings.Split(refColList, ","))
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	return rows.Err()
}

func attachCheckConstraints(db *sql.DB, schema *Schema) error {
	rows, err := db.Query(`SELECT
			OBJECT_SCHEMA_NAME(cc.parent_object_id),
			OBJECT_NAME(cc.parent_object_id),
			cc.name,
			cc.definition
		FROM sys.check_constraints cc
		WHERE cc.is_disabled = 0
		ORDER BY OBJECT_SCHEMA_NAME(cc.parent_object_id), OBJECT_NAME(cc.parent_object_id), cc.name`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var tableSchema, tableName, name, definition string
		if err := rows.Scan(&tableSchema, &tableName, &name, &definition); err != nil {
			return err
		}
		t := findTable(schema, tableSchema, tableName)
		if t == nil {
			continue
		}
		t.Checks = append(t.Checks, Constraint{
			SourceName: name,
			Name:       shortenIdent(normalizeName(name), tableSchema+"."+tableName+"."+name),
			CheckText:  definition,
		})
	}
	return rows.Err()
}

// attachFilteredIndexes loads indexes with a WHERE filter. Plain indexes
// back constraints and are excluded here.
func attachFilteredIndexes(db *sql.DB, schema *Schema) error {
	rows, err := db.Query(`SELECT
			OBJECT_SCHEMA_NAME(i.object_id),
			OBJECT_NAME(i.object_id),
			i.name,
			i.is_unique,
			i.filter_definition,
			STRING_AGG(c.name, ',') WITHIN GROUP (ORDER BY ic.key_ordinal)
		FROM sys.indexes i
		INNER JOIN sys.index_columns ic ON i.object_id = ic.object_id AND i.index_id = ic.index_id
		INNER JOIN sys.columns c ON ic.object_id = c.object_id AND ic.column_id = c.column_id
		WHERE i.filter_definition IS NOT NULL
			AND i.is_primary_key = 0
			AND i.is_unique_constraint = 0
		GROUP BY i.object_id, i.name, i.is_unique, i.filter_definition
		ORDER BY OBJECT_SCHEMA_NAME(i.object_id), OBJECT_NAME(i.object_id), i.name`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tableSchema, tableName, name, whereClause, colList string
			unique                                             bool
		)
		if err := rows.Scan(&tableSchema, &tableName, &name, &unique, &whereClause, &colList); err != nil {
			return err
		}
		t := findTable(schema, tableSchema, tableName)
		if t == nil {
			continue
		}
		t.Indexes = append(t.Indexes, Index{
			SourceName:  name,
			Name:        shortenIdent(normalizeName(name), tableSchema+"."+tableName+"."+name),
			Columns:     mapColumnNames(t, strings.Split(colList, ",")),
			Unique:      unique,
			WhereClause: whereClause,
		})
	}
	return rows.Err()
}

// SourceObjects holds non-table source objects that require manual migration.
type SourceObjects struct {
	Views      []string
	Procedures []string
	Triggers   []string
}

// introspectSourceObjects discovers views, stored procedures and triggers.
// These are reported, never migrated automatically.
func introspectSourceObjects(db *sql.DB, schemaFilter string) (*SourceObjects, error) {
	query := `SELECT SCHEMA_NAME(o.schema_id), o.name, o.type
		FROM sys.objects o
		WHERE o.type IN ('V', 'P', 'TR') AND o.is_ms_shipped = 0`
	args := []any{}
	if schemaFilter != "" {
		query += " AND SCHEMA_NAME(o.schema_id) = @p1"
		args = append(args, schemaFilter)
	}
	query += " ORDER BY o.type, SCHEMA_NAME(o.schema_id), o.name"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	objs := &SourceObjects{}
	for rows.Next() {
		var schema, name, objType string
		if err := rows.Scan(&schema, &name, &objType); err != nil {
			return nil, err
		}
		qualified := schema + "." + name
		switch strings.TrimSpace(objType) {
		case "V":
			objs.Views = append(objs.Views, qualified)
		case "P":
			objs.Procedures = append(objs.Procedures, qualified)
		case "TR":
			objs.Triggers = append(objs.Triggers, qualified)
		}
	}
	return objs, rows.Err()
}

func sourceObjectWarnings(objs *SourceObjects) []string {
	if objs == nil {
		return nil
	}
	if len(objs.Views) == 0 && len(objs.Procedures) == 0 && len(objs.Triggers) == 0 {
		return nil
	}

	warnings := []string{fmt.Sprintf(
		"source contains non-table objects not migrated automatically (%d views, %d procedures, %d triggers)",
		len(objs.Views), len(objs.Procedures), len(objs.Triggers),
	)}
	for _, v := range objs.Views {
		warnings = append(warnings, fmt.Sprintf("view: %s", v))
	}
	for _, p := range objs.Procedures {
		warnings = append(warnings, fmt.Sprintf("procedure: %s", p))
	}
	for _, t := range objs.Triggers {
		warnings = append(warnings, fmt.Sprintf("trigger: %s", t))
	}
	return warnings
}

func findTable(schema *Schema, sourceSchema, sourceName string) *Table {
	for i := range schema.Tables {
		t := &schema.Tables[i]
		if t.SourceSchema == sourceSchema && t.SourceName == sourceName {
			return t
		}
	}
	return nil
}

// mapColumnNames translates source column names to their PG names via the
// table's column list, falling back to plain normalization.
func mapColumnNames(t *Table, sourceCols []string) []string {
	out := make([]string, len(sourceCols))
	for i, sc := range sourceCols {
		sc = strings.TrimSpace(sc)
		out[i] = normalizeName(sc)
		for j := range t.Columns {
			if strings.EqualFold(t.Columns[j].SourceName, sc) {
				out[i] = t.Columns[j].PGName
				break
			}
		}
	}
	return out
}

func normalizeAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = normalizeName(strings.TrimSpace(n))
	}
	return out
}

// mapReferentialAction converts sys.foreign_keys action descriptions
// (CASCADE, SET_NULL, SET_DEFAULT, NO_ACTION) to PostgreSQL clauses.
func mapReferentialAction(desc string) string {
	switch strings.ToUpper(desc) {
	case "CASCADE":
		return "CASCADE"
	case "SET_NULL":
		return "SET NULL"
	case "SET_DEFAULT":
		return "SET DEFAULT"
	default:
		return "NO ACTION"
	}
}
