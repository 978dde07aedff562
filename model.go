package main

// Column represents a single column from SQL Server INFORMATION_SCHEMA.
type Column struct {
	SourceName string
	PGName     string
	DataType   string // lowercased MSSQL base type, e.g. "nvarchar", "uniqueidentifier"
	CharMaxLen int64  // -1 means (max)
	Precision  int64
	Scale      int64
	Nullable   bool
	Identity   bool
	Default    *string // raw MSSQL default expression, possibly parenthesized
	Collation  string  // e.g. "SQL_Latin1_General_CP1_CI_AS", empty for non-text columns
	OrdinalPos int
}

// Constraint represents a PRIMARY KEY, UNIQUE or CHECK constraint.
type Constraint struct {
	Name       string
	SourceName string
	Columns    []string // PG column names, ordered
	CheckText  string   // raw predicate, CHECK constraints only
}

// ForeignKey represents a SQL Server foreign key constraint.
type ForeignKey struct {
	Name        string
	SourceName  string
	Columns     []string // local PG column names
	RefSchema   string   // referenced source schema
	RefTable    string   // referenced source table name
	RefPGSchema string
	RefPGTable  string
	RefColumns  []string // referenced PG column names
	UpdateRule  string   // CASCADE, SET NULL, SET DEFAULT, NO ACTION
	DeleteRule  string
}

// Index represents a filtered (partial) index. Plain indexes backing PKs and
// unique constraints are carried as Constraint values instead.
type Index struct {
	Name        string
	SourceName  string
	Columns     []string
	Unique      bool
	WhereClause string // raw MSSQL filter predicate
}

// Table holds the full introspected definition of a SQL Server table.
type Table struct {
	SourceSchema string
	SourceName   string
	PGSchema     string // "dbo" maps to "public"
	PGName       string
	Columns      []Column
	PrimaryKey   *Constraint
	Uniques      []Constraint
	Checks       []Constraint
	ForeignKeys  []ForeignKey
	Indexes      []Index // filtered indexes only
}

// SourceKey returns the schema-qualified source name.
func (t *Table) SourceKey() string {
	return t.SourceSchema + "." + t.SourceName
}

// PGKey returns the schema-qualified target name.
func (t *Table) PGKey() string {
	return t.PGSchema + "." + t.PGName
}

// Schema holds all introspected tables for a source database.
type Schema struct {
	Tables []Table
}

// TableByPGKey looks a table up by its schema-qualified target name.
func (s *Schema) TableByPGKey(key string) *Table {
	for i := range s.Tables {
		if s.Tables[i].PGKey() == key {
			return &s.Tables[i]
		}
	}
	return nil
}

// RunStatus classifies the outcome of a step or a whole run.
type RunStatus int

const (
	StatusOK RunStatus = iota
	StatusPartial
	StatusFatal
)

func (s RunStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusPartial:
		return "partial"
	default:
		return "fatal"
	}
}

// ExitCode maps a run status to the process exit code.
func (s RunStatus) ExitCode() int {
	switch s {
	case StatusOK:
		return 0
	case StatusPartial:
		return 2
	default:
		return 1
	}
}

// UnitResult records the outcome for one migrated unit (a table, a
// constraint, a collation entry). Failures are collected, never raised
// across unit boundaries.
type UnitResult struct {
	Name string
	Rows int64
	Err  error
}

// StepResult aggregates per-unit outcomes for one migration step.
type StepResult struct {
	Step      int
	Name      string
	Units     []UnitResult
	ElapsedMs int64
	Fatal     error
}

// Status derives the step status from the fatal error and unit failures.
func (r *StepResult) Status() RunStatus {
	if r.Fatal != nil {
		return StatusFatal
	}
	for _, u := range r.Units {
		if u.Err != nil {
			return StatusPartial
		}
	}
	return StatusOK
}

// Failed returns the units that recorded an error.
func (r *StepResult) Failed() []UnitResult {
	var failed []UnitResult
	for _, u := range r.Units {
		if u.Err != nil {
			failed = append(failed, u)
		}
	}
	return failed
}
