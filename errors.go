package main

import (
	"fmt"
	"strings"
)

// ConnectivityError wraps a driver error from an unreachable source or
// target. Retryable during data transfer, fatal everywhere else.
type ConnectivityError struct {
	System string // "mssql" or "postgres"
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s unreachable: %v", e.System, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// UnknownTypeMappingError reports a source type with no resolvable target
// expression. Non-fatal: the caller skips the column or token with a warning.
type UnknownTypeMappingError struct {
	SourceType string
	Entity     string // column or file the type was seen in, may be empty
}

func (e *UnknownTypeMappingError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("no type mapping for %q (in %s)", e.SourceType, e.Entity)
	}
	return fmt.Sprintf("no type mapping for %q", e.SourceType)
}

// CyclicConstraintError reports a foreign-key dependency cycle. Fatal to the
// constraint step only; no partial ordering is attempted.
type CyclicConstraintError struct {
	Tables []string // every table on the cycle
}

func (e *CyclicConstraintError) Error() string {
	return fmt.Sprintf("foreign key cycle involving: %s", strings.Join(e.Tables, ", "))
}

// CollationUnresolvedError reports a source collation with no installed
// candidate and no default fallback marker.
type CollationUnresolvedError struct {
	SourceCollation string
}

func (e *CollationUnresolvedError) Error() string {
	return fmt.Sprintf("no installed candidate for collation %q and no default fallback", e.SourceCollation)
}

// ScriptConversionError marks a single script file that cannot be safely
// rewritten. File-scoped, non-fatal to the batch.
type ScriptConversionError struct {
	File string
	Err  error
}

func (e *ScriptConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.File, e.Err)
}

func (e *ScriptConversionError) Unwrap() error { return e.Err }

// ConfigCorruptError reports an unreadable or malformed persisted mapping
// file. Fatal at load time; recovery is deleting the file so the defaults
// are regenerated.
type ConfigCorruptError struct {
	Path string
	Err  error
}

func (e *ConfigCorruptError) Error() string {
	return fmt.Sprintf("mapping file %s is corrupt (delete it to regenerate defaults): %v", e.Path, e.Err)
}

func (e *ConfigCorruptError) Unwrap() error { return e.Err }
