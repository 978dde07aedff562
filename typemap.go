package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// defaultTypeMappings is the fixed default catalog, written to disk on first
// start. Keys are lowercase MSSQL type signatures; parenthesized signatures
// such as "nvarchar(max)" take precedence over the bare type name.
var defaultTypeMappings = map[string]string{
	"bigint":           "BIGINT",
	"int":              "INTEGER",
	"smallint":         "SMALLINT",
	"tinyint":          "SMALLINT",
	"bit":              "BOOLEAN",
	"decimal":          "DECIMAL",
	"numeric":          "NUMERIC",
	"money":            "NUMERIC(19,4)",
	"smallmoney":       "NUMERIC(10,4)",
	"float":            "DOUBLE PRECISION",
	"real":             "REAL",
	"datetime":         "TIMESTAMPTZ",
	"datetime2":        "TIMESTAMPTZ",
	"smalldatetime":    "TIMESTAMPTZ",
	"date":             "DATE",
	"time":             "TIME",
	"datetimeoffset":   "TIMESTAMP WITH TIME ZONE",
	"char":             "CHAR",
	"varchar":          "VARCHAR",
	"text":             "TEXT",
	"nchar":            "CHAR",
	"nvarchar":         "VARCHAR",
	"ntext":            "TEXT",
	"binary":           "BYTEA",
	"varbinary":        "BYTEA",
	"image":            "BYTEA",
	"uniqueidentifier": "UUID",
	"xml":              "XML",
	"varchar(max)":     "TEXT",
	"nvarchar(max)":    "TEXT",
	"varbinary(max)":   "BYTEA",
}

// typeMappingsFile is the persisted JSON form of the mapping table.
type typeMappingsFile struct {
	TypeMappings map[string]string `json:"type_mappings"`
}

// TypeMappings is the editable source-to-target type table. Reads take an
// immutable snapshot, so edits apply to the next run, never retroactively.
// Single writer, any number of concurrent readers.
type TypeMappings struct {
	mu      sync.RWMutex
	path    string
	entries map[string]string
	version uint64
}

// LoadTypeMappings reads the persisted table, creating it with the default
// catalog if absent. A malformed file is a ConfigCorruptError.
func LoadTypeMappings(path string) (*TypeMappings, error) {
	tm := &TypeMappings{path: path}
	if err := tm.Reload(); err != nil {
		return nil, err
	}
	return tm, nil
}

// Reload re-reads the persisted file into memory and bumps the version.
func (tm *TypeMappings) Reload() error {
	data, err := os.ReadFile(tm.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeJSONAtomic(tm.path, typeMappingsFile{TypeMappings: defaultTypeMappings}); err != nil {
			return fmt.Errorf("create default type mappings: %w", err)
		}
		tm.mu.Lock()
		tm.entries = copyStringMap(defaultTypeMappings)
		tm.version++
		tm.mu.Unlock()
		return nil
	}
	if err != nil {
		return &ConfigCorruptError{Path: tm.path, Err: err}
	}

	var file typeMappingsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return &ConfigCorruptError{Path: tm.path, Err: err}
	}
	if len(file.TypeMappings) == 0 {
		return &ConfigCorruptError{Path: tm.path, Err: fmt.Errorf("no type_mappings object")}
	}

	entries := make(map[string]string, len(file.TypeMappings))
	for k, v := range file.TypeMappings {
		entries[strings.ToLower(strings.TrimSpace(k))] = v
	}

	tm.mu.Lock()
	tm.entries = entries
	tm.version++
	tm.mu.Unlock()
	return nil
}

// Save replaces the table and persists it atomically (write-temp-then-
// rename), so a crash mid-save cannot corrupt the live file.
func (tm *TypeMappings) Save(entries map[string]string) error {
	normalized := make(map[string]string, len(entries))
	for k, v := range entries {
		normalized[strings.ToLower(strings.TrimSpace(k))] = v
	}
	if err := writeJSONAtomic(tm.path, typeMappingsFile{TypeMappings: normalized}); err != nil {
		return fmt.Errorf("save type mappings: %w", err)
	}
	tm.mu.Lock()
	tm.entries = normalized
	tm.version++
	tm.mu.Unlock()
	return nil
}

// Snapshot returns an immutable view of the current table. Every run takes
// one snapshot up front; concurrent edits are only visible to later runs.
func (tm *TypeMappings) Snapshot() *TypeMapSnapshot {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return &TypeMapSnapshot{
		entries: copyStringMap(tm.entries),
		version: tm.version,
	}
}

// TypeMapSnapshot is a frozen copy of the mapping table.
type TypeMapSnapshot struct {
	entries map[string]string
	version uint64
}

// Version identifies which table state this snapshot was taken from.
func (s *TypeMapSnapshot) Version() uint64 { return s.version }

// Lookup resolves a bare type signature, exact signature match before
// generic name match.
func (s *TypeMapSnapshot) Lookup(signature string) (string, bool) {
	v, ok := s.entries[strings.ToLower(signature)]
	return v, ok
}

// ResolveColumn maps an introspected column type to a full PostgreSQL type
// expression, applying length and precision rules.
func (s *TypeMapSnapshot) ResolveColumn(col Column) (string, error) {
	dt := strings.ToLower(col.DataType)

	// (max) signature variants win over the bare type name
	if col.CharMaxLen == -1 {
		if mapped, ok := s.entries[dt+"(max)"]; ok {
			return mapped, nil
		}
	}

	base, ok := s.entries[dt]
	if !ok {
		return "", &UnknownTypeMappingError{SourceType: col.DataType, Entity: col.SourceName}
	}

	switch dt {
	case "char", "varchar", "nchar", "nvarchar":
		if col.CharMaxLen > 0 {
			return fmt.Sprintf("%s(%d)", base, col.CharMaxLen), nil
		}
		// (max) without an explicit signature entry: unbounded text
		return "TEXT", nil
	case "binary", "varbinary":
		return base, nil
	case "decimal", "numeric":
		if col.Precision > 0 {
			return fmt.Sprintf("%s(%d,%d)", base, col.Precision, col.Scale), nil
		}
		return base, nil
	case "time":
		if col.Scale > 0 && col.Scale <= 6 {
			return fmt.Sprintf("%s(%d)", base, col.Scale), nil
		}
		return base, nil
	default:
		return base, nil
	}
}

// Signatures returns every mapping key ordered longest first, then
// lexicographic. The script rewriter relies on this order so that a
// parameterized signature like "nvarchar(max)" is matched before the bare
// "nvarchar" and a short name never matches inside a longer one.
func (s *TypeMapSnapshot) Signatures() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

// writeJSONAtomic persists v as indented JSON via a temp file and rename.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
