package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// collationDefaultMarker in a candidate list means "accept the target
// system's default collation" when no explicit candidate is installed.
const collationDefaultMarker = "default"

// defaultCollationMappings maps MSSQL collation names to ordered PostgreSQL
// candidate lists. The first installed candidate wins; a trailing "default"
// marker accepts the database default.
var defaultCollationMappings = map[string][]string{
	"SQL_Latin1_General_CP1_CI_AS": {
		"de-DE-x-icu", "de_DE.utf8", "de_DE", "en-US-x-icu", "en_US.utf8", "C.UTF-8", "default",
	},
	"Latin1_General_CI_AS": {
		"de-DE-x-icu", "de_DE.utf8", "de_DE", "en-US-x-icu", "en_US.utf8", "C.UTF-8", "default",
	},
	"SQL_Latin1_General_CP1_CS_AS": {"C"},
	"Latin1_General_CS_AS":         {"C"},
	"German_PhoneBook_CI_AS": {
		"de-DE-x-icu", "de_DE.utf8", "de_DE", "default",
	},
	"SQL_Latin1_General_CP850_CI_AS": {
		"de-DE-x-icu", "de_DE.utf8", "de_DE", "en-US-x-icu", "en_US.utf8", "default",
	},
	// Generic fallback list for collations with no explicit entry.
	"default": {
		"en-US-x-icu", "en_US.utf8", "C.UTF-8", "default",
	},
}

type collationMappingsFile struct {
	Collations map[string][]string `json:"collations"`
}

// CollationMappings is the editable collation candidate table, with the same
// snapshot discipline as TypeMappings.
type CollationMappings struct {
	mu      sync.RWMutex
	path    string
	entries map[string][]string
	version uint64
}

// LoadCollationMappings reads the persisted table, creating it with the
// documented defaults if absent.
func LoadCollationMappings(path string) (*CollationMappings, error) {
	cm := &CollationMappings{path: path}
	if err := cm.Reload(); err != nil {
		return nil, err
	}
	return cm, nil
}

// Reload re-reads the persisted file into memory and bumps the version.
func (cm *CollationMappings) Reload() error {
	data, err := os.ReadFile(cm.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeJSONAtomic(cm.path, collationMappingsFile{Collations: defaultCollationMappings}); err != nil {
			return fmt.Errorf("create default collation mappings: %w", err)
		}
		cm.mu.Lock()
		cm.entries = copyCollationMap(defaultCollationMappings)
		cm.version++
		cm.mu.Unlock()
		return nil
	}
	if err != nil {
		return &ConfigCorruptError{Path: cm.path, Err: err}
	}

	var file collationMappingsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return &ConfigCorruptError{Path: cm.path, Err: err}
	}
	if len(file.Collations) == 0 {
		return &ConfigCorruptError{Path: cm.path, Err: fmt.Errorf("no collations object")}
	}

	cm.mu.Lock()
	cm.entries = copyCollationMap(file.Collations)
	cm.version++
	cm.mu.Unlock()
	return nil
}

// Save replaces the table and persists it atomically.
func (cm *CollationMappings) Save(entries map[string][]string) error {
	if err := writeJSONAtomic(cm.path, collationMappingsFile{Collations: entries}); err != nil {
		return fmt.Errorf("save collation mappings: %w", err)
	}
	cm.mu.Lock()
	cm.entries = copyCollationMap(entries)
	cm.version++
	cm.mu.Unlock()
	return nil
}

// Snapshot returns an immutable view of the current table.
func (cm *CollationMappings) Snapshot() *CollationSnapshot {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return &CollationSnapshot{
		entries: copyCollationMap(cm.entries),
		version: cm.version,
	}
}

// CollationSnapshot is a frozen copy of the collation candidate table.
type CollationSnapshot struct {
	entries map[string][]string
	version uint64
}

// Version identifies which table state this snapshot was taken from.
func (s *CollationSnapshot) Version() uint64 { return s.version }

// Candidates returns the configured candidate list for a source collation,
// falling back to the generic "default" entry when none exists.
func (s *CollationSnapshot) Candidates(sourceCollation string) []string {
	if list, ok := s.entries[sourceCollation]; ok {
		return list
	}
	return s.entries[collationDefaultMarker]
}

// Resolve returns the first candidate installed on the target, in list
// order. The "default" marker always resolves (to itself, meaning "use the
// database default"). No installed candidate and no marker is a
// CollationUnresolvedError.
func (s *CollationSnapshot) Resolve(sourceCollation string, installed map[string]bool) (string, error) {
	for _, candidate := range s.Candidates(sourceCollation) {
		if candidate == collationDefaultMarker || installed[candidate] {
			return candidate, nil
		}
	}
	return "", &CollationUnresolvedError{SourceCollation: sourceCollation}
}

// queryInstalledCollations probes pg_collation once; the result is cached
// for the run's duration by the caller.
func queryInstalledCollations(ctx context.Context, q pgQuerier) (map[string]bool, error) {
	rows, err := q.Query(ctx, "SELECT collname FROM pg_collation WHERE collname <> '' ORDER BY collname")
	if err != nil {
		return nil, fmt.Errorf("query pg_collation: %w", err)
	}
	defer rows.Close()

	installed := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan pg_collation: %w", err)
		}
		installed[name] = true
	}
	return installed, rows.Err()
}

// collationRewritePairs returns (source, target) pairs for the script
// rewriter: the first candidate of each list, skipping entries that only
// resolve to the default marker.
func (s *CollationSnapshot) collationRewritePairs() map[string]string {
	pairs := make(map[string]string, len(s.entries))
	for source, candidates := range s.entries {
		if source == collationDefaultMarker {
			continue
		}
		for _, c := range candidates {
			if c != collationDefaultMarker {
				pairs[strings.ToLower(source)] = c
				break
			}
		}
	}
	return pairs
}

func copyCollationMap(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		list := make([]string, len(v))
		copy(list, v)
		out[k] = list
	}
	return out
}
