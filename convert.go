package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ConvertSummary aggregates a directory conversion.
type ConvertSummary struct {
	Converted    int          `json:"converted"`
	Failed       int          `json:"failed"`
	TotalChanges int          `json:"total_changes"`
	Files        []FileResult `json:"files"`
}

// convertScript runs the rule pipeline over one script's text.
func convertScript(name, text string, rules []ConversionRule) (string, []ChangeRecord, error) {
	doc, err := parseSQLDoc(text)
	if err != nil {
		return "", nil, &ScriptConversionError{File: name, Err: err}
	}
	var changes []ChangeRecord
	for _, rule := range rules {
		changes = append(changes, rule.Apply(doc)...)
	}
	return doc.String(), changes, nil
}

// convertDir converts every .sql file under sourceDir into targetDir,
// preserving relative paths. One bad file never aborts the rest. Files run
// through a bounded worker pool; the summary lists results in name order so
// repeated runs report identically.
func convertDir(sourceDir, targetDir string, workers int, rules []ConversionRule) (*ConvertSummary, error) {
	var files []string
	err := filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".sql") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", sourceDir, err)
	}
	sort.Strings(files)

	var (
		mu      sync.Mutex
		results = make([]FileResult, len(files))
	)
	g := &errgroup.Group{}
	g.SetLimit(workers)

	for i, path := range files {
		g.Go(func() error {
			rel, relErr := filepath.Rel(sourceDir, path)
			if relErr != nil {
				rel = filepath.Base(path)
			}
			res := convertFile(path, filepath.Join(targetDir, rel), rel, rules)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	summary := &ConvertSummary{Files: results}
	for _, res := range results {
		if res.Err != nil {
			summary.Failed++
			log.Printf("  FAILED %s: %v", res.Name, res.Err)
			continue
		}
		summary.Converted++
		summary.TotalChanges += len(res.Changes)
		log.Printf("  %s: %d changes", res.Name, len(res.Changes))
	}
	return summary, nil
}

func convertFile(sourcePath, targetPath, name string, rules []ConversionRule) FileResult {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return FileResult{Name: name, Err: &ScriptConversionError{File: name, Err: err}}
	}

	converted, changes, err := convertScript(name, string(data), rules)
	if err != nil {
		return FileResult{Name: name, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return FileResult{Name: name, Err: &ScriptConversionError{File: name, Err: err}}
	}
	if err := os.WriteFile(targetPath, []byte(converted), 0o644); err != nil {
		return FileResult{Name: name, Err: &ScriptConversionError{File: name, Err: err}}
	}
	return FileResult{Name: name, Changes: changes}
}
