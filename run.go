package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var stepNames = map[int]string{
	1: "schema and data",
	2: "verify",
	3: "constraints and indexes",
	4: "collations",
}

// runSteps executes the requested migration steps in order and returns the
// aggregated outcome. A fatal step error stops the run; per-unit failures
// downgrade the outcome to partial and the run continues.
func runSteps(ctx context.Context, cfg *MigrationConfig, steps []int) (RunStatus, error) {
	if err := cfg.requireDSNs(); err != nil {
		return StatusFatal, err
	}
	cleanup, err := setupLogging(cfg)
	if err != nil {
		return StatusFatal, err
	}
	defer cleanup()

	types, err := LoadTypeMappings(cfg.resolvePath(cfg.TypeMappings))
	if err != nil {
		return StatusFatal, err
	}
	colls, err := LoadCollationMappings(cfg.resolvePath(cfg.Collations))
	if err != nil {
		return StatusFatal, err
	}
	// Snapshots taken once: mapping edits during a run never apply to it.
	typeSnap := types.Snapshot()
	collSnap := colls.Snapshot()

	log.Printf("mssqlferry: SQL Server to PostgreSQL migration")
	log.Printf("config: workers=%d batch_size=%d migrate_data=%t identity_always=%t on_table_exists=%s",
		cfg.Workers, cfg.BatchSize, cfg.MigrateData, cfg.IdentityAlways, cfg.OnTableExists)

	log.Printf("connecting to SQL Server...")
	sourceDB, err := openSourceDB(cfg.Source.DSN)
	if err != nil {
		return StatusFatal, err
	}
	defer sourceDB.Close()
	sourceDB.SetMaxOpenConns(2)
	if err := sourceDB.PingContext(ctx); err != nil {
		return StatusFatal, &ConnectivityError{System: "mssql", Err: err}
	}

	log.Printf("introspecting source schema...")
	schema, err := introspectSchema(sourceDB, cfg.SchemaFilter)
	if err != nil {
		return StatusFatal, fmt.Errorf("introspect schema: %w", err)
	}
	log.Printf("found %d tables", len(schema.Tables))
	for _, t := range schema.Tables {
		log.Printf("  %s -> %s (%d cols, %d fks, %d filtered indexes)",
			t.SourceKey(), t.PGKey(), len(t.Columns), len(t.ForeignKeys), len(t.Indexes))
	}

	objects, err := introspectSourceObjects(sourceDB, cfg.SchemaFilter)
	if err != nil {
		return StatusFatal, fmt.Errorf("introspect source objects: %w", err)
	}
	for _, w := range sourceObjectWarnings(objects) {
		log.Printf("  WARN: %s", w)
	}

	log.Printf("connecting to PostgreSQL...")
	pool, err := pgxpool.New(ctx, cfg.Target.DSN)
	if err != nil {
		return StatusFatal, &ConnectivityError{System: "postgres", Err: err}
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return StatusFatal, &ConnectivityError{System: "postgres", Err: err}
	}

	status := StatusOK
	for _, step := range steps {
		res := runStep(ctx, step, cfg, sourceDB, pool, schema, typeSnap, collSnap)
		logStepResult(res)
		switch res.Status() {
		case StatusFatal:
			return StatusFatal, fmt.Errorf("step %d (%s): %w", res.Step, res.Name, res.Fatal)
		case StatusPartial:
			status = StatusPartial
		}
	}

	if containsStep(steps, 3) || containsStep(steps, 4) {
		if err := loadAndExecSQLFiles(ctx, pool, cfg, cfg.Hooks.AfterAll, "after_all"); err != nil {
			return StatusFatal, err
		}
	}

	log.Printf("run finished: %s", status)
	return status, nil
}

func runStep(ctx context.Context, step int, cfg *MigrationConfig, sourceDB *sql.DB, pool *pgxpool.Pool, schema *Schema, types *TypeMapSnapshot, colls *CollationSnapshot) *StepResult {
	res := &StepResult{Step: step, Name: stepNames[step]}
	start := time.Now()
	log.Printf("step %d: %s...", step, res.Name)

	switch step {
	case 1:
		res.Units, res.Fatal = stepSchemaAndData(ctx, cfg, pool, schema, types)
	case 2:
		report, units, err := verifySchema(ctx, sourceDB, pool, schema, cfg)
		res.Units, res.Fatal = units, err
		if err == nil {
			if werr := writeVerifyReport(report, cfg.resolvePath(cfg.LogDir)); werr != nil {
				log.Printf("  WARN: %v", werr)
			}
		}
	case 3:
		if err := loadAndExecSQLFiles(ctx, pool, cfg, cfg.Hooks.BeforeFk, "before_fk"); err != nil {
			res.Fatal = err
			break
		}
		res.Units, res.Fatal = applyConstraints(ctx, pool, schema, cfg)
	case 4:
		res.Units, res.Fatal = applyCollations(ctx, pool, schema, types, colls)
	default:
		res.Fatal = fmt.Errorf("unknown step %d", step)
	}

	res.ElapsedMs = time.Since(start).Milliseconds()
	return res
}

func stepSchemaAndData(ctx context.Context, cfg *MigrationConfig, pool *pgxpool.Pool, schema *Schema, types *TypeMapSnapshot) ([]UnitResult, error) {
	log.Printf("  creating tables...")
	units, err := createTables(ctx, pool, schema, cfg, types)
	if err != nil {
		return units, err
	}

	if err := loadAndExecSQLFiles(ctx, pool, cfg, cfg.Hooks.BeforeData, "before_data"); err != nil {
		return units, err
	}

	if cfg.MigrateData {
		log.Printf("  migrating data with %d workers...", cfg.Workers)
		progress := ProgressFunc(nil)
		if cfg.LogLevel == "debug" {
			progress = func(table string, rows int64) {
				log.Printf("    %s: %d rows so far", table, rows)
			}
		}
		units = append(units, migrateData(ctx, cfg.Source.DSN, pool, schema, cfg, types, progress)...)
	} else {
		log.Printf("  data migration disabled")
	}

	if err := loadAndExecSQLFiles(ctx, pool, cfg, cfg.Hooks.AfterData, "after_data"); err != nil {
		return units, err
	}
	return units, nil
}

func logStepResult(res *StepResult) {
	failed := res.Failed()
	switch {
	case res.Fatal != nil:
		log.Printf("step %d failed after %dms: %v", res.Step, res.ElapsedMs, res.Fatal)
	case len(failed) > 0:
		log.Printf("step %d partial: %d/%d units failed (%dms)", res.Step, len(failed), len(res.Units), res.ElapsedMs)
		for _, u := range failed {
			log.Printf("  FAILED %s: %v", u.Name, u.Err)
		}
	default:
		log.Printf("step %d done: %d units (%dms)", res.Step, len(res.Units), res.ElapsedMs)
	}
}

func containsStep(steps []int, n int) bool {
	for _, s := range steps {
		if s == n {
			return true
		}
	}
	return false
}

// setupLogging tees log output into a per-run file under log_dir. At
// warning and error levels the indented detail lines are dropped from both
// outputs; lines flagged WARN or FAILED always pass.
func setupLogging(cfg *MigrationConfig) (func(), error) {
	logDir := cfg.resolvePath(cfg.LogDir)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(logDir, fmt.Sprintf("mssqlferry_%s.log", time.Now().Format("20060102_150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	var out io.Writer = io.MultiWriter(os.Stderr, f)
	if cfg.LogLevel == "warning" || cfg.LogLevel == "error" {
		out = &detailFilterWriter{w: out}
	}
	log.SetOutput(out)

	return func() {
		log.SetOutput(os.Stderr)
		f.Close()
	}, nil
}

// detailFilterWriter suppresses indented substep lines, keeping warnings
// and failures visible.
type detailFilterWriter struct {
	w io.Writer
}

func (w *detailFilterWriter) Write(p []byte) (int, error) {
	line := string(p)
	// Message text follows the "date time " prefix written by the logger.
	if idx := strings.IndexByte(line, ' '); idx >= 0 {
		if idx2 := strings.IndexByte(line[idx+1:], ' '); idx2 >= 0 {
			msg := line[idx+idx2+2:]
			if strings.HasPrefix(msg, "  ") &&
				!strings.Contains(msg, "WARN") && !strings.Contains(msg, "FAILED") {
				return len(p), nil
			}
		}
	}
	return w.w.Write(p)
}
