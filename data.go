package main

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// ProgressFunc observes per-table row progress. Called after every
// committed batch; safe for concurrent invocation.
type ProgressFunc func(table string, rows int64)

// migrateData streams data from SQL Server to PostgreSQL for all tables
// using a bounded worker pool. Table failures are collected, never fatal to
// the run: a table that exhausts its retries is marked failed and the pool
// moves on. Cancellation is checked between batches, so prior committed
// batches survive a mid-table abort.
func migrateData(ctx context.Context, sourceDSN string, pool *pgxpool.Pool, schema *Schema, cfg *MigrationConfig, types *TypeMapSnapshot, progress ProgressFunc) []UnitResult {
	var (
		mu      sync.Mutex
		results []UnitResult
	)

	g := &errgroup.Group{}
	g.SetLimit(cfg.Workers)

	for i := range schema.Tables {
		t := &schema.Tables[i]
		g.Go(func() error {
			rows, err := migrateTable(ctx, sourceDSN, pool, t, cfg, types, progress)
			if err != nil {
				log.Printf("  FAILED %s after %d rows: %v", t.PGKey(), rows, err)
			} else {
				log.Printf("  %s: %d rows", t.PGKey(), rows)
			}
			mu.Lock()
			results = append(results, UnitResult{Name: t.PGKey(), Rows: rows, Err: err})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// migrateTable copies one table in batch-sized transactions. Each worker
// opens its own source connection.
func migrateTable(ctx context.Context, sourceDSN string, pool *pgxpool.Pool, t *Table, cfg *MigrationConfig, types *TypeMapSnapshot, progress ProgressFunc) (int64, error) {
	cols := transferColumns(t, types)
	if len(cols) == 0 {
		return 0, fmt.Errorf("no transferable columns")
	}

	db, err := openSourceDB(sourceDSN)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	selectSQL := buildSelect(t, cols)
	rows, err := db.QueryContext(ctx, selectSQL)
	if err != nil {
		return 0, classifyConnectivity("mssql", fmt.Errorf("select from %s: %w", t.SourceKey(), err))
	}
	defer rows.Close()

	insertSQL := buildInsert(t, cols, cfg.IdentityAlways)

	var (
		batch [][]any
		total int64
	)
	scan := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range scan {
		ptrs[i] = &scan[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return total, fmt.Errorf("scan %s: %w", t.SourceKey(), err)
		}

		converted := make([]any, len(cols))
		for i, col := range cols {
			v, err := transformValue(scan[i], col)
			if err != nil {
				return total, fmt.Errorf("column %s: %w", col.SourceName, err)
			}
			converted[i] = v
		}
		batch = append(batch, converted)

		if len(batch) >= cfg.BatchSize {
			if err := commitBatchWithRetry(ctx, pool, insertSQL, batch, cfg.MaxRetries); err != nil {
				return total, err
			}
			total += int64(len(batch))
			batch = batch[:0]
			if progress != nil {
				progress(t.PGKey(), total)
			}
			// Cooperative cancellation between batches only; committed
			// batches are never rolled back.
			if err := ctx.Err(); err != nil {
				return total, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return total, classifyConnectivity("mssql", fmt.Errorf("read %s: %w", t.SourceKey(), err))
	}

	if len(batch) > 0 {
		if err := commitBatchWithRetry(ctx, pool, insertSQL, batch, cfg.MaxRetries); err != nil {
			return total, err
		}
		total += int64(len(batch))
		if progress != nil {
			progress(t.PGKey(), total)
		}
	}

	if err := resetIdentitySequences(ctx, pool, t); err != nil {
		return total, err
	}
	return total, nil
}

// transferColumns returns the columns that exist on the target: identity
// columns plus every column with a resolvable type mapping. Columns skipped
// during DDL generation are skipped here too.
func transferColumns(t *Table, types *TypeMapSnapshot) []Column {
	var cols []Column
	for _, col := range t.Columns {
		if col.Identity {
			cols = append(cols, col)
			continue
		}
		if _, err := types.ResolveColumn(col); err == nil {
			cols = append(cols, col)
		}
	}
	return cols
}

func buildSelect(t *Table, cols []Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = mssqlQuoteIdent(c.SourceName)
	}
	return fmt.Sprintf("SELECT %s FROM %s.%s",
		strings.Join(names, ", "), mssqlQuoteIdent(t.SourceSchema), mssqlQuoteIdent(t.SourceName))
}

func buildInsert(t *Table, cols []Column, identityAlways bool) string {
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		names[i] = pgIdent(c.PGName)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	overriding := ""
	if identityAlways {
		overriding = "OVERRIDING SYSTEM VALUE "
	}
	return fmt.Sprintf("INSERT INTO %s.%s (%s) %sVALUES (%s)",
		pgIdent(t.PGSchema), pgIdent(t.PGName),
		strings.Join(names, ", "), overriding, strings.Join(placeholders, ", "))
}

// commitBatchWithRetry inserts one batch inside a single transaction.
// Connectivity failures are retried with linear backoff up to maxRetries;
// any other failure is final immediately.
func commitBatchWithRetry(ctx context.Context, pool *pgxpool.Pool, insertSQL string, batch [][]any, maxRetries int) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		lastErr = commitBatch(ctx, pool, insertSQL, batch)
		if lastErr == nil {
			return nil
		}
		var connErr *ConnectivityError
		if !errors.As(lastErr, &connErr) {
			return lastErr
		}
	}
	return fmt.Errorf("batch failed after %d retries: %w", maxRetries, lastErr)
}

func commitBatch(ctx context.Context, pool *pgxpool.Pool, insertSQL string, batch [][]any) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return classifyConnectivity("postgres", fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, row := range batch {
		b.Queue(insertSQL, row...)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return classifyConnectivity("postgres", fmt.Errorf("insert batch: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyConnectivity("postgres", fmt.Errorf("commit batch: %w", err))
	}
	return nil
}

// resetIdentitySequences advances identity sequences past the migrated data.
func resetIdentitySequences(ctx context.Context, pool *pgxpool.Pool, t *Table) error {
	for _, col := range t.Columns {
		if !col.Identity {
			continue
		}
		q := fmt.Sprintf(
			`SELECT setval(pg_get_serial_sequence('%s.%s', '%s'), GREATEST(COALESCE(MAX(%s), 0), 1))
			 FROM %s.%s`,
			pgIdent(t.PGSchema), pgIdent(t.PGName), col.PGName,
			pgIdent(col.PGName), pgIdent(t.PGSchema), pgIdent(t.PGName))
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("reset sequence for %s.%s: %w", t.PGKey(), col.PGName, err)
		}
	}
	return nil
}

// classifyConnectivity wraps transport-level failures as ConnectivityError
// so the batch retry loop can distinguish them from data errors.
func classifyConnectivity(system string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &ConnectivityError{System: system, Err: err}
	}
	msg := err.Error()
	for _, marker := range []string{"connection refused", "connection reset", "broken pipe", "unexpected EOF", "conn closed", "conn busy"} {
		if strings.Contains(msg, marker) {
			return &ConnectivityError{System: system, Err: err}
		}
	}
	return err
}
