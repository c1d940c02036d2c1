// Package postgres keeps the run history in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/polla-consensus/internal/polla"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrNoRuns is returned by LatestRun when the history is empty.
var ErrNoRuns = errors.New("no runs recorded")

const defaultTable = "polla_runs"

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore appends one row per run.
//
// Expected schema:
//
//	CREATE TABLE polla_runs (
//		run_id         TEXT PRIMARY KEY,
//		generated_at   TIMESTAMPTZ NOT NULL,
//		status         TEXT NOT NULL,
//		reason         TEXT,
//		mismatch_ratio DOUBLE PRECISION,
//		prizes_changed BOOLEAN NOT NULL,
//		publish        BOOLEAN NOT NULL,
//		sorteo         INTEGER,
//		fecha          TEXT,
//		summary        JSONB NOT NULL,
//		report         JSONB NOT NULL
//	);
type RunStore struct {
	pool  pool
	table string
}

// NewRunStore connects a pool using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: p, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordRun inserts the run summary and its comparison report.
func (s *RunStore) RecordRun(ctx context.Context, summary polla.RunSummary, report polla.ComparisonReport) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	if summary.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	generated_at,
	status,
	reason,
	mismatch_ratio,
	prizes_changed,
	publish,
	sorteo,
	fecha,
	summary,
	report
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, s.table)

	args := []any{
		summary.RunID,
		summary.GeneratedAt,
		string(summary.Decision.Status),
		summary.Decision.Reason,
		summary.Decision.MismatchRatio,
		summary.PrizesChanged,
		summary.Publish,
		report.LastDraw.Sorteo,
		report.LastDraw.Fecha,
		summaryJSON,
		reportJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// LatestRun returns the most recently generated run summary.
func (s *RunStore) LatestRun(ctx context.Context) (polla.RunSummary, error) {
	if s == nil || s.pool == nil {
		return polla.RunSummary{}, fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`SELECT summary FROM %s ORDER BY generated_at DESC LIMIT 1`, s.table)
	var raw []byte
	if err := s.pool.QueryRow(ctx, query).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return polla.RunSummary{}, ErrNoRuns
		}
		return polla.RunSummary{}, fmt.Errorf("query latest run: %w", err)
	}
	var summary polla.RunSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return polla.RunSummary{}, fmt.Errorf("decode run summary: %w", err)
	}
	return summary, nil
}
