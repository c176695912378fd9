// Package db stores sequence, cluster, job and diversity records in sqlite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/yumyai/edna/internal/util"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("record not found")

// EDB wraps the record database. Safe for concurrent use; sqlite serializes
// writers, so the pool is kept to one connection.
type EDB struct {
	sql *sql.DB
}

// Open opens (creating when needed) the sqlite file at path and migrates it.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*EDB, error) {
	if path != ":memory:" {
		if err := util.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	sqldb.SetMaxOpenConns(1)

	edb := NewEDB(sqldb)
	if err := edb.Migrate(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}
	return edb, nil
}

func NewEDB(db *sql.DB) *EDB {
	return &EDB{sql: db}
}

func (e *EDB) Close() error { return e.sql.Close() }

// SQL exposes the handle for health checks.
func (e *EDB) SQL() *sql.DB { return e.sql }

var schema = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS sequences (
		id TEXT PRIMARY KEY,
		raw_data TEXT NOT NULL,
		cleaned_data TEXT NOT NULL,
		embedding BLOB,
		quality_score REAL NOT NULL DEFAULT 0,
		gc_content REAL NOT NULL DEFAULT 0,
		length INTEGER NOT NULL DEFAULT 0,
		taxonomy TEXT NOT NULL DEFAULT '{}',
		taxonomy_confidence REAL NOT NULL DEFAULT 0,
		cluster_id INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sequences_cluster ON sequences(cluster_id)`,
	`CREATE TABLE IF NOT EXISTS cluster_runs (
		id TEXT PRIMARY KEY,
		min_cluster_size INTEGER NOT NULL,
		min_samples INTEGER NOT NULL,
		n_clusters INTEGER NOT NULL,
		n_noise INTEGER NOT NULL,
		noise_ratio REAL NOT NULL,
		silhouette REAL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS clusters (
		run_id TEXT NOT NULL REFERENCES cluster_runs(id) ON DELETE CASCADE,
		cluster_id INTEGER NOT NULL,
		member_count INTEGER NOT NULL,
		centroid BLOB,
		stability REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, cluster_id)
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		result TEXT,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS diversity_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		shannon_index REAL NOT NULL,
		simpson_index REAL NOT NULL,
		species_richness INTEGER NOT NULL,
		evenness REAL NOT NULL,
		known_taxa_percentage REAL NOT NULL,
		novel_taxa_percentage REAL NOT NULL,
		novel_taxa_count INTEGER NOT NULL,
		total_sequences INTEGER NOT NULL,
		total_clusters INTEGER NOT NULL,
		quality_score_avg REAL NOT NULL,
		created_at INTEGER NOT NULL
	)`,
}

// Migrate creates any missing tables. It is idempotent.
func (e *EDB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := e.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Timestamps are stored as unix nanoseconds so ordering by them is exact.
func toUnix(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }
