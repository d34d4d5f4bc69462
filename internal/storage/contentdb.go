// Package storage opens the editorial platform's content database for
// introspection and maintenance. Telemetry samples are never persisted here;
// the handle exists so the optimization orchestrator can analyze the
// platform's own tables and act on slow-query evidence.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Oualidl290/new-andalus-telemetry/internal/collector"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Config locates the content database.
type Config struct {
	DatabasePath string `yaml:"database_path"`
}

// ContentDB wraps the platform's SQLite content database.
type ContentDB struct {
	db     *sql.DB
	logger *zap.Logger
	path   string
}

// Open connects to the content database with the same pragma set the
// platform uses (WAL, busy timeout, normal sync).
func Open(cfg Config, logger *zap.Logger) (*ContentDB, error) {
	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("content database path is required")
	}

	if cfg.DatabasePath != ":memory:" {
		dir := filepath.Dir(cfg.DatabasePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", cfg.DatabasePath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open content database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("content database unreachable: %w", err)
	}

	logger.Info("Content database opened", zap.String("path", cfg.DatabasePath))

	return &ContentDB{db: db, logger: logger, path: cfg.DatabasePath}, nil
}

// Close closes the database handle.
func (c *ContentDB) Close() error {
	return c.db.Close()
}

// DB exposes the raw handle for instrumented call sites.
// Path returns the database file path the handle was opened with.
func (c *ContentDB) Path() string {
	return c.path
}

func (c *ContentDB) DB() *sql.DB {
	return c.db
}

// Analyze refreshes the query planner's statistics.
func (c *ContentDB) Analyze(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze failed: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("pragma optimize failed: %w", err)
	}
	c.logger.Debug("Content database analyzed")
	return nil
}

// TableCounts returns per-table row counts for the platform's tables.
func (c *ContentDB) TableCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("table iteration error: %w", err)
	}

	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var n int64
		// Table names come from sqlite_master, not user input.
		q := fmt.Sprintf("SELECT COUNT(*) FROM %q", table)
		if err := c.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			c.logger.Warn("Failed to count table rows",
				zap.String("table", table), zap.Error(err))
			continue
		}
		counts[table] = n
	}
	return counts, nil
}

// SuggestIndexes derives index suggestions from slow query samples: any
// operation seen slow at least minOccurrences times yields one suggestion.
// Suggestions are sorted for stable output.
func SuggestIndexes(slowSamples []collector.TimedSample, minOccurrences int) []string {
	if minOccurrences < 1 {
		minOccurrences = 1
	}

	seen := make(map[string]int)
	for _, s := range slowSamples {
		seen[s.Operation]++
	}

	var suggestions []string
	for op, n := range seen {
		if n < minOccurrences {
			continue
		}
		table := op
		if idx := strings.IndexByte(op, '.'); idx > 0 {
			table = op[:idx]
		}
		suggestions = append(suggestions,
			fmt.Sprintf("add index covering %q (operation %q slow %d times)", table, op, n))
	}
	sort.Strings(suggestions)
	return suggestions
}
