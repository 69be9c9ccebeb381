// Package usage provides persistent tool-call accounting for the MCP
// manager. Records are append-only and indexed by timestamp, tool, and
// service for efficient aggregation queries.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record represents a single routed tool call.
type Record struct {
	ID         string
	Timestamp  time.Time
	Tool       string
	ServiceID  string
	DurationMS int64
	OK         bool
	Error      string // empty when OK
}

// Summary holds aggregated call totals.
type Summary struct {
	TotalCalls      int
	TotalErrors     int
	TotalDurationMS int64
}

// ToolSummary is per-tool aggregation output.
type ToolSummary struct {
	Tool      string
	ServiceID string
	Calls     int
	Errors    int
}

// Store is an append-only SQLite store for tool-call records. All
// public methods are safe for concurrent use (SQLite serializes
// writes).
type Store struct {
	db *sql.DB
}

// NewStore creates a usage store at the given database path. The
// schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tool_calls (
		id          TEXT PRIMARY KEY,
		timestamp   TEXT NOT NULL,
		tool        TEXT NOT NULL,
		service_id  TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		ok          INTEGER NOT NULL,
		error       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_calls_timestamp ON tool_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_calls_tool ON tool_calls(tool);
	CREATE INDEX IF NOT EXISTS idx_calls_service ON tool_calls(service_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a tool-call record. If rec.ID is empty, a UUIDv7 is
// generated. The context is used for cancellation only.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (id, timestamp, tool, service_id, duration_ms, ok, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Tool,
		rec.ServiceID,
		rec.DurationMS,
		boolToInt(rec.OK),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary returns aggregated totals for records within [start, end).
func (s *Store) Summary(start, end time.Time) (*Summary, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(duration_ms), 0)
		 FROM tool_calls
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalCalls, &sum.TotalErrors, &sum.TotalDurationMS); err != nil {
		return nil, fmt.Errorf("aggregate usage records: %w", err)
	}
	return &sum, nil
}

// ByTool returns per-tool call counts for records within [start, end),
// ordered by call count descending.
func (s *Store) ByTool(start, end time.Time) ([]ToolSummary, error) {
	rows, err := s.db.Query(
		`SELECT tool, service_id, COUNT(*),
		        COALESCE(SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END), 0)
		 FROM tool_calls
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY tool, service_id
		 ORDER BY COUNT(*) DESC, tool`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query per-tool usage: %w", err)
	}
	defer rows.Close()

	var out []ToolSummary
	for rows.Next() {
		var ts ToolSummary
		if err := rows.Scan(&ts.Tool, &ts.ServiceID, &ts.Calls, &ts.Errors); err != nil {
			return nil, fmt.Errorf("scan per-tool usage: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
