// Package store persists session records and execution summaries to SQLite
// so they survive restarts. The orchestrator never calls it directly; the
// CLI and server wire it in through orchestrator.WithRecorder.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/osakka/agentorch/internal/orchestrator"
	"github.com/osakka/agentorch/internal/session"
	"github.com/osakka/agentorch/pkg/logging"
)

// timeLayout is fixed width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Execution is the persisted summary of one orchestrated query
type Execution struct {
	ID               string    `json:"id"`
	Query            string    `json:"query"`
	StartedAt        time.Time `json:"started_at"`
	DurationMS       int64     `json:"duration_ms"`
	Capabilities     []string  `json:"capabilities"`
	Targets          []string  `json:"targets"`
	Total            int       `json:"total"`
	SuccessCount     int       `json:"success_count"`
	OverallSentiment string    `json:"overall_sentiment"`
	Confidence       string    `json:"confidence"`
	RiskLevel        string    `json:"risk_level"`
}

// Store wraps one SQLite database
type Store struct {
	db     *sql.DB
	path   string
	logger logging.Logger
}

// Open creates the database and its parent directory if needed and applies
// the schema.
func Open(path string, logger logging.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; SQLite serialises them anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, path: path, logger: logger.WithComponent("store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	s.logger.Info("store_opened", "path", path)
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_records (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		capability TEXT NOT NULL,
		request_digest TEXT NOT NULL,
		success INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_session_records_timestamp ON session_records(timestamp);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		capabilities TEXT NOT NULL,
		targets TEXT NOT NULL,
		total INTEGER NOT NULL,
		success_count INTEGER NOT NULL,
		overall_sentiment TEXT NOT NULL,
		confidence TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		summary TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRecord appends one session record. Saving the same record twice is a
// no-op.
func (s *Store) SaveRecord(ctx context.Context, rec session.Record) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO session_records (id, timestamp, capability, request_digest, success)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`,
		rec.ID,
		rec.Timestamp.UTC().Format(timeLayout),
		rec.Capability,
		rec.Digest,
		rec.Success,
	)
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

// Recorder adapts SaveRecord for orchestrator.WithRecorder. Failures are
// logged, never returned, so persistence problems cannot fail a query.
func (s *Store) Recorder() func(session.Record) {
	return func(rec session.Record) {
		if err := s.SaveRecord(context.Background(), rec); err != nil {
			s.logger.Warn("session_record_not_persisted",
				"record_id", rec.ID,
				"capability", rec.Capability,
				"error", err)
		}
	}
}

// SaveExecution stores the summary of report.
func (s *Store) SaveExecution(ctx context.Context, report *orchestrator.ExecutionReport) error {
	capsJSON, err := json.Marshal(report.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	targetsJSON, err := json.Marshal(report.Targets)
	if err != nil {
		return fmt.Errorf("marshal targets: %w", err)
	}
	summaryJSON, err := json.Marshal(report.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	total, succeeded := 0, 0
	if report.Batch != nil {
		total, succeeded = report.Batch.Total, report.Batch.SuccessCount
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO executions (id, query, started_at, duration_ms, capabilities, targets,
		total, success_count, overall_sentiment, confidence, risk_level, summary)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`,
		report.ID,
		report.Query,
		report.StartedAt.UTC().Format(timeLayout),
		report.Duration.Milliseconds(),
		string(capsJSON),
		string(targetsJSON),
		total,
		succeeded,
		string(report.Summary.OverallSentiment),
		string(report.Summary.Confidence),
		string(report.Summary.RiskLevel),
		string(summaryJSON),
	)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}

	s.logger.Debug("execution_persisted", "execution_id", report.ID, "capabilities", report.Capabilities)
	return nil
}

// Records returns the newest limit records, oldest first. A non-positive
// limit returns everything.
func (s *Store) Records(ctx context.Context, limit int) ([]session.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, timestamp, capability, request_digest, success FROM (
		SELECT * FROM session_records ORDER BY timestamp DESC, rowid DESC LIMIT ?
	) ORDER BY timestamp ASC, rowid ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query session records: %w", err)
	}
	defer rows.Close()

	var records []session.Record
	for rows.Next() {
		var (
			rec session.Record
			ts  string
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Capability, &rec.Digest, &rec.Success); err != nil {
			return nil, fmt.Errorf("scan session record: %w", err)
		}
		if rec.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Executions returns the newest limit executions, newest first.
func (s *Store) Executions(ctx context.Context, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, query, started_at, duration_ms, capabilities, targets, total,
		success_count, overall_sentiment, confidence, risk_level
	FROM executions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e                 Execution
			started           string
			capsJSON, tgtJSON string
		)
		if err := rows.Scan(&e.ID, &e.Query, &started, &e.DurationMS, &capsJSON, &tgtJSON,
			&e.Total, &e.SuccessCount, &e.OverallSentiment, &e.Confidence, &e.RiskLevel); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		if e.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", started, err)
		}
		if err := json.Unmarshal([]byte(capsJSON), &e.Capabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities: %w", err)
		}
		if err := json.Unmarshal([]byte(tgtJSON), &e.Targets); err != nil {
			return nil, fmt.Errorf("decode targets: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats aggregates every persisted record the same way the in-memory
// tracker does. It returns session.ErrNoInteractions on an empty table.
func (s *Store) Stats(ctx context.Context) (session.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT capability, COUNT(*), SUM(success), MIN(timestamp), MAX(timestamp)
	FROM session_records GROUP BY capability`)
	if err != nil {
		return session.Stats{}, fmt.Errorf("query session stats: %w", err)
	}
	defer rows.Close()

	stats := session.Stats{UsageByCapability: make(map[string]int)}
	var first, last string
	for rows.Next() {
		var (
			name             string
			count, succeeded int
			lo, hi           string
		)
		if err := rows.Scan(&name, &count, &succeeded, &lo, &hi); err != nil {
			return session.Stats{}, fmt.Errorf("scan session stats: %w", err)
		}
		stats.UsageByCapability[name] = count
		stats.TotalInteractions += count
		stats.SuccessCount += succeeded
		if first == "" || lo < first {
			first = lo
		}
		if hi > last {
			last = hi
		}
	}
	if err := rows.Err(); err != nil {
		return session.Stats{}, err
	}
	if stats.TotalInteractions == 0 {
		return session.Stats{}, session.ErrNoInteractions
	}

	stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalInteractions)
	stats.MostUsed = session.MostUsed(stats.UsageByCapability)
	stats.FirstInteraction, _ = time.Parse(timeLayout, first)
	stats.LastInteraction, _ = time.Parse(timeLayout, last)
	return stats, nil
}
