package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SessionRecord summarises one conductor session.
type SessionRecord struct {
	ID        string
	Industry  string
	UseCase   string
	Query     string
	Outcome   string
	Summary   string
	StartedAt time.Time
	EndedAt   time.Time
}

// DecisionRecord is one decision-function exchange.
type DecisionRecord struct {
	SessionID string
	Iteration int
	Kind      string
	Request   string
	Response  string
	Error     string
	Duration  time.Duration
	CreatedAt time.Time
}

// TranscriptStore is an append-only log of sessions and their decision calls.
// It is never read back to resume a session.
type TranscriptStore struct {
	DB *sql.DB
}

func NewTranscriptStore(dbPath string) (*TranscriptStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create transcript directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			industry TEXT,
			use_case TEXT,
			query TEXT,
			outcome TEXT DEFAULT 'running',
			summary TEXT DEFAULT '',
			started_at INTEGER NOT NULL,
			ended_at INTEGER DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			iteration INTEGER,
			kind TEXT,
			request TEXT,
			response TEXT,
			error TEXT,
			duration_ms INTEGER,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate transcript: %w", err)
		}
	}

	return &TranscriptStore{DB: db}, nil
}

func (t *TranscriptStore) Close() error {
	return t.DB.Close()
}

func (t *TranscriptStore) StartSession(id, industry, useCase, query string) error {
	q := `INSERT INTO sessions (id, industry, use_case, query, started_at) VALUES (?, ?, ?, ?, ?)`
	_, err := t.DB.Exec(q, id, industry, useCase, query, time.Now().UnixMilli())
	return err
}

func (t *TranscriptStore) FinishSession(id, outcome, summary string) error {
	q := `UPDATE sessions SET outcome = ?, summary = ?, ended_at = ? WHERE id = ?`
	_, err := t.DB.Exec(q, outcome, summary, time.Now().UnixMilli(), id)
	return err
}

func (t *TranscriptStore) RecordDecision(rec DecisionRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	q := `INSERT INTO decisions (session_id, iteration, kind, request, response, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.DB.Exec(q, rec.SessionID, rec.Iteration, rec.Kind, rec.Request, rec.Response, rec.Error,
		rec.Duration.Milliseconds(), created.UnixMilli())
	return err
}

// ListSessions returns the most recent sessions first.
func (t *TranscriptStore) ListSessions(limit int) ([]SessionRecord, error) {
	q := `SELECT id, industry, use_case, query, outcome, summary, started_at, ended_at
		FROM sessions ORDER BY started_at DESC LIMIT ?`
	rows, err := t.DB.Query(q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var started, ended int64
		if err := rows.Scan(&rec.ID, &rec.Industry, &rec.UseCase, &rec.Query, &rec.Outcome, &rec.Summary, &started, &ended); err != nil {
			return nil, err
		}
		rec.StartedAt = time.UnixMilli(started)
		if ended > 0 {
			rec.EndedAt = time.UnixMilli(ended)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Decisions returns a session's exchanges in call order.
func (t *TranscriptStore) Decisions(sessionID string) ([]DecisionRecord, error) {
	q := `SELECT session_id, iteration, kind, request, response, error, duration_ms, created_at
		FROM decisions WHERE session_id = ? ORDER BY id ASC`
	rows, err := t.DB.Query(q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var durMS, created int64
		if err := rows.Scan(&rec.SessionID, &rec.Iteration, &rec.Kind, &rec.Request, &rec.Response, &rec.Error, &durMS, &created); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(durMS) * time.Millisecond
		rec.CreatedAt = time.UnixMilli(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}
