package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// TranscriptRecord is one transcribed utterance
type TranscriptRecord struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Text      string        `json:"text"`
	Backend   string        `json:"backend"`
	Model     string        `json:"model,omitempty"`
	Sink      string        `json:"sink"`
	Delivered bool          `json:"delivered"`
	Error     string        `json:"error,omitempty"`
	AudioPath string        `json:"audio_path,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func newTranscriptID() string {
	return uuid.NewString()
}

// History is the SQLite transcript log
type History struct {
	mu sync.Mutex
	db *sql.DB
}

func historyPath() string { return filepath.Join(cacheDir(), "dictate.db") }

// openHistory opens (or creates) the database and ensures tables exist
func openHistory(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS transcripts (
			id          TEXT PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			text        TEXT,
			backend     TEXT,
			model       TEXT,
			sink        TEXT,
			delivered   INTEGER DEFAULT 0,
			error       TEXT,
			audio_path  TEXT,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at)`,

		// Events: append-only timeline for debugging
		`CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			type       TEXT NOT NULL,
			detail     TEXT,
			created_at INTEGER NOT NULL
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}
	migrateTranscripts(db)
	return &History{db: db}, nil
}

// migrateTranscripts adds columns missing from databases created by older versions
func migrateTranscripts(db *sql.DB) {
	var colCount int
	row := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('transcripts') WHERE name = 'model'`)
	if err := row.Scan(&colCount); err != nil || colCount > 0 {
		return
	}
	logger.Info("history: adding model column")
	if _, err := db.Exec(`ALTER TABLE transcripts ADD COLUMN model TEXT`); err != nil {
		logger.Warn("history: migration failed", zap.Error(err))
	}
}

func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

// Record inserts or replaces a transcript
func (h *History) Record(rec *TranscriptRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return ErrHistoryClosed
	}
	if rec.ID == "" {
		rec.ID = newTranscriptID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := h.db.Exec(
		`INSERT OR REPLACE INTO transcripts
		 (id, started_at, duration_ms, text, backend, model, sink, delivered, error, audio_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartedAt.UnixMilli(), rec.Duration.Milliseconds(), rec.Text,
		rec.Backend, rec.Model, rec.Sink, boolToInt(rec.Delivered), rec.Error, rec.AudioPath,
		rec.CreatedAt.UnixMilli(),
	)
	return err
}

// Recent returns the newest transcripts first
func (h *History) Recent(limit int) ([]*TranscriptRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil, ErrHistoryClosed
	}
	rows, err := h.db.Query(
		`SELECT id, started_at, duration_ms, text, backend, model, sink, delivered, error, audio_path, created_at
		 FROM transcripts ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*TranscriptRecord
	for rows.Next() {
		var r TranscriptRecord
		var started, durMs, created int64
		var delivered int
		var text, backend, model, sink, errText, audio sql.NullString
		if err := rows.Scan(&r.ID, &started, &durMs, &text, &backend, &model, &sink,
			&delivered, &errText, &audio, &created); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		r.Duration = time.Duration(durMs) * time.Millisecond
		r.Text = text.String
		r.Backend = backend.String
		r.Model = model.String
		r.Sink = sink.String
		r.Delivered = delivered != 0
		r.Error = errText.String
		r.AudioPath = audio.String
		r.CreatedAt = time.UnixMilli(created)
		result = append(result, &r)
	}
	return result, rows.Err()
}

// Clear deletes all transcripts and returns how many were removed
func (h *History) Clear() (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return 0, ErrHistoryClosed
	}
	res, err := h.db.Exec(`DELETE FROM transcripts`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LogEvent records an event in the timeline. Failures are only logged.
func (h *History) LogEvent(eventType, detail string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return
	}
	if _, err := h.db.Exec(
		`INSERT INTO events (type, detail, created_at) VALUES (?, ?, ?)`,
		eventType, detail, time.Now().UnixMilli(),
	); err != nil {
		logger.Debug("history: log event failed", zap.Error(err))
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
