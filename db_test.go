package main

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := openHistory(filepath.Join(t.TempDir(), "nested", "dictate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistoryRecordRecent(t *testing.T) {
	h := openTestHistory(t)
	base := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)

	for i, text := range []string{"first", "second", "third"} {
		require.NoError(t, h.Record(&TranscriptRecord{
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Duration:  1500 * time.Millisecond,
			Text:      text,
			Backend:   "whisper/small",
			Model:     "small",
			Sink:      outputPaste,
			Delivered: true,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := h.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "third", recent[0].Text)
	require.Equal(t, "second", recent[1].Text)
	require.Equal(t, 1500*time.Millisecond, recent[0].Duration)
	require.True(t, recent[0].Delivered)
	require.Equal(t, "whisper/small", recent[0].Backend)
	require.Equal(t, "small", recent[0].Model)
	require.NotEmpty(t, recent[0].ID, "id is generated")
	require.True(t, recent[0].StartedAt.Equal(base.Add(2*time.Minute)))
}

func TestHistoryRecordReplacesByID(t *testing.T) {
	h := openTestHistory(t)
	rec := &TranscriptRecord{ID: "fixed", Text: "draft"}
	require.NoError(t, h.Record(rec))
	rec.Text = "final"
	rec.Error = "paste failed"
	require.NoError(t, h.Record(rec))

	recent, err := h.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "final", recent[0].Text)
	require.Equal(t, "paste failed", recent[0].Error)
}

func TestHistoryClear(t *testing.T) {
	h := openTestHistory(t)
	require.NoError(t, h.Record(&TranscriptRecord{Text: "a"}))
	require.NoError(t, h.Record(&TranscriptRecord{Text: "b"}))

	n, err := h.Clear()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	recent, err := h.Recent(10)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestHistoryEvents(t *testing.T) {
	h := openTestHistory(t)
	h.LogEvent("calibration", "threshold=0.01")
	h.LogEvent("start", "")

	var n int
	require.NoError(t, h.db.QueryRow(`SELECT COUNT(*) FROM events WHERE type = 'calibration'`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestHistoryClosed(t *testing.T) {
	h := openTestHistory(t)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close(), "double close is fine")

	require.ErrorIs(t, h.Record(&TranscriptRecord{Text: "x"}), ErrHistoryClosed)
	_, err := h.Recent(1)
	require.ErrorIs(t, err, ErrHistoryClosed)
	_, err = h.Clear()
	require.ErrorIs(t, err, ErrHistoryClosed)
	h.LogEvent("ignored", "")
}

func TestHistoryMigratesModelColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictate.db")
	old, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = old.Exec(`CREATE TABLE transcripts (
		id TEXT PRIMARY KEY, started_at INTEGER NOT NULL, duration_ms INTEGER NOT NULL,
		text TEXT, backend TEXT, sink TEXT, delivered INTEGER DEFAULT 0,
		error TEXT, audio_path TEXT, created_at INTEGER NOT NULL)`)
	require.NoError(t, err)
	_, err = old.Exec(`INSERT INTO transcripts (id, started_at, duration_ms, text, created_at) VALUES ('old', 0, 900, 'before', 1)`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	h, err := openHistory(path)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Record(&TranscriptRecord{Text: "after", Model: "whisper-1"}))
	recent, err := h.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "after", recent[0].Text)
	require.Equal(t, "whisper-1", recent[0].Model)
	require.Equal(t, "before", recent[1].Text)
	require.Empty(t, recent[1].Model)
}
