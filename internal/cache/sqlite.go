package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scan-io-git/scanguard/internal/findings"
)

// SQLiteBackend persists cache entries in a single SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) cache.db under dir. dir ":memory:" keeps everything in memory.
func NewSQLiteBackend(dir string) (*SQLiteBackend, error) {
	var dbPath string
	if dir == ":memory:" {
		dbPath = ":memory:"
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
		dbPath = filepath.Join(dir, "cache.db")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" a single database. Every Get and Put queues on it, behind
	// the sharded memory layer; the engine only stores after its workers are done.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		path TEXT NOT NULL,
		config_fingerprint TEXT NOT NULL,
		mod_time INTEGER NOT NULL,      -- unix nanoseconds
		size INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		findings TEXT NOT NULL,         -- JSON array
		analysis_duration INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL,
		PRIMARY KEY (path, config_fingerprint)
	);
	CREATE INDEX IF NOT EXISTS idx_cache_entries_recorded ON cache_entries(recorded_at);
	`
	_, err := b.db.Exec(schema)
	return err
}

func (b *SQLiteBackend) Get(key Key) (*Entry, error) {
	row := b.db.QueryRow(`
		SELECT mod_time, size, content_hash, findings, analysis_duration, recorded_at
		FROM cache_entries WHERE path = ? AND config_fingerprint = ?`,
		key.Path, key.ConfigFingerprint)

	var (
		modTime, size, duration, recordedAt int64
		contentHash, rawFindings            string
	)
	err := row.Scan(&modTime, &size, &contentHash, &rawFindings, &duration, &recordedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}

	var stored []findings.Finding
	if err := json.Unmarshal([]byte(rawFindings), &stored); err != nil {
		return nil, fmt.Errorf("decode findings of %q: %w", key.Path, err)
	}

	return &Entry{
		Key:              key,
		ModTime:          time.Unix(0, modTime),
		Size:             size,
		ContentHash:      contentHash,
		Findings:         stored,
		AnalysisDuration: time.Duration(duration),
		RecordedAt:       time.Unix(0, recordedAt),
	}, nil
}

func (b *SQLiteBackend) Put(entry *Entry) error {
	stored := entry.Findings
	if stored == nil {
		stored = []findings.Finding{}
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode findings: %w", err)
	}

	_, err = b.db.Exec(`
		INSERT OR REPLACE INTO cache_entries
			(path, config_fingerprint, mod_time, size, content_hash, findings, analysis_duration, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Path, entry.ConfigFingerprint, entry.ModTime.UnixNano(), entry.Size,
		entry.ContentHash, string(raw), int64(entry.AnalysisDuration), entry.RecordedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Prune(olderThan time.Time) (int, error) {
	res, err := b.db.Exec(`DELETE FROM cache_entries WHERE recorded_at < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
