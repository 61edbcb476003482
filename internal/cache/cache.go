// Package cache persists per-file analysis results between runs. Entries
// are keyed by file path and the xxhash of the file content, so an
// unchanged file can skip re-analysis entirely. Any change to the project's
// declared symbols invalidates inference results across files; callers
// handle that by clearing the whole store rather than tracking dependents.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/phpmago/analyzer/internal/diagnostic"
)

// Store is a SQLite-backed result cache. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open opens (or creates) the cache database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	// _txlock=immediate acquires locks early and avoids SQLITE_BUSY.
	db, err := sql.Open("sqlite", dbPath+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA auto_vacuum=INCREMENTAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS results (
			file_path TEXT PRIMARY KEY,
			content_hash INTEGER NOT NULL,
			diagnostics BLOB NOT NULL
		);
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize cache tables: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Hash returns the content hash used as the cache validity key.
func Hash(content []byte) uint64 {
	return xxhash.Sum64(content)
}

// Lookup returns the cached diagnostics for a file, and whether the entry
// exists and still matches the content hash.
func (s *Store) Lookup(filePath string, hash uint64) ([]diagnostic.Diagnostic, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var storedHash int64
	var blob []byte
	err := s.db.QueryRow(
		"SELECT content_hash, diagnostics FROM results WHERE file_path = ?",
		filePath,
	).Scan(&storedHash, &blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query cache: %w", err)
	}
	if uint64(storedHash) != hash {
		return nil, false, nil
	}

	var diags []diagnostic.Diagnostic
	if err := msgpack.Unmarshal(blob, &diags); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached diagnostics: %w", err)
	}
	return diags, true, nil
}

// Save stores the diagnostics for a file, replacing any previous entry.
func (s *Store) Save(filePath string, hash uint64, diags []diagnostic.Diagnostic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := msgpack.Marshal(diags)
	if err != nil {
		return fmt.Errorf("failed to marshal diagnostics: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO results (file_path, content_hash, diagnostics) VALUES (?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET content_hash = excluded.content_hash, diagnostics = excluded.diagnostics
	`, filePath, int64(hash), blob)
	if err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry for a file.
func (s *Store) Delete(filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM results WHERE file_path = ?", filePath); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Clear drops every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM results"); err != nil {
		return err
	}
	_, err := s.db.Exec("PRAGMA incremental_vacuum")
	return err
}

// Close checkpoints and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.db.Exec("PRAGMA optimize")
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
