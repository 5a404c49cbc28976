// Package index implements the document search index: SQLite FTS5 for
// lexical full-text search, a dense vector store for semantic search, and
// reciprocal-rank-fusion hybrid search over both. A persisted metadata
// cache answers custodian/doctype/count queries without touching the index.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"rexlit/internal/logging"
)

// Store owns the lexical index database. Single writer at a time; searchers
// open their own read connections.
type Store struct {
	db       *sql.DB
	indexDir string
}

// Open initializes the index database under indexDir.
func Open(indexDir string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "index.Open")
	defer timer.Stop()

	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	dbPath := filepath.Join(indexDir, "lexical.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set journal_mode=WAL: %v", err)
	}

	s := &Store{db: db, indexDir: indexDir}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS search_docs (
			id INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			sha256 TEXT NOT NULL,
			custodian TEXT NOT NULL DEFAULT '',
			doctype TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_search_docs_sha ON search_docs(sha256)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS search_fts USING fts5(
			body, path, custodian,
			content='search_docs', content_rowid='id'
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init index schema: %w", err)
		}
	}
	return nil
}

// IndexDir returns the directory the index lives in.
func (s *Store) IndexDir() string { return s.indexDir }

// DB exposes the handle for package-internal queries.
func (s *Store) DB() *sql.DB { return s.db }

// Reset drops all indexed documents (rebuild).
func (s *Store) Reset() error {
	// 'delete-all' is the supported way to clear an external-content
	// FTS5 table.
	for _, stmt := range []string{
		`INSERT INTO search_fts(search_fts) VALUES('delete-all')`,
		`DELETE FROM search_docs`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("reset index: %w", err)
		}
	}
	return nil
}

// Count returns the number of indexed documents.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM search_docs`).Scan(&n)
	return n, err
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
