// Package db provides the Local Store: an embedded SQLite database shared by
// the background process and every UI process on the device.
//
// The database runs in WAL mode with a busy timeout, so several processes can
// open the same file. Readers never block the writer and writes from any
// opener are visible to all others once committed.
//
// Architecture:
//   - Database file: ~/.learnflow/learnflow.db
//   - Record tables: words, notes, chat_messages keyed by (user_id, id)
//   - Queue table: queue keyed by id, reloaded in insertion order
//   - Stats table: user_stats keyed by user_id
//
// Writes are idempotent upserts. Deleting a row that does not exist is not an
// error. Every committed write is announced to in-process subscribers (see
// Subscribe) and commits made by other processes are detected by WatchExternal.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection pool with Local Store operations.
type DB struct {
	conn *sql.DB
	path string

	subsMu sync.Mutex
	subs   map[int]*Subscription
	nextID int
}

// Open creates a new database connection at the specified path.
//
// If the database doesn't exist, the file is created. Call InitSchema before
// first use. The caller MUST call Close() when done.
//
// Example:
//
//	store, err := db.Open(filepath.Join(dataDir, "learnflow.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them, not just
	// the one that happens to run an Exec.
	connStr := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_txlock=immediate",
		path,
	)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
		subs: make(map[int]*Subscription),
	}

	var mode string
	if err := db.conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read journal mode: %w", err)
	}
	if mode != "wal" {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode (journal_mode=%s)", mode)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection and all subscriptions.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	db.subsMu.Lock()
	for id, sub := range db.subs {
		delete(db.subs, id)
		close(sub.c)
	}
	db.subsMu.Unlock()

	// Checkpoint WAL before closing
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times and from several
// processes.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- Record tables
	CREATE TABLE IF NOT EXISTS words (
		user_id TEXT NOT NULL,
		id TEXT NOT NULL,
		term TEXT NOT NULL,
		definition TEXT NOT NULL DEFAULT '',
		ts INTEGER NOT NULL,
		PRIMARY KEY (user_id, id)
	);

	CREATE TABLE IF NOT EXISTS notes (
		user_id TEXT NOT NULL,
		id TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		ts INTEGER NOT NULL,
		PRIMARY KEY (user_id, id)
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		user_id TEXT NOT NULL,
		id TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		ts INTEGER NOT NULL,
		PRIMARY KEY (user_id, id)
	);

	-- Pending outbound mutations
	CREATE TABLE IF NOT EXISTS queue (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		payload TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		ts INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_stats (
		user_id TEXT PRIMARY KEY,
		words_learned INTEGER NOT NULL DEFAULT 0,
		notes_created INTEGER NOT NULL DEFAULT 0,
		last_active INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_words_user ON words(user_id);
	CREATE INDEX IF NOT EXISTS idx_words_ts ON words(ts);
	CREATE INDEX IF NOT EXISTS idx_notes_user ON notes(user_id);
	CREATE INDEX IF NOT EXISTS idx_notes_ts ON notes(ts);
	CREATE INDEX IF NOT EXISTS idx_chat_user ON chat_messages(user_id);
	CREATE INDEX IF NOT EXISTS idx_chat_ts ON chat_messages(ts);
	CREATE INDEX IF NOT EXISTS idx_chat_role ON chat_messages(role);

	CREATE INDEX IF NOT EXISTS idx_queue_user ON queue(user_id);
	CREATE INDEX IF NOT EXISTS idx_queue_action ON queue(action);
	CREATE INDEX IF NOT EXISTS idx_queue_ts ON queue(ts);
	CREATE INDEX IF NOT EXISTS idx_queue_seq ON queue(seq);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
