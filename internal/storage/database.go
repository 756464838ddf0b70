package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// New opens a SQLite database connection at the given path.
// It enables foreign keys and sets connection pool settings.
func New(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys (disabled by default in SQLite)
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate runs database migrations to create the required tables.
// It is idempotent and can be run multiple times safely.
func Migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS vectors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			behavior TEXT NOT NULL DEFAULT 'context',
			status TEXT NOT NULL,
			env_id TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			dimensions INTEGER NOT NULL DEFAULT 0,
			remote_id TEXT NOT NULL DEFAULT '',
			ref_id TEXT NOT NULL DEFAULT '',
			ref_checksum TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created DATETIME NOT NULL,
			updated DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_vectors_ref ON vectors(ref_id, env_id);`,
		`CREATE INDEX IF NOT EXISTS idx_vectors_remote ON vectors(remote_id);`,
		`CREATE INDEX IF NOT EXISTS idx_vectors_status ON vectors(status, updated);`,
		`CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL DEFAULT '',
			session TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT '',
			units INTEGER NOT NULL DEFAULT 0,
			type TEXT NOT NULL DEFAULT '',
			price REAL NOT NULL DEFAULT 0,
			scope TEXT NOT NULL DEFAULT '',
			env_id TEXT NOT NULL DEFAULT '',
			time DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS logmeta (
			meta_id INTEGER PRIMARY KEY AUTOINCREMENT,
			log_id INTEGER NOT NULL,
			meta_key TEXT NOT NULL,
			meta_value TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (log_id) REFERENCES logs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS discussions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id TEXT NOT NULL DEFAULT '',
			chat_id TEXT NOT NULL,
			thread_id TEXT NOT NULL DEFAULT '',
			created DATETIME NOT NULL,
			UNIQUE (bot_id, chat_id)
		);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
