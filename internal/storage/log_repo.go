package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LogStore defines the interface for usage log operations.
type LogStore interface {
	// Add inserts a usage log entry and returns its id.
	Add(ctx context.Context, entry *LogEntry) (int64, error)
	// AddMeta attaches a key/value payload (query, reply, form fields) to a log entry.
	AddMeta(ctx context.Context, logID int64, key, value string) error
	// GetMeta returns the metadata value for a log entry, or ErrNotFound.
	GetMeta(ctx context.Context, logID int64, key string) (string, error)
}

// LogRepo provides methods for usage log operations.
// It implements the LogStore interface.
type LogRepo struct {
	db *sql.DB
}

// NewLogRepo creates a new LogRepo.
func NewLogRepo(db *sql.DB) *LogRepo {
	return &LogRepo{db: db}
}

// Add inserts a usage log entry and returns its id.
func (r *LogRepo) Add(ctx context.Context, entry *LogEntry) (int64, error) {
	entry.Time = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO logs (user_id, session, model, mode, units, type, price, scope, env_id, time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.UserID, entry.Session, entry.Model, entry.Mode, entry.Units,
		entry.Type, entry.Price, entry.Scope, entry.EnvID, entry.Time,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert log entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read log id: %w", err)
	}
	entry.ID = id
	return id, nil
}

// AddMeta attaches a key/value payload to a log entry.
func (r *LogRepo) AddMeta(ctx context.Context, logID int64, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO logmeta (log_id, meta_key, meta_value) VALUES (?, ?, ?)",
		logID, key, value)
	if err != nil {
		return fmt.Errorf("failed to insert log metadata: %w", err)
	}
	return nil
}

// GetMeta returns the metadata value for a log entry, or ErrNotFound.
func (r *LogRepo) GetMeta(ctx context.Context, logID int64, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		"SELECT meta_value FROM logmeta WHERE log_id = ? AND meta_key = ?",
		logID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query log metadata: %w", err)
	}
	return value, nil
}
