package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DiscussionStore defines the interface for discussion/thread persistence.
type DiscussionStore interface {
	// GetThreadID returns the persisted remote thread id for a conversation,
	// or an empty string when no thread was created yet.
	GetThreadID(ctx context.Context, botID, chatID string) (string, error)
	// SaveThreadID associates a remote thread id with a conversation,
	// creating the discussion row if necessary.
	SaveThreadID(ctx context.Context, botID, chatID, threadID string) error
}

// DiscussionRepo provides methods for discussion operations.
// It implements the DiscussionStore interface.
type DiscussionRepo struct {
	db *sql.DB
}

// NewDiscussionRepo creates a new DiscussionRepo.
func NewDiscussionRepo(db *sql.DB) *DiscussionRepo {
	return &DiscussionRepo{db: db}
}

// GetThreadID returns the persisted remote thread id for a conversation.
func (r *DiscussionRepo) GetThreadID(ctx context.Context, botID, chatID string) (string, error) {
	var threadID string
	err := r.db.QueryRowContext(ctx,
		"SELECT thread_id FROM discussions WHERE bot_id = ? AND chat_id = ?",
		botID, chatID).Scan(&threadID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query discussion: %w", err)
	}
	return threadID, nil
}

// SaveThreadID associates a remote thread id with a conversation.
func (r *DiscussionRepo) SaveThreadID(ctx context.Context, botID, chatID, threadID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO discussions (bot_id, chat_id, thread_id, created) VALUES (?, ?, ?, ?)
		 ON CONFLICT (bot_id, chat_id) DO UPDATE SET thread_id = excluded.thread_id`,
		botID, chatID, threadID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save discussion thread: %w", err)
	}
	return nil
}
