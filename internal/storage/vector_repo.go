package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_store.go -package=mocks contextware/internal/storage VectorStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// Sort describes the requested ordering of a vector listing.
type Sort struct {
	Accessor string // column name: created, updated, title, type, status
	By       string // asc or desc
}

// VectorQuery holds the filters for listing mirror rows.
type VectorQuery struct {
	EnvID     string
	Type      string
	RemoteIDs []string // restrict to rows whose remote_id is in this set
	Offset    int
	Limit     int
	Sort      *Sort
}

// VectorStore defines the interface for vector mirror row operations.
type VectorStore interface {
	// Insert inserts a row and sets record.ID, Created and Updated.
	Insert(ctx context.Context, record *VectorRecord) error
	// GetByID gets a row by its local id. Returns ErrNotFound if not found.
	GetByID(ctx context.Context, id int64) (*VectorRecord, error)
	// GetByRemoteID gets a row by its remote vector id. Returns ErrNotFound if not found.
	GetByRemoteID(ctx context.Context, remoteID string) (*VectorRecord, error)
	// ListByRefID returns all rows for a source document, optionally
	// restricted to one environment (envID empty means all).
	ListByRefID(ctx context.Context, refID, envID string) ([]*VectorRecord, error)
	// ListStale returns up to limit rows with status outdated or pending,
	// oldest updated first.
	ListStale(ctx context.Context, limit int) ([]*VectorRecord, error)
	// Update rewrites the mutable columns of a row.
	Update(ctx context.Context, record *VectorRecord) error
	// SetStatus flips the status of a row only if it currently has the
	// expected status. Returns false when the swap did not apply.
	SetStatus(ctx context.Context, id int64, expected, status string) (bool, error)
	// MarkSynced records a successful remote upsert: remote id, model,
	// dimensions and status ok.
	MarkSynced(ctx context.Context, id int64, remoteID, model string, dimensions int) error
	// MarkError records a failure: status error, remote id cleared, message kept.
	MarkError(ctx context.Context, id int64, message string) error
	// Delete removes rows by local ids.
	Delete(ctx context.Context, ids []int64) error
	// Query lists rows matching q and returns the total count ignoring
	// offset and limit.
	Query(ctx context.Context, q VectorQuery) (int, []*VectorRecord, error)
}

// VectorRepo provides methods for vector mirror operations.
// It implements the VectorStore interface.
type VectorRepo struct {
	db *sql.DB
}

// NewVectorRepo creates a new VectorRepo.
func NewVectorRepo(db *sql.DB) *VectorRepo {
	return &VectorRepo{db: db}
}

const vectorColumns = "id, type, title, content, behavior, status, env_id, model, dimensions, remote_id, ref_id, ref_checksum, error, created, updated"

func scanVector(row interface{ Scan(...any) error }) (*VectorRecord, error) {
	var v VectorRecord
	err := row.Scan(&v.ID, &v.Type, &v.Title, &v.Content, &v.Behavior, &v.Status,
		&v.EnvID, &v.Model, &v.Dimensions, &v.RemoteID, &v.RefID, &v.RefChecksum,
		&v.Error, &v.Created, &v.Updated)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Insert inserts a row and sets record.ID, Created and Updated.
func (r *VectorRepo) Insert(ctx context.Context, record *VectorRecord) error {
	if record.Behavior == "" {
		record.Behavior = "context"
	}
	now := time.Now().UTC()
	record.Created = now
	record.Updated = now
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO vectors (type, title, content, behavior, status, env_id, model, dimensions, remote_id, ref_id, ref_checksum, error, created, updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Type, record.Title, record.Content, record.Behavior, record.Status,
		record.EnvID, record.Model, record.Dimensions, record.RemoteID,
		record.RefID, record.RefChecksum, record.Error, record.Created, record.Updated,
	)
	if err != nil {
		return fmt.Errorf("failed to insert vector: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read vector id: %w", err)
	}
	record.ID = id
	return nil
}

// GetByID gets a row by its local id. Returns ErrNotFound if not found.
func (r *VectorRepo) GetByID(ctx context.Context, id int64) (*VectorRecord, error) {
	v, err := scanVector(r.db.QueryRowContext(ctx,
		"SELECT "+vectorColumns+" FROM vectors WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query vector: %w", err)
	}
	return v, nil
}

// GetByRemoteID gets a row by its remote vector id. Returns ErrNotFound if not found.
func (r *VectorRepo) GetByRemoteID(ctx context.Context, remoteID string) (*VectorRecord, error) {
	if remoteID == "" {
		return nil, ErrNotFound
	}
	v, err := scanVector(r.db.QueryRowContext(ctx,
		"SELECT "+vectorColumns+" FROM vectors WHERE remote_id = ?", remoteID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query vector by remote id: %w", err)
	}
	return v, nil
}

// ListByRefID returns all rows for a source document, optionally restricted
// to one environment (envID empty means all).
func (r *VectorRepo) ListByRefID(ctx context.Context, refID, envID string) ([]*VectorRecord, error) {
	query := "SELECT " + vectorColumns + " FROM vectors WHERE ref_id = ?"
	args := []any{refID}
	if envID != "" {
		query += " AND env_id = ?"
		args = append(args, envID)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors by ref: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	return collectVectors(rows)
}

// ListStale returns up to limit rows with status outdated or pending,
// oldest updated first.
func (r *VectorRepo) ListStale(ctx context.Context, limit int) ([]*VectorRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+vectorColumns+" FROM vectors WHERE status = ? OR status = ? ORDER BY updated ASC LIMIT ?",
		StatusOutdated, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale vectors: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	return collectVectors(rows)
}

// Update rewrites the mutable columns of a row.
func (r *VectorRepo) Update(ctx context.Context, record *VectorRecord) error {
	record.Updated = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`UPDATE vectors SET type = ?, title = ?, content = ?, behavior = ?, status = ?,
		 env_id = ?, model = ?, dimensions = ?, remote_id = ?, ref_id = ?, ref_checksum = ?,
		 error = ?, updated = ? WHERE id = ?`,
		record.Type, record.Title, record.Content, record.Behavior, record.Status,
		record.EnvID, record.Model, record.Dimensions, record.RemoteID, record.RefID,
		record.RefChecksum, record.Error, record.Updated, record.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update vector: %w", err)
	}
	return nil
}

// SetStatus flips the status of a row only if it currently has the expected
// status. Row-level compare-and-swap; concurrent writers cannot both win.
func (r *VectorRepo) SetStatus(ctx context.Context, id int64, expected, status string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE vectors SET status = ?, updated = ? WHERE id = ? AND status = ?",
		status, time.Now().UTC(), id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to set vector status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// MarkSynced records a successful remote upsert.
func (r *VectorRepo) MarkSynced(ctx context.Context, id int64, remoteID, model string, dimensions int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE vectors SET remote_id = ?, model = ?, dimensions = ?, status = ?, error = '', updated = ? WHERE id = ?",
		remoteID, model, dimensions, StatusOK, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark vector synced: %w", err)
	}
	return nil
}

// MarkError records a failure. The remote id is cleared: a row in error has
// no trusted remote counterpart, even if the remote call partially succeeded.
func (r *VectorRepo) MarkError(ctx context.Context, id int64, message string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE vectors SET remote_id = '', status = ?, error = ?, updated = ? WHERE id = ?",
		StatusError, message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark vector error: %w", err)
	}
	return nil
}

// Delete removes rows by local ids.
func (r *VectorRepo) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM vectors WHERE id IN ("+strings.Join(placeholders, ",")+")", args...)
	if err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

// sortColumns whitelists the accessors allowed in ORDER BY.
var sortColumns = map[string]string{
	"created": "created",
	"updated": "updated",
	"title":   "title",
	"type":    "type",
	"status":  "status",
}

// Query lists rows matching q and returns the total count ignoring offset
// and limit.
func (r *VectorRepo) Query(ctx context.Context, q VectorQuery) (int, []*VectorRecord, error) {
	var where []string
	var args []any
	if q.EnvID != "" {
		where = append(where, "env_id = ?")
		args = append(args, q.EnvID)
	}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	if len(q.RemoteIDs) > 0 {
		placeholders := make([]string, len(q.RemoteIDs))
		for i, id := range q.RemoteIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		where = append(where, "remote_id IN ("+strings.Join(placeholders, ",")+")")
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors"+clause, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("failed to count vectors: %w", err)
	}

	query := "SELECT " + vectorColumns + " FROM vectors" + clause

	sort := q.Sort
	if sort == nil {
		sort = &Sort{Accessor: "created", By: "desc"}
	}
	column, ok := sortColumns[sort.Accessor]
	if !ok {
		column = "created"
	}
	direction := "DESC"
	if strings.EqualFold(sort.By, "asc") {
		direction = "ASC"
	}
	query += " ORDER BY " + column + " " + direction

	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	records, err := collectVectors(rows)
	if err != nil {
		return 0, nil, err
	}
	return total, records, nil
}

func collectVectors(rows *sql.Rows) ([]*VectorRecord, error) {
	var records []*VectorRecord
	for rows.Next() {
		v, err := scanVector(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		records = append(records, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}
