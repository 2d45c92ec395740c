package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/servicedesk/internal/model"
)

// ErrInvalidTransition is returned when an update would move a record along
// a status edge that is not allowed, or the record does not exist.
var ErrInvalidTransition = errors.New("invalid backup status transition")

// Sortable columns. User-supplied sort keys never reach SQL unless they are
// listed here.
var backupSortColumns = map[string]string{
	"created_at":  "created_at",
	"started_at":  "started_at",
	"file_size":   "file_size",
	"backup_type": "backup_type",
}

const (
	DefaultSortColumn = "created_at"
	DefaultListLimit  = 50
)

// ValidSortColumn reports whether col may be used as a sort key.
func ValidSortColumn(col string) bool {
	_, ok := backupSortColumns[col]
	return ok
}

// ListFilter narrows and orders catalog listings. Zero values select the
// defaults: all types, all non-deleted statuses, created_at DESC, 50 rows.
type ListFilter struct {
	Type           model.BackupType
	Status         model.BackupStatus
	SortBy         string
	SortOrder      string
	Limit          int
	Offset         int
	IncludeDeleted bool
}

// SuccessUpdate carries the fields written on the in_progress -> success edge.
type SuccessUpdate struct {
	FilePath    string
	FileSize    int64
	Checksum    string
	Metadata    model.BackupMetadata
	CompletedAt time.Time
}

type BackupStore struct {
	db *sql.DB
}

func NewBackupStore(db *sql.DB) *BackupStore {
	return &BackupStore{db: db}
}

const backupColumns = `backup_id, backup_type, status, file_path, file_size, checksum, error_message, metadata, created_by, started_at, completed_at, created_at, updated_at`

func (s *BackupStore) Create(ctx context.Context, rec *model.BackupRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.StartedAt == nil {
		started := rec.CreatedAt
		rec.StartedAt = &started
	}
	rec.UpdatedAt = rec.CreatedAt
	if rec.Status == "" {
		rec.Status = model.BackupStatusInProgress
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backups (backup_id, backup_type, status, file_size, created_by, started_at, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		rec.BackupID, rec.BackupType, rec.Status, rec.CreatedBy, rec.StartedAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create backup %s: %w", rec.BackupID, err)
	}
	return nil
}

func (s *BackupStore) MarkSuccess(ctx context.Context, id string, u SuccessUpdate) error {
	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return fmt.Errorf("marshal backup metadata: %w", err)
	}
	var checksum *string
	if u.Checksum != "" {
		checksum = &u.Checksum
	}
	return s.transition(ctx, id, model.BackupStatusInProgress, model.BackupStatusSuccess,
		`file_path = ?, file_size = ?, checksum = ?, metadata = ?, completed_at = ?`,
		u.FilePath, u.FileSize, checksum, string(meta), u.CompletedAt,
	)
}

func (s *BackupStore) MarkFailure(ctx context.Context, id, errorMsg string, completedAt time.Time) error {
	return s.transition(ctx, id, model.BackupStatusInProgress, model.BackupStatusFailure,
		`error_message = ?, completed_at = ?`,
		errorMsg, completedAt,
	)
}

func (s *BackupStore) MarkDeleted(ctx context.Context, id string) error {
	return s.transition(ctx, id, model.BackupStatusSuccess, model.BackupStatusDeleted, "")
}

// transition applies a guarded status update: the row only changes if it is
// currently in status from.
func (s *BackupStore) transition(ctx context.Context, id string, from, to model.BackupStatus, set string, args ...any) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}

	query := `UPDATE backups SET status = ?, updated_at = ?`
	if set != "" {
		query += ", " + set
	}
	query += ` WHERE backup_id = ? AND status = ?`

	params := append([]any{to, time.Now().UTC()}, args...)
	params = append(params, id, from)

	result, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("update backup %s to %s: %w", id, to, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update backup %s to %s: %w", id, to, err)
	}
	if n == 0 {
		return fmt.Errorf("backup %s: %s -> %s: %w", id, from, to, ErrInvalidTransition)
	}
	return nil
}

func (s *BackupStore) GetByID(ctx context.Context, id string) (*model.BackupRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+backupColumns+` FROM backups WHERE backup_id = ?`, id)
	b, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %s: %w", id, err)
	}
	return b, nil
}

// LatestSuccessful returns the most recent success record of the given type,
// or nil if there is none.
func (s *BackupStore) LatestSuccessful(ctx context.Context, t model.BackupType) (*model.BackupRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+backupColumns+` FROM backups
		 WHERE backup_type = ? AND status = ?
		 ORDER BY created_at DESC, backup_id DESC LIMIT 1`,
		t, model.BackupStatusSuccess,
	)
	b, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest successful %s backup: %w", t, err)
	}
	return b, nil
}

func (s *BackupStore) List(ctx context.Context, f ListFilter) ([]model.BackupRecord, error) {
	where, args := f.where()
	col, order := f.orderBy()

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + backupColumns + ` FROM backups` + where +
		fmt.Sprintf(` ORDER BY %s %s, backup_id %s LIMIT ? OFFSET ?`, col, order, order)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []model.BackupRecord
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

func (s *BackupStore) Count(ctx context.Context, f ListFilter) (int64, error) {
	where, args := f.where()
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM backups`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count backups: %w", err)
	}
	return count, nil
}

// ListSuccessful returns every success record, oldest first.
func (s *BackupStore) ListSuccessful(ctx context.Context) ([]model.BackupRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+backupColumns+` FROM backups WHERE status = ? ORDER BY created_at ASC, backup_id ASC`,
		model.BackupStatusSuccess,
	)
	if err != nil {
		return nil, fmt.Errorf("list successful backups: %w", err)
	}
	defer rows.Close()

	var backups []model.BackupRecord
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

func (f ListFilter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Type != "" {
		conds = append(conds, "backup_type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if !f.IncludeDeleted && f.Status != model.BackupStatusDeleted {
		conds = append(conds, "status != ?")
		args = append(args, model.BackupStatusDeleted)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (f ListFilter) orderBy() (string, string) {
	col, ok := backupSortColumns[f.SortBy]
	if !ok {
		col = backupSortColumns[DefaultSortColumn]
	}
	order := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		order = "ASC"
	}
	return col, order
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackup(r rowScanner) (*model.BackupRecord, error) {
	b := &model.BackupRecord{}
	var filePath, checksum, errMsg, metadata sql.NullString
	var createdBy sql.NullInt64
	var startedAt, completedAt sql.NullTime
	err := r.Scan(&b.BackupID, &b.BackupType, &b.Status, &filePath, &b.FileSize, &checksum, &errMsg,
		&metadata, &createdBy, &startedAt, &completedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.FilePath = filePath.String
	b.Checksum = checksum.String
	b.ErrorMessage = errMsg.String
	b.Metadata = model.ParseBackupMetadata(metadata.String)
	if createdBy.Valid {
		id := createdBy.Int64
		b.CreatedBy = &id
	}
	if startedAt.Valid {
		b.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}
	return b, nil
}
