package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/servicedesk/internal/model"
)

type IntegrityCheckStore struct {
	db *sql.DB
}

func NewIntegrityCheckStore(db *sql.DB) *IntegrityCheckStore {
	return &IntegrityCheckStore{db: db}
}

// Create appends a check result. Results are never updated afterwards.
func (s *IntegrityCheckStore) Create(ctx context.Context, rec *model.IntegrityCheckRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var details *string
	if !rec.Details.IsZero() {
		raw, err := json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("marshal check details: %w", err)
		}
		d := string(raw)
		details = &d
	}
	var errMsg *string
	if rec.ErrorMessage != "" {
		errMsg = &rec.ErrorMessage
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO integrity_checks (check_id, backup_id, check_type, status, error_message, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.CheckID, rec.BackupID, rec.CheckType, rec.Status, errMsg, details, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create integrity check %s: %w", rec.CheckID, err)
	}
	return nil
}

// ListByBackup returns the checks recorded for a backup in the order they ran.
func (s *IntegrityCheckStore) ListByBackup(ctx context.Context, backupID string) ([]model.IntegrityCheckRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT check_id, backup_id, check_type, status, error_message, details, created_at
		 FROM integrity_checks WHERE backup_id = ? ORDER BY seq ASC`, backupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list integrity checks: %w", err)
	}
	defer rows.Close()

	var checks []model.IntegrityCheckRecord
	for rows.Next() {
		var c model.IntegrityCheckRecord
		var errMsg, details sql.NullString
		if err := rows.Scan(&c.CheckID, &c.BackupID, &c.CheckType, &c.Status, &errMsg, &details, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan integrity check: %w", err)
		}
		c.ErrorMessage = errMsg.String
		c.Details = model.ParseCheckDetails(details.String)
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// CountByStatus returns how many checks for the backup ended in each status.
func (s *IntegrityCheckStore) CountByStatus(ctx context.Context, backupID string) (map[model.CheckStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM integrity_checks WHERE backup_id = ? GROUP BY status`, backupID,
	)
	if err != nil {
		return nil, fmt.Errorf("count integrity checks: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.CheckStatus]int64)
	for rows.Next() {
		var status model.CheckStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan check count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
