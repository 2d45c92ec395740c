package backup

import (
	"context"
	"fmt"

	"github.com/dukerupert/servicedesk/internal/model"
	"github.com/dukerupert/servicedesk/internal/store"
)

// MaxListLimit caps a single page of ListBackups.
const MaxListLimit = 500

type ListOptions struct {
	Type      model.BackupType
	Status    model.BackupStatus
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

type ListResult struct {
	Total   int64                `json:"total"`
	Records []model.BackupRecord `json:"records"`
}

// ListBackups pages through non-deleted catalog records. Unknown sort
// columns fall back to created_at.
func (m *Manager) ListBackups(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if opts.Type != "" && !opts.Type.Valid() {
		return nil, newError(KindInvalidArgument, fmt.Sprintf("invalid backup type %q", opts.Type), nil)
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, newError(KindInvalidArgument, fmt.Sprintf("invalid backup status %q", opts.Status), nil)
	}
	if opts.Status == model.BackupStatusDeleted {
		return nil, newError(KindInvalidArgument, "deleted backups are not listed", nil)
	}

	filter := store.ListFilter{
		Type:      opts.Type,
		Status:    opts.Status,
		SortBy:    opts.SortBy,
		SortOrder: opts.SortOrder,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	}
	if filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}

	total, err := m.backups.Count(ctx, filter)
	if err != nil {
		return nil, newError(KindIO, "count backups", err)
	}
	records, err := m.backups.List(ctx, filter)
	if err != nil {
		return nil, newError(KindIO, "list backups", err)
	}
	if records == nil {
		records = []model.BackupRecord{}
	}
	return &ListResult{Total: total, Records: records}, nil
}

// GetBackup returns a catalog record in any status.
func (m *Manager) GetBackup(ctx context.Context, backupID string) (*model.BackupRecord, error) {
	rec, err := m.backups.GetByID(ctx, backupID)
	if err != nil {
		return nil, newError(KindIO, "get backup", err)
	}
	if rec == nil {
		return nil, newError(KindNotFound, fmt.Sprintf("backup %s not found", backupID), nil)
	}
	return rec, nil
}

// ListChecks returns the integrity checks recorded for a backup.
func (m *Manager) ListChecks(ctx context.Context, backupID string) ([]model.IntegrityCheckRecord, error) {
	if _, err := m.GetBackup(ctx, backupID); err != nil {
		return nil, err
	}
	checks, err := m.checks.ListByBackup(ctx, backupID)
	if err != nil {
		return nil, newError(KindIO, "list integrity checks", err)
	}
	if checks == nil {
		checks = []model.IntegrityCheckRecord{}
	}
	return checks, nil
}
