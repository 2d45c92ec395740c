package backup

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dukerupert/servicedesk/internal/archive"
	"github.com/dukerupert/servicedesk/internal/metrics"
	"github.com/dukerupert/servicedesk/internal/model"
	"github.com/dukerupert/servicedesk/internal/store"
)

// DeleteBackup removes a backup's files and tombstones its record. The most
// recent successful backup of each type can never be deleted. File removal
// is best-effort.
func (m *Manager) DeleteBackup(ctx context.Context, backupID string, actorID *int64) error {
	rec, err := m.GetBackup(ctx, backupID)
	if err != nil {
		return err
	}
	if rec.Status == model.BackupStatusDeleted {
		return marked{newError(KindInvalidState, fmt.Sprintf("backup %s is already deleted", backupID), nil), ErrAlreadyDeleted}
	}
	if rec.Status != model.BackupStatusSuccess {
		return newError(KindInvalidState, fmt.Sprintf("backup %s is %s and cannot be deleted", backupID, rec.Status), nil)
	}

	latest, err := m.backups.LatestSuccessful(ctx, rec.BackupType)
	if err != nil {
		return newError(KindIO, "find latest backup", err)
	}
	if latest != nil && latest.BackupID == rec.BackupID {
		return newError(KindProtectedResource, "cannot delete the latest backup of its type", nil)
	}

	if rec.FilePath != "" {
		art := archive.ArtifactFromPath(rec.FilePath)
		m.removeFiles(backupID, art.Siblings())
		if m.mirror != nil {
			if err := m.mirror.Remove(ctx, art); err != nil {
				m.logger.Warn("offsite remove failed", "backup_id", backupID, "error", err)
			}
		}
	}

	if err := m.backups.MarkDeleted(ctx, backupID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return newError(KindInvalidState, fmt.Sprintf("backup %s changed state during delete", backupID), err)
		}
		return newError(KindIO, "mark backup deleted", err)
	}
	metrics.BackupsDeleted.Inc()

	actor := int64(0)
	if actorID != nil {
		actor = *actorID
	}
	m.logger.Info("backup deleted", "backup_id", backupID, "actor_id", actor)
	return nil
}

// removeFiles attempts every path and logs each failure on its own.
func (m *Manager) removeFiles(backupID string, paths []string) {
	for _, path := range paths {
		err := os.Remove(path)
		switch {
		case err == nil:
			m.logger.Debug("removed backup file", "backup_id", backupID, "path", path)
		case errors.Is(err, os.ErrNotExist):
		default:
			m.logger.Warn("failed to remove backup file", "backup_id", backupID, "path", path, "error", err)
		}
	}
}
