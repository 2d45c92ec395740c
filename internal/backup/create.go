package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dukerupert/servicedesk/internal/archive"
	"github.com/dukerupert/servicedesk/internal/checksum"
	"github.com/dukerupert/servicedesk/internal/metrics"
	"github.com/dukerupert/servicedesk/internal/model"
	"github.com/dukerupert/servicedesk/internal/store"
)

// CreateResult describes a successful backup.
type CreateResult struct {
	BackupID string             `json:"backup_id"`
	Status   model.BackupStatus `json:"status"`
	FilePath string             `json:"file_path"`
	FileSize int64              `json:"file_size"`
	Duration float64            `json:"duration"`
}

// CreateBackup runs the archive process for backupType and records the
// attempt in the catalog. A failed attempt is recorded as failure, alerted
// when an alert address is configured, and its error returned unchanged.
// Attempts refused before a record exists match ErrNotRecorded instead.
func (m *Manager) CreateBackup(ctx context.Context, backupType model.BackupType, actorID *int64, description string) (*CreateResult, error) {
	if !backupType.Valid() {
		return nil, newError(KindInvalidArgument, fmt.Sprintf("invalid backup type %q", backupType), nil)
	}

	now := m.now()
	id := formatBackupID(m.backupIDs.next(now), backupType)
	if !m.begin(StateRunning, id) {
		return nil, unrecorded(errBusy)
	}

	rec := &model.BackupRecord{
		BackupID:   id,
		BackupType: backupType,
		Status:     model.BackupStatusInProgress,
		CreatedBy:  actorID,
		StartedAt:  &now,
		CreatedAt:  now,
	}
	if err := m.backups.Create(ctx, rec); err != nil {
		err = newError(KindIO, "create backup record", err)
		m.end(err)
		return nil, unrecorded(err)
	}

	m.logger.Info("backup started", "backup_id", id, "type", backupType)
	start := time.Now()

	res, err := m.runBackup(ctx, rec, description)
	if err != nil {
		m.recordFailure(ctx, rec, err)
		metrics.RecordBackup(string(backupType), time.Since(start), 0, err)
		m.end(err)
		return nil, err
	}

	metrics.RecordBackup(string(backupType), time.Since(start), res.FileSize, nil)
	m.setStatus(func(s *Status) {
		completed := m.now()
		s.LastBackup = &completed
		s.LastBackupID = id
	})
	m.end(nil)

	m.logger.Info("backup completed", "backup_id", id, "path", res.FilePath, "size", res.FileSize, "duration", res.Duration)
	return res, nil
}

func (m *Manager) runBackup(ctx context.Context, rec *model.BackupRecord, description string) (*CreateResult, error) {
	live, err := os.Stat(m.cfg.DBPath)
	if err != nil {
		return nil, newError(KindIO, "stat live database", err)
	}
	originalSize := live.Size()

	run, err := m.archiver.Run(ctx, string(rec.BackupType))
	if err != nil {
		return nil, classify(err, "archive process failed", KindExternalProcess)
	}

	art := archive.Artifact{Prefix: run.ArtifactPrefix}
	info, err := os.Stat(art.DB())
	if err != nil {
		return nil, newError(KindIO, "stat backup artifact", err)
	}

	var sum string
	if hex, err := checksum.ReadManifest(art.Manifest()); err == nil {
		sum = checksum.Format(hex)
	} else if !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("ignoring unreadable checksum manifest", "backup_id", rec.BackupID, "path", art.Manifest(), "error", err)
	}

	meta := model.BackupMetadata{
		Description:     description,
		DurationSeconds: run.Duration.Seconds(),
		ExitCode:        run.ExitCode,
		OriginalSize:    originalSize,
		CompressedSize:  info.Size(),
	}
	if originalSize > 0 {
		meta.CompressionRatio = float64(info.Size()) / float64(originalSize)
	}

	err = m.backups.MarkSuccess(ctx, rec.BackupID, store.SuccessUpdate{
		FilePath:    art.DB(),
		FileSize:    info.Size(),
		Checksum:    sum,
		Metadata:    meta,
		CompletedAt: m.now(),
	})
	if err != nil {
		return nil, newError(KindIO, "record backup success", err)
	}

	if m.mirror != nil {
		err := m.mirror.Upload(ctx, art)
		metrics.RecordOffsiteUpload(err)
		if err != nil {
			m.logger.Warn("offsite upload failed", "backup_id", rec.BackupID, "error", err)
		}
	}

	return &CreateResult{
		BackupID: rec.BackupID,
		Status:   model.BackupStatusSuccess,
		FilePath: art.DB(),
		FileSize: info.Size(),
		Duration: run.Duration.Seconds(),
	}, nil
}

// recordFailure marks the record failed and sends the alert. Neither step
// may replace the error the caller sees.
func (m *Manager) recordFailure(ctx context.Context, rec *model.BackupRecord, cause error) {
	ctx = context.WithoutCancel(ctx)
	completed := m.now()

	m.logger.Error("backup failed", "backup_id", rec.BackupID, "type", rec.BackupType, "error", cause)

	if err := m.backups.MarkFailure(ctx, rec.BackupID, cause.Error(), completed); err != nil {
		m.logger.Error("failed to record backup failure", "backup_id", rec.BackupID, "error", err)
	}

	if m.cfg.AlertEmail == "" || m.notifier == nil {
		return
	}
	alert := model.FailureAlert{
		BackupID:  rec.BackupID,
		Type:      rec.BackupType,
		Error:     cause.Error(),
		Timestamp: completed,
	}
	if err := m.notifier.NotifyFailure(ctx, m.cfg.AlertEmail, alert); err != nil {
		m.logger.Warn("failed to send backup failure alert", "backup_id", rec.BackupID, "to", m.cfg.AlertEmail, "error", err)
	}
}
