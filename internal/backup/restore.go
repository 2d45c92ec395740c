package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dukerupert/servicedesk/internal/archive"
	"github.com/dukerupert/servicedesk/internal/checksum"
	"github.com/dukerupert/servicedesk/internal/metrics"
	"github.com/dukerupert/servicedesk/internal/model"
)

type RestoreOptions struct {
	// BackupCurrent copies the live database aside before the swap so a
	// failed restore can be rolled back.
	BackupCurrent bool
}

type RestoreResult struct {
	Status              string  `json:"status"`
	RestoredFrom        string  `json:"restored_from"`
	BackupBeforeRestore *string `json:"backup_before_restore"`
	IntegrityCheck      string  `json:"integrity_check"`
}

// RestoreBackup replaces the live database with a verified backup artifact.
//
// The artifact is checksummed and integrity checked before the live file is
// touched. After the swap the live file is checked again; if that fails, or
// the swap itself fails, the safety copy taken beforehand is put back. The
// error returned is always the one that stopped the restore.
func (m *Manager) RestoreBackup(ctx context.Context, backupID string, actorID *int64, opts RestoreOptions) (*RestoreResult, error) {
	if !m.begin(StateRestoring, backupID) {
		return nil, errBusy
	}

	res, outcome, err := m.restore(ctx, backupID, opts)
	metrics.RecordRestore(outcome)
	m.end(err)
	if err != nil {
		return nil, err
	}

	actor := int64(0)
	if actorID != nil {
		actor = *actorID
	}
	m.logger.Info("restore committed", "backup_id", backupID, "actor_id", actor, "safety_backup", res.BackupBeforeRestore)
	return res, nil
}

func (m *Manager) restore(ctx context.Context, backupID string, opts RestoreOptions) (*RestoreResult, string, error) {
	// validating
	rec, err := m.GetBackup(ctx, backupID)
	if err != nil {
		return nil, "rejected", err
	}
	if rec.Status != model.BackupStatusSuccess {
		return nil, "rejected", newError(KindInvalidState, fmt.Sprintf("backup %s is %s and cannot be restored", backupID, rec.Status), nil)
	}
	if rec.FilePath == "" || !fileExists(rec.FilePath) {
		return nil, "rejected", newError(KindNotFound, "backup file not found", nil)
	}

	// safety backup
	var safetyPath string
	if opts.BackupCurrent && fileExists(m.cfg.DBPath) {
		safetyPath, err = m.takeSafetyBackup()
		if err != nil {
			return nil, "failed", newError(KindIO, "create pre-restore backup", err)
		}
		m.logger.Info("pre-restore backup written", "backup_id", backupID, "path", safetyPath)
	}

	// verifying source
	if rec.Checksum != "" {
		actual, ok, err := checksum.Verify(ctx, rec.FilePath, rec.Checksum)
		if err != nil {
			return nil, "rejected", newError(KindIO, "compute backup checksum", err)
		}
		if !ok {
			return nil, "rejected", newError(KindIntegrityViolation,
				fmt.Sprintf("checksum mismatch (expected %s, got %s): file may be corrupted", rec.Checksum, checksum.Format(actual)), nil)
		}
	}
	if err := m.verifyDatabase(ctx, rec.FilePath, "backup file failed integrity check"); err != nil {
		return nil, "rejected", err
	}

	// swapping
	art := archive.ArtifactFromPath(rec.FilePath)
	if err := m.swapIn(rec.FilePath, art); err != nil {
		err = newError(KindIO, "replace live database", err)
		return nil, m.rollback(backupID, safetyPath, err), err
	}

	// verifying result
	if err := m.verifyDatabase(ctx, m.cfg.DBPath, "restored database failed integrity check"); err != nil {
		return nil, m.rollback(backupID, safetyPath, err), err
	}

	var before *string
	if safetyPath != "" {
		before = &safetyPath
	}
	return &RestoreResult{
		Status:              "success",
		RestoredFrom:        backupID,
		BackupBeforeRestore: before,
		IntegrityCheck:      "passed",
	}, "committed", nil
}

func (m *Manager) verifyDatabase(ctx context.Context, path, failMsg string) error {
	res, err := m.checker.Check(ctx, path)
	if err != nil {
		return classify(err, "integrity check could not run", KindExternalProcess)
	}
	if !res.OK {
		return newError(KindIntegrityViolation, fmt.Sprintf("%s: %s", failMsg, res.Output), nil)
	}
	return nil
}

// takeSafetyBackup copies the live database, and its write-ahead log when
// present, into the safety directory.
func (m *Manager) takeSafetyBackup() (string, error) {
	if err := os.MkdirAll(m.cfg.SafetyDir, 0o750); err != nil {
		return "", err
	}
	stamp := m.now().Format("20060102-150405")
	path := filepath.Join(m.cfg.SafetyDir, fmt.Sprintf("pre-restore-%s.db", stamp))
	for i := 1; fileExists(path); i++ {
		path = filepath.Join(m.cfg.SafetyDir, fmt.Sprintf("pre-restore-%s-%d.db", stamp, i))
	}

	if err := copyFile(m.cfg.DBPath, path); err != nil {
		os.Remove(path)
		return "", err
	}
	if wal := m.cfg.DBPath + "-wal"; fileExists(wal) {
		if err := copyFile(wal, path+"-wal"); err != nil {
			os.Remove(path)
			os.Remove(path + "-wal")
			return "", err
		}
	}
	return path, nil
}

// swapIn removes the live database and its side files, then copies the
// artifact and its write-ahead log into place.
func (m *Manager) swapIn(src string, art archive.Artifact) error {
	if err := removeLive(m.cfg.DBPath); err != nil {
		return err
	}
	if err := copyFile(src, m.cfg.DBPath); err != nil {
		return err
	}
	for _, wal := range art.WALCandidates() {
		if fileExists(wal) {
			return copyFile(wal, m.cfg.DBPath+"-wal")
		}
	}
	return nil
}

// rollback puts the safety copy back over the live path. Its own failure is
// logged only; it returns the outcome label for metrics.
func (m *Manager) rollback(backupID, safetyPath string, cause error) string {
	if safetyPath == "" {
		m.logger.Error("restore failed with no safety backup to roll back to", "backup_id", backupID, "error", cause)
		return "failed"
	}

	m.logger.Warn("restore failed, rolling back", "backup_id", backupID, "safety_backup", safetyPath, "error", cause)
	err := removeLive(m.cfg.DBPath)
	if err == nil {
		err = copyFile(safetyPath, m.cfg.DBPath)
	}
	if err == nil && fileExists(safetyPath+"-wal") {
		err = copyFile(safetyPath+"-wal", m.cfg.DBPath+"-wal")
	}
	if err != nil {
		m.logger.Error("rollback failed", "backup_id", backupID, "safety_backup", safetyPath, "error", err)
		return "failed"
	}
	m.logger.Info("rollback complete", "backup_id", backupID)
	return "rolled_back"
}

func removeLive(dbPath string) error {
	for _, side := range archive.LiveSideFiles(dbPath) {
		if err := os.Remove(side); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := os.Remove(dbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// copyFile writes src to dst and syncs it to disk.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
