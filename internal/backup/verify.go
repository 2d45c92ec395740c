package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/dukerupert/servicedesk/internal/archive"
	"github.com/dukerupert/servicedesk/internal/checksum"
	"github.com/dukerupert/servicedesk/internal/metrics"
	"github.com/dukerupert/servicedesk/internal/model"
)

type IntegrityReport struct {
	TotalChecks int                          `json:"total_checks"`
	Passed      int                          `json:"passed"`
	Failed      int                          `json:"failed"`
	Checks      []model.IntegrityCheckRecord `json:"checks"`
}

// CheckIntegrity audits one backup, or every successful backup when
// backupID is empty. Each check is recorded in the catalog whatever its
// outcome.
func (m *Manager) CheckIntegrity(ctx context.Context, backupID string) (*IntegrityReport, error) {
	var records []model.BackupRecord
	if backupID != "" {
		rec, err := m.GetBackup(ctx, backupID)
		if err != nil {
			return nil, err
		}
		if rec.Status != model.BackupStatusSuccess {
			return nil, newError(KindInvalidState, fmt.Sprintf("backup %s is %s and cannot be verified", backupID, rec.Status), nil)
		}
		records = []model.BackupRecord{*rec}
	} else {
		all, err := m.backups.ListSuccessful(ctx)
		if err != nil {
			return nil, newError(KindIO, "list successful backups", err)
		}
		records = all
	}

	published := m.publishVerifying()
	audit := &auditRun{m: m, run: m.checkRuns.next(m.now())}
	report := &IntegrityReport{Checks: []model.IntegrityCheckRecord{}}

	var err error
	for i := range records {
		if err = audit.verify(ctx, &records[i], report); err != nil {
			break
		}
	}
	if published {
		m.setStatus(func(s *Status) {
			if s.State == StateVerifying {
				s.State = StateIdle
			}
		})
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info("integrity audit complete", "backups", len(records), "checks", report.TotalChecks, "failed", report.Failed)
	return report, nil
}

// publishVerifying announces the audit unless a create or restore already
// owns the status.
func (m *Manager) publishVerifying() bool {
	s := m.Status()
	if s.InProgress {
		return false
	}
	m.setStatus(func(s *Status) { s.State = StateVerifying })
	return true
}

type auditRun struct {
	m   *Manager
	run time.Time
	seq int
}

func (a *auditRun) verify(ctx context.Context, rec *model.BackupRecord, report *IntegrityReport) error {
	path := rec.FilePath

	if !fileExists(path) {
		return a.record(ctx, rec, report, model.CheckTypeFileExists, "backup file not found", model.CheckDetails{Path: path})
	}
	if err := a.record(ctx, rec, report, model.CheckTypeFileExists, "", model.CheckDetails{Path: path}); err != nil {
		return err
	}

	if rec.Checksum != "" {
		expected, _ := checksum.Parse(rec.Checksum)
		actual, ok, err := checksum.Verify(ctx, path, rec.Checksum)
		details := model.CheckDetails{Expected: expected, Actual: actual}
		msg := ""
		switch {
		case err != nil:
			msg = err.Error()
		case !ok:
			msg = "checksum mismatch"
		}
		if err := a.record(ctx, rec, report, model.CheckTypeChecksum, msg, details); err != nil {
			return err
		}
	}

	if target := compressedTarget(path); target != "" {
		n, err := decompressedSize(target)
		details := model.CheckDetails{Path: target, DecompressedBytes: n}
		msg := ""
		if err != nil {
			msg = fmt.Sprintf("decompression failed: %v", err)
		}
		if err := a.record(ctx, rec, report, model.CheckTypeDecompression, msg, details); err != nil {
			return err
		}
	}

	if archive.IsDatabase(path) {
		res, err := a.m.checker.Check(ctx, path)
		details := model.CheckDetails{Output: res.Output}
		msg := ""
		switch {
		case err != nil:
			msg = fmt.Sprintf("integrity check could not run: %v", err)
		case !res.OK:
			msg = "integrity check failed"
		}
		if err := a.record(ctx, rec, report, model.CheckTypePragmaIntegrity, msg, details); err != nil {
			return err
		}
	}
	return nil
}

// record persists one check. An empty failure message means the check passed.
func (a *auditRun) record(ctx context.Context, rec *model.BackupRecord, report *IntegrityReport, checkType model.CheckType, failure string, details model.CheckDetails) error {
	if a.seq == maxCheckSeq {
		a.run = a.m.checkRuns.next(a.m.now())
		a.seq = 0
	}
	a.seq++
	check := model.IntegrityCheckRecord{
		CheckID:      formatCheckID(a.run, a.seq),
		BackupID:     rec.BackupID,
		CheckType:    checkType,
		Status:       model.CheckStatusPass,
		ErrorMessage: failure,
		Details:      details,
		CreatedAt:    a.m.now(),
	}
	if failure != "" {
		check.Status = model.CheckStatusFail
	}
	if err := a.m.checks.Create(ctx, &check); err != nil {
		return newError(KindIO, "record integrity check", err)
	}

	metrics.RecordIntegrityCheck(string(checkType), string(check.Status))
	report.TotalChecks++
	if check.Status == model.CheckStatusPass {
		report.Passed++
	} else {
		report.Failed++
		a.m.logger.Warn("integrity check failed", "backup_id", rec.BackupID, "check", checkType, "error", failure)
	}
	report.Checks = append(report.Checks, check)
	return nil
}

// compressedTarget picks the gzip stream to audit for an artifact: the
// artifact itself when it is gzip-named, otherwise its SQL dump sibling.
func compressedTarget(path string) string {
	if archive.IsGzip(path) {
		return path
	}
	if archive.IsDatabase(path) {
		if dump := archive.ArtifactFromPath(path).SQLDump(); fileExists(dump) {
			return dump
		}
	}
	return ""
}

// decompressedSize streams a gzip file to the end and counts its bytes.
func decompressedSize(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	n, err := io.Copy(io.Discard, zr)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return n, fmt.Errorf("truncated stream after %d bytes", n)
		}
		return n, err
	}
	return n, nil
}
