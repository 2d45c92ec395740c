package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/servicedesk/internal/archive"
	"github.com/dukerupert/servicedesk/internal/integrity"
	"github.com/dukerupert/servicedesk/internal/model"
	"github.com/dukerupert/servicedesk/internal/store"
)

func checkTypes(checks []model.IntegrityCheckRecord) []model.CheckType {
	var out []model.CheckType
	for _, c := range checks {
		out = append(out, c.CheckType)
	}
	return out
}

func TestCheckIntegrityHealthyBackup(t *testing.T) {
	env := newTestEnv(t)
	m := env.manager()
	res := mustCreate(t, m, model.BackupTypeDaily)

	report, err := m.CheckIntegrity(context.Background(), res.BackupID)
	require.NoError(t, err)

	assert.Equal(t, 4, report.TotalChecks)
	assert.Equal(t, 4, report.Passed)
	assert.Zero(t, report.Failed)
	assert.Equal(t, []model.CheckType{
		model.CheckTypeFileExists,
		model.CheckTypeChecksum,
		model.CheckTypeDecompression,
		model.CheckTypePragmaIntegrity,
	}, checkTypes(report.Checks))
	assert.Greater(t, report.Checks[2].Details.DecompressedBytes, int64(0))
	assert.Equal(t, "ok", report.Checks[3].Details.Output)

	idPattern := regexp.MustCompile(`^CHK-\d{14}-\d{3}$`)
	for _, c := range report.Checks {
		assert.Regexp(t, idPattern, c.CheckID)
	}

	stored, err := m.ListChecks(context.Background(), res.BackupID)
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestCheckIntegrityMissingFileSkipsRemainingChecks(t *testing.T) {
	env := newTestEnv(t)
	m := env.manager()
	res := mustCreate(t, m, model.BackupTypeDaily)
	require.NoError(t, os.Remove(res.FilePath))

	report, err := m.CheckIntegrity(context.Background(), res.BackupID)
	require.NoError(t, err)

	require.Equal(t, 1, report.TotalChecks)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, model.CheckTypeFileExists, report.Checks[0].CheckType)
	assert.Equal(t, model.CheckStatusFail, report.Checks[0].Status)
}

func TestCheckIntegrityChecksumMismatchRecordsDigests(t *testing.T) {
	env := newTestEnv(t)
	m := env.manager()
	res := mustCreate(t, m, model.BackupTypeDaily)

	f, err := os.OpenFile(res.FilePath, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("trailing junk"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	report, err := m.CheckIntegrity(context.Background(), res.BackupID)
	require.NoError(t, err)

	var sum *model.IntegrityCheckRecord
	for i := range report.Checks {
		if report.Checks[i].CheckType == model.CheckTypeChecksum {
			sum = &report.Checks[i]
		}
	}
	require.NotNil(t, sum)
	assert.Equal(t, model.CheckStatusFail, sum.Status)
	assert.Len(t, sum.Details.Expected, 64)
	assert.Len(t, sum.Details.Actual, 64)
	assert.NotEqual(t, sum.Details.Expected, sum.Details.Actual)
	assert.GreaterOrEqual(t, report.Failed, 1)
}

func TestCheckIntegrityTruncatedDump(t *testing.T) {
	env := newTestEnv(t)
	m := env.manager()
	res := mustCreate(t, m, model.BackupTypeWeekly)

	dump := archive.ArtifactFromPath(res.FilePath).SQLDump()
	data, err := os.ReadFile(dump)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dump, data[:len(data)/2], 0o644))

	report, err := m.CheckIntegrity(context.Background(), res.BackupID)
	require.NoError(t, err)

	var decompression *model.IntegrityCheckRecord
	for i := range report.Checks {
		if report.Checks[i].CheckType == model.CheckTypeDecompression {
			decompression = &report.Checks[i]
		}
	}
	require.NotNil(t, decompression)
	assert.Equal(t, model.CheckStatusFail, decompression.Status)
	assert.Contains(t, decompression.ErrorMessage, "decompression failed")
}

func TestCheckIntegrityCheckerErrorIsRecordedAsFailure(t *testing.T) {
	env := newTestEnv(t)
	m := env.manager()
	res := mustCreate(t, m, model.BackupTypeDaily)

	env.deps.Checker = &scriptedChecker{
		results: []integrity.Result{{}},
		errs:    []error{errors.Join(integrity.ErrProcess, errors.New("sqlite3: not found"))},
	}
	m = env.manager()

	report, err := m.CheckIntegrity(context.Background(), res.BackupID)
	require.NoError(t, err)
	last := report.Checks[len(report.Checks)-1]
	assert.Equal(t, model.CheckTypePragmaIntegrity, last.CheckType)
	assert.Equal(t, model.CheckStatusFail, last.Status)
	assert.Contains(t, last.ErrorMessage, "could not run")
}

func TestCheckIntegrityAllAggregates(t *testing.T) {
	env := newTestEnv(t)
	m := env.manager()
	a := mustCreate(t, m, model.BackupTypeDaily)
	mustCreate(t, m, model.BackupTypeDaily)
	mustCreate(t, m, model.BackupTypeManual)
	require.NoError(t, m.DeleteBackup(context.Background(), a.BackupID, nil))

	report, err := m.CheckIntegrity(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 8, report.TotalChecks, "two live backups, four checks each")
	assert.Equal(t, report.TotalChecks, report.Passed+report.Failed)
	for _, c := range report.Checks {
		assert.NotEqual(t, a.BackupID, c.BackupID, "deleted backups are not audited")
	}

	seen := map[string]bool{}
	for _, c := range report.Checks {
		assert.False(t, seen[c.CheckID], "duplicate check id %s", c.CheckID)
		seen[c.CheckID] = true
	}

	again, err := m.CheckIntegrity(context.Background(), "")
	require.NoError(t, err)
	assert.NotEqual(t, report.Checks[0].CheckID, again.Checks[0].CheckID)
}

func TestCheckIntegrityRejectsUnknownOrUnfinished(t *testing.T) {
	env := newTestEnv(t)
	m := env.manager()

	_, err := m.CheckIntegrity(context.Background(), "BKP-20260101000000-daily")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, env.backups.Create(context.Background(), &model.BackupRecord{BackupID: "BKP-20260301020000-daily", BackupType: model.BackupTypeDaily}))
	_, err = m.CheckIntegrity(context.Background(), "BKP-20260301020000-daily")
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestCompressedTarget(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "servicedesk-20260301-020000.db")
	assert.Empty(t, compressedTarget(db))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "servicedesk-20260301-020000.sql.gz"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "servicedesk-20260301-020000.sql.gz"), compressedTarget(db))
	assert.Equal(t, "/x/dump.sql.gz", compressedTarget("/x/dump.sql.gz"))
}

func TestCheckIntegrityLargeSweepKeepsCheckIDFormat(t *testing.T) {
	env := newTestEnv(t)
	m := env.manager()
	ctx := context.Background()

	const records = 1001
	for i := 0; i < records; i++ {
		rec := &model.BackupRecord{
			BackupID:   formatBackupID(testNow.Add(time.Duration(-i)*time.Hour), model.BackupTypeDaily),
			BackupType: model.BackupTypeDaily,
		}
		require.NoError(t, env.backups.Create(ctx, rec))
		require.NoError(t, env.backups.MarkSuccess(ctx, rec.BackupID, store.SuccessUpdate{
			FilePath:    filepath.Join(env.dir, "gone", rec.BackupID+".db"),
			CompletedAt: testNow,
		}))
	}

	report, err := m.CheckIntegrity(ctx, "")
	require.NoError(t, err)
	require.Equal(t, records, report.TotalChecks)

	idPattern := regexp.MustCompile(`^CHK-\d{14}-\d{3}$`)
	seen := make(map[string]bool, records)
	for _, c := range report.Checks {
		require.Regexp(t, idPattern, c.CheckID)
		require.False(t, seen[c.CheckID], "duplicate check id %s", c.CheckID)
		seen[c.CheckID] = true
	}
	assert.Equal(t, "CHK-20260301020000-999", report.Checks[998].CheckID)
	assert.Equal(t, "CHK-20260301020001-001", report.Checks[999].CheckID)
}
