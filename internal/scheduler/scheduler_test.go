package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/servicedesk/internal/backup"
	"github.com/dukerupert/servicedesk/internal/metrics"
	"github.com/dukerupert/servicedesk/internal/model"
)

type fakeService struct {
	mu      sync.Mutex
	created []model.BackupType
	actors  []*int64
	err     error
	report  *backup.IntegrityReport
	types   map[string]model.BackupType
}

func (f *fakeService) CreateBackup(_ context.Context, t model.BackupType, actorID *int64, _ string) (*backup.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, t)
	f.actors = append(f.actors, actorID)
	if f.err != nil {
		return nil, f.err
	}
	return &backup.CreateResult{BackupID: "BKP-20260301020000-" + string(t), Status: model.BackupStatusSuccess}, nil
}

func (f *fakeService) CheckIntegrity(context.Context, string) (*backup.IntegrityReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

func (f *fakeService) GetBackup(_ context.Context, id string) (*model.BackupRecord, error) {
	t, ok := f.types[id]
	if !ok {
		return nil, &backup.Error{Kind: backup.KindNotFound}
	}
	return &model.BackupRecord{BackupID: id, BackupType: t}, nil
}

type fakeNotifier struct {
	alerts []model.FailureAlert
	to     []string
	err    error
}

func (n *fakeNotifier) NotifyFailure(_ context.Context, address string, alert model.FailureAlert) error {
	n.to = append(n.to, address)
	n.alerts = append(n.alerts, alert)
	return n.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultConfig() Config {
	return Config{
		Daily:      "0 2 * * *",
		Weekly:     "0 3 * * 0",
		Monthly:    "0 4 1 * *",
		Integrity:  "0 5 * * *",
		AlertEmail: "ops@example.com",
		Location:   time.UTC,
	}
}

func TestNewRegistersJobs(t *testing.T) {
	s, err := New(defaultConfig(), &fakeService{}, nil, quietLogger())
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	jobs := s.Jobs()
	require.Len(t, jobs, 4)
	names := []string{jobs[0].Name, jobs[1].Name, jobs[2].Name, jobs[3].Name}
	assert.Equal(t, []string{JobDaily, JobIntegrity, JobMonthly, JobWeekly}, names)
	for _, j := range jobs {
		assert.False(t, j.Next.IsZero(), j.Name)
	}
	assert.Equal(t, 2, jobs[0].Next.Hour())
	assert.Equal(t, time.Sunday, jobs[3].Next.Weekday())
	assert.Equal(t, 1, jobs[2].Next.Day())
}

func TestNewSkipsEmptySpecs(t *testing.T) {
	cfg := defaultConfig()
	cfg.Weekly = ""
	cfg.Monthly = " "
	s, err := New(cfg, &fakeService{}, nil, quietLogger())
	require.NoError(t, err)
	assert.Len(t, s.Jobs(), 2)
}

func TestNewRejectsBadSpec(t *testing.T) {
	cfg := defaultConfig()
	cfg.Daily = "at two"
	_, err := New(cfg, &fakeService{}, nil, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily")
}

func TestRunBackupIsSystemInitiated(t *testing.T) {
	svc := &fakeService{}
	s, err := New(defaultConfig(), svc, nil, quietLogger())
	require.NoError(t, err)

	require.NoError(t, s.RunBackup(context.Background(), model.BackupTypeWeekly))
	assert.Equal(t, []model.BackupType{model.BackupTypeWeekly}, svc.created)
	assert.Nil(t, svc.actors[0])
}

func TestRunJobRecordsOutcome(t *testing.T) {
	svc := &fakeService{err: errors.New("archive command failed")}
	s, err := New(defaultConfig(), svc, nil, quietLogger())
	require.NoError(t, err)

	failed := metrics.ScheduledRuns.WithLabelValues(JobMonthly, "failure")
	before := testutil.ToFloat64(failed)
	s.runJob(JobMonthly, s.backupJob(model.BackupTypeMonthly))
	assert.Equal(t, before+1, testutil.ToFloat64(failed))

	svc.err = nil
	ok := metrics.ScheduledRuns.WithLabelValues(JobMonthly, "success")
	before = testutil.ToFloat64(ok)
	s.runJob(JobMonthly, s.backupJob(model.BackupTypeMonthly))
	assert.Equal(t, before+1, testutil.ToFloat64(ok))
}

func TestRunJobAppliesTimeout(t *testing.T) {
	cfg := defaultConfig()
	cfg.JobTimeout = 50 * time.Millisecond
	s, err := New(cfg, &fakeService{}, nil, quietLogger())
	require.NoError(t, err)

	var deadline time.Time
	var hasDeadline bool
	s.runJob("probe", func(ctx context.Context) error {
		deadline, hasDeadline = ctx.Deadline()
		return nil
	})
	assert.True(t, hasDeadline)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, time.Second)
}

func TestIntegritySweepAlertsPerBackup(t *testing.T) {
	svc := &fakeService{
		report: &backup.IntegrityReport{
			TotalChecks: 5, Passed: 2, Failed: 3,
			Checks: []model.IntegrityCheckRecord{
				{BackupID: "BKP-a", CheckType: model.CheckTypeFileExists, Status: model.CheckStatusPass},
				{BackupID: "BKP-a", CheckType: model.CheckTypeChecksum, Status: model.CheckStatusFail, ErrorMessage: "checksum mismatch"},
				{BackupID: "BKP-a", CheckType: model.CheckTypePragmaIntegrity, Status: model.CheckStatusFail, ErrorMessage: "row 3 missing"},
				{BackupID: "BKP-b", CheckType: model.CheckTypeFileExists, Status: model.CheckStatusFail, ErrorMessage: "file not found"},
				{BackupID: "BKP-c", CheckType: model.CheckTypeFileExists, Status: model.CheckStatusPass},
			},
		},
		types: map[string]model.BackupType{"BKP-a": model.BackupTypeDaily},
	}
	notifier := &fakeNotifier{}
	s, err := New(defaultConfig(), svc, notifier, quietLogger())
	require.NoError(t, err)

	err = s.RunIntegritySweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 of 5 checks failed across 2 backups")

	require.Len(t, notifier.alerts, 2)
	assert.Equal(t, "BKP-a", notifier.alerts[0].BackupID)
	assert.Equal(t, model.BackupTypeDaily, notifier.alerts[0].Type)
	assert.Equal(t, "integrity check", notifier.alerts[0].Operation)
	assert.Equal(t, "checksum: checksum mismatch; pragma_integrity: row 3 missing", notifier.alerts[0].Error)
	assert.Equal(t, "BKP-b", notifier.alerts[1].BackupID)
	assert.Equal(t, model.BackupType(""), notifier.alerts[1].Type)
	assert.Equal(t, []string{"ops@example.com", "ops@example.com"}, notifier.to)
}

func TestRunBackupAlertsWhenRefusedBeforeRecord(t *testing.T) {
	busy := &backup.Error{Kind: backup.KindInvalidState, Message: "backup operation already in progress"}
	svc := &fakeService{err: notRecorded{busy}}
	notifier := &fakeNotifier{}
	s, err := New(defaultConfig(), svc, notifier, quietLogger())
	require.NoError(t, err)

	err = s.RunBackup(context.Background(), model.BackupTypeWeekly)
	require.Error(t, err)
	assert.Equal(t, "weekly backup: backup operation already in progress", err.Error())

	require.Len(t, notifier.alerts, 1)
	alert := notifier.alerts[0]
	assert.Equal(t, model.BackupTypeWeekly, alert.Type)
	assert.Empty(t, alert.BackupID)
	assert.Equal(t, "backup", alert.Subject())
	assert.Equal(t, "backup operation already in progress", alert.Error)
	assert.Equal(t, []string{"ops@example.com"}, notifier.to)
}

func TestRunBackupLeavesRecordedFailuresToOrchestrator(t *testing.T) {
	svc := &fakeService{err: &backup.Error{Kind: backup.KindExternalProcess, Message: "archive process failed"}}
	notifier := &fakeNotifier{}
	s, err := New(defaultConfig(), svc, notifier, quietLogger())
	require.NoError(t, err)

	require.Error(t, s.RunBackup(context.Background(), model.BackupTypeDaily))
	assert.Empty(t, notifier.alerts)
}

// notRecorded marks an error as refused before any catalog record existed,
// the way the orchestrator does.
type notRecorded struct{ error }

func (e notRecorded) Unwrap() error { return e.error }

func (e notRecorded) Is(target error) bool { return target == backup.ErrNotRecorded }

func TestIntegritySweepClean(t *testing.T) {
	svc := &fakeService{report: &backup.IntegrityReport{TotalChecks: 4, Passed: 4}}
	notifier := &fakeNotifier{}
	s, err := New(defaultConfig(), svc, notifier, quietLogger())
	require.NoError(t, err)

	require.NoError(t, s.RunIntegritySweep(context.Background()))
	assert.Empty(t, notifier.alerts)
}

func TestIntegritySweepNoAlertAddress(t *testing.T) {
	svc := &fakeService{report: &backup.IntegrityReport{
		TotalChecks: 1, Failed: 1,
		Checks: []model.IntegrityCheckRecord{{BackupID: "BKP-a", Status: model.CheckStatusFail}},
	}}
	notifier := &fakeNotifier{}
	cfg := defaultConfig()
	cfg.AlertEmail = ""
	s, err := New(cfg, svc, notifier, quietLogger())
	require.NoError(t, err)

	assert.Error(t, s.RunIntegritySweep(context.Background()))
	assert.Empty(t, notifier.alerts)
}
