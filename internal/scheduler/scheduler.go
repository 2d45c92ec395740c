// Package scheduler fires the recurring backup cadences and the integrity
// sweep on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/servicedesk/internal/backup"
	"github.com/dukerupert/servicedesk/internal/metrics"
	"github.com/dukerupert/servicedesk/internal/model"
)

const (
	JobDaily     = "daily"
	JobWeekly    = "weekly"
	JobMonthly   = "monthly"
	JobIntegrity = "integrity"
)

// Service is the orchestrator surface the scheduler drives.
type Service interface {
	CreateBackup(ctx context.Context, t model.BackupType, actorID *int64, description string) (*backup.CreateResult, error)
	CheckIntegrity(ctx context.Context, backupID string) (*backup.IntegrityReport, error)
	GetBackup(ctx context.Context, backupID string) (*model.BackupRecord, error)
}

type Config struct {
	// Cron specs in standard five-field form or descriptors such as @daily.
	// An empty spec disables the job.
	Daily     string
	Weekly    string
	Monthly   string
	Integrity string

	// AlertEmail receives an alert per backup that fails the sweep.
	AlertEmail string
	Location   *time.Location
	// JobTimeout bounds a single run; zero means no deadline beyond the
	// orchestrator's own.
	JobTimeout time.Duration
}

// Job describes a registered cadence.
type Job struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
}

type Scheduler struct {
	cfg      Config
	svc      Service
	notifier backup.Notifier
	cron     *cron.Cron
	entries  map[string]cron.EntryID
	specs    map[string]string
	now      func() time.Time
	logger   *slog.Logger
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New registers every configured cadence. notifier may be nil.
func New(cfg Config, svc Service, notifier backup.Notifier, logger *slog.Logger) (*Scheduler, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	logger = logger.With("component", "scheduler")
	s := &Scheduler{
		cfg:      cfg,
		svc:      svc,
		notifier: notifier,
		entries:  make(map[string]cron.EntryID),
		specs:    make(map[string]string),
		now:      time.Now,
		logger:   logger,
	}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{JobDaily, cfg.Daily, s.backupJob(model.BackupTypeDaily)},
		{JobWeekly, cfg.Weekly, s.backupJob(model.BackupTypeWeekly)},
		{JobMonthly, cfg.Monthly, s.backupJob(model.BackupTypeMonthly)},
		{JobIntegrity, cfg.Integrity, s.RunIntegritySweep},
	}
	for _, j := range jobs {
		if strings.TrimSpace(j.spec) == "" {
			continue
		}
		name, run := j.name, j.run
		id, err := s.cron.AddFunc(j.spec, func() { s.runJob(name, run) })
		if err != nil {
			return nil, fmt.Errorf("schedule %s job %q: %w", name, j.spec, err)
		}
		s.entries[name] = id
		s.specs[name] = j.spec
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, j := range s.Jobs() {
		s.logger.Info("job scheduled", "job", j.Name, "spec", j.Spec, "next", j.Next)
	}
}

// Stop prevents new runs and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Jobs lists the registered cadences ordered by name.
func (s *Scheduler) Jobs() []Job {
	jobs := make([]Job, 0, len(s.entries))
	for name, id := range s.entries {
		jobs = append(jobs, Job{Name: name, Spec: s.specs[name], Next: s.cron.Entry(id).Next})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

func (s *Scheduler) runJob(name string, run func(context.Context) error) {
	ctx := context.Background()
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	start := s.now()
	s.logger.Info("job started", "job", name)
	err := run(ctx)
	metrics.RecordScheduledRun(name, err)
	if err != nil {
		s.logger.Error("job failed", "job", name, "duration", s.now().Sub(start), "error", err)
		return
	}
	s.logger.Info("job finished", "job", name, "duration", s.now().Sub(start))
}

func (s *Scheduler) backupJob(t model.BackupType) func(context.Context) error {
	return func(ctx context.Context) error {
		return s.RunBackup(ctx, t)
	}
}

// RunBackup takes one system-initiated backup. The orchestrator alerts for
// attempts it recorded; attempts refused before that are alerted here.
func (s *Scheduler) RunBackup(ctx context.Context, t model.BackupType) error {
	res, err := s.svc.CreateBackup(ctx, t, nil, fmt.Sprintf("scheduled %s backup", t))
	if err != nil {
		if errors.Is(err, backup.ErrNotRecorded) {
			s.notify(ctx, model.FailureAlert{
				Type:      t,
				Error:     err.Error(),
				Timestamp: s.now().UTC(),
			})
		}
		return fmt.Errorf("%s backup: %w", t, err)
	}
	s.logger.Info("scheduled backup completed", "backup_id", res.BackupID, "file_size", res.FileSize, "duration", res.Duration)
	return nil
}

// RunIntegritySweep audits every successful backup and alerts once per
// backup with failing checks.
func (s *Scheduler) RunIntegritySweep(ctx context.Context) error {
	report, err := s.svc.CheckIntegrity(ctx, "")
	if err != nil {
		return fmt.Errorf("integrity sweep: %w", err)
	}
	s.logger.Info("integrity sweep completed", "total", report.TotalChecks, "passed", report.Passed, "failed", report.Failed)
	if report.Failed == 0 {
		return nil
	}

	failures := make(map[string][]string)
	var order []string
	for _, c := range report.Checks {
		if c.Status != model.CheckStatusFail {
			continue
		}
		if _, seen := failures[c.BackupID]; !seen {
			order = append(order, c.BackupID)
		}
		failures[c.BackupID] = append(failures[c.BackupID], fmt.Sprintf("%s: %s", c.CheckType, c.ErrorMessage))
	}
	for _, id := range order {
		s.alert(ctx, id, strings.Join(failures[id], "; "))
	}
	return fmt.Errorf("integrity sweep: %d of %d checks failed across %d backups", report.Failed, report.TotalChecks, len(order))
}

func (s *Scheduler) alert(ctx context.Context, backupID, msg string) {
	if s.notifier == nil || s.cfg.AlertEmail == "" {
		return
	}
	alert := model.FailureAlert{
		BackupID:  backupID,
		Operation: "integrity check",
		Error:     msg,
		Timestamp: s.now().UTC(),
	}
	if rec, err := s.svc.GetBackup(ctx, backupID); err == nil {
		alert.Type = rec.BackupType
	}
	s.notify(ctx, alert)
}

func (s *Scheduler) notify(ctx context.Context, alert model.FailureAlert) {
	if s.notifier == nil || s.cfg.AlertEmail == "" {
		return
	}
	if err := s.notifier.NotifyFailure(ctx, s.cfg.AlertEmail, alert); err != nil {
		s.logger.Warn("alert not sent", "backup_id", alert.BackupID, "operation", alert.Subject(), "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
