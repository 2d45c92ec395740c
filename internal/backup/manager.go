// Package backup orchestrates backup creation, listing, deletion, restore
// and integrity audits of the servicedesk database.
//
// The Manager owns the rules: ids, status transitions, the latest-backup
// protection, the restore safety net and the audit checks. Archive
// production, integrity checking, persistence and alerting are injected.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/servicedesk/internal/archive"
	"github.com/dukerupert/servicedesk/internal/integrity"
	"github.com/dukerupert/servicedesk/internal/metrics"
	"github.com/dukerupert/servicedesk/internal/model"
	"github.com/dukerupert/servicedesk/internal/store"
)

// Archiver produces a backup artifact and reports its path prefix.
type Archiver interface {
	Run(ctx context.Context, backupType string) (archive.Result, error)
}

// Notifier delivers failure alerts. Delivery is best-effort.
type Notifier interface {
	NotifyFailure(ctx context.Context, address string, alert model.FailureAlert) error
}

// Mirror keeps an offsite copy of successful artifacts.
type Mirror interface {
	Upload(ctx context.Context, art archive.Artifact) error
	Remove(ctx context.Context, art archive.Artifact) error
	Fetch(ctx context.Context, art archive.Artifact) error
}

// Config holds backup manager configuration.
type Config struct {
	// DBPath is the live database file that backups snapshot and restores replace.
	DBPath string
	// SafetyDir receives copies of the live database taken before a restore.
	SafetyDir string
	// AlertEmail receives failure alerts when set.
	AlertEmail string
}

// Deps are the collaborators a Manager works with. Backups, Checks, Archiver
// and Checker are required.
type Deps struct {
	Backups  *store.BackupStore
	Checks   *store.IntegrityCheckStore
	Archiver Archiver
	Checker  integrity.Checker
	Notifier Notifier
	Mirror   Mirror
	Clock    func() time.Time
	OnStatus StatusCallback
}

// State represents the backup manager state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateRestoring State = "restoring"
	StateVerifying State = "verifying"
	StateError     State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State        State      `json:"state"`
	BackupID     string     `json:"backup_id,omitempty"`
	LastBackup   *time.Time `json:"last_backup,omitempty"`
	LastBackupID string     `json:"last_backup_id,omitempty"`
	Error        string     `json:"error,omitempty"`
	InProgress   bool       `json:"in_progress"`
}

// StatusCallback is called whenever the backup state changes.
type StatusCallback func(Status)

var errBusy = newError(KindInvalidState, "backup operation already in progress", nil)

// Manager manages backups of the live database.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	backups  *store.BackupStore
	checks   *store.IntegrityCheckStore
	archiver Archiver
	checker  integrity.Checker
	notifier Notifier
	mirror   Mirror
	now      func() time.Time
	callback StatusCallback

	// op is held for the whole of a create or restore so only one of them
	// touches the live database file at a time.
	op sync.Mutex

	backupIDs idGenerator
	checkRuns idGenerator

	mu     sync.RWMutex
	status Status
}

// NewManager creates a new backup manager.
func NewManager(cfg Config, deps Deps, logger *slog.Logger) *Manager {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.With("component", "backup"),
		backups:  deps.Backups,
		checks:   deps.Checks,
		archiver: deps.Archiver,
		checker:  deps.Checker,
		notifier: deps.Notifier,
		mirror:   deps.Mirror,
		now:      func() time.Time { return clock().UTC() },
		callback: deps.OnStatus,
		status:   Status{State: StateIdle},
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(update func(*Status)) {
	m.mu.Lock()
	update(&m.status)
	s := m.status
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

func (m *Manager) begin(state State, backupID string) bool {
	if !m.op.TryLock() {
		return false
	}
	metrics.TrackOperation(true)
	m.setStatus(func(s *Status) {
		s.State = state
		s.BackupID = backupID
		s.InProgress = true
		s.Error = ""
	})
	return true
}

func (m *Manager) end(err error) {
	m.setStatus(func(s *Status) {
		s.BackupID = ""
		s.InProgress = false
		if err != nil {
			s.State = StateError
			s.Error = err.Error()
		} else {
			s.State = StateIdle
		}
	})
	metrics.TrackOperation(false)
	m.op.Unlock()
}

// idGenerator hands out second-resolution timestamps that strictly increase
// within the process, so ids built from them never repeat.
type idGenerator struct {
	mu   sync.Mutex
	last time.Time
}

func (g *idGenerator) next(now time.Time) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts := now.UTC().Truncate(time.Second)
	if !ts.After(g.last) {
		ts = g.last.Add(time.Second)
	}
	g.last = ts
	return ts
}

const idTimeLayout = "20060102150405"

func formatBackupID(ts time.Time, t model.BackupType) string {
	return fmt.Sprintf("BKP-%s-%s", ts.Format(idTimeLayout), t)
}

// maxCheckSeq is the last sequence number a check run can issue. Audits that
// record more checks continue under the next run timestamp.
const maxCheckSeq = 999

func formatCheckID(run time.Time, seq int) string {
	return fmt.Sprintf("CHK-%s-%03d", run.Format(idTimeLayout), seq)
}
