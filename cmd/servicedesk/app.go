package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dukerupert/servicedesk/internal/archive"
	"github.com/dukerupert/servicedesk/internal/backup"
	"github.com/dukerupert/servicedesk/internal/config"
	"github.com/dukerupert/servicedesk/internal/database"
	"github.com/dukerupert/servicedesk/internal/email"
	"github.com/dukerupert/servicedesk/internal/integrity"
	"github.com/dukerupert/servicedesk/internal/store"
)

// app holds the wired orchestrator and the resources it owns.
type app struct {
	cfg      *config.Config
	catalog  *sql.DB
	manager  *backup.Manager
	notifier backup.Notifier
	logger   *slog.Logger
}

func newApp(cfg *config.Config, onStatus backup.StatusCallback, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.CatalogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}
	catalog, err := database.Open(cfg.Database.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	notifier := newNotifier(cfg, logger)

	var mirror backup.Mirror
	s3cfg := backup.S3Config{
		Endpoint:   cfg.Offsite.Endpoint,
		Bucket:     cfg.Offsite.Bucket,
		Region:     cfg.Offsite.Region,
		AccessKey:  cfg.Offsite.AccessKey,
		SecretKey:  cfg.Offsite.SecretKey,
		Prefix:     cfg.Offsite.Prefix,
		Passphrase: cfg.Offsite.Passphrase,
	}
	if s3cfg.Enabled() {
		mirror = backup.NewS3Mirror(s3cfg)
	}

	mgr := backup.NewManager(
		backup.Config{
			DBPath:     cfg.Database.Path,
			SafetyDir:  cfg.Backup.SafetyDir,
			AlertEmail: cfg.Alert.Email,
		},
		backup.Deps{
			Backups:  store.NewBackupStore(catalog),
			Checks:   store.NewIntegrityCheckStore(catalog),
			Archiver: archive.NewRunner(cfg.Backup.ArchiveCommand, cfg.Backup.ArchiveTimeout),
			Checker:  newChecker(cfg.Integrity),
			Notifier: notifier,
			Mirror:   mirror,
			OnStatus: onStatus,
		},
		logger,
	)

	return &app{cfg: cfg, catalog: catalog, manager: mgr, notifier: notifier, logger: logger}, nil
}

func (a *app) Close() error {
	return a.catalog.Close()
}

func newChecker(cfg config.IntegrityConfig) integrity.Checker {
	if cfg.Mode == "driver" {
		return integrity.NewDriverChecker(cfg.Timeout)
	}
	return integrity.NewProcessChecker(cfg.Command, cfg.Timeout)
}

// newNotifier returns the configured alert transport behind a circuit
// breaker, or nil when alerts are off.
func newNotifier(cfg *config.Config, logger *slog.Logger) backup.Notifier {
	if !cfg.Alert.Enabled() {
		return nil
	}
	var transport email.Notifier
	switch cfg.Alert.Transport {
	case "postmark":
		transport = email.NewClient(cfg.Alert.PostmarkToken, cfg.Alert.From, cfg.Server.BaseURL)
	case "smtp":
		transport = email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.Alert.SMTPHost,
			Port:     cfg.Alert.SMTPPort,
			Username: cfg.Alert.SMTPUsername,
			Password: cfg.Alert.SMTPPassword,
			From:     cfg.Alert.From,
			UseTLS:   cfg.Alert.SMTPTLS,
		}, cfg.Server.BaseURL)
	default:
		return nil
	}
	return email.NewBreakerNotifier(transport, email.BreakerConfig{
		MaxFailures: cfg.Alert.BreakerFailures,
		Timeout:     cfg.Alert.BreakerTimeout,
	}, logger)
}
