package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dukerupert/servicedesk/internal/checksum"

	_ "modernc.org/sqlite"
)

// ArtifactName is the base name every produced prefix starts with.
const ArtifactName = "servicedesk"

// Producer writes a backup artifact set for the live database.
type Producer struct {
	DBPath    string
	BackupDir string
	Now       func() time.Time
	Logger    *slog.Logger
}

func NewProducer(dbPath, backupDir string, logger *slog.Logger) *Producer {
	return &Producer{
		DBPath:    dbPath,
		BackupDir: backupDir,
		Now:       time.Now,
		Logger:    logger.With("component", "archive"),
	}
}

// Produce snapshots the database into <dir>/<type>/servicedesk-<stamp>.db,
// writes the gzip SQL dump and the checksum manifest, and returns the
// artifact prefix. Partial files are removed on failure.
func (p *Producer) Produce(ctx context.Context, backupType string) (string, error) {
	if backupType == "" || strings.ContainsAny(backupType, `/\.`) {
		return "", fmt.Errorf("invalid backup type %q", backupType)
	}
	if _, err := os.Stat(p.DBPath); err != nil {
		return "", fmt.Errorf("stat database: %w", err)
	}

	dir := filepath.Join(p.BackupDir, backupType)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	art, err := p.nextArtifact(dir)
	if err != nil {
		return "", err
	}

	if err := p.produce(ctx, art); err != nil {
		for _, path := range art.Siblings() {
			os.Remove(path)
		}
		return "", err
	}
	return art.Prefix, nil
}

func (p *Producer) produce(ctx context.Context, art Artifact) error {
	start := time.Now()

	if err := vacuumInto(ctx, p.DBPath, art.DB()); err != nil {
		return err
	}
	p.Logger.Debug("snapshot written", "path", art.DB())

	if err := DumpFile(ctx, art.DB(), art.SQLDump()); err != nil {
		return err
	}
	p.Logger.Debug("sql dump written", "path", art.SQLDump())

	sum, err := checksum.Compute(ctx, art.DB())
	if err != nil {
		return err
	}
	if err := checksum.WriteManifest(art.Manifest(), sum, filepath.Base(art.DB())); err != nil {
		return err
	}

	p.Logger.Info("archive produced", "prefix", art.Prefix, "duration", time.Since(start))
	return nil
}

// nextArtifact picks a prefix from the current second, adding a counter when
// an artifact with that stamp already exists.
func (p *Producer) nextArtifact(dir string) (Artifact, error) {
	base := filepath.Join(dir, fmt.Sprintf("%s-%s", ArtifactName, p.Now().UTC().Format("20060102-150405")))
	art := Artifact{Prefix: base}
	for i := 1; i < 100; i++ {
		if _, err := os.Stat(art.DB()); errors.Is(err, os.ErrNotExist) {
			return art, nil
		}
		art = Artifact{Prefix: fmt.Sprintf("%s-%d", base, i)}
	}
	return Artifact{}, fmt.Errorf("no free artifact name under %s", base)
}

func vacuumInto(ctx context.Context, srcPath, destPath string) error {
	src, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", srcPath))
	if err != nil {
		return fmt.Errorf("open source database: %w", err)
	}
	defer src.Close()

	escaped := strings.ReplaceAll(destPath, "'", "''")
	if _, err := src.ExecContext(ctx, "VACUUM INTO '"+escaped+"'"); err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}
