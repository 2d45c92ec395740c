package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/servicedesk/internal/archive"
	"github.com/dukerupert/servicedesk/internal/checksum"
	"github.com/dukerupert/servicedesk/internal/model"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
	// Passphrase, when set, encrypts every object before upload.
	Passphrase string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// S3Mirror copies backup artifacts to S3-compatible storage.
type S3Mirror struct {
	cfg    S3Config
	client s3Client
}

func NewS3Mirror(cfg S3Config) *S3Mirror {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return &S3Mirror{cfg: cfg, client: s3.New(opts)}
}

// key maps a local artifact file to its object key: <prefix>/<type dir>/<name>.
func (s *S3Mirror) key(localPath string) string {
	name := filepath.Base(localPath)
	if s.cfg.Passphrase != "" {
		name += ".enc"
	}
	return path.Join(s.cfg.Prefix, filepath.Base(filepath.Dir(localPath)), name)
}

func mirroredFiles(art archive.Artifact) []string {
	return []string{art.DB(), art.SQLDump(), art.Manifest()}
}

// Upload puts every artifact file that exists locally. Files are streamed
// from disk unless they have to be sealed first.
func (s *S3Mirror) Upload(ctx context.Context, art archive.Artifact) error {
	for _, local := range mirroredFiles(art) {
		if err := s.put(ctx, local); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *S3Mirror) put(ctx context.Context, local string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", local, err)
	}

	var body io.Reader = f
	size := info.Size()
	if s.cfg.Passphrase != "" {
		plain, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", local, err)
		}
		sealed, err := seal(plain, s.cfg.Passphrase)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", local, err)
		}
		body, size = bytes.NewReader(sealed), int64(len(sealed))
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(s.key(local)),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", s.key(local), err)
	}
	return nil
}

// Remove deletes the artifact's objects, attempting each one.
func (s *S3Mirror) Remove(ctx context.Context, art archive.Artifact) error {
	var errs []error
	for _, local := range mirroredFiles(art) {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.key(local)),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", s.key(local), err))
		}
	}
	return errors.Join(errs...)
}

// Fetch downloads the artifact's data file and manifest back to their local
// paths. The data file is written to a temporary name and renamed into place.
func (s *S3Mirror) Fetch(ctx context.Context, art archive.Artifact) error {
	if err := s.fetchFile(ctx, art.DB()); err != nil {
		return err
	}
	if !fileExists(art.Manifest()) {
		// The manifest is optional offsite as well as locally.
		_ = s.fetchFile(ctx, art.Manifest())
	}
	return nil
}

func (s *S3Mirror) fetchFile(ctx context.Context, local string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(local)),
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", s.key(local), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.key(local), err)
	}
	if s.cfg.Passphrase != "" {
		if data, err = unseal(data, s.cfg.Passphrase); err != nil {
			return fmt.Errorf("decrypt %s: %w", s.key(local), err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o750); err != nil {
		return err
	}
	tmp := local + ".partial"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, local)
}

// FetchOffsite restores a missing local artifact from the offsite mirror and
// verifies it against the stored checksum. It returns the local path.
func (m *Manager) FetchOffsite(ctx context.Context, backupID string) (string, error) {
	rec, err := m.GetBackup(ctx, backupID)
	if err != nil {
		return "", err
	}
	if rec.Status != model.BackupStatusSuccess {
		return "", newError(KindInvalidState, fmt.Sprintf("backup %s is %s and has no artifact", backupID, rec.Status), nil)
	}
	if m.mirror == nil {
		return "", newError(KindInvalidState, "offsite mirror is not configured", nil)
	}
	if fileExists(rec.FilePath) {
		return rec.FilePath, nil
	}

	art := archive.ArtifactFromPath(rec.FilePath)
	if err := m.mirror.Fetch(ctx, art); err != nil {
		return "", newError(KindIO, "fetch offsite artifact", err)
	}

	if rec.Checksum != "" {
		actual, ok, err := checksum.Verify(ctx, rec.FilePath, rec.Checksum)
		if err != nil {
			return "", newError(KindIO, "verify fetched artifact", err)
		}
		if !ok {
			os.Remove(rec.FilePath)
			return "", newError(KindIntegrityViolation,
				fmt.Sprintf("fetched artifact checksum %s does not match %s", checksum.Format(actual), rec.Checksum), nil)
		}
	}

	m.logger.Info("artifact fetched from offsite mirror", "backup_id", backupID, "path", rec.FilePath)
	return rec.FilePath, nil
}
