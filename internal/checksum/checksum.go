// Package checksum computes and verifies SHA-256 digests of backup artifacts.
//
// Files are streamed through the hash in fixed-size chunks so memory use does
// not grow with artifact size. Stored digests use the "sha256:<hex>" form.
package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	Prefix    = "sha256:"
	chunkSize = 64 * 1024
	hexLen    = sha256.Size * 2
)

// ErrIO marks failures to open or read the file being hashed.
var ErrIO = errors.New("checksum io error")

// Compute returns the lowercase hex SHA-256 digest of the file at path.
func Compute(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w: %w", path, ErrIO, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read %s: %w: %w", path, ErrIO, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the digest of path and compares it with expected, which
// may carry the "sha256:" prefix. It returns the actual digest either way.
func Verify(ctx context.Context, path, expected string) (string, bool, error) {
	actual, err := Compute(ctx, path)
	if err != nil {
		return "", false, err
	}
	want, _ := Parse(expected)
	return actual, strings.EqualFold(actual, want), nil
}

// Format renders a hex digest in stored form.
func Format(hexDigest string) string {
	return Prefix + strings.ToLower(hexDigest)
}

// Parse strips the "sha256:" prefix. ok is false when the prefix is missing,
// in which case the input is returned unchanged.
func Parse(s string) (string, bool) {
	if strings.HasPrefix(s, Prefix) {
		return strings.TrimPrefix(s, Prefix), true
	}
	return s, false
}

// ValidHex reports whether s looks like a SHA-256 hex digest.
func ValidHex(s string) bool {
	if len(s) != hexLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ReadManifest reads a "<hex>  <filename>" manifest and returns the digest.
func ReadManifest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read manifest %s: %w: %w", path, ErrIO, err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", fmt.Errorf("manifest %s is empty", path)
	}
	digest := strings.ToLower(fields[0])
	if !ValidHex(digest) {
		return "", fmt.Errorf("manifest %s: %q is not a sha256 digest", path, fields[0])
	}
	return digest, nil
}

// WriteManifest writes a manifest in the format sha256sum produces.
func WriteManifest(path, hexDigest, filename string) error {
	line := fmt.Sprintf("%s  %s\n", strings.ToLower(hexDigest), filename)
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w: %w", path, ErrIO, err)
	}
	return nil
}
