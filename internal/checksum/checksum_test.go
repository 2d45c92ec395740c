package checksum

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sha256("hello world")
const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestComputeKnownDigest(t *testing.T) {
	path := writeFile(t, "hello.txt", []byte("hello world"))

	got, err := Compute(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, helloDigest, got)
}

func TestComputeDeterministicAcrossChunks(t *testing.T) {
	// Spans several read chunks with a ragged tail.
	data := bytes.Repeat([]byte("0123456789abcdef"), (3*chunkSize)/16+7)
	path := writeFile(t, "big.bin", data)

	first, err := Compute(context.Background(), path)
	require.NoError(t, err)
	second, err := Compute(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, ValidHex(first))
}

func TestComputeMissingFile(t *testing.T) {
	_, err := Compute(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestComputeCancelled(t *testing.T) {
	path := writeFile(t, "hello.txt", []byte("hello world"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Compute(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerify(t *testing.T) {
	path := writeFile(t, "hello.txt", []byte("hello world"))
	ctx := context.Background()

	actual, ok, err := Verify(ctx, path, Format(helloDigest))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, helloDigest, actual)

	// Bare hex and upper case are accepted.
	_, ok, err = Verify(ctx, path, "B94D27B9934D3E08A52E52D7DA7DABFAC484EFE37A5380EE9088F7ACE2EFCDE9")
	require.NoError(t, err)
	assert.True(t, ok)

	actual, ok, err = Verify(ctx, path, "sha256:"+string(bytes.Repeat([]byte("a"), 64)))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, helloDigest, actual)
}

func TestFormatParse(t *testing.T) {
	assert.Equal(t, "sha256:abcd", Format("ABCD"))

	hex, ok := Parse("sha256:abcd")
	assert.True(t, ok)
	assert.Equal(t, "abcd", hex)

	hex, ok = Parse("abcd")
	assert.False(t, ok)
	assert.Equal(t, "abcd", hex)
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.sha256")

	require.NoError(t, WriteManifest(path, helloDigest, "backup.db"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, helloDigest+"  backup.db\n", string(raw))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, helloDigest, got)
}

func TestReadManifestRejectsGarbage(t *testing.T) {
	empty := writeFile(t, "empty.sha256", []byte("   \n"))
	_, err := ReadManifest(empty)
	assert.Error(t, err)

	short := writeFile(t, "short.sha256", []byte("abc123  backup.db\n"))
	_, err = ReadManifest(short)
	assert.Error(t, err)

	_, err = ReadManifest(filepath.Join(t.TempDir(), "missing.sha256"))
	assert.ErrorIs(t, err, ErrIO)
}
