package backup

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dukerupert/servicedesk/internal/archive"
	"github.com/dukerupert/servicedesk/internal/checksum"
	"github.com/dukerupert/servicedesk/internal/integrity"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := newError(KindProtectedResource, "cannot delete the latest backup of its type", nil)
	wrapped := fmt.Errorf("handler: %w", err)

	assert.True(t, errors.Is(wrapped, ErrProtectedResource))
	assert.False(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, "cannot delete the latest backup of its type", err.Error())
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := newError(KindExternalProcess, "archive process failed", cause)

	assert.Equal(t, "archive process failed: disk full", err.Error())
	assert.True(t, errors.Is(err, cause))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"typed", newError(KindNotFound, "gone", nil), KindNotFound},
		{"archive exit", &archive.ExitError{Code: 1, Output: "disk full"}, KindExternalProcess},
		{"archive launch", &archive.LaunchError{Command: "x", Err: errors.New("not found")}, KindExternalProcess},
		{"integrity", fmt.Errorf("%w: timed out", integrity.ErrProcess), KindExternalProcess},
		{"checksum io", fmt.Errorf("open: %w", checksum.ErrIO), KindIO},
		{"plain", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestClassifyKeepsTypedErrors(t *testing.T) {
	typed := newError(KindIntegrityViolation, "bad", nil)
	assert.Same(t, typed, classify(typed, "ignored", KindIO))

	got := classify(errors.New("boom"), "copy", KindIO)
	assert.Equal(t, KindIO, KindOf(got))
}

func TestUnrecordedKeepsKindAndMessage(t *testing.T) {
	err := fmt.Errorf("weekly backup: %w", unrecorded(errBusy))

	assert.True(t, errors.Is(err, ErrNotRecorded))
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, KindInvalidState, KindOf(err))
	assert.Equal(t, "weekly backup: backup operation already in progress", err.Error())
	assert.False(t, errors.Is(errBusy, ErrNotRecorded))
}

func TestAlreadyDeletedMarker(t *testing.T) {
	err := marked{newError(KindInvalidState, "backup BKP-x is already deleted", nil), ErrAlreadyDeleted}

	assert.True(t, errors.Is(err, ErrAlreadyDeleted))
	assert.False(t, errors.Is(err, ErrNotRecorded))
	assert.Equal(t, KindInvalidState, KindOf(err))
	assert.Equal(t, "backup BKP-x is already deleted", err.Error())
}
