package model

import (
	"encoding/json"
	"time"
)

type BackupType string

const (
	BackupTypeDaily   BackupType = "daily"
	BackupTypeWeekly  BackupType = "weekly"
	BackupTypeMonthly BackupType = "monthly"
	BackupTypeManual  BackupType = "manual"
)

// BackupTypes lists every accepted backup type in cadence order.
var BackupTypes = []BackupType{BackupTypeDaily, BackupTypeWeekly, BackupTypeMonthly, BackupTypeManual}

func (t BackupType) Valid() bool {
	switch t {
	case BackupTypeDaily, BackupTypeWeekly, BackupTypeMonthly, BackupTypeManual:
		return true
	}
	return false
}

type BackupStatus string

const (
	BackupStatusInProgress BackupStatus = "in_progress"
	BackupStatusSuccess    BackupStatus = "success"
	BackupStatusFailure    BackupStatus = "failure"
	BackupStatusDeleted    BackupStatus = "deleted"
)

func (s BackupStatus) Valid() bool {
	switch s {
	case BackupStatusInProgress, BackupStatusSuccess, BackupStatusFailure, BackupStatusDeleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether a record in status s may move to next.
// The only legal moves are in_progress -> success|failure and success -> deleted.
func (s BackupStatus) CanTransitionTo(next BackupStatus) bool {
	switch s {
	case BackupStatusInProgress:
		return next == BackupStatusSuccess || next == BackupStatusFailure
	case BackupStatusSuccess:
		return next == BackupStatusDeleted
	}
	return false
}

// BackupMetadata is written once when a backup succeeds.
type BackupMetadata struct {
	Description      string  `json:"description,omitempty"`
	DurationSeconds  float64 `json:"duration_seconds"`
	ExitCode         int     `json:"exit_code"`
	OriginalSize     int64   `json:"original_size"`
	CompressedSize   int64   `json:"compressed_size"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// ParseBackupMetadata decodes stored metadata. Empty or malformed input
// yields the zero value rather than an error.
func ParseBackupMetadata(raw string) BackupMetadata {
	var m BackupMetadata
	if raw == "" {
		return m
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return BackupMetadata{}
	}
	return m
}

type BackupRecord struct {
	BackupID     string         `json:"backup_id"`
	BackupType   BackupType     `json:"backup_type"`
	Status       BackupStatus   `json:"status"`
	FilePath     string         `json:"file_path,omitempty"`
	FileSize     int64          `json:"file_size"`
	Checksum     string         `json:"checksum,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     BackupMetadata `json:"metadata"`
	CreatedBy    *int64         `json:"created_by"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// FailureAlert is what an operator is told when a backup attempt or an
// integrity sweep fails.
type FailureAlert struct {
	BackupID  string     `json:"backup_id"`
	Type      BackupType `json:"type"`
	Operation string     `json:"operation,omitempty"`
	Error     string     `json:"error"`
	Timestamp time.Time  `json:"timestamp"`
}

// Subject names what failed: "backup" unless Operation says otherwise.
func (a FailureAlert) Subject() string {
	if a.Operation == "" {
		return "backup"
	}
	return a.Operation
}
