package model

import (
	"encoding/json"
	"time"
)

type CheckType string

const (
	CheckTypeFileExists      CheckType = "file_exists"
	CheckTypeChecksum        CheckType = "checksum"
	CheckTypeDecompression   CheckType = "decompression"
	CheckTypePragmaIntegrity CheckType = "pragma_integrity"
)

type CheckStatus string

const (
	CheckStatusPass CheckStatus = "pass"
	CheckStatusFail CheckStatus = "fail"
)

// CheckDetails carries the evidence behind a check outcome. Only the fields
// relevant to the check type are set.
type CheckDetails struct {
	Path              string `json:"path,omitempty"`
	Expected          string `json:"expected,omitempty"`
	Actual            string `json:"actual,omitempty"`
	DecompressedBytes int64  `json:"decompressed_bytes,omitempty"`
	Output            string `json:"output,omitempty"`
}

func (d CheckDetails) IsZero() bool {
	return d == CheckDetails{}
}

// ParseCheckDetails decodes stored details, degrading to the zero value.
func ParseCheckDetails(raw string) CheckDetails {
	var d CheckDetails
	if raw == "" {
		return d
	}
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return CheckDetails{}
	}
	return d
}

// IntegrityCheckRecord is immutable once written.
type IntegrityCheckRecord struct {
	CheckID      string       `json:"check_id"`
	BackupID     string       `json:"backup_id"`
	CheckType    CheckType    `json:"check_type"`
	Status       CheckStatus  `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Details      CheckDetails `json:"details"`
	CreatedAt    time.Time    `json:"created_at"`
}
