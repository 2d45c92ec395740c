package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordBackup(t *testing.T) {
	success := BackupsTotal.WithLabelValues("daily", "success")
	failure := BackupsTotal.WithLabelValues("daily", "failure")
	beforeOK := testutil.ToFloat64(success)
	beforeFail := testutil.ToFloat64(failure)

	RecordBackup("daily", 2*time.Second, 4096, nil)
	RecordBackup("daily", time.Second, 0, errors.New("disk full"))

	if got := testutil.ToFloat64(success) - beforeOK; got != 1 {
		t.Errorf("success delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(failure) - beforeFail; got != 1 {
		t.Errorf("failure delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(BackupLastSizeBytes.WithLabelValues("daily")); got != 4096 {
		t.Errorf("last size = %v, want 4096", got)
	}
}

func TestRecordIntegrityCheck(t *testing.T) {
	c := IntegrityChecksTotal.WithLabelValues("checksum", "fail")
	before := testutil.ToFloat64(c)

	RecordIntegrityCheck("checksum", "fail")

	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("delta = %v, want 1", got)
	}
}

func TestTrackOperation(t *testing.T) {
	TrackOperation(true)
	if got := testutil.ToFloat64(OperationInProgress); got != 1 {
		t.Errorf("gauge = %v, want 1", got)
	}
	TrackOperation(false)
	if got := testutil.ToFloat64(OperationInProgress); got != 0 {
		t.Errorf("gauge = %v, want 0", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	c := HTTPRequestsTotal.WithLabelValues("GET", "/api/backups", "200")
	before := testutil.ToFloat64(c)

	RecordHTTPRequest("GET", "/api/backups", 200, 15*time.Millisecond)

	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("delta = %v, want 1", got)
	}
}
