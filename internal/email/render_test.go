package email

import (
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/servicedesk/internal/model"
)

func TestRenderFailureIntegritySweep(t *testing.T) {
	msg := renderFailure(model.FailureAlert{
		BackupID:  "BKP-20260301020000-weekly",
		Type:      model.BackupTypeWeekly,
		Operation: "integrity check",
		Error:     "checksum: <mismatch>",
		Timestamp: time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC),
	}, "https://desk.example.com/")

	if msg.Subject != "[servicedesk] weekly integrity check failed: BKP-20260301020000-weekly" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Text, "https://desk.example.com/api/backups/BKP-20260301020000-weekly") {
		t.Errorf("text missing link: %q", msg.Text)
	}
	if !strings.Contains(msg.HTML, "&lt;mismatch&gt;") {
		t.Errorf("html not escaped: %q", msg.HTML)
	}
}

func TestRenderFailureWithoutRecord(t *testing.T) {
	msg := renderFailure(model.FailureAlert{
		Type:      model.BackupTypeWeekly,
		Error:     "backup operation already in progress",
		Timestamp: time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC),
	}, "https://desk.example.com")

	if msg.Subject != "[servicedesk] weekly backup failed: not recorded" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if strings.Contains(msg.Text, "Details:") || strings.Contains(msg.HTML, "href") {
		t.Errorf("link rendered without a backup id: %q", msg.Text)
	}
}
