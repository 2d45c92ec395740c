package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/servicedesk/internal/model"
)

var testAlert = model.FailureAlert{
	BackupID:  "BKP-20260301020000-daily",
	Type:      model.BackupTypeDaily,
	Error:     "archive command exited with code 1: disk full",
	Timestamp: time.Date(2026, 3, 1, 2, 0, 5, 0, time.UTC),
}

func TestNotifyFailurePostmark(t *testing.T) {
	var received postmarkEmail
	var gotToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", "backups@example.com", "https://desk.example.com", WithHTTPClient(redirectTo(server.URL)))

	if err := client.NotifyFailure(context.Background(), "ops@example.com", testAlert); err != nil {
		t.Fatalf("notify failure: %v", err)
	}

	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received.To != "ops@example.com" {
		t.Errorf("To = %q, want %q", received.To, "ops@example.com")
	}
	if received.From != "backups@example.com" {
		t.Errorf("From = %q, want %q", received.From, "backups@example.com")
	}
	if received.Subject != "[servicedesk] daily backup failed: BKP-20260301020000-daily" {
		t.Errorf("Subject = %q", received.Subject)
	}
	if !strings.Contains(received.TextBody, "disk full") {
		t.Errorf("TextBody missing error: %q", received.TextBody)
	}
	if !strings.Contains(received.TextBody, "2026-03-01T02:00:05Z") {
		t.Errorf("TextBody missing timestamp: %q", received.TextBody)
	}
	if !strings.Contains(received.HtmlBody, "https://desk.example.com/api/backups/BKP-20260301020000-daily") {
		t.Errorf("HtmlBody missing link: %q", received.HtmlBody)
	}
}

func TestNotifyFailureNotConfigured(t *testing.T) {
	client := NewClient("", "backups@example.com", "")

	if err := client.NotifyFailure(context.Background(), "ops@example.com", testAlert); err == nil {
		t.Fatal("expected error for unconfigured client")
	}
}

func TestNotifyFailureAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient("test-token", "backups@example.com", "", WithHTTPClient(redirectTo(server.URL)))

	if err := client.NotifyFailure(context.Background(), "ops@example.com", testAlert); err == nil {
		t.Fatal("expected error for API failure")
	}
}

func TestNotifyFailureAPIErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"ErrorCode": 300, "Message": "Invalid 'To' address"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", "backups@example.com", "", WithHTTPClient(redirectTo(server.URL)))

	err := client.NotifyFailure(context.Background(), "not-an-address", testAlert)
	if err == nil {
		t.Fatal("expected error for rejected address")
	}
	if !strings.Contains(err.Error(), "code 300") || !strings.Contains(err.Error(), "Invalid 'To' address") {
		t.Errorf("error = %q, want postmark code and message", err)
	}
}

func TestConfigured(t *testing.T) {
	if !NewClient("token", "from@test.com", "").Configured() {
		t.Error("expected Configured() = true")
	}
	if NewClient("", "from@test.com", "").Configured() {
		t.Error("expected Configured() = false")
	}
}

func TestRenderFailureEscapesHTML(t *testing.T) {
	alert := testAlert
	alert.Error = `<script>alert("x")</script>`

	msg := renderFailure(alert, "")
	if strings.Contains(msg.HTML, "<script>") {
		t.Errorf("HTML not escaped: %q", msg.HTML)
	}
	if strings.Contains(msg.Text, "Details:") {
		t.Errorf("Text has link without base URL: %q", msg.Text)
	}
}

func redirectTo(target string) *http.Client {
	return &http.Client{Transport: &rewriteTransport{base: http.DefaultTransport, target: target}}
}

// rewriteTransport redirects all requests to a test server URL.
type rewriteTransport struct {
	base   http.RoundTripper
	target string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.target[len("http://"):]
	return t.base.RoundTrip(req)
}
