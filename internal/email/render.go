package email

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dukerupert/servicedesk/internal/model"
)

// Notifier delivers backup failure alerts to an address.
type Notifier interface {
	NotifyFailure(ctx context.Context, address string, alert model.FailureAlert) error
}

type message struct {
	Subject string
	Text    string
	HTML    string
}

func renderFailure(alert model.FailureAlert, baseURL string) message {
	what := alert.Subject()
	id := alert.BackupID
	if id == "" {
		id = "not recorded"
	}
	subject := fmt.Sprintf("[servicedesk] %s %s failed: %s", alert.Type, what, id)
	when := alert.Timestamp.UTC().Format(time.RFC3339)

	var text strings.Builder
	fmt.Fprintf(&text, "A %s %s failed.\n\n", alert.Type, what)
	fmt.Fprintf(&text, "Backup ID: %s\n", id)
	fmt.Fprintf(&text, "Type:      %s\n", alert.Type)
	fmt.Fprintf(&text, "Time:      %s\n", when)
	fmt.Fprintf(&text, "Error:     %s\n", alert.Error)
	link := ""
	if baseURL != "" && alert.BackupID != "" {
		link = fmt.Sprintf("%s/api/backups/%s", strings.TrimRight(baseURL, "/"), alert.BackupID)
		fmt.Fprintf(&text, "\nDetails: %s\n", link)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "<p>A <strong>%s</strong> %s failed.</p><table>", html.EscapeString(string(alert.Type)), html.EscapeString(what))
	fmt.Fprintf(&body, "<tr><td>Backup ID</td><td>%s</td></tr>", html.EscapeString(id))
	fmt.Fprintf(&body, "<tr><td>Time</td><td>%s</td></tr>", when)
	fmt.Fprintf(&body, "<tr><td>Error</td><td><pre>%s</pre></td></tr></table>", html.EscapeString(alert.Error))
	if link != "" {
		fmt.Fprintf(&body, `<p><a href="%s">View backup</a></p>`, html.EscapeString(link))
	}

	return message{Subject: subject, Text: text.String(), HTML: body.String()}
}
