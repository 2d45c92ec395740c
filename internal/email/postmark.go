package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dukerupert/servicedesk/internal/model"
)

const (
	postmarkAPIURL  = "https://api.postmarkapp.com/email"
	postmarkTimeout = 15 * time.Second
	alertTag        = "backup-failure"
)

// Client delivers failure alerts through the Postmark HTTP API.
type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Postmark client. baseURL is the servicedesk address
// used for links in alert bodies.
func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: postmarkTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
	Tag      string `json:"Tag,omitempty"`
}

// postmarkError is the body Postmark returns on a rejected send.
type postmarkError struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// NotifyFailure sends a failure alert through Postmark.
func (c *Client) NotifyFailure(ctx context.Context, toEmail string, alert model.FailureAlert) error {
	if !c.Configured() {
		return fmt.Errorf("postmark: missing server token")
	}

	msg := renderFailure(alert, c.baseURL)
	body, err := json.Marshal(postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  msg.Subject,
		HtmlBody: msg.HTML,
		TextBody: msg.Text,
		Tag:      alertTag,
	})
	if err != nil {
		return fmt.Errorf("postmark: encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postmarkAPIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("postmark: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("postmark: send alert for %s: %w", alert.BackupID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		return nil
	}
	var perr postmarkError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &perr) == nil && perr.Message != "" {
		return fmt.Errorf("postmark: status %d: code %d: %s", resp.StatusCode, perr.ErrorCode, perr.Message)
	}
	return fmt.Errorf("postmark: status %d", resp.StatusCode)
}
