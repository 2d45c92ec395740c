package email

import (
	"context"
	"crypto/tls"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/dukerupert/servicedesk/internal/model"
)

// sender is the part of *gomail.Dialer the SMTP notifier uses.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
}

// SMTPSender delivers alerts through a plain SMTP relay.
type SMTPSender struct {
	from    string
	baseURL string
	dialer  sender
}

func NewSMTPSender(cfg SMTPConfig, baseURL string) *SMTPSender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.UseTLS {
		dialer.TLSConfig = &tls.Config{ServerName: cfg.Host}
	}
	return &SMTPSender{from: cfg.From, baseURL: baseURL, dialer: dialer}
}

// NotifyFailure sends a backup failure alert. gomail has no context support;
// ctx is only checked before dialing.
func (s *SMTPSender) NotifyFailure(ctx context.Context, toEmail string, alert model.FailureAlert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := renderFailure(alert, s.baseURL)

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("X-Mailer", "servicedesk")
	m.SetBody("text/plain", msg.Text)
	m.AddAlternative("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
