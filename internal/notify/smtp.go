package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"os"
	"strings"
	"time"
)

const (
	DefaultSMTPPort = "587"
	DefaultFromAddr = "ElectroMart <no-reply@electromart.local>"
)

// SMTPOpts holds configuration for the email notifier.
type SMTPOpts struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	To       string
}

// SMTPOption configures the email notifier.
type SMTPOption func(*SMTPOpts)

func WithSMTPHost(host string) SMTPOption { return func(o *SMTPOpts) { o.Host = host } }
func WithSMTPPort(port string) SMTPOption { return func(o *SMTPOpts) { o.Port = port } }
func WithSMTPAuth(user, pass string) SMTPOption {
	return func(o *SMTPOpts) {
		o.Username = user
		o.Password = pass
	}
}
func WithSMTPFrom(from string) SMTPOption { return func(o *SMTPOpts) { o.From = from } }
func WithSMTPTo(to string) SMTPOption { return func(o *SMTPOpts) { o.To = to } }

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier emails notifications to the sales inbox. smtp.SendMail
// upgrades to STARTTLS when the server offers it.
type SMTPNotifier struct {
	addr     string
	auth     smtp.Auth
	from     string
	to       string
	sendMail sendMailFunc
}

// NewSMTPNotifier builds an email notifier. Unset options fall back to
// SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS and SALES_TO_EMAIL.
func NewSMTPNotifier(opts ...SMTPOption) (*SMTPNotifier, error) {
	var cfg SMTPOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Host == "" {
		cfg.Host = os.Getenv("SMTP_HOST")
	}
	if cfg.Port == "" {
		cfg.Port = os.Getenv("SMTP_PORT")
	}
	if cfg.Port == "" {
		cfg.Port = DefaultSMTPPort
	}
	if cfg.Username == "" {
		cfg.Username = os.Getenv("SMTP_USER")
		cfg.Password = os.Getenv("SMTP_PASS")
	}
	if cfg.To == "" {
		cfg.To = os.Getenv("SALES_TO_EMAIL")
	}
	if cfg.From == "" {
		cfg.From = DefaultFromAddr
	}

	slog.Debug("SMTPNotifier config",
		"host", cfg.Host,
		"port", cfg.Port,
		"user_set", cfg.Username != "",
		"to_set", cfg.To != "")

	if cfg.Host == "" || cfg.To == "" {
		return nil, fmt.Errorf("smtp notifier requires host and recipient")
	}

	n := &SMTPNotifier{
		addr:     net.JoinHostPort(cfg.Host, cfg.Port),
		from:     cfg.From,
		to:       cfg.To,
		sendMail: smtp.SendMail,
	}
	if cfg.Username != "" {
		n.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return n, nil
}

// Notify sends one plain-text email.
func (s *SMTPNotifier) Notify(ctx context.Context, n Notification) error {
	msg := buildMessage(s.from, s.to, n, time.Now())
	if err := s.sendMail(s.addr, s.auth, envelopeAddr(s.from), []string{s.to}, msg); err != nil {
		slog.Error("SMTPNotifier Notify failed", "addr", s.addr, "error", err)
		return fmt.Errorf("failed to send email to %s: %w", s.to, err)
	}
	slog.Debug("SMTPNotifier email sent", "to", s.to, "subject", n.Subject)
	return nil
}

func buildMessage(from, to string, n Notification, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + n.Subject + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(n.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// envelopeAddr extracts the bare address from "Name <addr>".
func envelopeAddr(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return from
}
