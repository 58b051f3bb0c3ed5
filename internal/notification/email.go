package notification

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// ImplicitTLSPort is the SMTP submission port that speaks TLS from the first
// byte. Any other port upgrades with STARTTLS when the server offers it.
const ImplicitTLSPort = "465"

// EmailConfig holds the SMTP account alerts are sent from.
type EmailConfig struct {
	Host     string
	Port     string // defaults to ImplicitTLSPort
	Username string // empty skips AUTH
	Password string
	From     string
	To       []string
	Timeout  time.Duration // dial + conversation, defaults to 10s
}

// EmailNotifier sends alerts as plain-text mail over SMTP.
type EmailNotifier struct {
	cfg       EmailConfig
	tlsConfig *tls.Config
	now       func() time.Time
	logger    *slog.Logger
}

// NewEmailNotifier validates cfg and creates an email notifier.
func NewEmailNotifier(cfg EmailConfig) (*EmailNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("email: host is required")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("email: at least one recipient is required")
	}
	if cfg.Port == "" {
		cfg.Port = ImplicitTLSPort
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.From == "" {
		return nil, errors.New("email: sender address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &EmailNotifier{
		cfg:       cfg,
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		now:       time.Now,
		logger:    slog.Default().With("component", "email"),
	}, nil
}

func (n *EmailNotifier) Send(ctx context.Context, alert Alert) error {
	msg := n.message(alert)

	addr := net.JoinHostPort(n.cfg.Host, n.cfg.Port)
	dialer := &net.Dialer{Timeout: n.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("email: dial %s: %w", addr, err)
	}
	deadline := time.Now().Add(n.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	implicitTLS := n.cfg.Port == ImplicitTLSPort
	if implicitTLS {
		conn = tls.Client(conn, n.tlsConfig)
	}
	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("email: handshake: %w", err)
	}
	defer c.Close()

	if !implicitTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(n.tlsConfig); err != nil {
				return fmt.Errorf("email: starttls: %w", err)
			}
		}
	}
	if n.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)); err != nil {
			return fmt.Errorf("email: auth: %w", err)
		}
	}
	if err := c.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("email: mail from: %w", err)
	}
	for _, rcpt := range n.cfg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("email: rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("email: data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("email: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	c.Quit()

	n.logger.Debug("alert sent", "instrument", alert.Instrument, "title", alert.Title, "recipients", len(n.cfg.To))
	return nil
}

// Subject formats the mail subject line for an alert.
func Subject(alert Alert) string {
	s := fmt.Sprintf("[fxsignal] %s", alert.Title)
	if alert.Instrument != "" {
		s += " - " + alert.Instrument
	}
	if alert.Level != "" && alert.Level != AlertInfo {
		s = fmt.Sprintf("[%s] %s", alert.Level, s)
	}
	return s
}

func (n *EmailNotifier) message(alert Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", Subject(alert))
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	if alert.Instrument != "" {
		fmt.Fprintf(&b, "Pair: %s\r\n", alert.Instrument)
	}
	b.WriteString(strings.ReplaceAll(alert.Message, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
