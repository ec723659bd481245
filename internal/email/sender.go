// Package email delivers forwarded messages to email targets over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Message is the content delivered to an email target.
type Message struct {
	Subject     string
	Body        string
	SourceTitle string
	Date        time.Time
}

// Sender delivers a message to one address.
type Sender interface {
	Send(ctx context.Context, to string, msg *Message) error
}

// SMTPConfig configures the outbound relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender sends through a single configured relay using STARTTLS.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTPSender creates an SMTP sender.
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{cfg: cfg, logger: logger.With("component", "smtp_sender")}
}

// Send composes a MIME message and submits it to the relay.
func (s *SMTPSender) Send(ctx context.Context, to string, msg *Message) error {
	var buf bytes.Buffer
	if err := compose(&buf, s.cfg.From, to, msg); err != nil {
		return fmt.Errorf("failed to compose message: %w", err)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	client, err := smtp.DialStartTLS(addr, &tls.Config{ServerName: s.cfg.Host})
	if err != nil {
		return fmt.Errorf("failed to connect to smtp relay: %w", err)
	}
	defer client.Close()
	client.CommandTimeout = s.cfg.Timeout
	client.SubmissionTimeout = s.cfg.Timeout

	if s.cfg.Username != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.SendMail(s.cfg.From, []string{to}, &buf); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}

	s.logger.Debug("mail submitted", "to", to, "subject", msg.Subject)
	return client.Quit()
}

// compose writes a single-part plain text MIME message.
func compose(w io.Writer, from, to string, msg *Message) error {
	var h mail.Header
	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(msg.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	mw, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(mw, msg.Body); err != nil {
		return err
	}
	return mw.Close()
}
