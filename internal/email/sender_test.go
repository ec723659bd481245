package email

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestCompose(t *testing.T) {
	msg := &Message{
		Subject:     "New message from @news",
		Body:        "Привет, мир!\n\nSecond paragraph.",
		SourceTitle: "News",
		Date:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	if err := compose(&buf, "bot@example.org", "ops@example.org", msg); err != nil {
		t.Fatalf("compose: %v", err)
	}

	r, err := mail.CreateReader(&buf)
	if err != nil {
		t.Fatalf("failed to parse composed message: %v", err)
	}
	defer r.Close()

	subject, err := r.Header.Subject()
	if err != nil || subject != msg.Subject {
		t.Errorf("subject = %q (%v), want %q", subject, err, msg.Subject)
	}

	from, err := r.Header.AddressList("From")
	if err != nil || len(from) != 1 || from[0].Address != "bot@example.org" {
		t.Errorf("from = %v (%v)", from, err)
	}
	to, err := r.Header.AddressList("To")
	if err != nil || len(to) != 1 || to[0].Address != "ops@example.org" {
		t.Errorf("to = %v (%v)", to, err)
	}

	date, err := r.Header.Date()
	if err != nil || !date.Equal(msg.Date) {
		t.Errorf("date = %v (%v), want %v", date, err, msg.Date)
	}

	part, err := r.NextPart()
	if err != nil {
		t.Fatalf("no body part: %v", err)
	}
	body, err := io.ReadAll(part.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if string(body) != msg.Body {
		t.Errorf("body = %q, want %q", body, msg.Body)
	}
}

func TestCompose_DefaultsDate(t *testing.T) {
	var buf bytes.Buffer
	if err := compose(&buf, "bot@example.org", "ops@example.org", &Message{Subject: "s", Body: "b"}); err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !strings.Contains(buf.String(), "Date:") {
		t.Error("missing Date header")
	}
}

func TestNewSMTPSender_DefaultTimeout(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "mail.example.org", Port: 587}, testLogger())
	if s.cfg.Timeout == 0 {
		t.Error("timeout default not applied")
	}
}
