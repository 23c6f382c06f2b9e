package transport_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/url"
	"strings"
	"testing"

	"sourceline/internal/transport"
)

type memRecorder struct {
	entries []transport.EmailLogEntry
}

func (m *memRecorder) RecordEmail(_ context.Context, e transport.EmailLogEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func smtpConfig() transport.SMTPConfig {
	return transport.SMTPConfig{Host: "smtp.test", Port: 587, User: "buyer@acme.test", Password: "pw", FromName: "Acme Sourcing"}
}

func TestNewMailerUnconfigured(t *testing.T) {
	m := transport.NewMailer(transport.SMTPConfig{}, nil, nil)
	if transport.Configured(m) {
		t.Fatalf("expected unconfigured mailer")
	}
	if _, err := m.SendEmail(context.Background(), transport.Email{To: "x@y"}); !errors.Is(err, transport.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSMTPMailerSendsAndRecords(t *testing.T) {
	orig := transport.SMTPSendFunc
	defer func() { transport.SMTPSendFunc = orig }()
	var gotAddr, gotFrom string
	var gotMsg []byte
	transport.SMTPSendFunc = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotMsg = addr, from, msg
		return nil
	}
	rec := &memRecorder{}
	m := transport.NewMailer(smtpConfig(), rec, nil)
	receipt, err := m.SendEmail(context.Background(), transport.Email{To: "sales@factory.test", Subject: "RFQ Request: Bottle", Text: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "smtp.test:587" || gotFrom != "buyer@acme.test" {
		t.Fatalf("unexpected envelope %s %s", gotAddr, gotFrom)
	}
	raw := string(gotMsg)
	if !strings.Contains(raw, "Subject: RFQ Request: Bottle\r\n") || !strings.HasSuffix(raw, "\r\n\r\nhello") {
		t.Fatalf("unexpected message %q", raw)
	}
	if !strings.HasPrefix(receipt.MessageID, "<") || !strings.HasSuffix(receipt.MessageID, "@acme.test>") {
		t.Fatalf("unexpected message id %s", receipt.MessageID)
	}
	if len(rec.entries) != 1 || rec.entries[0].Status != "sent" {
		t.Fatalf("expected one sent log entry, got %+v", rec.entries)
	}
}

func TestSMTPMailerRecordsFailure(t *testing.T) {
	orig := transport.SMTPSendFunc
	defer func() { transport.SMTPSendFunc = orig }()
	transport.SMTPSendFunc = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("550 mailbox unavailable")
	}
	rec := &memRecorder{}
	m := transport.NewMailer(smtpConfig(), rec, nil)
	if _, err := m.SendEmail(context.Background(), transport.Email{To: "sales@factory.test"}); err == nil {
		t.Fatalf("expected send error")
	}
	if len(rec.entries) != 1 || rec.entries[0].Status != "failed" || rec.entries[0].Error != "550 mailbox unavailable" {
		t.Fatalf("unexpected log entries %+v", rec.entries)
	}
}

func TestNormalizeWhatsAppTo(t *testing.T) {
	cases := map[string]string{
		"whatsapp:+919876543210": "whatsapp:+919876543210",
		"98765 43210":            "whatsapp:+919876543210",
		"+1 415 555 0100":        "whatsapp:+14155550100",
		"12345":                  "",
		"":                       "",
	}
	for in, want := range cases {
		if got := transport.NormalizeWhatsAppTo(in); got != want {
			t.Fatalf("NormalizeWhatsAppTo(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTwilioMessengerPostsForm(t *testing.T) {
	var form url.Values
	var user, pass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC123/Messages.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, _ = r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"accepted"}`))
	}))
	defer srv.Close()

	m := transport.NewMessenger(transport.TwilioConfig{AccountSID: "AC123", AuthToken: "tok", From: "whatsapp:+14150000000", BaseURL: srv.URL})
	receipt, err := m.SendMessage(context.Background(), transport.Message{To: "9876543210", Body: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if receipt.ID != "SM1" || receipt.Status != "accepted" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if user != "AC123" || pass != "tok" {
		t.Fatalf("unexpected basic auth %s:%s", user, pass)
	}
	if form.Get("To") != "whatsapp:+919876543210" || form.Get("Body") != "hi" {
		t.Fatalf("unexpected form %v", form)
	}
}

func TestTwilioMessengerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid From"}`))
	}))
	defer srv.Close()
	m := transport.NewMessenger(transport.TwilioConfig{AccountSID: "AC1", AuthToken: "t", From: "f", BaseURL: srv.URL})
	if _, err := m.SendMessage(context.Background(), transport.Message{To: "9876543210"}); err == nil || !strings.Contains(err.Error(), "invalid From") {
		t.Fatalf("expected provider error, got %v", err)
	}
	if _, err := m.SendMessage(context.Background(), transport.Message{To: "abc"}); err == nil {
		t.Fatalf("expected invalid destination error")
	}
}

func TestVerifyWebhookToken(t *testing.T) {
	if !(transport.TwilioConfig{}).VerifyWebhookToken("anything") {
		t.Fatalf("empty verify token should accept")
	}
	cfg := transport.TwilioConfig{VerifyToken: "secret"}
	if cfg.VerifyWebhookToken("nope") || !cfg.VerifyWebhookToken("secret") {
		t.Fatalf("verify token mismatch handling wrong")
	}
}
