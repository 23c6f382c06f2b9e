package transport

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SMTPSendFunc is the function used to send emails. Override in tests.
var SMTPSendFunc = smtp.SendMail

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
	ReplyTo  string
}

func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.Port != 0 && c.User != "" && c.Password != "" && c.from() != ""
}

func (c SMTPConfig) from() string {
	if c.From != "" {
		return c.From
	}
	return c.User
}

// EmailLogEntry records one delivery attempt.
type EmailLogEntry struct {
	To        string
	Subject   string
	Body      string
	MessageID string
	Status    string
	Error     string
	SentAt    time.Time
}

type EmailRecorder interface {
	RecordEmail(ctx context.Context, entry EmailLogEntry) error
}

type SMTPMailer struct {
	Config   SMTPConfig
	Recorder EmailRecorder
	Logger   *zap.Logger
	Now      func() time.Time
}

// NewMailer returns an SMTP mailer, or Unconfigured when credentials are missing.
func NewMailer(cfg SMTPConfig, rec EmailRecorder, logger *zap.Logger) Mailer {
	if !cfg.Configured() {
		return Unconfigured{}
	}
	return &SMTPMailer{Config: cfg, Recorder: rec, Logger: logger, Now: time.Now}
}

func (m *SMTPMailer) SendEmail(ctx context.Context, msg Email) (EmailReceipt, error) {
	if !m.Config.Configured() {
		return EmailReceipt{}, fmt.Errorf("smtp: %w", ErrNotConfigured)
	}
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return EmailReceipt{}, fmt.Errorf("smtp: recipient is required")
	}
	from := m.Config.from()
	domain := from[strings.LastIndex(from, "@")+1:]
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)

	headers := []string{
		fmt.Sprintf("From: %s <%s>", m.Config.FromName, from),
		"To: " + to,
		"Subject: " + msg.Subject,
		"Message-ID: " + messageID,
		"Date: " + m.now().Format(time.RFC1123Z),
	}
	if m.Config.ReplyTo != "" {
		headers = append(headers, "Reply-To: "+m.Config.ReplyTo)
	}
	headers = append(headers, "MIME-Version: 1.0", "Content-Type: text/plain; charset=utf-8")
	raw := strings.Join(headers, "\r\n") + "\r\n\r\n" + msg.Text

	addr := fmt.Sprintf("%s:%d", m.Config.Host, m.Config.Port)
	var auth smtp.Auth
	if m.Config.User != "" {
		auth = smtp.PlainAuth("", m.Config.User, m.Config.Password, m.Config.Host)
	}
	sendErr := SMTPSendFunc(addr, auth, from, []string{to}, []byte(raw))

	entry := EmailLogEntry{To: to, Subject: msg.Subject, Body: msg.Text, MessageID: messageID, Status: "sent", SentAt: m.now()}
	if sendErr != nil {
		entry.Status = "failed"
		entry.Error = sendErr.Error()
		entry.MessageID = ""
	}
	if m.Recorder != nil {
		if err := m.Recorder.RecordEmail(ctx, entry); err != nil {
			m.logger().Warn("record email", zap.String("to", to), zap.Error(err))
		}
	}
	if sendErr != nil {
		return EmailReceipt{}, fmt.Errorf("smtp send: %w", sendErr)
	}
	return EmailReceipt{MessageID: messageID}, nil
}

func (m *SMTPMailer) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *SMTPMailer) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}
