package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured marks a transport whose credentials are missing.
var ErrNotConfigured = errors.New("transport not configured")

type Email struct {
	To      string
	Subject string
	Text    string
}

type EmailReceipt struct {
	MessageID string
}

type Mailer interface {
	SendEmail(ctx context.Context, msg Email) (EmailReceipt, error)
}

type Message struct {
	To   string
	Body string
}

type MessageReceipt struct {
	ID     string
	Status string
}

type Messenger interface {
	SendMessage(ctx context.Context, msg Message) (MessageReceipt, error)
}

// InboundMessage is one message pulled from a mailbox.
type InboundMessage struct {
	UID       uint32
	MessageID string
	From      string
	Subject   string
	Text      string
	Date      time.Time
}

type Inbox interface {
	FetchMessages(ctx context.Context, since time.Time, limit int) ([]InboundMessage, error)
}

// Unconfigured fails every operation with ErrNotConfigured.
type Unconfigured struct{}

func (Unconfigured) SendEmail(context.Context, Email) (EmailReceipt, error) {
	return EmailReceipt{}, ErrNotConfigured
}

func (Unconfigured) SendMessage(context.Context, Message) (MessageReceipt, error) {
	return MessageReceipt{}, ErrNotConfigured
}

func (Unconfigured) FetchMessages(context.Context, time.Time, int) ([]InboundMessage, error) {
	return nil, ErrNotConfigured
}

// Configured reports whether t is a real transport.
func Configured(t any) bool {
	if t == nil {
		return false
	}
	_, unconfigured := t.(Unconfigured)
	return !unconfigured
}
