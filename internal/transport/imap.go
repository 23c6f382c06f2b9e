package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

type IMAPConfig struct {
	Host     string
	Port     int
	Secure   bool
	User     string
	Password string
	Mailbox  string
}

func (c IMAPConfig) Configured() bool {
	return c.Host != "" && c.Port != 0 && c.User != "" && c.Password != ""
}

// IMAPInbox reads supplier replies from an IMAP mailbox.
type IMAPInbox struct {
	Config IMAPConfig
}

// NewInbox returns an IMAP inbox, or Unconfigured when credentials are missing.
func NewInbox(cfg IMAPConfig) Inbox {
	if !cfg.Configured() {
		return Unconfigured{}
	}
	return &IMAPInbox{Config: cfg}
}

func (in *IMAPInbox) dial() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", in.Config.Host, in.Config.Port)
	if in.Config.Secure {
		return client.DialTLS(addr, &tls.Config{ServerName: in.Config.Host})
	}
	return client.Dial(addr)
}

// FetchMessages returns up to limit of the most recent messages since the
// given time. Messages without a text body are skipped.
func (in *IMAPInbox) FetchMessages(ctx context.Context, since time.Time, limit int) ([]InboundMessage, error) {
	if !in.Config.Configured() {
		return nil, fmt.Errorf("imap: %w", ErrNotConfigured)
	}
	if limit <= 0 {
		limit = 200
	}
	c, err := in.dial()
	if err != nil {
		return nil, fmt.Errorf("imap dial: %w", err)
	}
	defer c.Logout()
	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}

	if err := c.Login(in.Config.User, in.Config.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	mailbox := in.Config.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, true); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	if !since.IsZero() {
		criteria.Since = since
	}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var out []InboundMessage
	for msg := range messages {
		if ctx.Err() != nil {
			continue
		}
		m := InboundMessage{UID: msg.Uid, Date: msg.InternalDate}
		if env := msg.Envelope; env != nil {
			m.MessageID = env.MessageId
			m.Subject = env.Subject
			if len(env.From) > 0 {
				m.From = strings.ToLower(env.From[0].Address())
			}
			if !env.Date.IsZero() {
				m.Date = env.Date
			}
		}
		if body := msg.GetBody(section); body != nil {
			m.Text = strings.TrimSpace(readText(body))
		}
		if m.Text == "" {
			continue
		}
		out = append(out, m)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// readText returns the first text/plain part, falling back to text/html.
func readText(r io.Reader) string {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return ""
	}
	var html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		data, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		switch ct {
		case "text/plain":
			return string(data)
		case "text/html":
			if html == "" {
				html = string(data)
			}
		}
	}
	return html
}
