package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	twilioBaseURL  = "https://api.twilio.com/2010-04-01"
	maxMessageBody = 1500
)

var (
	whatsAppAddrRe = regexp.MustCompile(`^whatsapp:\+\d{10,15}$`)
	digitsRe       = regexp.MustCompile(`^\d{10,15}$`)
	nonDigitsRe    = regexp.MustCompile(`[^\d]`)
)

var errInvalidDestination = errors.New("invalid WhatsApp destination number, expected E.164 format")

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	From        string
	VerifyToken string
	BaseURL     string
}

func (c TwilioConfig) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != ""
}

// TwilioMessenger sends WhatsApp messages through the Twilio REST API.
type TwilioMessenger struct {
	Config TwilioConfig
	Client *http.Client
}

// NewMessenger returns a Twilio messenger, or Unconfigured when credentials are missing.
func NewMessenger(cfg TwilioConfig) Messenger {
	if !cfg.Configured() {
		return Unconfigured{}
	}
	return &TwilioMessenger{Config: cfg, Client: &http.Client{Timeout: 15 * time.Second}}
}

// NormalizeWhatsAppTo returns a "whatsapp:+<digits>" address. Ten-digit
// numbers are assumed Indian.
func NormalizeWhatsAppTo(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return ""
	}
	if whatsAppAddrRe.MatchString(s) {
		return s
	}
	digits := nonDigitsRe.ReplaceAllString(s, "")
	if digits == "" {
		return ""
	}
	if len(digits) == 10 {
		digits = "91" + digits
	}
	if !digitsRe.MatchString(digits) {
		return ""
	}
	return "whatsapp:+" + digits
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (t *TwilioMessenger) SendMessage(ctx context.Context, msg Message) (MessageReceipt, error) {
	if !t.Config.Configured() {
		return MessageReceipt{}, fmt.Errorf("twilio: %w", ErrNotConfigured)
	}
	to := NormalizeWhatsAppTo(msg.To)
	if to == "" {
		return MessageReceipt{}, errInvalidDestination
	}
	body := msg.Body
	if r := []rune(body); len(r) > maxMessageBody {
		body = string(r[:maxMessageBody])
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.Config.From)
	form.Set("Body", body)

	base := t.Config.BaseURL
	if base == "" {
		base = twilioBaseURL
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", strings.TrimRight(base, "/"), t.Config.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return MessageReceipt{}, err
	}
	req.SetBasicAuth(t.Config.AccountSID, t.Config.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return MessageReceipt{}, fmt.Errorf("twilio send: %w", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out twilioResponse
	_ = json.Unmarshal(data, &out)
	if resp.StatusCode >= 300 {
		if out.Message == "" {
			out.Message = resp.Status
		}
		return MessageReceipt{}, fmt.Errorf("twilio send: %s", out.Message)
	}
	if out.Status == "" {
		out.Status = "queued"
	}
	return MessageReceipt{ID: out.SID, Status: out.Status}, nil
}

// VerifyWebhookToken accepts any request when no verify token is configured.
func (c TwilioConfig) VerifyWebhookToken(token string) bool {
	if c.VerifyToken == "" {
		return true
	}
	return token == c.VerifyToken
}
