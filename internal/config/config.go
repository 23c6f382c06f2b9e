package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"sourceline/internal/domain"
)

const FileName = "sourceline.yml"

// Config models sourceline.yml.
type Config struct {
	Project struct {
		DefaultCountry string `yaml:"default_country"`
	} `yaml:"project"`
	Award struct {
		Weights Weights `yaml:"weights"`
	} `yaml:"award"`
	FollowUp    FollowUp    `yaml:"followup"`
	Negotiation Negotiation `yaml:"negotiation"`
	LLM         LLM         `yaml:"llm"`
	SMTP        SMTP        `yaml:"smtp"`
	WhatsApp    WhatsApp    `yaml:"whatsapp"`
	IMAP        IMAP        `yaml:"imap"`
	Webhooks    []Webhook   `yaml:"webhooks"`
}

type Weights struct {
	Cost       float64 `yaml:"cost"`
	Lead       float64 `yaml:"lead"`
	MOQ        float64 `yaml:"moq"`
	Confidence float64 `yaml:"confidence"`
	Risk       float64 `yaml:"risk"`
}

type FollowUp struct {
	ResponseSLAHours float64 `yaml:"response_sla_hours"`
	CadenceHours     float64 `yaml:"cadence_hours"`
	MaxFollowUps     int     `yaml:"max_follow_ups"`
	Schedule         string  `yaml:"schedule"`
	Concurrency      int     `yaml:"concurrency"`
}

type Negotiation struct {
	MaxAutomatedRounds int    `yaml:"max_automated_rounds"`
	MockSend           bool   `yaml:"mock_send"`
	DefaultChannel     string `yaml:"default_channel"`
}

type LLM struct {
	Provider        string  `yaml:"provider"`
	Model           string  `yaml:"model"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	Temperature     float32 `yaml:"temperature"`
	MaxOutputTokens int32   `yaml:"max_output_tokens"`
}

type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
	ReplyTo  string `yaml:"reply_to"`
}

type WhatsApp struct {
	AccountSID string `yaml:"account_sid"`
	From       string `yaml:"from"`
	BaseURL    string `yaml:"base_url"`
}

type IMAP struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Secure  bool   `yaml:"secure"`
	User    string `yaml:"user"`
	Mailbox string `yaml:"mailbox"`
}

// Webhook posts matching events to URL. An empty Events list matches all.
type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

func (w Webhook) Matches(evtType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == evtType || (strings.HasSuffix(e, ".*") && strings.HasPrefix(evtType, strings.TrimSuffix(e, "*"))) {
			return true
		}
	}
	return false
}

// AwardWeights converts the configured weights.
func (c *Config) AwardWeights() domain.AwardWeights {
	w := c.Award.Weights
	return domain.AwardWeights{Cost: w.Cost, Lead: w.Lead, MOQ: w.MOQ, Confidence: w.Confidence, Risk: w.Risk}
}

// FollowUpPolicy converts the configured follow-up cadence.
func (c *Config) FollowUpPolicy() domain.FollowUpPolicy {
	return domain.FollowUpPolicy{
		ResponseSLAHours: c.FollowUp.ResponseSLAHours,
		CadenceHours:     c.FollowUp.CadenceHours,
		MaxFollowUps:     c.FollowUp.MaxFollowUps,
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	w := c.Award.Weights
	for name, v := range map[string]float64{"cost": w.Cost, "lead": w.Lead, "moq": w.MOQ, "confidence": w.Confidence, "risk": w.Risk} {
		if v < 0 {
			return fmt.Errorf("config.award.weights.%s must not be negative", name)
		}
	}
	if w.Cost+w.Lead+w.MOQ+w.Confidence+w.Risk == 0 {
		return errors.New("config.award.weights must not all be zero")
	}
	if c.FollowUp.ResponseSLAHours < 0 || c.FollowUp.CadenceHours < 0 || c.FollowUp.MaxFollowUps < 0 {
		return errors.New("config.followup values must not be negative")
	}
	if c.FollowUp.Schedule != "" {
		if _, err := cron.ParseStandard(c.FollowUp.Schedule); err != nil {
			return fmt.Errorf("config.followup.schedule: %w", err)
		}
	}
	if c.Negotiation.MaxAutomatedRounds < 1 {
		return errors.New("config.negotiation.max_automated_rounds must be at least 1")
	}
	switch c.Negotiation.DefaultChannel {
	case domain.ChannelEmail, domain.ChannelWhatsApp:
	default:
		return fmt.Errorf("config.negotiation.default_channel must be email or whatsapp, got %q", c.Negotiation.DefaultChannel)
	}
	switch c.LLM.Provider {
	case "", "none", "gemini":
	default:
		return fmt.Errorf("config.llm.provider %q is not supported", c.LLM.Provider)
	}
	for i, h := range c.Webhooks {
		if !strings.HasPrefix(h.URL, "http://") && !strings.HasPrefix(h.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) URL", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses raw YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  default_country: United States

award:
  weights:
    cost: 0.45
    lead: 0.2
    moq: 0.15
    confidence: 0.1
    risk: 0.1

followup:
  response_sla_hours: 24
  cadence_hours: 24
  max_follow_ups: 2
  schedule: "@every 1h"
  concurrency: 4

negotiation:
  max_automated_rounds: 2
  mock_send: false
  default_channel: whatsapp

llm:
  provider: gemini
  model: gemini-2.0-flash
  api_key_env: GEMINI_API_KEY
  temperature: 0.3
  max_output_tokens: 2048

smtp:
  port: 587

whatsapp:
  base_url: https://api.twilio.com

imap:
  port: 993
  secure: true
  mailbox: INBOX

webhooks: []
`
