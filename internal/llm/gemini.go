package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.0-flash"

type Config struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// Gemini generates content through the Google GenAI API.
type Gemini struct {
	client *genai.Client
	cfg    Config
}

// New returns a Gemini client, or Disabled when no API key is configured.
func New(ctx context.Context, cfg Config) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Disabled{}, nil
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

func (g *Gemini) generate(ctx context.Context, req Request, mimeType string) (string, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = g.cfg.Temperature
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = g.cfg.MaxOutputTokens
	}
	config := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		MaxOutputTokens:  maxTokens,
		ResponseMIMEType: mimeType,
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}
	return resp.Text(), nil
}

func (g *Gemini) GenerateText(ctx context.Context, req Request) (string, error) {
	return g.generate(ctx, req, "")
}

func (g *Gemini) GenerateJSON(ctx context.Context, req Request) ([]byte, error) {
	out, err := g.generate(ctx, req, "application/json")
	if err != nil {
		return nil, err
	}
	return ExtractJSON(out)
}
