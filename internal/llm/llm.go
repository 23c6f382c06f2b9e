package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrUnconfigured is returned by the disabled client.
var ErrUnconfigured = errors.New("llm provider not configured")

type Request struct {
	Prompt          string
	System          string
	Temperature     float32
	MaxOutputTokens int32
}

// Client generates free text or a JSON document.
type Client interface {
	GenerateText(ctx context.Context, req Request) (string, error)
	GenerateJSON(ctx context.Context, req Request) ([]byte, error)
}

// Disabled always fails with ErrUnconfigured so callers take their fallback.
type Disabled struct{}

func (Disabled) GenerateText(context.Context, Request) (string, error) { return "", ErrUnconfigured }
func (Disabled) GenerateJSON(context.Context, Request) ([]byte, error) { return nil, ErrUnconfigured }

// Helper wraps a Client with deterministic fallbacks.
type Helper struct {
	Client Client
	Logger *zap.Logger
}

func (h Helper) client() Client {
	if h.Client == nil {
		return Disabled{}
	}
	return h.Client
}

func (h Helper) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// Text returns generated text or fallback() when generation fails or is empty.
func (h Helper) Text(ctx context.Context, req Request, fallback func() string) string {
	out, err := h.client().GenerateText(ctx, req)
	if err != nil {
		if !errors.Is(err, ErrUnconfigured) {
			h.logger().Warn("llm text generation failed, using fallback", zap.Error(err))
		}
		return fallback()
	}
	if strings.TrimSpace(out) == "" {
		return fallback()
	}
	return out
}

// JSON returns a generated JSON document, or nil when generation fails.
// Callers decode it over their fallback model.
func (h Helper) JSON(ctx context.Context, req Request) []byte {
	out, err := h.client().GenerateJSON(ctx, req)
	if err != nil {
		if !errors.Is(err, ErrUnconfigured) {
			h.logger().Warn("llm json generation failed, using fallback", zap.Error(err))
		}
		return nil
	}
	return out
}

// ExtractJSON pulls the first JSON object or array out of model output,
// tolerating markdown fences and surrounding prose.
func ExtractJSON(text string) ([]byte, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if json.Valid([]byte(s)) {
		return []byte(s), nil
	}
	pairs := [][2]string{{"{", "}"}, {"[", "]"}}
	if a := strings.Index(s, "["); a >= 0 && (strings.Index(s, "{") < 0 || a < strings.Index(s, "{")) {
		pairs[0], pairs[1] = pairs[1], pairs[0]
	}
	for _, pair := range pairs {
		start := strings.Index(s, pair[0])
		end := strings.LastIndex(s, pair[1])
		if start >= 0 && end > start {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return []byte(candidate), nil
			}
		}
	}
	return nil, fmt.Errorf("no json document in model output")
}
