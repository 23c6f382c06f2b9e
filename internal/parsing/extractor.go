package parsing

import (
	"context"
	"encoding/json"
	"strings"

	"sourceline/internal/domain"
	"sourceline/internal/llm"
)

// Extractor parses replies through the model when one is configured and
// falls back to the deterministic parser otherwise.
type Extractor struct {
	LLM llm.Helper
}

func (x Extractor) Parse(ctx context.Context, product domain.ProductDefinition, supplier domain.Supplier, replyText string) domain.ParsedReply {
	productJSON, _ := json.Marshal(product)
	supplierJSON, _ := json.Marshal(map[string]string{"name": supplier.Name, "country": supplier.Country})
	prompt := strings.Join([]string{
		"Extract supplier response details from this message.",
		"Return strict JSON object with keys:",
		"unitPrice (number|null), currency, moq (number|null), leadTimeDays (number|null), toolingCost (number|null), uncertainties (array), followUpQuestions (array), confidence (0-1)",
		"Project: " + string(productJSON),
		"Supplier: " + string(supplierJSON),
		"Reply: " + replyText,
	}, "\n\n")
	fallback := Parse(replyText)
	if raw := x.LLM.JSON(ctx, llm.Request{Prompt: prompt}); raw != nil {
		if parsed, ok := NormalizeModelReply(raw); ok {
			return fillMissing(parsed, fallback)
		}
	}
	return fallback
}
