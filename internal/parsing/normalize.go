package parsing

import (
	"encoding/json"
	"math"
	"strings"

	"sourceline/internal/domain"
)

const defaultModelConfidence = 0.4

func finite(v any) *float64 {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeModelReply coerces model-produced JSON into a ParsedReply.
// Non-numeric fields become nil and confidence is clamped to [0,1]. A
// document without a single usable quote figure is rejected.
func NormalizeModelReply(raw []byte) (domain.ParsedReply, bool) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return domain.ParsedReply{}, false
	}
	out := domain.ParsedReply{
		UnitPrice:         finite(doc["unitPrice"]),
		Currency:          domain.DefaultCurrency,
		MOQ:               finite(doc["moq"]),
		LeadTimeDays:      finite(doc["leadTimeDays"]),
		ToolingCost:       finite(doc["toolingCost"]),
		Uncertainties:     stringList(doc["uncertainties"]),
		FollowUpQuestions: stringList(doc["followUpQuestions"]),
		Confidence:        defaultModelConfidence,
	}
	if out.UnitPrice == nil && out.MOQ == nil && out.LeadTimeDays == nil && out.ToolingCost == nil {
		return domain.ParsedReply{}, false
	}
	if c, ok := doc["currency"].(string); ok && strings.TrimSpace(c) != "" {
		out.Currency = c
	}
	if c := finite(doc["confidence"]); c != nil {
		out.Confidence = math.Min(1, math.Max(0, *c))
	}
	return out, true
}

// fillMissing copies quote figures the model left out from the deterministic
// parse of the same reply.
func fillMissing(model, parsed domain.ParsedReply) domain.ParsedReply {
	for _, f := range []struct{ dst, src **float64 }{
		{&model.UnitPrice, &parsed.UnitPrice},
		{&model.MOQ, &parsed.MOQ},
		{&model.LeadTimeDays, &parsed.LeadTimeDays},
		{&model.ToolingCost, &parsed.ToolingCost},
	} {
		if *f.dst == nil {
			*f.dst = *f.src
		}
	}
	return model
}
