package ideation_test

import (
	"context"
	"testing"

	"sourceline/internal/domain"
	"sourceline/internal/ideation"
	"sourceline/internal/llm"
)

type jsonLLM struct{ out string }

func (j jsonLLM) GenerateText(context.Context, llm.Request) (string, error) { return "", llm.ErrUnconfigured }
func (j jsonLLM) GenerateJSON(context.Context, llm.Request) ([]byte, error) {
	return []byte(j.out), nil
}

func TestFallback(t *testing.T) {
	def := ideation.Fallback("Insulated steel bottle with tea infuser. Keeps drinks hot.", domain.Constraints{MaterialsPreferences: "steel, silicone ,"})
	if def.ProductName != "Insulated steel bottle with tea infuser" {
		t.Fatalf("unexpected name %q", def.ProductName)
	}
	if def.ManufacturingCategory != "Food Contact Consumer Goods" || def.ComplexityLevel != "low" {
		t.Fatalf("unexpected category/complexity %+v", def)
	}
	if len(def.KeyMaterials) != 2 || def.KeyMaterials[1] != "silicone" {
		t.Fatalf("unexpected materials %v", def.KeyMaterials)
	}
	if got := ideation.Fallback("Battery pack", domain.Constraints{}); got.ComplexityLevel != "high" || got.KeyMaterials[0] != "Material to be validated during supplier discovery" {
		t.Fatalf("unexpected electronics fallback %+v", got)
	}
	if got := ideation.Fallback("   ", domain.Constraints{}); got.ProductName != "Manufacture Concept" {
		t.Fatalf("expected placeholder name, got %q", got.ProductName)
	}
}

func TestDefineMergesModelOutput(t *testing.T) {
	h := llm.Helper{Client: jsonLLM{out: `{"productName":"TeaFlask","complexityLevel":"EXTREME","keyMaterials":["","304 steel"]}`}}
	def := ideation.Define(context.Background(), h, "Insulated bottle", domain.Constraints{})
	if def.ProductName != "TeaFlask" || def.ComplexityLevel != "low" {
		t.Fatalf("unexpected merge %+v", def)
	}
	if len(def.KeyMaterials) != 1 || def.KeyMaterials[0] != "304 steel" {
		t.Fatalf("unexpected materials %v", def.KeyMaterials)
	}
	if def.Summary != "Insulated bottle" {
		t.Fatalf("summary should fall back, got %q", def.Summary)
	}
	if got := ideation.Normalize([]byte("[1,2]"), def); got.ProductName != "TeaFlask" {
		t.Fatalf("invalid shape must return fallback")
	}
}
