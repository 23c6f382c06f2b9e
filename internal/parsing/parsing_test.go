package parsing_test

import (
	"context"
	"testing"

	"sourceline/internal/domain"
	"sourceline/internal/llm"
	"sourceline/internal/parsing"
)

func floatEq(t *testing.T, name string, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s: expected %v, got nil", name, want)
	}
	if *got != want {
		t.Fatalf("%s: expected %v, got %v", name, want, *got)
	}
}

func TestParseFullReply(t *testing.T) {
	got := parsing.Parse("Unit price is $12.40, MOQ 1200 units, lead time 5 weeks, tooling is $3200.")
	floatEq(t, "unit price", got.UnitPrice, 12.40)
	floatEq(t, "moq", got.MOQ, 1200)
	floatEq(t, "lead time", got.LeadTimeDays, 35)
	floatEq(t, "tooling", got.ToolingCost, 3200)
	if got.Confidence != 1 {
		t.Fatalf("expected confidence 1, got %v", got.Confidence)
	}
	if len(got.Uncertainties) != 0 {
		t.Fatalf("expected no uncertainties, got %v", got.Uncertainties)
	}
	if got.Currency != "USD" {
		t.Fatalf("expected USD, got %s", got.Currency)
	}
}

func TestParseEmptyReply(t *testing.T) {
	got := parsing.Parse("")
	if got.UnitPrice != nil || got.MOQ != nil || got.LeadTimeDays != nil || got.ToolingCost != nil {
		t.Fatalf("expected nil fields, got %+v", got)
	}
	if got.Confidence != 0 {
		t.Fatalf("expected zero confidence, got %v", got.Confidence)
	}
	want := []string{"Unit price missing", "MOQ missing", "Lead time missing"}
	if len(got.Uncertainties) != len(want) {
		t.Fatalf("unexpected uncertainties %v", got.Uncertainties)
	}
	for i := range want {
		if got.Uncertainties[i] != want[i] {
			t.Fatalf("uncertainty %d: expected %q, got %q", i, want[i], got.Uncertainties[i])
		}
	}
	if got.FollowUpQuestions[0] != "Can you clarify: unit price missing?" {
		t.Fatalf("unexpected follow-up question %q", got.FollowUpQuestions[0])
	}
}

func TestParseLooseDollarFallback(t *testing.T) {
	got := parsing.Parse("We can do $7.5 each, ships in 12 days")
	floatEq(t, "unit price", got.UnitPrice, 7.5)
	floatEq(t, "lead time", got.LeadTimeDays, 12)
	if got.Confidence != 0.5 {
		t.Fatalf("expected 0.5, got %v", got.Confidence)
	}
}

func TestParseConfidenceMatchesExtractedShare(t *testing.T) {
	replies := []string{
		"",
		"price $4",
		"price $4, MOQ 300",
		"price $4, MOQ 300, 3 weeks",
		"price $4, MOQ 300, 3 weeks, mold $900",
		"hello there",
	}
	for _, r := range replies {
		got := parsing.Parse(r)
		n := 0
		for _, v := range []*float64{got.UnitPrice, got.MOQ, got.LeadTimeDays, got.ToolingCost} {
			if v != nil {
				n++
			}
		}
		if got.Confidence < 0 || got.Confidence > 1 {
			t.Fatalf("%q: confidence out of range %v", r, got.Confidence)
		}
		if got.Confidence != float64(n)/4 {
			t.Fatalf("%q: expected confidence %v, got %v", r, float64(n)/4, got.Confidence)
		}
	}
}

func TestParseIngredientReply(t *testing.T) {
	got := parsing.ParseIngredient("Price: INR 120/kg,  MOQ: 2 tons, delivery in 10 days, payment 30% advance and 70% before shipment. FSSAI certified.")
	floatEq(t, "price", got.UnitPriceINRPerKg, 120)
	floatEq(t, "moq", got.MOQKg, 2000)
	floatEq(t, "lead time", got.LeadTimeDays, 10)
	if got.PaymentTerms != "30% advance and 70% before shipment" {
		t.Fatalf("unexpected payment terms %q", got.PaymentTerms)
	}
	if len(got.Uncertainties) != 0 || got.Confidence != 1 {
		t.Fatalf("expected full confidence, got %+v", got)
	}
	if got.Currency != "INR" {
		t.Fatalf("expected INR, got %s", got.Currency)
	}
}

func TestParseIngredientUnitConversion(t *testing.T) {
	got := parsing.ParseIngredient("Can supply at ₹42000/ton. Minimum order 5 quintals. Lead time 2 weeks.")
	floatEq(t, "price", got.UnitPriceINRPerKg, 42)
	floatEq(t, "moq", got.MOQKg, 500)
	floatEq(t, "lead time", got.LeadTimeDays, 14)
	if got.Confidence != 0.75 {
		t.Fatalf("expected 0.75, got %v", got.Confidence)
	}
	last := got.Uncertainties[len(got.Uncertainties)-1]
	if last != "Food-grade/compliance proof not mentioned" {
		t.Fatalf("expected compliance uncertainty, got %v", got.Uncertainties)
	}
}

func TestParseIngredientLoosePrice(t *testing.T) {
	got := parsing.ParseIngredient("rate rs. 95.456 negotiable, net 30")
	floatEq(t, "price", got.UnitPriceINRPerKg, 95.46)
	if got.PaymentTerms != "net 30" {
		t.Fatalf("unexpected payment terms %q", got.PaymentTerms)
	}
}

func TestNormalizeModelReply(t *testing.T) {
	got, ok := parsing.NormalizeModelReply([]byte(`{"unitPrice":"12","moq":500,"confidence":3,"currency":"","uncertainties":["Lead time missing",4]}`))
	if !ok {
		t.Fatalf("expected object to decode")
	}
	if got.UnitPrice != nil {
		t.Fatalf("string price must be dropped, got %v", *got.UnitPrice)
	}
	floatEq(t, "moq", got.MOQ, 500)
	if got.Confidence != 1 || got.Currency != "USD" {
		t.Fatalf("unexpected normalization %+v", got)
	}
	if len(got.Uncertainties) != 1 {
		t.Fatalf("expected non-string uncertainties dropped, got %v", got.Uncertainties)
	}
	got, _ = parsing.NormalizeModelReply([]byte(`{"leadTimeDays":21}`))
	if got.Confidence != 0.4 {
		t.Fatalf("expected default confidence 0.4, got %v", got.Confidence)
	}
	for _, doc := range []string{`{}`, `{"confidence":0.9}`, `{"unitPrice":null,"currency":"EUR"}`} {
		if _, ok := parsing.NormalizeModelReply([]byte(doc)); ok {
			t.Fatalf("expected %s without quote figures to be rejected", doc)
		}
	}
	if _, ok := parsing.NormalizeModelReply([]byte(`not json`)); ok {
		t.Fatalf("expected invalid json to be rejected")
	}
}

func TestClassifyIntervention(t *testing.T) {
	clean := domain.ParsedReply{Confidence: 1, Uncertainties: []string{}}
	if got := parsing.ClassifyIntervention(clean, "price $4"); got.RequiresHuman || got.Reason != "Confidence threshold met" {
		t.Fatalf("unexpected %+v", got)
	}
	if got := parsing.ClassifyIntervention(clean, "exclusive supply only"); !got.RequiresHuman || got.Reason != "Legal or non-standard terms detected" {
		t.Fatalf("unexpected %+v", got)
	}
	legal := domain.ParsedReply{Confidence: 1, Uncertainties: []string{"Food-grade/compliance proof not mentioned"}}
	if got := parsing.ClassifyIntervention(legal, ""); got.Reason != "Legal or non-standard terms detected" {
		t.Fatalf("unexpected %+v", got)
	}
	low := domain.ParsedReply{Confidence: 0.5}
	if got := parsing.ClassifyIntervention(low, ""); !got.RequiresHuman || got.Reason != "Low confidence or missing supplier details" {
		t.Fatalf("unexpected %+v", got)
	}
}

type jsonClient struct{ doc string }

func (c jsonClient) GenerateText(context.Context, llm.Request) (string, error) { return "", nil }
func (c jsonClient) GenerateJSON(context.Context, llm.Request) ([]byte, error) {
	return []byte(c.doc), nil
}

func TestExtractorPrefersModelOutput(t *testing.T) {
	x := parsing.Extractor{LLM: llm.Helper{Client: jsonClient{doc: `{"unitPrice":9.5,"confidence":0.9}`}}}
	got := x.Parse(context.Background(), domain.ProductDefinition{}, domain.Supplier{Name: "Acme"}, "price $4")
	floatEq(t, "unit price", got.UnitPrice, 9.5)

	partial := parsing.Extractor{LLM: llm.Helper{Client: jsonClient{doc: `{"unitPrice":9.5,"confidence":0.9}`}}}
	got = partial.Parse(context.Background(), domain.ProductDefinition{}, domain.Supplier{}, "price $4, MOQ 300 units")
	floatEq(t, "unit price", got.UnitPrice, 9.5)
	floatEq(t, "moq", got.MOQ, 300)

	empty := parsing.Extractor{LLM: llm.Helper{Client: jsonClient{doc: `{"confidence":0.9}`}}}
	got = empty.Parse(context.Background(), domain.ProductDefinition{}, domain.Supplier{}, "price $4")
	floatEq(t, "unit price", got.UnitPrice, 4)
	if got.Confidence == 0.9 {
		t.Fatalf("empty model output must not carry its confidence")
	}

	fallback := parsing.Extractor{}
	got = fallback.Parse(context.Background(), domain.ProductDefinition{}, domain.Supplier{}, "price $4")
	floatEq(t, "unit price", got.UnitPrice, 4)
}

func TestContactNormalization(t *testing.T) {
	cases := map[string]string{
		"98765 43210":            "+919876543210",
		"whatsapp:+919876543210": "+919876543210",
		"+1 (415) 555-0100":      "+14155550100",
		"abc":                    "",
	}
	for in, want := range cases {
		if got := parsing.NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
	if got := parsing.EmailDomain("Jane <Jane@Acme.COM>"); got != "acme.com" {
		t.Fatalf("unexpected domain %q", got)
	}
}
