// Package outreach drafts RFQ messages and delivers them to suppliers.
package outreach

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sourceline/internal/domain"
	"sourceline/internal/llm"
	"sourceline/internal/parsing"
)

const (
	StatusDraft  = "draft"
	StatusSent   = "sent"
	StatusFailed = "failed"
)

const draftSystem = "You write concise supplier outreach emails with clear RFQ asks. Keep tone professional and direct."

// RFQBody is the deterministic manufacturing RFQ email.
func RFQBody(p *domain.Project, s domain.Supplier) string {
	def, c := p.ProductDefinition, p.Constraints
	requirements := strings.Join(def.FunctionalRequirements, "; ")
	return strings.Join([]string{
		fmt.Sprintf("Hi %s,", or(s.ContactPerson, "team")),
		"",
		"We are evaluating manufacturing partners for a new product and would like an RFQ.",
		"",
		"Product: " + p.ProductName(),
		"Category: " + or(def.ManufacturingCategory, "General"),
		"Requirements: " + or(requirements, "TBD"),
		"Materials preference: " + or(c.MaterialsPreferences, "Open"),
		"MOQ target: " + or(c.MOQTolerance, "Flexible"),
		"Target market: " + or(c.Country, domain.DefaultCountry),
		"Compliance notes: " + or(c.ComplianceRequirements, "Share standard compliance package"),
		"",
		"Please share:",
		"1) Unit pricing across quantity tiers",
		"2) MOQ",
		"3) Lead time for samples and production",
		"4) Tooling/setup cost",
		"5) Export terms and Incoterms",
		"",
		"Best regards,",
		p.Name,
	}, "\n")
}

// Subject is the manufacturing RFQ subject line.
func Subject(p *domain.Project) string {
	return "RFQ Request: " + p.ProductName()
}

// Drafter prepares manufacturing RFQ drafts, one per supplier.
type Drafter struct {
	LLM llm.Helper
	Now func() time.Time
}

// Drafts writes an email draft for each supplier in ids, or every supplier when ids is empty.
func (d Drafter) Drafts(ctx context.Context, p *domain.Project, ids []string) []domain.OutreachDraft {
	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	var out []domain.OutreachDraft
	for _, s := range selectSuppliers(p.Suppliers, ids) {
		supplierJSON, _ := json.Marshal(s)
		productJSON, _ := json.Marshal(p.ProductDefinition)
		constraintsJSON, _ := json.Marshal(p.Constraints)
		prompt := strings.Join([]string{
			"Write an outreach email for this supplier.",
			"Include product summary, material hints, MOQ preference, and ask for price/MOQ/lead time/tooling/terms.",
			"Output only email body.",
			"Supplier: " + string(supplierJSON),
			"Project: " + string(productJSON),
			"Constraints: " + string(constraintsJSON),
		}, "\n\n")
		body := d.LLM.Text(ctx, llm.Request{Prompt: prompt, System: draftSystem}, func() string {
			return RFQBody(p, s)
		})
		out = append(out, domain.OutreachDraft{
			ID:           uuid.NewString(),
			SupplierID:   s.ID,
			SupplierName: s.Name,
			Channel:      domain.ChannelEmail,
			To:           parsing.NormalizeEmail(s.Email),
			Subject:      Subject(p),
			Body:         body,
			Status:       StatusDraft,
			CreatedAt:    now.UTC().Format(time.RFC3339),
		})
	}
	return out
}

// IngredientBody is the quotation request sent to ingredient suppliers.
func IngredientBody(p *domain.Project, s domain.Supplier) string {
	b := p.Sourcing.Brief
	quantity := "To be finalized"
	if v, ok := domain.Value(b.QuantityTargetKg); ok {
		quantity = formatNumber(v)
	}
	var place []string
	for _, part := range []string{b.Location, b.Country} {
		if strings.TrimSpace(part) != "" {
			place = append(place, part)
		}
	}
	target := "Target price: please share your best INR/kg quote"
	if v, ok := domain.Value(b.MaxBudgetINRKg); ok && v > 0 {
		target = fmt.Sprintf("Target price: <= INR %s/kg", formatNumber(v))
	}
	return strings.Join([]string{
		fmt.Sprintf("Hi %s,", or(s.ContactPerson, or(s.Name, "team"))),
		"",
		"We are sourcing ingredient supply for a new product pilot and would like a quick quotation.",
		"",
		"Ingredient: " + or(b.SearchTerm, p.Idea),
		"Specification: " + or(b.Spec, "Food grade suitable for commercial snack production"),
		fmt.Sprintf("Quantity target: %s kg", quantity),
		"Delivery location: " + or(strings.Join(place, ", "), domain.DefaultSourcingCountry),
		target,
		"",
		"Please confirm:",
		"1) Unit price (INR/kg)",
		"2) MOQ (kg)",
		"3) Lead time (days)",
		"4) Food-grade/compliance documents available",
		"5) Payment terms",
		"",
		"Regards,",
		p.Name,
	}, "\n")
}

// SourcingDrafts prepares one draft per supplier and channel with a reachable address.
// An empty channel list means email and WhatsApp.
func SourcingDrafts(p *domain.Project, ids, channels []string, now time.Time) []domain.OutreachDraft {
	l, _ := p.LifecycleFor(domain.LifecycleSourcing)
	resolved := resolveChannels(channels)
	subject := "Ingredient RFQ: " + or(p.Sourcing.Brief.SearchTerm, p.Name)

	var out []domain.OutreachDraft
	for _, s := range selectSuppliers(l.Suppliers, ids) {
		body := IngredientBody(p, s)
		for _, ch := range resolved {
			to := parsing.NormalizeEmail(s.Email)
			if ch == domain.ChannelWhatsApp {
				to = or(s.WhatsAppNumber, s.Phone)
			}
			if to == "" {
				continue
			}
			out = append(out, domain.OutreachDraft{
				ID:           uuid.NewString(),
				SupplierID:   s.ID,
				SupplierName: s.Name,
				Channel:      ch,
				To:           to,
				Subject:      subject,
				Body:         body,
				Status:       StatusDraft,
				CreatedAt:    now.UTC().Format(time.RFC3339),
			})
		}
	}
	return out
}

func resolveChannels(channels []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, ch := range channels {
		ch = strings.ToLower(strings.TrimSpace(ch))
		if (ch == domain.ChannelEmail || ch == domain.ChannelWhatsApp) && !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return []string{domain.ChannelEmail, domain.ChannelWhatsApp}
	}
	return out
}

func selectSuppliers(all []domain.Supplier, ids []string) []domain.Supplier {
	if len(ids) == 0 {
		return all
	}
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.Supplier
	for _, s := range all {
		if want[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
