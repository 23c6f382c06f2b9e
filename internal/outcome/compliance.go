package outcome

import (
	"strings"

	"sourceline/internal/domain"
)

var (
	electronicsKeywords = []string{"electronic", "battery", "charger", "device"}
	foodKeywords        = []string{"food", "bottle", "drink", "kitchen", "utensil"}
	chemicalKeywords    = []string{"cosmetic", "skin", "chemical", "fragrance"}
)

// AssessCompliance is a keyword pre-check of import feasibility for the
// destination country.
func AssessCompliance(country, category string, materials []string) domain.ComplianceAssessment {
	if strings.TrimSpace(country) == "" {
		country = domain.DefaultCountry
	}
	text := strings.ToLower(category + " " + strings.Join(materials, " "))

	a := domain.ComplianceAssessment{
		ImportFeasibility: "High",
		RequiredChecks:    []string{},
		RedFlags:          []string{},
	}
	if containsAny(text, electronicsKeywords) {
		a.RequiredChecks = append(a.RequiredChecks, "FCC/EMC", "Battery transport", "UL or equivalent safety listing")
		a.RedFlags = append(a.RedFlags, "High testing dependency before launch")
		a.ImportFeasibility = "Medium"
	}
	if containsAny(text, foodKeywords) {
		a.RequiredChecks = append(a.RequiredChecks, "Food-contact material declaration", "FDA/EFSA suitability checks")
		a.RedFlags = append(a.RedFlags, "Material migration compliance must be documented")
		if a.ImportFeasibility == "High" {
			a.ImportFeasibility = "Medium"
		}
	}
	if containsAny(text, chemicalKeywords) {
		a.RequiredChecks = append(a.RequiredChecks, "Ingredient disclosure", "Labeling compliance", "MSDS availability")
		a.RedFlags = append(a.RedFlags, "Regulatory labeling can delay import clearance")
		a.ImportFeasibility = "Low"
	}
	if strings.Contains(strings.ToLower(country), "united states") {
		a.RequiredChecks = append(a.RequiredChecks, "HTS code validation", "CBP import documentation readiness")
	} else {
		a.RequiredChecks = append(a.RequiredChecks, "Destination-country import code validation")
	}
	return a
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
