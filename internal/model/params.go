package model

import "strings"

// TaxParameters is the structured filing profile pulled out of a single
// document. Country, region, and income are always required; filing status
// is required only for US filers. The breakdown maps itemize the optional
// totals when the source document carries that level of detail.
type TaxParameters struct {
	Country            string             `json:"country"`
	Region             string             `json:"region"`
	Income             string             `json:"income"`
	FilingStatus       string             `json:"filing_status,omitempty"`
	Deductions         *float64           `json:"deductions,omitempty"`
	Credits            *float64           `json:"credits,omitempty"`
	SelfEmployed       *bool              `json:"self_employed,omitempty"`
	DeductionBreakdown map[string]float64 `json:"deduction_breakdown,omitempty"`
	CreditBreakdown    map[string]float64 `json:"credit_breakdown,omitempty"`
}

// MissingKeys reports every required key that is absent, in declaration
// order. filing_status counts as required only when the country is "US"
// (case-insensitive).
func (p TaxParameters) MissingKeys() []string {
	var missing []string
	if strings.TrimSpace(p.Country) == "" {
		missing = append(missing, "country")
	}
	if strings.TrimSpace(p.Region) == "" {
		missing = append(missing, "region")
	}
	if strings.TrimSpace(p.Income) == "" {
		missing = append(missing, "income")
	}
	if strings.EqualFold(strings.TrimSpace(p.Country), "US") && strings.TrimSpace(p.FilingStatus) == "" {
		missing = append(missing, "filing_status")
	}
	return missing
}

// CleanIncome strips everything except digits and the first decimal point,
// so "$75,000.50" becomes "75000.50". Wire-safe for use as a query value.
func (p TaxParameters) CleanIncome() string {
	var b strings.Builder
	seenPoint := false
	for _, r := range p.Income {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' && !seenPoint:
			b.WriteRune(r)
			seenPoint = true
		}
	}
	return b.String()
}
