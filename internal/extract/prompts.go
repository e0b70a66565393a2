package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/taxcomp-cli/internal/model"
)

// Shape declares the JSON payload contract a request expects back.
type Shape string

const (
	ShapeArray  Shape = "array"
	ShapeObject Shape = "object"
)

// Request is one fully built collaborator instruction pair plus the output
// contract its response will be validated against.
type Request struct {
	System      string
	User        string
	Shape       Shape
	Reasoning   bool
	MaxTokens   int
	Temperature float64
}

// requestMaxTokens leaves room for long metric arrays without inviting prose.
const requestMaxTokens = 4096

// requestTemperature keeps extraction near-deterministic.
const requestTemperature = 0.1

const comparisonSystem = `You are a tax analyst. You compare yearly tax documents and report key financial metrics as strict JSON. All values are plain numbers with no currency symbols, thousands separators, or percent signs.`

const comparisonPrompt = `Compare the client's %s and %s tax documents below and extract every key metric present.

Scenario:
%s

%s tax document:
%s

%s tax document:
%s

Return ONLY a JSON array. Each element must be an object with exactly these keys:
  "type": metric identifier, uppercase with underscores (e.g. "ADJUSTED_GROSS_INCOME")
  "%s": the %s value as a plain number
  "%s": the %s value as a plain number
  "difference": the %s value minus the %s value

Cover filing status, wages and other income, adjustments, deductions, taxable income, tax liability, credits, withholding and payments, refund or amount owed, and effective tax rate where the documents support them. No text outside the JSON array.`

const comparisonReasoningSuffix = `

Before the array, write a short plain-text explanation of how you matched the metrics. The JSON array must be the last thing in your response.`

const parametersSystem = `You are a tax analyst. You extract filing parameters from a single tax document and report them as one strict JSON object. No text outside the JSON.`

const parametersPrompt = `Extract the filing parameters from this tax document.

Document:
%s

Return ONLY one JSON object with these keys:
  "country": ISO-style country code, e.g. "US"
  "region": state, province, or region name
  "income": annual income as a plain number
  "filing_status": one of single, married, married_separately, head_of_household (required for US filers)
  "deductions": total deductions as a number, if stated
  "credits": total credits as a number, if stated
  "self_employed": true or false, if determinable
  "deduction_breakdown": object of deduction name to amount, if itemized
  "credit_breakdown": object of credit name to amount, if itemized

Omit optional keys the document does not support. Never invent values.`

const backfillSystem = `You are a tax analyst. You fill gaps in a partial tax calculation, preserving every field that already has a real value.`

const backfillPrompt = `This tax calculation response is partial: some fields are gated behind a premium subscription and contain placeholder text instead of values.

Filing parameters:
%s

Partial calculation:
%s

Return ONLY one JSON object: the same calculation with every placeholder field replaced by a realistic estimate consistent with the filing parameters. Copy every field that already has a real value exactly as given. Add a "note" field (string) naming which fields are estimated.`

const reconcileSystem = `You are a tax analyst. You reconcile a client's prior-year tax record with their current-year calculation into a year-over-year comparison, reported as strict JSON.`

const reconcilePrompt = `Build a year-over-year tax comparison for %s.

%s tax record:
%s

%s calculated taxes:
%s

Return ONLY one JSON object shaped like:
{
  "year_labels": ["%s", "%s"],
  "key_metrics": [
    {"label": "Total Income", "previous_year": 0, "current_year": 0, "difference": 0, "percentage_change": "0%%"}
  ]
}

Each key_metrics element compares one metric: "previous_year" is the %s value, "current_year" is the %s value, "difference" is current minus previous, "percentage_change" is the relative change as text. Include every metric both years support.`

// BuildComparison assembles the whole-document comparison request. The
// scenario may be empty; year labels name the two compared periods and
// double as response keys.
func BuildComparison(scenario, yearA, yearB, docA, docB string, reasoning bool) Request {
	if strings.TrimSpace(scenario) == "" {
		scenario = "General year-over-year review."
	}
	user := fmt.Sprintf(comparisonPrompt,
		yearA, yearB,
		scenario,
		yearA, docA,
		yearB, docB,
		yearA, yearA,
		yearB, yearB,
		yearB, yearA,
	)
	if reasoning {
		user += comparisonReasoningSuffix
	}
	return Request{
		System:      comparisonSystem,
		User:        user,
		Shape:       ShapeArray,
		Reasoning:   reasoning,
		MaxTokens:   requestMaxTokens,
		Temperature: requestTemperature,
	}
}

// BuildParameters assembles the single-record parameter extraction request.
func BuildParameters(doc string) Request {
	return Request{
		System:      parametersSystem,
		User:        fmt.Sprintf(parametersPrompt, doc),
		Shape:       ShapeObject,
		MaxTokens:   requestMaxTokens,
		Temperature: requestTemperature,
	}
}

// BuildBackfill assembles the premium-field backfill request from the
// extracted parameters and the calculator's partial response.
func BuildBackfill(params model.TaxParameters, partial map[string]any) Request {
	return Request{
		System:      backfillSystem,
		User:        fmt.Sprintf(backfillPrompt, compactJSON(params), compactJSON(partial)),
		Shape:       ShapeObject,
		MaxTokens:   requestMaxTokens,
		Temperature: requestTemperature,
	}
}

// BuildReconcile assembles the two-source reconciliation request from a
// prior-year record and a current-year calculation.
func BuildReconcile(client, yearA, yearB, recordA, calcB string) Request {
	if strings.TrimSpace(client) == "" {
		client = "the client"
	}
	return Request{
		System: reconcileSystem,
		User: fmt.Sprintf(reconcilePrompt,
			client,
			yearA, recordA,
			yearB, calcB,
			yearA, yearB,
			yearA, yearB,
		),
		Shape:       ShapeObject,
		MaxTokens:   requestMaxTokens,
		Temperature: requestTemperature,
	}
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
